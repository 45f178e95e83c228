package rest

import (
	"net/http"

	"github.com/bwise1/meetup_api/internal/friends"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/go-chi/chi/v5"
)

func (api *API) FriendRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(api.RequireLogin)

		r.Method(http.MethodGet, "/", Handler(api.ListFriendsHandler))
		r.Method(http.MethodPost, "/requests", Handler(api.SendFriendRequestHandler))
		r.Method(http.MethodPost, "/requests/{requestID}/accept", Handler(api.AcceptFriendRequestHandler))
		r.Method(http.MethodPost, "/requests/{requestID}/reject", Handler(api.RejectFriendRequestHandler))
		r.Method(http.MethodGet, "/{userID}", Handler(api.FriendStatusHandler))
		r.Method(http.MethodDelete, "/{userID}", Handler(api.RemoveFriendHandler))
	})

	return mux
}

func (api *API) ListFriendsHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	return respondOK("Friends fetched", friends.Snapshot{
		FriendIDs: s.Friends.FriendIDs(),
		Sent:      s.Friends.Sent(),
		Received:  s.Friends.Received(),
	})
}

func (api *API) SendFriendRequestHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	var req struct {
		ReceiverID string `json:"receiver_id"`
	}
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}

	id, err := s.Friends.SendRequest(r.Context(), s.Ref(), req.ReceiverID)
	if err != nil {
		return respondWithStoreError(err, &tc)
	}
	return &ServerResponse{
		Message:    "Friend request sent",
		Status:     values.Created,
		StatusCode: util.StatusCode(values.Created),
		Data:       map[string]string{"id": id},
	}
}

func (api *API) AcceptFriendRequestHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	if err := s.Friends.AcceptRequest(r.Context(), chi.URLParam(r, "requestID")); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Friend request accepted", nil)
}

func (api *API) RejectFriendRequestHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	if err := s.Friends.RejectRequest(r.Context(), chi.URLParam(r, "requestID")); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Friend request rejected", nil)
}

func (api *API) FriendStatusHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	ok, err := s.Friends.IsFriend(r.Context(), s.User.ID, chi.URLParam(r, "userID"))
	if err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Friend status fetched", map[string]bool{"is_friend": ok})
}

func (api *API) RemoveFriendHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	if err := s.Friends.RemoveFriend(r.Context(), s.User.ID, chi.URLParam(r, "userID")); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Friend removed", nil)
}

package rest

import (
	"net/http"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/session"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/go-chi/chi/v5"
)

var errNotParticipant = apperr.Forbidden("join the activity to use its chat")

func (api *API) ChatRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(api.RequireLogin)

		r.Method(http.MethodGet, "/unread", Handler(api.UnreadSummaryHandler))
		r.Method(http.MethodPost, "/unsubscribe", Handler(api.UnsubscribeChatHandler))
		r.Method(http.MethodPost, "/{activityID}/subscribe", Handler(api.SubscribeChatHandler))
		r.Method(http.MethodGet, "/{activityID}/messages", Handler(api.ChatMessagesHandler))
		r.Method(http.MethodPost, "/{activityID}/messages", Handler(api.SendMessageHandler))
		r.Method(http.MethodPost, "/{activityID}/read", Handler(api.MarkChatReadHandler))
		r.Method(http.MethodPost, "/{activityID}/leave", Handler(api.LeaveChatHandler))
		r.Method(http.MethodPost, "/{activityID}/cleanup", Handler(api.CleanupChatHandler))
	})

	return mux
}

// openChat makes activityID the session's active chat.
func openChat(r *http.Request, s *session.Session, activityID string) error {
	if !s.Activities.IsParticipant(activityID, s.User.ID) {
		return errNotParticipant
	}
	return s.Chat.Subscribe(r.Context(), activityID)
}

func (api *API) UnreadSummaryHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	snap := s.Chat.Snapshot()
	return respondOK("Unread counts fetched", model.UnreadSummary{PerActivity: snap.Unread, Total: snap.TotalUnread})
}

// SubscribeChatHandler opens the chat, tearing down the previous one. Calling
// it again on the open chat resubscribes from scratch.
func (api *API) SubscribeChatHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	if err := openChat(r, s, chi.URLParam(r, "activityID")); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Chat opened", s.Chat.Snapshot())
}

func (api *API) UnsubscribeChatHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	s.Chat.Unsubscribe()
	return respondOK("Chat closed", nil)
}

func (api *API) ChatMessagesHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	id := chi.URLParam(r, "activityID")
	if s.Chat.ActiveID() != id {
		if err := openChat(r, s, id); err != nil {
			return respondWithStoreError(err, &tc)
		}
	}
	msgs := s.Chat.Messages()
	s.Chat.MarkAsRead(id)
	return respondOK("Messages fetched", msgs)
}

func (api *API) SendMessageHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	var req struct {
		Text string `json:"text"`
	}
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}

	id := chi.URLParam(r, "activityID")
	if !s.Activities.IsParticipant(id, s.User.ID) {
		return respondWithStoreError(errNotParticipant, &tc)
	}
	msg, err := s.Chat.Send(r.Context(), id, req.Text)
	if err != nil {
		return respondWithStoreError(err, &tc)
	}
	return &ServerResponse{
		Message:    "Message sent",
		Status:     values.Created,
		StatusCode: util.StatusCode(values.Created),
		Data:       msg,
	}
}

func (api *API) MarkChatReadHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	s.Chat.MarkAsRead(chi.URLParam(r, "activityID"))
	return respondOK("Chat marked as read", nil)
}

func (api *API) LeaveChatHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	if err := s.Chat.Leave(r.Context(), chi.URLParam(r, "activityID")); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Left chat", nil)
}

func (api *API) CleanupChatHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	removed, err := s.Chat.CleanupExpired(r.Context(), chi.URLParam(r, "activityID"))
	if err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Expired messages removed", map[string]int{"removed": removed})
}

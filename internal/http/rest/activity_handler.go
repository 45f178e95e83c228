package rest

import (
	"net/http"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/storage"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/go-chi/chi/v5"
)

const maxUploadSize = 10 << 20

func (api *API) ActivityRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(api.RequireLogin)

		r.Method(http.MethodGet, "/", Handler(api.ListActivitiesHandler))
		r.Method(http.MethodPost, "/", Handler(api.CreateActivityHandler))
		r.Method(http.MethodGet, "/{activityID}", Handler(api.GetActivityHandler))
		r.Method(http.MethodPatch, "/{activityID}", Handler(api.UpdateActivityHandler))
		r.Method(http.MethodDelete, "/{activityID}", Handler(api.DeleteActivityHandler))
		r.Method(http.MethodPost, "/{activityID}/join", Handler(api.JoinActivityHandler))
		r.Method(http.MethodPost, "/{activityID}/leave", Handler(api.LeaveActivityHandler))
		r.Method(http.MethodPost, "/{activityID}/image", Handler(api.UploadActivityImageHandler))
		r.Method(http.MethodGet, "/{activityID}/route", Handler(api.ActivityRouteHandler))
	})

	return mux
}

func (api *API) ListActivitiesHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	return respondOK("Activities fetched", s.Activities.Activities())
}

func (api *API) CreateActivityHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	var req model.NewActivity
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	me := s.Ref()
	req.CreatorID = me.ID
	req.CreatorName = me.DisplayName

	id, err := s.Activities.Create(r.Context(), req)
	if err != nil {
		return respondWithStoreError(err, &tc)
	}
	return &ServerResponse{
		Message:    "Activity created",
		Status:     values.Created,
		StatusCode: util.StatusCode(values.Created),
		Data:       map[string]string{"id": id},
	}
}

func (api *API) GetActivityHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	a, ok := s.Activities.Get(chi.URLParam(r, "activityID"))
	if !ok {
		return respondWithStoreError(apperr.ErrActivityNotFound, &tc)
	}
	return respondOK("Activity fetched", map[string]interface{}{
		"activity":       a,
		"is_participant": a.HasParticipant(s.User.ID),
		"unread":         s.Chat.Unread(a.ID),
	})
}

func (api *API) UpdateActivityHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	var patch model.ActivityPatch
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &patch); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	if err := s.Activities.Update(r.Context(), chi.URLParam(r, "activityID"), s.User.ID, patch); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Activity updated", nil)
}

func (api *API) DeleteActivityHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	id := chi.URLParam(r, "activityID")
	if err := s.Activities.Delete(r.Context(), id, s.User.ID); err != nil {
		return respondWithStoreError(err, &tc)
	}
	s.Chat.Forget(id)
	return respondOK("Activity deleted", nil)
}

func (api *API) JoinActivityHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	if err := s.Activities.Join(r.Context(), chi.URLParam(r, "activityID"), s.Ref()); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Joined activity", nil)
}

func (api *API) LeaveActivityHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	id := chi.URLParam(r, "activityID")
	if err := s.Activities.Leave(r.Context(), id, s.User.ID); err != nil {
		return respondWithStoreError(err, &tc)
	}
	s.Chat.Forget(id)
	return respondOK("Left activity", nil)
}

// UploadActivityImageHandler stores the "image" form file and sets it as the
// activity image. Only the creator may do so.
func (api *API) UploadActivityImageHandler(w http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	if api.Deps.Cloudinary == nil {
		return respondWithStoreError(apperr.FailedPrecondition("image uploads are not configured"), &tc)
	}

	id := chi.URLParam(r, "activityID")
	a, ok := s.Activities.Get(id)
	if !ok {
		return respondWithStoreError(apperr.ErrActivityNotFound, &tc)
	}
	if a.CreatorID != s.User.ID {
		return respondWithStoreError(apperr.ErrNotCreator, &tc)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("image")
	if err != nil {
		return respondWithError(err, "image file is required", values.BadRequest, &tc)
	}
	defer file.Close()

	url, err := api.Deps.Cloudinary.UploadImage(r.Context(), file, storage.FolderActivityImages)
	if err != nil {
		return respondWithError(err, "failed to upload image", values.Unavailable, &tc)
	}
	if err := s.Activities.Update(r.Context(), id, s.User.ID, model.ActivityPatch{ImageURL: &url}); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Image uploaded", map[string]string{"image_url": url})
}

// ActivityRouteHandler returns the decoded route of an activity.
func (api *API) ActivityRouteHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	a, ok := s.Activities.Get(chi.URLParam(r, "activityID"))
	if !ok {
		return respondWithStoreError(apperr.ErrActivityNotFound, &tc)
	}
	if a.RoutePolyline == "" {
		return respondOK("Activity has no route", []util.Coordinate{})
	}
	coords, err := util.RouteCoordinates(a.RoutePolyline)
	if err != nil {
		return respondWithStoreError(apperr.ErrInvalidRoute, &tc)
	}
	return respondOK("Route fetched", coords)
}

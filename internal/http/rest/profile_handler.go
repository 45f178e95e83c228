package rest

import (
	"net/http"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/go-chi/chi/v5"
)

func (api *API) ProfileRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Group(func(r chi.Router) {
		r.Use(api.RequireLogin)

		r.Method(http.MethodGet, "/", Handler(api.GetProfileHandler))
		r.Method(http.MethodPatch, "/", Handler(api.UpdateProfileHandler))
		r.Method(http.MethodPost, "/photo", Handler(api.UploadProfilePhotoHandler))
	})

	return mux
}

func (api *API) GetProfileHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}
	p := s.Profile.Profile()
	if p == nil {
		return respondWithStoreError(apperr.ErrProfileNotLoaded, &tc)
	}
	return respondOK("Profile fetched", p)
}

func (api *API) UpdateProfileHandler(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	var patch model.ProfilePatch
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &patch); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	if err := s.Profile.Update(r.Context(), patch); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Profile updated", s.Profile.Profile())
}

func (api *API) UploadProfilePhotoHandler(w http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())
	s, errResp := api.session(r)
	if errResp != nil {
		return errResp
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("photo")
	if err != nil {
		return respondWithError(err, "photo file is required", values.BadRequest, &tc)
	}
	defer file.Close()

	url, err := s.Profile.UploadPhoto(r.Context(), file)
	if err != nil {
		return respondWithStoreError(err, &tc)
	}
	return respondOK("Photo uploaded", map[string]string{"photo_url": url})
}

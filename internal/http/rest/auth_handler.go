package rest

import (
	"net/http"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/go-chi/chi/v5"
)

func (api *API) AuthRoutes() chi.Router {
	mux := chi.NewRouter()

	mux.Method(http.MethodPost, "/google/login", Handler(api.LoginWithGoogle))
	mux.Method(http.MethodPost, "/refresh", Handler(api.RefreshToken))
	return mux
}

// LoginWithGoogle exchanges a Google access token for a token pair and
// starts the user's session, creating their profile on first login.
func (api *API) LoginWithGoogle(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())

	var req model.GoogleLoginRequest
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	if err := util.ValidateStruct(req); err != nil {
		return respondWithError(err, "access_token is required", values.BadRequest, &tc)
	}

	user, err := api.UserInfo.UserInfo(r.Context(), req.AccessToken)
	if err != nil {
		return respondWithError(err, "failed to get user info", values.NotAuthorised, &tc)
	}

	if _, err := api.Deps.Sessions.Open(r.Context(), user); err != nil {
		return respondWithStoreError(err, &tc)
	}
	return api.issueTokens(user, "Login successful", &tc)
}

func (api *API) RefreshToken(_ http.ResponseWriter, r *http.Request) *ServerResponse {
	tc := util.TracingFromContext(r.Context())

	var req model.RefreshRequest
	if decodeErr := util.DecodeJSONBody(&tc, r.Body, &req); decodeErr != nil {
		return respondWithError(decodeErr, "unable to decode request", values.BadRequestBody, &tc)
	}
	if err := util.ValidateStruct(req); err != nil {
		return respondWithError(err, "refresh_token is required", values.BadRequest, &tc)
	}

	claims, err := api.verifyToken(req.RefreshToken, true)
	if err != nil {
		if err == errTokenExpired {
			return respondWithError(err, "token-expired", values.TokenExpired, &tc)
		}
		return respondWithError(err, "invalid-token", values.NotAuthorised, &tc)
	}
	return api.issueTokens(claims.AuthUser(), "Token refreshed", &tc)
}

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwise1/meetup_api/config"
	deps "github.com/bwise1/meetup_api/internal/debs"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/internal/session"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/tracing"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/go-chi/chi/v5"
)

const (
	defaultIdleTimeout    = time.Minute
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultShutdownPeriod = 30 * time.Second
)

type Handler func(w http.ResponseWriter, r *http.Request) *ServerResponse

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h(w, r)
	if resp == nil {
		// The handler took over the connection.
		return
	}
	respByte, err := json.Marshal(resp)
	if err != nil {
		writeErrorResponse(w, err, values.Error, "unable to marshal server response")
		return
	}
	writeJSONResponse(w, respByte, resp.StatusCode)
}

type API struct {
	Server   *http.Server
	Config   *config.Config
	Deps     *deps.Dependencies
	UserInfo UserInfoFetcher
}

// Init wires the websocket hooks to the sessions.
func (api *API) Init() {
	if api.UserInfo == nil {
		api.UserInfo = NewGoogleUserInfo(api.Config)
	}
	api.Deps.WebSocket.OnCommand(api.handleCommand)
	api.Deps.WebSocket.OnConnect(func(userID string) {
		if s, ok := api.Deps.Sessions.Get(userID); ok {
			s.PushAll()
		}
	})
}

func (api *API) Serve() error {
	api.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", api.Config.Port),
		IdleTimeout:  defaultIdleTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		Handler:      api.setUpServerHandler(),
	}
	return api.Server.ListenAndServe()
}

func (api *API) setUpServerHandler() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/",
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		},
	)
	mux.Handle("/ws", api.RequireLogin(http.HandlerFunc(api.ServeWebSocket)))

	mux.Group(func(r chi.Router) {
		r.Use(RequestTracing)
		r.Mount("/auth", api.AuthRoutes())
		r.Mount("/activities", api.ActivityRoutes())
		r.Mount("/chats", api.ChatRoutes())
		r.Mount("/friends", api.FriendRoutes())
		r.Mount("/profile", api.ProfileRoutes())
	})

	return mux
}

func (api *API) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownPeriod)
	defer cancel()
	return api.Server.Shutdown(ctx)
}

// session returns the caller's session, opening it on first use.
func (api *API) session(r *http.Request) (*session.Session, *ServerResponse) {
	tc := util.TracingFromContext(r.Context())
	user, err := util.GetAuthUserFromContext(r.Context())
	if err != nil {
		return nil, respondWithError(err, "unable to get user from context", values.NotAuthorised, &tc)
	}
	s, err := api.Deps.Sessions.Open(r.Context(), user)
	if err != nil {
		return nil, respondWithStoreError(err, &tc)
	}
	return s, nil
}

func (api *API) issueTokens(user model.AuthUser, message string, tc *tracing.Context) *ServerResponse {
	token, _, err := api.createToken(user)
	if err != nil {
		return respondWithError(err, fmt.Sprintf("%s [CrTk]", values.SystemErr), values.Error, tc)
	}
	refresh, _, err := api.createRefreshToken(user)
	if err != nil {
		return respondWithError(err, fmt.Sprintf("%s [CrRt]", values.SystemErr), values.Error, tc)
	}
	return respondOK(message, model.LoginResponse{User: user, Token: token, RefreshToken: refresh})
}

package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/bwise1/meetup_api/config"
	"github.com/bwise1/meetup_api/internal/model"
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var errTokenExpired = errors.New("token expired")

type TokenClaims struct {
	UserID  string `json:"sub"`
	Type    string `json:"typ"`
	Exp     int64  `json:"exp"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// AuthUser is the identity the token was issued for.
func (c TokenClaims) AuthUser() model.AuthUser {
	return model.AuthUser{ID: c.UserID, DisplayName: c.Name, Email: c.Email, PhotoURL: c.Picture}
}

func (api *API) createToken(user model.AuthUser) (string, time.Time, error) {
	return signToken(user, tokenTypeAccess, api.Config.JwtExpires, api.Config.JwtSecret)
}

func (api *API) createRefreshToken(user model.AuthUser) (string, time.Time, error) {
	return signToken(user, tokenTypeRefresh, api.Config.RefreshExpiry, api.Config.RefreshSecret)
}

func signToken(user model.AuthUser, typ, ttl, secret string) (string, time.Time, error) {
	expTime, err := time.ParseDuration(ttl)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "parse token lifetime")
	}
	now := time.Now()
	expiresAt := now.Add(expTime)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     user.ID,
		"exp":     expiresAt.Unix(),
		"iat":     now.Unix(),
		"typ":     typ,
		"name":    user.DisplayName,
		"email":   user.Email,
		"picture": user.PhotoURL,
	})

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return tokenString, expiresAt, nil
}

func (api *API) verifyToken(tokenString string, isRefresh bool) (*TokenClaims, error) {
	secret := api.Config.JwtSecret
	wantType := tokenTypeAccess
	if isRefresh {
		secret = api.Config.RefreshSecret
		wantType = tokenTypeRefresh
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if ve, ok := err.(*jwt.ValidationError); ok {
		if ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errTokenExpired
		}
	}
	if err != nil || !token.Valid {
		zap.L().Debug("error verifying token", zap.Error(err))
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	tokenType, _ := claims["typ"].(string)
	if tokenType != wantType {
		return nil, errors.New("invalid token type")
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil, errors.New("invalid user id")
	}
	exp, _ := claims["exp"].(float64)

	c := &TokenClaims{UserID: userID, Type: tokenType, Exp: int64(exp)}
	c.Name, _ = claims["name"].(string)
	c.Email, _ = claims["email"].(string)
	c.Picture, _ = claims["picture"].(string)
	return c, nil
}

// UserInfoFetcher resolves a provider access token to the user it belongs to.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, accessToken string) (model.AuthUser, error)
}

// GoogleUserInfo reads the Google account behind an access token.
type GoogleUserInfo struct {
	oauth *oauth2.Config
}

func NewGoogleUserInfo(cfg *config.Config) *GoogleUserInfo {
	return &GoogleUserInfo{oauth: &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{oauth2api.UserinfoEmailScope, oauth2api.UserinfoProfileScope},
		Endpoint:     google.Endpoint,
	}}
}

func (g *GoogleUserInfo) UserInfo(ctx context.Context, accessToken string) (model.AuthUser, error) {
	ts := g.oauth.TokenSource(ctx, &oauth2.Token{AccessToken: accessToken})
	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return model.AuthUser{}, errors.Wrap(err, "create userinfo service")
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return model.AuthUser{}, errors.Wrap(err, "get user info")
	}
	if info.Id == "" {
		return model.AuthUser{}, errors.New("google account without id")
	}
	return model.AuthUser{
		ID:          info.Id,
		DisplayName: info.Name,
		Email:       info.Email,
		PhotoURL:    info.Picture,
	}, nil
}

package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bwise1/meetup_api/internal/model"
	"github.com/bwise1/meetup_api/util/tracing"
	"github.com/bwise1/meetup_api/util/values"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StatusCode returns the status code represented
// by the specified status. Note that this function
// returns a status code of 200 by default
func StatusCode(status string) int {
	switch status {
	case values.Error, values.SystemErr, values.InternalError:
		return http.StatusInternalServerError
	case values.Created:
		return http.StatusCreated
	case values.BadRequestBody, values.BadRequest:
		return http.StatusBadRequest
	case values.Unprocessable, values.Failed:
		return http.StatusUnprocessableEntity
	case values.NotAllowed:
		return http.StatusForbidden
	case values.Conflict:
		return http.StatusConflict
	case values.NotFound:
		return http.StatusNotFound
	case values.NotAuthorised, values.TokenExpired:
		return http.StatusUnauthorized
	case values.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// DecodeJSONBody ...
func DecodeJSONBody(tc *tracing.Context, body io.ReadCloser, target interface{}) error {
	if body == nil {
		return fmt.Errorf("missing request body for request: %v", tc)
	}
	defer func() {
		_ = body.Close()
	}()

	if err := json.NewDecoder(body).Decode(&target); err != nil {
		return errors.Wrapf(err, "Error parsing json body for request: %v", tc)
	}

	return nil
}

func GenerateUUID() string {
	return uuid.NewString()
}

// WithAuthUser stores the authenticated user on the context.
func WithAuthUser(ctx context.Context, user model.AuthUser) context.Context {
	return context.WithValue(ctx, values.ContextUserKey, user)
}

// GetAuthUserFromContext extracts the authenticated user from the context.
func GetAuthUserFromContext(ctx context.Context) (model.AuthUser, error) {
	user, ok := ctx.Value(values.ContextUserKey).(model.AuthUser)
	if !ok || user.ID == "" {
		return model.AuthUser{}, errors.New("user ID not found in context")
	}
	return user, nil
}

// TracingFromContext returns the request tracing context, or an empty one
// when the request did not pass through RequestTracing.
func TracingFromContext(ctx context.Context) tracing.Context {
	tc, _ := ctx.Value(values.ContextTracingKey).(tracing.Context)
	return tc
}

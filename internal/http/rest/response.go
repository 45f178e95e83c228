package rest

import (
	"encoding/json"
	"net/http"

	"github.com/bwise1/meetup_api/internal/apperr"
	"github.com/bwise1/meetup_api/util"
	"github.com/bwise1/meetup_api/util/tracing"
	"github.com/bwise1/meetup_api/util/values"
	"go.uber.org/zap"
)

type ServerResponse struct {
	Message    string      `json:"message"`
	Status     string      `json:"status"`
	StatusCode int         `json:"-"`
	Data       interface{} `json:"data,omitempty"`
}

func respondWithError(err error, message, status string, tc *tracing.Context) *ServerResponse {
	fields := []zap.Field{zap.String("status", status), zap.Error(err)}
	if tc != nil {
		fields = append(fields, zap.String("request_id", tc.RequestID), zap.String("request_source", tc.RequestSource))
	}
	if util.StatusCode(status) >= http.StatusInternalServerError {
		zap.L().Error(message, fields...)
	} else {
		zap.L().Debug(message, fields...)
	}

	return &ServerResponse{
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
	}
}

// statusOf maps an application error code to a response status.
func statusOf(err error) string {
	switch apperr.CodeOf(err) {
	case apperr.CodeInvalidArgument:
		return values.BadRequest
	case apperr.CodeNotFound:
		return values.NotFound
	case apperr.CodeAlreadyExists:
		return values.Conflict
	case apperr.CodePermissionDenied:
		return values.NotAllowed
	case apperr.CodeUnauthenticated:
		return values.NotAuthorised
	case apperr.CodeFailedPrecondition:
		return values.Failed
	case apperr.CodeUnavailable:
		return values.Unavailable
	default:
		return values.Error
	}
}

// respondWithStoreError turns a store failure into a response carrying the
// error's user-facing message.
func respondWithStoreError(err error, tc *tracing.Context) *ServerResponse {
	status := statusOf(err)
	message := apperr.MessageOf(err)
	if status == values.Error {
		message = values.SystemErr
	}
	return respondWithError(err, message, status, tc)
}

func respondOK(message string, data interface{}) *ServerResponse {
	return &ServerResponse{
		Message:    message,
		Status:     values.Success,
		StatusCode: util.StatusCode(values.Success),
		Data:       data,
	}
}

func writeJSONResponse(w http.ResponseWriter, content []byte, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(content)
}

func writeErrorResponse(w http.ResponseWriter, err error, status, message string) {
	zap.L().Debug(message, zap.String("status", status), zap.Error(err))
	content, _ := json.Marshal(ServerResponse{Message: message, Status: status})
	writeJSONResponse(w, content, util.StatusCode(status))
}

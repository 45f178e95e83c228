package values

type contextKey string

// Request statuses
const (
	Success        = "success"
	Created        = "created"
	Error          = "error"
	Failed         = "failed"
	SystemErr      = "system_error"
	InternalError  = "internal_error"
	BadRequest     = "bad_request"
	BadRequestBody = "bad_request_body"
	Unprocessable  = "unprocessable"
	NotAllowed     = "not_allowed"
	Conflict       = "conflict"
	NotFound       = "not_found"
	NotAuthorised  = "not_authorised"
	TokenExpired   = "token_expired"
	Unavailable    = "unavailable"
)

// Headers
const (
	HeaderRequestSource = "X-Request-Source"
	HeaderRequestID     = "X-Request-ID"
)

const (
	ContextTracingKey contextKey = "tracing"
	ContextUserKey    contextKey = "auth_user"
)

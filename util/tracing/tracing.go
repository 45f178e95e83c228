package tracing

import "fmt"

// Context carries the identifiers of a single request through handlers and logs.
type Context struct {
	RequestID     string
	RequestSource string
}

func (c Context) String() string {
	return fmt.Sprintf("request_id=%s source=%s", c.RequestID, c.RequestSource)
}

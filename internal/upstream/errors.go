package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a completed upstream call that returned a non-2xx status.
// The gateway relays Status and Body to the client unchanged.
type Error struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.Status, e.StatusText)
}

// ContentType returns the upstream Content-Type, if any.
func (e *Error) ContentType() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.Get("Content-Type")
}

// AsError reports whether err is (or wraps) an upstream *Error.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

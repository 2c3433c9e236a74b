package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors.
var (
	ErrRequest  = errors.New("goal service request failed")
	ErrResponse = errors.New("invalid goal service response")
)

// StatusError is a non-2xx reply from the goal service.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("goal service: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("goal service: %d: %s", e.Code, e.Detail)
}

// NotFound reports a 404.
func (e *StatusError) NotFound() bool { return e.Code == http.StatusNotFound }

// IsNotFound reports whether err is a 404 from the goal service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NotFound()
}

// newStatusError keeps the response text as detail, unwrapping
// {"detail": "..."} bodies.
func newStatusError(code int, body []byte) *StatusError {
	detail := strings.TrimSpace(string(body))
	var wrapped struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &wrapped) == nil && len(wrapped.Detail) > 0 {
		var s string
		if json.Unmarshal(wrapped.Detail, &s) == nil {
			detail = s
		} else {
			// validation errors come back as a list of objects
			detail = string(wrapped.Detail)
		}
	}
	return &StatusError{Code: code, Detail: detail}
}

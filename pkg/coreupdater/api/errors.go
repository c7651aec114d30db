package api

import (
	"fmt"
	"net/url"
)

// Error is returned for every failed API interaction. Request holds the
// form that was sent, without the token.
type Error struct {
	Message string
	Request url.Values
	Err     error
}

func (e *Error) Error() string {
	action := e.Request.Get("action")
	if e.Err != nil {
		return fmt.Sprintf("api %s: %s: %v", action, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s: %s", action, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Details renders the request for failure reports.
func (e *Error) Details() string {
	return "request: " + e.Request.Encode()
}

func newError(form url.Values, err error, format string, args ...any) *Error {
	req := url.Values{}
	for k, v := range form {
		if k == "token" {
			continue
		}
		req[k] = v
	}
	return &Error{Message: fmt.Sprintf(format, args...), Request: req, Err: err}
}

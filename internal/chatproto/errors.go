package chatproto

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuthentication is returned when the homeserver rejects credentials or an access token.
var ErrAuthentication = errors.New("chat authentication failed")

// Error is a non-2xx response decoded from the homeserver.
type Error struct {
	StatusCode int    `json:"-"`
	ErrCode    string `json:"errcode"`
	Message    string `json:"error"`
}

func (e *Error) Error() string {
	if e.ErrCode == "" {
		return fmt.Sprintf("chat homeserver returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat homeserver returned status %d: %s %s", e.StatusCode, e.ErrCode, e.Message)
}

// Is matches ErrAuthentication for rejected tokens.
func (e *Error) Is(target error) bool {
	return target == ErrAuthentication && e.StatusCode == http.StatusUnauthorized
}

// TransportError wraps a failure to reach the homeserver at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

package realtime

import (
	"errors"
	"fmt"
)

// Close codes assigned by the server, plus the transport-native ones the
// client reacts to.
const (
	CloseNormal               = 1000
	CloseNoStatus             = 1005
	CloseAbnormal             = 1006
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseInvalidPayload       = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
)

var (
	ErrAlreadyOpen          = errors.New("realtime connection already open")
	ErrClientClosed         = errors.New("realtime client closed")
	ErrAuthenticationFailed = errors.New("realtime authentication failed")
	ErrSessionEnded         = errors.New("realtime session ended without resume")
	// ErrTransport marks read or write failures that are not a close handshake.
	ErrTransport = errors.New("realtime transport error")
)

// CloseError describes how a connection was closed.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e == nil {
		return "connection closed"
	}
	if e.Reason != "" {
		return fmt.Sprintf("connection closed: %d %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("connection closed: %d", e.Code)
}

// CloseCode extracts the close code from err. Errors that are not a
// CloseError report an abnormal closure.
func CloseCode(err error) int {
	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return CloseAbnormal
}

// ReplyError is an error frame received in answer to a request.
type ReplyError struct {
	Code    int64
	Message string
}

func (e *ReplyError) Error() string {
	if e == nil {
		return "request failed"
	}
	if e.Message != "" {
		return fmt.Sprintf("request failed: %d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("request failed: %d", e.Code)
}

func IsAuthenticationFailure(err error) bool {
	if errors.Is(err, ErrAuthenticationFailed) {
		return true
	}
	var closeErr *CloseError
	return errors.As(err, &closeErr) && closeErr.Code == CloseAuthenticationFailed
}

package realtime

import (
	"context"
	"strings"
	"time"

	"garthen-realtime/internal/wire"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = time.Second
)

// Conn is one open binary duplex connection. ReadFrame returns a *CloseError
// once the peer closes, and an error wrapping ErrTransport on other failures.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close(code int, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// TokenSource yields the bearer credential sent with every authorize frame.
type TokenSource interface {
	Token() (string, error)
}

type StaticToken string

func (t StaticToken) Token() (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// Observer receives connection telemetry. Calls happen synchronously, so
// implementations must not block.
type Observer interface {
	FrameSent(op wire.Opcode)
	FrameReceived(op wire.Opcode)
	Reconnecting()
	Closed(code int)
	PendingRequests(n int)
	Authorized(ok bool)
}

type nopObserver struct{}

func (nopObserver) FrameSent(wire.Opcode)     {}
func (nopObserver) FrameReceived(wire.Opcode) {}
func (nopObserver) Reconnecting()             {}
func (nopObserver) Closed(int)                {}
func (nopObserver) PendingRequests(int)       {}
func (nopObserver) Authorized(bool)           {}

// Resetter is a passive state sink cleared on every connection close.
type Resetter interface {
	Reset()
}

type ResetFunc func()

func (f ResetFunc) Reset() { f() }

type Options struct {
	Endpoint          string
	Dialer            Dialer
	Tokens            TokenSource
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	Observer          Observer

	OnStateChange func(from, to State)
	// OnAuthFailed runs on the session goroutine after the server rejected
	// the credential.
	OnAuthFailed func()
	OnReady      func()
}

package app

import "errors"

var (
	ErrAuthenticationFailed = errors.New("garthen authentication failed")
	ErrMissingToken         = errors.New("no token configured; log in or pass --token")
	ErrStartupTimeout       = errors.New("realtime startup handshake timeout")
)

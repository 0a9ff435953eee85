package runstatus

import "strings"

const (
	Connecting       = "Connecting"
	Authorizing      = "Authorizing"
	Connected        = "Connected"
	Subscribed       = "Subscribed"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)

const (
	KeyConnecting       = "connecting"
	KeyAuthorizing      = "authorizing"
	KeyConnected        = "connected"
	KeySubscribed       = "subscribed"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

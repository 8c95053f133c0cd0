package connection

import "time"

const (
	// CloseMessageCode is the websocket status sent on a normal close.
	CloseMessageCode = 1000
	// DefaultHandshakeTimeout bounds the websocket upgrade.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultCloseTimeout bounds the close frame write during Close.
	DefaultCloseTimeout = 5 * time.Second
)

const (
	AuthorizationHeader   = "Authorization"
	TokenEnv              = "MIRROR_TOKEN"
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
)

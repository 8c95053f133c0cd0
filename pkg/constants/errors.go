package constants

import "errors"

// Relay error taxonomy. Callers wrap the underlying cause with one of these
// so the supervisor can classify a failed session with errors.Is.
var (
	ErrAuthorization     = errors.New("mirror rejected the authorization credential")
	ErrHandshake         = errors.New("mirror handshake failed")
	ErrConnectionLost    = errors.New("mirror connection lost")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrAdapter           = errors.New("backend adapter failure")
	ErrUnsupported       = errors.New("operation not supported by the backend protocol")
)

var (
	ErrConfig           = errors.New("invalid configuration")
	ErrNoBaseURL        = errors.New("base url not set")
	ErrNoCodec          = errors.New("wire codec is not set")
	ErrUnknownBackend   = errors.New("unknown backend")
	ErrUnknownCodec     = errors.New("unknown wire codec")
	ErrInvalidNamespace = errors.New("invalid namespace")
	ErrClosed           = errors.New("connection closed")
)

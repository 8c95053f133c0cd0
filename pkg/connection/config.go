package connection

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
)

// Config describes how to reach the mirror.
type Config struct {
	URL url.URL
	// Token is sent as a bearer credential during the handshake. An empty
	// token sends no Authorization header.
	Token            string
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	Codec            codec.Codec
	Logger           logger.Logger
}

// NewConfig parses the mirror address. http and https addresses are
// rewritten to their websocket schemes.
// It is not absolutely necessary to create a Config using this function,
// but it fills in the defaults Validate expects.
func NewConfig(rawURL string) (*Config, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, constants.ErrNoBaseURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse mirror url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = WebsocketScheme
	case "https":
		u.Scheme = SecureWebsocketScheme
	case WebsocketScheme, SecureWebsocketScheme:
	default:
		return nil, fmt.Errorf("mirror url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mirror url %q: %w", rawURL, constants.ErrNoBaseURL)
	}
	return &Config{
		URL:              *u,
		HandshakeTimeout: DefaultHandshakeTimeout,
		CloseTimeout:     DefaultCloseTimeout,
		Codec:            codec.JSON(),
		Logger:           logger.Nop(),
	}, nil
}

func (c *Config) Validate() error {
	if c.URL.Host == "" {
		return constants.ErrNoBaseURL
	}
	if c.Codec == nil {
		return constants.ErrNoCodec
	}
	return nil
}

// Header returns the handshake headers.
func (c *Config) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set(AuthorizationHeader, "Bearer "+c.Token)
	}
	return h
}

// Log returns the configured logger or a discarding one.
func (c *Config) Log() logger.Logger {
	if c.Logger == nil {
		return logger.Nop()
	}
	return c.Logger
}

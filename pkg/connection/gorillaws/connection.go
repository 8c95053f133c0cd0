// Package gorillaws implements connection.Channel on gorilla/websocket.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/connection"
	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/logger"
)

// DefaultDialer is the gorilla dialer used by Connect.
//
// It is the default gorilla dialer as of gorilla/websocket v1.5.0 with
// compression enabled. Connect copies it and applies the configured
// handshake timeout.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// Dialer implements connection.Dialer.
type Dialer struct{}

func (Dialer) Dial(ctx context.Context, cfg *connection.Config) (connection.Channel, error) {
	return Connect(ctx, cfg)
}

type Connection struct {
	Conn *gorilla.Conn
	// connLock serializes writes. gorilla allows one concurrent writer.
	connLock sync.Mutex

	codec        codec.Codec
	closeTimeout time.Duration
	logger       logger.Logger

	// frames hands messages from readLoop to Receive. It is unbuffered so
	// the mirror is never read ahead of the session.
	frames chan []byte

	// connCloseCh is closed once the connection is unusable, either because
	// Close was called or because the read loop hit a terminal error.
	connCloseCh chan struct{}

	mu             sync.Mutex
	closed         bool
	connCloseError error

	closeOnce sync.Once
	closeErr  error
}

// Connect performs the websocket handshake with the bearer credential from
// cfg and starts reading. A 401 or 403 answer is reported as
// constants.ErrAuthorization, any other failure as constants.ErrHandshake.
func Connect(ctx context.Context, cfg *connection.Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := *DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}

	conn, res, err := dialer.DialContext(ctx, cfg.URL.String(), cfg.Header())
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
			res.Body.Close()
		}
		return nil, connection.HandshakeError(status, err)
	}
	defer res.Body.Close()

	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = connection.DefaultCloseTimeout
	}

	c := &Connection{
		Conn:         conn,
		codec:        cfg.Codec,
		closeTimeout: closeTimeout,
		logger:       cfg.Log(),
		frames:       make(chan []byte),
		connCloseCh:  make(chan struct{}),
	}

	// readLoop runs until the connection fails or Close is called.
	go c.readLoop()

	return c, nil
}

// IsClosed reports whether the connection can no longer be used.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Receive(ctx context.Context) (map[string]any, error) {
	select {
	case data := <-c.frames:
		msg, err := codec.DecodeMessage(c.codec, data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s frame: %w", constants.ErrProtocolViolation, c.codec.Name(), err)
		}
		return msg, nil
	case <-c.connCloseCh:
		return nil, c.closeError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send encodes msg with the configured codec and writes it as a text frame,
// or a binary frame for binary codecs. The ctx deadline, if any, becomes the
// write deadline.
func (c *Connection) Send(ctx context.Context, msg map[string]any) error {
	select {
	case <-c.connCloseCh:
		return c.closeError()
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := c.codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", c.codec.Name(), err)
	}
	typ := gorilla.TextMessage
	if c.codec.Binary() {
		typ = gorilla.BinaryMessage
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.Conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %w", constants.ErrConnectionLost, err)
		}
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}

	if err := c.Conn.WriteMessage(typ, data); err != nil {
		err = fmt.Errorf("%w: write: %w", constants.ErrConnectionLost, err)
		c.closeWithError(err)
		return err
	}
	return nil
}

// Close closes the connection and stops the read loop.
//
// The close frame write is bounded by the ctx deadline, or by the configured
// close timeout when ctx has none. The underlying connection is closed even
// if the close frame could not be written.
func (c *Connection) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close(ctx)
	})
	return c.closeErr
}

func (c *Connection) close(ctx context.Context) error {
	c.closeWithError(constants.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	// Phase 1: tell the mirror we are leaving.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.closeTimeout)
	}
	msg := gorilla.FormatCloseMessage(connection.CloseMessageCode, "")
	if err := c.Conn.WriteControl(gorilla.CloseMessage, msg, deadline); err != nil && !errors.Is(err, gorilla.ErrCloseSent) {
		// the connection is closed locally regardless
		c.logger.Debug("failed to write close message", "error", err)
	}

	// Phase 2: release the socket. This also unblocks readLoop.
	return c.Conn.Close()
}

func (c *Connection) closeWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.connCloseError = err
	close(c.connCloseCh)
}

func (c *Connection) closeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connCloseError
}

func (c *Connection) readLoop() {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.closeWithError(c.readError(err))
			return
		}
		select {
		case c.frames <- data:
		case <-c.connCloseCh:
			return
		}
	}
}

// readError maps a terminal read error. gorilla read errors are permanent,
// so every one of them ends the connection.
func (c *Connection) readError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return constants.ErrClosed
	}
	var ce *gorilla.CloseError
	if errors.As(err, &ce) {
		c.logger.Info("mirror closed the connection", "code", ce.Code, "reason", ce.Text)
		return fmt.Errorf("%w: close frame %d %q", constants.ErrConnectionLost, ce.Code, ce.Text)
	}
	c.logger.Error("mirror connection read failed", "error", err)
	return fmt.Errorf("%w: %w", constants.ErrConnectionLost, err)
}

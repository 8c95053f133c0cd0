// Package fakemirror provides a fake mirror for testing the relay.
//
// The server accepts websocket connections that carry the expected bearer
// token, plays a scripted sequence of messages to each connection and
// records every reply the relay sends back. Steps can inject failures such
// as dropped connections, close frames and malformed frames.
//
// The WebSocket server is implemented using the `gws` library.
package fakemirror

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/surrealdb/surrealmirror/internal/codec"
)

// DefaultReplyTimeout bounds how long a step waits for the relay's reply.
const DefaultReplyTimeout = 5 * time.Second

// FailureType is a failure a step injects instead of sending a message.
type FailureType string

const (
	// FailureNone sends the step's message or frame.
	FailureNone FailureType = ""
	// FailureDropConnection closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
	// FailureWebSocketClose sends a close frame with CloseCode and CloseReason
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureMalformedFrame sends a frame the server codec cannot decode
	FailureMalformedFrame FailureType = "malformed_frame"
)

// Step is one scripted action on a connection.
type Step struct {
	// Message is encoded with the server codec and sent.
	Message map[string]any
	// Frame is sent as is when Message is nil.
	Frame []byte
	// AwaitReply blocks the script until the relay sends a message back.
	AwaitReply bool
	// Delay is slept before the step runs.
	Delay time.Duration

	Failure     FailureType
	CloseCode   uint16
	CloseReason string
}

// Send returns a step sending msg.
func Send(msg map[string]any) Step {
	return Step{Message: msg}
}

// Request returns a step sending msg and waiting for the reply.
func Request(msg map[string]any) Step {
	return Step{Message: msg, AwaitReply: true}
}

// Close returns a step sending a close frame.
func Close(code uint16, reason string) Step {
	return Step{Failure: FailureWebSocketClose, CloseCode: code, CloseReason: reason}
}

// Drop returns a step closing the TCP connection without a close frame.
func Drop() Step {
	return Step{Failure: FailureDropConnection}
}

// Malformed returns a step sending a frame that no codec can decode.
func Malformed() Step {
	return Step{Failure: FailureMalformedFrame}
}

// Server is a fake mirror.
type Server struct {
	// Token is the bearer token connections must present. An empty token
	// accepts every connection.
	Token string

	// ReplyTimeout overrides DefaultReplyTimeout.
	ReplyTimeout time.Duration

	addr     string
	codec    codec.Codec
	listener net.Listener
	http     *http.Server
	upgrader *gws.Upgrader

	mu          sync.Mutex
	scripts     [][]Step
	peers       map[*gws.Conn]*peer
	replies     []map[string]any
	connections int
	rejected    int
	scriptsDone int
	changed     chan struct{}
}

type peer struct {
	replies chan map[string]any
	closed  chan struct{}
	once    sync.Once
}

// NewServer creates a fake mirror speaking c.
// Use "127.0.0.1:0" to bind to a random available port.
func NewServer(addr string, c codec.Codec) *Server {
	if c == nil {
		c = codec.JSON()
	}
	s := &Server{
		addr:    addr,
		codec:   c,
		peers:   make(map[*gws.Conn]*peer),
		changed: make(chan struct{}),
	}
	s.upgrader = gws.NewUpgrader(&handler{server: s}, &gws.ServerOption{})
	s.http = &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// AddScript queues the steps played to the next connection that has no
// script yet. Connections beyond the queued scripts stay idle.
func (s *Server) AddScript(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, steps)
}

// Start starts the server and begins accepting WebSocket connections.
func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("fakemirror: %v", err)
		}
	}()
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	for socket := range s.peers {
		socket.NetConn().Close()
	}
	s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the websocket URL of the server.
func (s *Server) URL() string {
	return "ws://" + s.Address() + "/"
}

// Replies returns every message received so far, in arrival order.
func (s *Server) Replies() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.replies))
	copy(out, s.replies)
	return out
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Rejected returns the number of handshakes refused for a bad token.
func (s *Server) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// WaitReplies blocks until at least n replies were received.
func (s *Server) WaitReplies(n int, timeout time.Duration) ([]map[string]any, error) {
	return s.wait(timeout, func() bool { return len(s.replies) >= n },
		func() error { return fmt.Errorf("fakemirror: got %d replies, want %d", len(s.replies), n) })
}

// WaitScripts blocks until n scripts have been played to the end.
func (s *Server) WaitScripts(n int, timeout time.Duration) error {
	_, err := s.wait(timeout, func() bool { return s.scriptsDone >= n },
		func() error { return fmt.Errorf("fakemirror: %d scripts done, want %d", s.scriptsDone, n) })
	return err
}

func (s *Server) wait(timeout time.Duration, done func() bool, fail func() error) ([]map[string]any, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		if done() {
			out := make([]map[string]any, len(s.replies))
			copy(out, s.replies)
			s.mu.Unlock()
			return out, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			s.mu.Lock()
			defer s.mu.Unlock()
			return nil, fail()
		}
	}
}

// notify wakes waiters. s.mu must be held.
func (s *Server) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
		s.mu.Lock()
		s.rejected++
		s.notify()
		s.mu.Unlock()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		log.Printf("fakemirror: upgrade: %v", err)
		return
	}
	go socket.ReadLoop()
}

func (s *Server) replyTimeout() time.Duration {
	if s.ReplyTimeout > 0 {
		return s.ReplyTimeout
	}
	return DefaultReplyTimeout
}

// play runs the next queued script on socket.
func (s *Server) play(socket *gws.Conn, p *peer, steps []Step) {
	for i, step := range steps {
		if step.Delay > 0 {
			select {
			case <-time.After(step.Delay):
			case <-p.closed:
				return
			}
		}
		if err := s.run(socket, step); err != nil {
			if !isUseOfClosedNetworkError(err) {
				log.Printf("fakemirror: step %d: %v", i, err)
			}
			return
		}
		if step.Failure != FailureNone {
			// the connection is gone or going
			break
		}
		if step.AwaitReply {
			select {
			case <-p.replies:
			case <-p.closed:
				return
			case <-time.After(s.replyTimeout()):
				log.Printf("fakemirror: step %d: no reply within %s", i, s.replyTimeout())
				return
			}
		}
	}

	s.mu.Lock()
	s.scriptsDone++
	s.notify()
	s.mu.Unlock()
}

func (s *Server) run(socket *gws.Conn, step Step) error {
	switch step.Failure {
	case FailureDropConnection:
		return socket.NetConn().Close()

	case FailureWebSocketClose:
		code := step.CloseCode
		if code == 0 {
			code = 1001
		}
		reason := step.CloseReason
		if reason == "" {
			reason = "failure injection"
		}
		socket.WriteClose(code, []byte(reason))
		return nil

	case FailureMalformedFrame:
		return socket.WriteMessage(s.opcode(), s.malformed())
	}

	data := step.Frame
	if step.Message != nil {
		var err error
		data, err = s.codec.Marshal(step.Message)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
	}
	return socket.WriteMessage(s.opcode(), data)
}

// malformed returns a frame the server codec cannot decode. Text frames
// stay valid UTF-8.
func (s *Server) malformed() []byte {
	if !s.codec.Binary() {
		return []byte(`{"type": "upsert", "data": `)
	}
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		panic(err)
	}
	// 0xff is a break code, never a valid initial byte
	data[0] = 0xff
	return data
}

func (s *Server) opcode() gws.Opcode {
	if s.codec.Binary() {
		return gws.OpcodeBinary
	}
	return gws.OpcodeText
}

// handler implements the gws.Event interface for mirror connections
type handler struct {
	server *Server
}

func (h *handler) OnOpen(socket *gws.Conn) {
	p := &peer{
		replies: make(chan map[string]any, 64),
		closed:  make(chan struct{}),
	}

	s := h.server
	s.mu.Lock()
	s.peers[socket] = p
	var steps []Step
	if s.connections < len(s.scripts) {
		steps = s.scripts[s.connections]
	}
	s.connections++
	s.notify()
	s.mu.Unlock()

	go s.play(socket, p, steps)
}

func (h *handler) OnClose(socket *gws.Conn, err error) {
	s := h.server
	s.mu.Lock()
	p, ok := s.peers[socket]
	delete(s.peers, socket)
	s.notify()
	s.mu.Unlock()
	if ok {
		p.once.Do(func() { close(p.closed) })
	}
}

func (h *handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakemirror: write pong: %v", err)
	}
}

func (h *handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	msg, err := codec.DecodeMessage(h.server.codec, message.Bytes())
	if err != nil {
		log.Printf("fakemirror: undecodable reply: %v", err)
		return
	}

	s := h.server
	s.mu.Lock()
	s.replies = append(s.replies, msg)
	p := s.peers[socket]
	s.notify()
	s.mu.Unlock()

	if p != nil {
		select {
		case p.replies <- msg:
		default:
		}
	}
}

func isUseOfClosedNetworkError(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.HasSuffix(err.Error(), "use of closed network connection")
}

// Package transport owns one WebSocket connection to a gateway endpoint,
// kernel channels and terminals alike. It is fail-closed: any connection
// failure tears the transport down and is surfaced to the owner; there is
// no automatic reconnection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed for the WebSocket handshake to complete.
	handshakeTimeout = 10 * time.Second

	// Maximum frame size accepted from the peer. Kernel rich outputs can
	// carry inline images, so the limit is generous.
	maxFrameSize = 16 << 20
)

// authScheme is the Authorization header scheme the gateway expects.
const authScheme = "token"

var (
	// ErrNotConnected is returned when sending before a successful connect.
	ErrNotConnected = errors.New("transport is not connected")

	// ErrAlreadyConnected is returned when connecting a transport twice.
	ErrAlreadyConnected = errors.New("transport is already connected")

	// ErrClosed is returned when using a transport after Close.
	ErrClosed = errors.New("transport is closed")
)

// ConnectionError reports a failed connect to a kernel endpoint. It is
// distinct from execution failures, which are reported per request.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FrameHandler receives every frame read from the connection plus a single
// close notification when the read pump exits. Both are invoked from the
// transport's read goroutine.
type FrameHandler interface {
	HandleFrame(data []byte)
	HandleClose(err error)
}

// Config configures a Transport.
type Config struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// Token is sent in the Authorization header when non-empty.
	Token string

	// Handler receives frames and the close notification.
	Handler FrameHandler

	// Dialer overrides the default WebSocket dialer. Useful for tests.
	Dialer *websocket.Dialer

	Logger *slog.Logger
}

// Transport is a single WebSocket connection. One goroutine reads frames
// and hands them to the FrameHandler; writes are serialized.
type Transport struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	handler FrameHandler
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing bool
	closed  bool

	done chan struct{}
}

// AuthHeader builds the Authorization header for a gateway token. An empty
// token yields an empty header set.
func AuthHeader(token string) http.Header {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", authScheme+" "+token)
	}
	return header
}

// New creates a Transport for the given endpoint URL. The transport does
// not connect until Connect is called.
func New(cfg Config) (*Transport, error) {
	if cfg.URL == "" {
		return nil, errors.New("transport URL is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("frame handler is required")
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		url:     cfg.URL,
		header:  AuthHeader(cfg.Token),
		dialer:  dialer,
		handler: cfg.Handler,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Connect dials the endpoint and starts the read pump. A dial failure is
// returned as *ConnectionError. Connecting an already connected or closed
// transport is an error.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return ErrClosed
	case t.conn != nil || t.dialing:
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.dialing = true
	t.mu.Unlock()

	conn, resp, err := t.dialer.DialContext(ctx, t.url, t.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.mu.Lock()
		t.dialing = false
		t.mu.Unlock()
		return &ConnectionError{URL: t.url, Err: err}
	}
	conn.SetReadLimit(maxFrameSize)

	t.mu.Lock()
	t.dialing = false
	if t.closed {
		// Close raced the dial; the connection is unwanted.
		t.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Debug("transport connected", "url", t.url)

	go t.readPump(conn)
	return nil
}

// Send writes one text frame to the peer. It fails before Connect and
// after Close.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.conn == nil {
		return ErrNotConnected
	}

	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	return nil
}

// Close tears the connection down. It is idempotent and safe from any
// goroutine; a blocked read returns promptly.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		// Never connected, so no read pump will signal done.
		close(t.done)
		return nil
	}

	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// Done is closed once the read pump has exited and the close notification
// has been delivered. A transport that never connected signals Done when
// closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// readPump is the single reader for the connection. Every frame goes to the
// handler; the first read error ends the pump and delivers the close
// notification exactly once.
func (t *Transport) readPump(conn *websocket.Conn) {
	var readErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		t.handler.HandleFrame(data)
	}
	conn.Close()

	t.mu.Lock()
	deliberate := t.closed
	t.closed = true
	t.mu.Unlock()

	if deliberate || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Debug("transport closed", "url", t.url)
	} else {
		t.logger.Warn("transport connection lost", "url", t.url, "error", readErr)
	}

	t.handler.HandleClose(readErr)
	close(t.done)
}

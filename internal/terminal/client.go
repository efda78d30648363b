package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remote-notebook/kernelclient/internal/transport"
)

// State is the terminal client's lifecycle state. Closed is terminal: a
// client is single use and never reconnects.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

var (
	// ErrNotOpen is returned when sending input on a client that is not in
	// the Open state.
	ErrNotOpen = errors.New("terminal is not open")

	// ErrNotIdle is returned when connecting a client a second time.
	ErrNotIdle = errors.New("terminal client already connected")
)

// Config configures a terminal Client.
type Config struct {
	// BaseURL is the gateway's HTTP(S) base URL.
	BaseURL string

	// Name is the gateway-assigned terminal name.
	Name string

	// Token is sent in the Authorization header when non-empty.
	Token string

	// Rows and Cols, when both set, are replayed as a set_size frame the
	// moment the connection opens.
	Rows int
	Cols int

	// OnOutput receives the data of every stdout frame, in arrival order.
	// It runs on the connection's read goroutine.
	OnOutput func(data string)

	// OnClose is invoked exactly once when the client reaches Closed: nil
	// for an orderly end (local Close, disconnect frame, normal close
	// code), the cause otherwise.
	OnClose func(err error)

	// Dialer overrides the WebSocket dialer. Useful for tests.
	Dialer *websocket.Dialer

	Logger *slog.Logger
}

// Client attaches to one remote terminal over its WebSocket endpoint.
type Client struct {
	name      string
	transport *transport.Transport
	onOutput  func(string)
	onClose   func(error)
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	rows     int
	cols     int
	closing  bool
	notified bool
}

// clientFrames adapts a Client to the transport's FrameHandler without
// exporting the handler methods.
type clientFrames struct {
	c *Client
}

func (f clientFrames) HandleFrame(data []byte) { f.c.handleFrame(data) }
func (f clientFrames) HandleClose(err error)   { f.c.handleClose(err) }

// URL derives the terminal's WebSocket URL from the gateway's HTTP(S) base
// URL by scheme replacement plus the fixed terminal path.
func URL(baseURL, name string) (string, error) {
	if name == "" {
		return "", errors.New("terminal name is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// Already a WebSocket URL.
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}

	u.Path = path.Join(u.Path, "terminals", "websocket", name)
	return u.String(), nil
}

// NewClient creates a terminal client. The client does not connect until
// Connect is called.
func NewClient(cfg Config) (*Client, error) {
	wsURL, err := URL(cfg.BaseURL, cfg.Name)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		name:     cfg.Name,
		onOutput: cfg.OnOutput,
		onClose:  cfg.OnClose,
		logger:   logger,
		state:    StateIdle,
		rows:     cfg.Rows,
		cols:     cfg.Cols,
	}

	tr, err := transport.New(transport.Config{
		URL:     wsURL,
		Token:   cfg.Token,
		Handler: clientFrames{c},
		Dialer:  cfg.Dialer,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	c.transport = tr
	return c, nil
}

// Connect dials the terminal endpoint. On success the client is Open and
// any cached dimensions are replayed immediately. A dial failure moves the
// client to Closed and is returned directly; OnClose is not invoked for it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.state = StateOpen
	rows, cols := c.rows, c.cols
	c.mu.Unlock()

	c.logger.Debug("terminal attached", "terminal", c.name)

	if rows > 0 && cols > 0 {
		if err := c.sendFrame(Frame{Op: OpSetSize, Rows: rows, Cols: cols}); err != nil {
			c.logger.Warn("failed to replay terminal size",
				"terminal", c.name, "error", err)
		}
	}
	return nil
}

// SendInput writes one stdin frame. It is only legal while Open.
func (c *Client) SendInput(data string) error {
	c.mu.Lock()
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return ErrNotOpen
	}
	return c.sendFrame(Frame{Op: OpStdin, Data: data})
}

// Resize records the terminal dimensions and, when Open, sends them as a
// set_size frame. Dimensions recorded before Connect are replayed when the
// connection opens.
func (c *Client) Resize(rows, cols int) error {
	c.mu.Lock()
	c.rows, c.cols = rows, cols
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open {
		return nil
	}
	return c.sendFrame(Frame{Op: OpSetSize, Rows: rows, Cols: cols})
}

// Close tears the connection down and moves the client to Closed. It is
// idempotent. Once Close returns, OnClose has fired (with a nil error when
// Close initiated the shutdown) and no further callbacks occur.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	err := c.transport.Close()
	<-c.transport.Done()
	c.notifyClosed(nil)
	return err
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Name returns the terminal name this client attaches to.
func (c *Client) Name() string {
	return c.name
}

// Done is closed once the connection has fully shut down.
func (c *Client) Done() <-chan struct{} {
	return c.transport.Done()
}

func (c *Client) sendFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", f.Op, err)
	}
	if err := c.transport.Send(data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", f.Op, err)
	}
	return nil
}

// handleFrame runs on the read goroutine. Malformed frames are logged and
// dropped; the connection continues.
func (c *Client) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Warn("dropping malformed terminal frame",
			"terminal", c.name, "error", err)
		return
	}

	switch f.Op {
	case OpStdout:
		if c.onOutput != nil {
			c.onOutput(f.Data)
		}
	case OpDisconnect:
		// The server ended the terminal; this is an orderly close.
		c.notifyClosed(nil)
		c.transport.Close()
	default:
		c.logger.Debug("dropping unhandled terminal frame",
			"terminal", c.name, "op", f.Op)
	}
}

// handleClose runs on the read goroutine when the connection ends for any
// reason not already handled by a disconnect frame.
func (c *Client) handleClose(err error) {
	c.mu.Lock()
	deliberate := c.closing
	c.mu.Unlock()

	if deliberate || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = nil
	}
	c.notifyClosed(err)
}

// notifyClosed moves the client to Closed and fires OnClose at most once.
func (c *Client) notifyClosed(err error) {
	c.mu.Lock()
	if c.notified {
		c.mu.Unlock()
		return
	}
	c.notified = true
	c.state = StateClosed
	cb := c.onClose
	c.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

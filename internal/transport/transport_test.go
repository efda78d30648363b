package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// collectHandler is a FrameHandler that records frames and close calls.
type collectHandler struct {
	frames     chan []byte
	closed     chan error
	closeCalls atomic.Int32
}

func newCollectHandler() *collectHandler {
	return &collectHandler{
		frames: make(chan []byte, 16),
		closed: make(chan error, 1),
	}
}

func (h *collectHandler) HandleFrame(data []byte) {
	h.frames <- data
}

func (h *collectHandler) HandleClose(err error) {
	h.closeCalls.Add(1)
	h.closed <- err
}

// newEchoServer starts a WebSocket server that echoes every frame and
// records the Authorization header of the last connection.
func newEchoServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()

	var authHeader atomic.Value
	authHeader.Store("")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &authHeader
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func waitFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frame")
		return nil
	}
}

func waitClose(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for close notification")
		return nil
	}
}

// TestTransport_ConnectAndSend tests the basic send/receive loop
func TestTransport_ConnectAndSend(t *testing.T) {
	srv, _ := newEchoServer(t)
	handler := newCollectHandler()

	tr, err := New(Config{URL: wsURL(srv.URL), Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer tr.Close()

	if err := tr.Send([]byte(`{"hello":"kernel"}`)); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	frame := waitFrame(t, handler.frames)
	if string(frame) != `{"hello":"kernel"}` {
		t.Errorf("Expected echoed frame, got '%s'", frame)
	}
}

// TestTransport_AuthHeader tests that the token is sent at connect time
func TestTransport_AuthHeader(t *testing.T) {
	srv, authHeader := newEchoServer(t)
	handler := newCollectHandler()

	tr, err := New(Config{URL: wsURL(srv.URL), Token: "secret", Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer tr.Close()

	// Header is captured before the upgrade completes.
	if got := authHeader.Load().(string); got != "token secret" {
		t.Errorf("Expected Authorization 'token secret', got '%s'", got)
	}
}

// TestTransport_ConnectFailure tests that dial failures surface as ConnectionError
func TestTransport_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no kernel here", http.StatusNotFound)
	}))
	defer srv.Close()

	handler := newCollectHandler()
	tr, err := New(Config{URL: wsURL(srv.URL), Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	err = tr.Connect(context.Background())
	if err == nil {
		t.Fatal("Expected connect error, got nil")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Expected *ConnectionError, got %T: %v", err, err)
	}
}

// TestTransport_SendBeforeConnect tests the not-connected guard
func TestTransport_SendBeforeConnect(t *testing.T) {
	handler := newCollectHandler()
	tr, err := New(Config{URL: "ws://127.0.0.1:1/api/kernels/x/channels", Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

// TestTransport_DoubleConnect tests that a second connect is rejected
func TestTransport_DoubleConnect(t *testing.T) {
	srv, _ := newEchoServer(t)
	handler := newCollectHandler()

	tr, err := New(Config{URL: wsURL(srv.URL), Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer tr.Close()

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Expected ErrAlreadyConnected, got %v", err)
	}
}

// TestTransport_CloseIdempotent tests repeated close and the single close notification
func TestTransport_CloseIdempotent(t *testing.T) {
	srv, _ := newEchoServer(t)
	handler := newCollectHandler()

	tr, err := New(Config{URL: wsURL(srv.URL), Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Second Close error: %v", err)
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Done")
	}

	waitClose(t, handler.closed)
	if calls := handler.closeCalls.Load(); calls != 1 {
		t.Errorf("Expected 1 close notification, got %d", calls)
	}

	if err := tr.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

// TestTransport_CloseBeforeConnect tests closing a never-connected transport
func TestTransport_CloseBeforeConnect(t *testing.T) {
	handler := newCollectHandler()
	tr, err := New(Config{URL: "ws://127.0.0.1:1/api/kernels/x/channels", Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for Done")
	}

	if err := tr.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// TestTransport_PeerDisconnect tests that a server-side close notifies the handler
func TestTransport_PeerDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Read one frame, then drop the connection.
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	handler := newCollectHandler()
	tr, err := New(Config{URL: wsURL(srv.URL), Handler: handler})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	if err := tr.Send([]byte("trigger")); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if err := waitClose(t, handler.closed); err == nil {
		t.Error("Expected a close error from peer disconnect, got nil")
	}

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for Done")
	}

	if calls := handler.closeCalls.Load(); calls != 1 {
		t.Errorf("Expected 1 close notification, got %d", calls)
	}
}

package gatewaymock

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/remote-notebook/kernelclient/internal/terminal"
)

// terminalResponse mirrors the gateway's terminal descriptor.
type terminalResponse struct {
	Name string `json:"name"`
}

type mockTerminal struct {
	name string

	// mu also serializes writes to the attached connection.
	mu   sync.Mutex
	conn *websocket.Conn
	rows int
	cols int
}

// attach makes conn the terminal's client, displacing any previous one.
func (t *mockTerminal) attach(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.conn = conn
}

// release clears the attachment if conn is still the active client.
func (t *mockTerminal) release(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
}

// send writes one frame to the attached client, if any.
func (t *mockTerminal) send(f terminal.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// disconnect tells the attached client the terminal is going away, then
// drops the connection.
func (t *mockTerminal) disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return
	}

	if data, err := json.Marshal(terminal.Frame{Op: terminal.OpDisconnect}); err == nil {
		t.conn.WriteMessage(websocket.TextMessage, data)
	}
	t.conn.Close()
	t.conn = nil
}

func (t *mockTerminal) setSize(rows, cols int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows, t.cols = rows, cols
}

func (t *mockTerminal) size() (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows, t.cols
}

type terminalStore struct {
	logger *slog.Logger

	mu        sync.Mutex
	terminals map[string]*mockTerminal
	nextID    int
}

func newTerminalStore(logger *slog.Logger) *terminalStore {
	return &terminalStore{
		logger:    logger,
		terminals: make(map[string]*mockTerminal),
	}
}

func (st *terminalStore) registerRoutes(rg *gin.RouterGroup) {
	terminals := rg.Group("/terminals")
	{
		terminals.POST("", st.create)
		terminals.DELETE("/:name", st.remove)
	}
}

func (st *terminalStore) lookup(name string) (*mockTerminal, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	term, ok := st.terminals[name]
	return term, ok
}

func (st *terminalStore) dims(name string) (int, int, bool) {
	term, ok := st.lookup(name)
	if !ok {
		return 0, 0, false
	}
	rows, cols := term.size()
	return rows, cols, true
}

func (st *terminalStore) closeAll() {
	st.mu.Lock()
	terminals := make([]*mockTerminal, 0, len(st.terminals))
	for _, term := range st.terminals {
		terminals = append(terminals, term)
	}
	st.mu.Unlock()

	for _, term := range terminals {
		term.disconnect()
	}
}

// create handles POST /api/terminals - opens a terminal. Names count up
// from "1" the way the gateway's do.
func (st *terminalStore) create(c *gin.Context) {
	st.mu.Lock()
	st.nextID++
	name := strconv.Itoa(st.nextID)
	st.terminals[name] = &mockTerminal{name: name}
	st.mu.Unlock()

	st.logger.Info("mock terminal started", "terminal", name)
	c.JSON(http.StatusCreated, terminalResponse{Name: name})
}

// remove handles DELETE /api/terminals/:name - shuts a terminal down. The
// attached client receives a disconnect frame first.
func (st *terminalStore) remove(c *gin.Context) {
	name := c.Param("name")

	st.mu.Lock()
	term, ok := st.terminals[name]
	if ok {
		delete(st.terminals, name)
	}
	st.mu.Unlock()

	if !ok {
		sendError(c, http.StatusNotFound, "Terminal "+name+" not found")
		return
	}

	term.disconnect()
	st.logger.Info("mock terminal shut down", "terminal", name)
	c.Status(http.StatusNoContent)
}

// handleSocket handles GET /terminals/websocket/:name - the terminal stream.
func (st *terminalStore) handleSocket(c *gin.Context) {
	name := c.Param("name")
	term, ok := st.lookup(name)
	if !ok {
		sendError(c, http.StatusNotFound, "Terminal "+name+" not found")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	term.attach(conn)
	go st.serveSocket(term, conn)
}

// serveSocket echoes stdin back as stdout and records resizes for one
// client.
func (st *terminalStore) serveSocket(term *mockTerminal, conn *websocket.Conn) {
	defer func() {
		term.release(conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f terminal.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			st.logger.Warn("mock terminal dropping malformed frame", "error", err)
			continue
		}

		switch f.Op {
		case terminal.OpStdin:
			if err := term.send(terminal.Frame{Op: terminal.OpStdout, Data: f.Data}); err != nil {
				return
			}
		case terminal.OpSetSize:
			term.setSize(f.Rows, f.Cols)
		}
	}
}

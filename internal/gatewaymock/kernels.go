package gatewaymock

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/remote-notebook/kernelclient/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ScriptOutput is one scripted output of the mock kernel. Exactly one field
// should be set.
type ScriptOutput struct {
	// Stream emits a stream message.
	Stream *wire.StreamContent

	// Result emits an execute_result carrying the given MIME values.
	Result map[string]any

	// Error emits an error message and fails the execution's reply.
	Error *wire.ErrorContent

	// Clear emits a clear_output message.
	Clear bool
}

// kernelResponse mirrors the gateway's kernel descriptor.
type kernelResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	LastActivity   time.Time `json:"last_activity"`
	ExecutionState string    `json:"execution_state"`
	Connections    int       `json:"connections"`
}

type mockKernel struct {
	id   string
	name string

	mu           sync.Mutex
	lastActivity time.Time
	execCount    int
	conns        map[*websocket.Conn]struct{}
}

func (k *mockKernel) response() kernelResponse {
	k.mu.Lock()
	defer k.mu.Unlock()
	return kernelResponse{
		ID:             k.id,
		Name:           k.name,
		LastActivity:   k.lastActivity,
		ExecutionState: "idle",
		Connections:    len(k.conns),
	}
}

func (k *mockKernel) attach(conn *websocket.Conn) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.conns[conn] = struct{}{}
}

func (k *mockKernel) detach(conn *websocket.Conn) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.conns, conn)
}

// closeConns drops every channel connection without a close handshake, the
// way a dying kernel does.
func (k *mockKernel) closeConns() {
	k.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(k.conns))
	for conn := range k.conns {
		conns = append(conns, conn)
	}
	k.conns = make(map[*websocket.Conn]struct{})
	k.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (k *mockKernel) touch() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lastActivity = time.Now().UTC()
}

func (k *mockKernel) nextExecution() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.execCount++
	return k.execCount
}

type kernelStore struct {
	logger *slog.Logger

	mu      sync.Mutex
	kernels map[string]*mockKernel
	scripts map[string][]ScriptOutput
}

func newKernelStore(logger *slog.Logger) *kernelStore {
	return &kernelStore{
		logger:  logger,
		kernels: make(map[string]*mockKernel),
		scripts: make(map[string][]ScriptOutput),
	}
}

func (st *kernelStore) registerRoutes(rg *gin.RouterGroup) {
	kernels := rg.Group("/kernels")
	{
		kernels.POST("", st.create)
		kernels.GET("", st.list)
		kernels.GET("/:id", st.get)
		kernels.DELETE("/:id", st.remove)
		kernels.GET("/:id/channels", st.channels)
	}
}

func (st *kernelStore) script(code string, outputs []ScriptOutput) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scripts[code] = outputs
}

func (st *kernelStore) lookupScript(code string) ([]ScriptOutput, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	outputs, ok := st.scripts[code]
	return outputs, ok
}

func (st *kernelStore) lookup(id string) (*mockKernel, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	k, ok := st.kernels[id]
	return k, ok
}

func (st *kernelStore) closeAll() {
	st.mu.Lock()
	kernels := make([]*mockKernel, 0, len(st.kernels))
	for _, k := range st.kernels {
		kernels = append(kernels, k)
	}
	st.mu.Unlock()

	for _, k := range kernels {
		k.closeConns()
	}
}

type startKernelRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// create handles POST /api/kernels - launches a kernel.
func (st *kernelStore) create(c *gin.Context) {
	var req startKernelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			sendError(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	name := req.Name
	if name == "" {
		name = "python3"
	}

	k := &mockKernel{
		id:           uuid.NewString(),
		name:         name,
		lastActivity: time.Now().UTC(),
		conns:        make(map[*websocket.Conn]struct{}),
	}

	st.mu.Lock()
	st.kernels[k.id] = k
	st.mu.Unlock()

	st.logger.Info("mock kernel started", "kernel_id", k.id, "spec", name)
	c.JSON(http.StatusCreated, k.response())
}

// list handles GET /api/kernels - lists running kernels.
func (st *kernelStore) list(c *gin.Context) {
	st.mu.Lock()
	kernels := make([]*mockKernel, 0, len(st.kernels))
	for _, k := range st.kernels {
		kernels = append(kernels, k)
	}
	st.mu.Unlock()

	response := make([]kernelResponse, len(kernels))
	for i, k := range kernels {
		response[i] = k.response()
	}
	c.JSON(http.StatusOK, response)
}

// get handles GET /api/kernels/:id - one kernel descriptor.
func (st *kernelStore) get(c *gin.Context) {
	kernelID := c.Param("id")
	k, ok := st.lookup(kernelID)
	if !ok {
		sendError(c, http.StatusNotFound, "Kernel "+kernelID+" not found")
		return
	}
	c.JSON(http.StatusOK, k.response())
}

// remove handles DELETE /api/kernels/:id - shuts a kernel down. Attached
// channel connections drop without a close handshake.
func (st *kernelStore) remove(c *gin.Context) {
	kernelID := c.Param("id")

	st.mu.Lock()
	k, ok := st.kernels[kernelID]
	if ok {
		delete(st.kernels, kernelID)
	}
	st.mu.Unlock()

	if !ok {
		sendError(c, http.StatusNotFound, "Kernel "+kernelID+" not found")
		return
	}

	k.closeConns()
	st.logger.Info("mock kernel shut down", "kernel_id", kernelID)
	c.Status(http.StatusNoContent)
}

// channels handles GET /api/kernels/:id/channels - the kernel messaging
// socket.
func (st *kernelStore) channels(c *gin.Context) {
	kernelID := c.Param("id")
	k, ok := st.lookup(kernelID)
	if !ok {
		sendError(c, http.StatusNotFound, "Kernel "+kernelID+" not found")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	k.attach(conn)
	go st.serveChannels(k, conn)
}

// serveChannels runs the scripted kernel against one channel connection.
// Every write happens on this goroutine.
func (st *kernelStore) serveChannels(k *mockKernel, conn *websocket.Conn) {
	defer func() {
		k.detach(conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := wire.DecodeFrame(data)
		if err != nil {
			st.logger.Warn("mock kernel dropping malformed frame", "error", err)
			continue
		}
		if env.Kind() != wire.KindExecuteRequest {
			continue
		}

		var content wire.ExecuteRequestContent
		if err := json.Unmarshal(env.Content, &content); err != nil {
			st.logger.Warn("mock kernel dropping bad execute request", "error", err)
			continue
		}

		k.touch()
		if err := st.respond(k, conn, env.Header, content.Code); err != nil {
			st.logger.Warn("mock kernel write failed", "error", err)
			return
		}
	}
}

// respond plays one request's message sequence: status busy, the outputs,
// the execute_reply, status idle. Every message is parented to the request
// header.
func (st *kernelStore) respond(k *mockKernel, conn *websocket.Conn, parent wire.Header, code string) error {
	if err := sendEnvelope(conn, parent, wire.ChannelIOPub, wire.KindStatus, wire.StatusContent{ExecutionState: wire.StateBusy}); err != nil {
		return err
	}

	outputs, scripted := st.lookupScript(code)
	if !scripted {
		outputs = []ScriptOutput{{Result: map[string]any{"text/plain": code}}}
	}

	reply := wire.ReplyContent{Status: wire.ReplyOK}
	for _, out := range outputs {
		switch {
		case out.Stream != nil:
			if err := sendEnvelope(conn, parent, wire.ChannelIOPub, wire.KindStream, out.Stream); err != nil {
				return err
			}
		case out.Result != nil:
			content, err := resultContent(out.Result, k.nextExecution())
			if err != nil {
				return err
			}
			if err := sendEnvelope(conn, parent, wire.ChannelIOPub, wire.KindExecuteResult, content); err != nil {
				return err
			}
		case out.Error != nil:
			if err := sendEnvelope(conn, parent, wire.ChannelIOPub, wire.KindError, out.Error); err != nil {
				return err
			}
			reply = wire.ReplyContent{
				Status:    wire.ReplyError,
				Name:      out.Error.Name,
				Value:     out.Error.Value,
				Traceback: out.Error.Traceback,
			}
		case out.Clear:
			if err := sendEnvelope(conn, parent, wire.ChannelIOPub, wire.KindClearOutput, wire.ClearOutputContent{}); err != nil {
				return err
			}
		}
	}

	if err := sendEnvelope(conn, parent, wire.ChannelShell, wire.KindExecuteReply, reply); err != nil {
		return err
	}

	return sendEnvelope(conn, parent, wire.ChannelIOPub, wire.KindStatus, wire.StatusContent{ExecutionState: wire.StateIdle})
}

// resultContent builds an execute_result body from plain Go values.
func resultContent(values map[string]any, executionCount int) (*wire.ResultContent, error) {
	data := make(map[string]json.RawMessage, len(values))
	for mimeType, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		data[mimeType] = raw
	}
	return &wire.ResultContent{Data: data, ExecutionCount: executionCount}, nil
}

// sendEnvelope writes one protocol message parented to the request header.
func sendEnvelope(conn *websocket.Conn, parent wire.Header, channel string, kind wire.Kind, content any) error {
	payload, err := json.Marshal(content)
	if err != nil {
		return err
	}

	env := wire.Envelope{
		Header: wire.Header{
			MsgID:   uuid.NewString(),
			MsgType: string(kind),
			Session: parent.Session,
			Version: wire.ProtocolVersion,
			Date:    time.Now().UTC().Format(time.RFC3339),
		},
		ParentHeader: parent,
		Channel:      channel,
		Content:      payload,
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

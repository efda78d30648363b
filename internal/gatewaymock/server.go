// Package gatewaymock emulates a kernel gateway in-process for tests and
// local development: kernel and terminal lifecycle over REST, the kernel
// channels WebSocket backed by a scriptable kernel, the terminal WebSocket,
// and a directory-backed contents API.
package gatewaymock

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Config holds configuration for the mock gateway.
type Config struct {
	// Token guards every route when non-empty.
	Token string

	// ContentsRoot is the directory backing the contents API. Empty
	// disables the contents routes.
	ContentsRoot string

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server emulates one gateway.
type Server struct {
	token  string
	logger *slog.Logger

	kernels   *kernelStore
	terminals *terminalStore
	contents  *contentsStore

	router *gin.Engine
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Message string `json:"message"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, errorResponse{Message: message})
}

// New creates a mock gateway. Serve the handler returned by Router.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		token:     config.Token,
		logger:    logger,
		kernels:   newKernelStore(logger),
		terminals: newTerminalStore(logger),
		contents:  newContentsStore(config.ContentsRoot),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	api.Use(s.requireToken)
	s.kernels.registerRoutes(api)
	s.terminals.registerRoutes(api)
	s.contents.registerRoutes(api)

	// The terminal socket lives outside /api, matching the gateway's layout.
	router.GET("/terminals/websocket/:name", s.requireToken, s.terminals.handleSocket)

	s.router = router
	return s
}

// Router returns the HTTP handler serving the mock.
func (s *Server) Router() http.Handler {
	return s.router
}

// Script overrides the kernel's response to one exact code string. Without
// an override the kernel echoes the code back as an execute_result.
func (s *Server) Script(code string, outputs ...ScriptOutput) {
	s.kernels.script(code, outputs)
}

// TerminalDims reports the last size a client set on a terminal.
func (s *Server) TerminalDims(name string) (rows, cols int, ok bool) {
	return s.terminals.dims(name)
}

// Close disconnects every kernel channel and terminal client. Terminal
// clients receive a disconnect frame first.
func (s *Server) Close() {
	s.kernels.closeAll()
	s.terminals.closeAll()
}

// requireToken rejects requests lacking the configured token.
func (s *Server) requireToken(c *gin.Context) {
	if s.token == "" {
		return
	}
	if c.GetHeader("Authorization") != "token "+s.token {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Message: "Invalid token"})
	}
}

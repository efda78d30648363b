// Package notebook is the public face of the kernel client: gateway REST
// access, kernel execution sessions, terminal attachment and local history.
package notebook

import (
	"log/slog"

	"github.com/remote-notebook/kernelclient/internal/gateway"
	"github.com/remote-notebook/kernelclient/internal/history"
	"github.com/remote-notebook/kernelclient/internal/kernel"
	"github.com/remote-notebook/kernelclient/internal/registry"
	"github.com/remote-notebook/kernelclient/internal/terminal"
)

// Re-export types from the internal packages for external use
type (
	GatewayConfig = gateway.Config
	GatewayClient = gateway.Client
	KernelInfo    = gateway.KernelInfo
	TerminalInfo  = gateway.TerminalInfo
	Content       = gateway.Content
	APIError      = gateway.APIError

	SessionConfig  = kernel.Config
	Session        = kernel.Session
	Endpoint       = kernel.Endpoint
	Outcome        = kernel.Outcome
	OutcomeStatus  = kernel.OutcomeStatus
	Execution      = kernel.Execution
	Recorder       = kernel.Recorder
	OutputEvent    = kernel.OutputEvent
	Stream         = kernel.Stream
	RichResult     = kernel.RichResult
	ErrorOutput    = kernel.ErrorOutput
	ClearOutput    = kernel.ClearOutput
	Sink           = kernel.Sink
	ExecutionError = kernel.ExecutionError

	Registry = registry.Registry
	Factory  = registry.Factory

	TerminalConfig = terminal.Config
	TerminalClient = terminal.Client
	TerminalState  = terminal.State

	HistoryRepository = history.Repository
)

// Execution outcomes.
const (
	OutcomeOK      = kernel.OutcomeOK
	OutcomeFailed  = kernel.OutcomeFailed
	OutcomeAborted = kernel.OutcomeAborted
)

// Stream names.
const (
	StreamStdout = kernel.StreamStdout
	StreamStderr = kernel.StreamStderr
)

// Sentinel errors callers are expected to match.
var (
	ErrSessionClosed = kernel.ErrSessionClosed
	ErrAborted       = kernel.ErrAborted
	ErrNotFound      = history.ErrNotFound
)

// NewGatewayClient creates a REST client for a Jupyter gateway.
func NewGatewayClient(cfg GatewayConfig) (*GatewayClient, error) {
	return gateway.NewClient(cfg)
}

// NewSession creates a kernel session for the given endpoint. Connect must be
// called before Execute.
func NewSession(cfg SessionConfig) (*Session, error) {
	return kernel.NewSession(cfg)
}

// NewRegistry creates a session registry that guarantees one live session per
// document.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	return registry.New(factory, logger)
}

// NewTerminal creates a client for a gateway-hosted terminal.
func NewTerminal(cfg TerminalConfig) (*TerminalClient, error) {
	return terminal.NewClient(cfg)
}

// OpenHistory opens (or creates) a local execution history database and
// returns its repository.
func OpenHistory(path string) (*HistoryRepository, error) {
	db, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	return history.NewRepository(db), nil
}

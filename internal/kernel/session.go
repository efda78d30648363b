package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/remote-notebook/kernelclient/internal/transport"
	"github.com/remote-notebook/kernelclient/internal/wire"
)

// Config configures a Session.
type Config struct {
	// Endpoint locates the kernel.
	Endpoint Endpoint

	// Document identifies the notebook this session executes for. It shows
	// up in logs and execution records.
	Document string

	// WorkingDir, when set, is applied kernel-side right after connect via a
	// best-effort bootstrap execution.
	WorkingDir string

	// KernelSpec is the spec name the kernel was started with. It decides
	// whether the bootstrap snippet applies.
	KernelSpec string

	// Recorder, when set, receives one record per finished execution.
	Recorder Recorder

	// Dialer overrides the WebSocket dialer. Useful for tests.
	Dialer *websocket.Dialer

	Logger *slog.Logger
}

// Session is one live kernel connection: the transport, the pending
// execution tracker and the output routing behind a blocking Execute call.
type Session struct {
	endpoint    Endpoint
	document    string
	workingDir  string
	kernelSpec  string
	wsSessionID string
	recorder    Recorder

	transport *transport.Transport
	tracker   *Tracker
	logger    *slog.Logger

	mu       sync.Mutex
	closed   bool
	disposed bool
}

// sessionFrames adapts a Session to the transport's FrameHandler without
// exporting the handler methods.
type sessionFrames struct {
	s *Session
}

func (f sessionFrames) HandleFrame(data []byte) { f.s.handleFrame(data) }
func (f sessionFrames) HandleClose(err error)   { f.s.handleClose(err) }

// NewSession creates a session for the given kernel endpoint. The session
// does not connect until Connect is called.
func NewSession(cfg Config) (*Session, error) {
	channelURL, err := cfg.Endpoint.ChannelURL()
	if err != nil {
		return nil, fmt.Errorf("failed to derive channel URL: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		endpoint:    cfg.Endpoint,
		document:    cfg.Document,
		workingDir:  cfg.WorkingDir,
		kernelSpec:  cfg.KernelSpec,
		wsSessionID: uuid.NewString(),
		recorder:    cfg.Recorder,
		tracker:     NewTracker(logger),
		logger:      logger,
	}

	tr, err := transport.New(transport.Config{
		URL:     channelURL,
		Token:   cfg.Endpoint.Token,
		Handler: sessionFrames{s},
		Dialer:  cfg.Dialer,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	s.transport = tr
	return s, nil
}

// Connect dials the kernel's channel endpoint and applies the working
// directory bootstrap. Bootstrap failures are swallowed; a connect failure
// surfaces as *transport.ConnectionError.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	if err := s.transport.Connect(ctx); err != nil {
		return err
	}
	s.logger.Info("kernel session connected",
		"document", s.document, "kernel_id", s.endpoint.KernelID)

	s.bootstrap(ctx)
	return nil
}

// bootstrap runs the working-directory snippet with a no-op sink. Local
// failures are logged and swallowed; remote failures are swallowed by the
// snippet itself.
func (s *Session) bootstrap(ctx context.Context) {
	code := bootstrapCode(s.workingDir, s.kernelSpec)
	if code == "" {
		return
	}
	if _, err := s.execute(ctx, code, nil, false); err != nil {
		s.logger.Debug("bootstrap execution failed",
			"document", s.document, "error", err)
	}
}

// Execute sends the code to the kernel and suspends until the kernel settles
// the execution. All output events reach the sink before Execute returns.
// Failed outcomes return the *ExecutionError; aborted ones match ErrAborted.
// Canceling the context abandons the wait without interrupting the kernel.
func (s *Session) Execute(ctx context.Context, code string, sink Sink) (Outcome, error) {
	return s.execute(ctx, code, sink, true)
}

func (s *Session) execute(ctx context.Context, code string, sink Sink, record bool) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrSessionClosed
	}
	s.mu.Unlock()

	correlationID := uuid.NewString()
	startedAt := time.Now()

	outcomeCh, err := s.tracker.Register(correlationID, sink)
	if err != nil {
		return Outcome{}, err
	}

	frame, err := wire.EncodeExecuteRequest(wire.ExecutionRequest{
		CorrelationID: correlationID,
		SessionID:     s.wsSessionID,
		Code:          code,
	})
	if err != nil {
		s.tracker.Abort(correlationID, err)
		<-outcomeCh
		return Outcome{}, err
	}

	if err := s.transport.Send(frame); err != nil {
		s.tracker.Abort(correlationID, err)
		out := <-outcomeCh
		if record {
			s.record(correlationID, code, startedAt, out)
		}
		return out, fmt.Errorf("failed to send execute request: %w", err)
	}

	select {
	case out := <-outcomeCh:
		if record {
			s.record(correlationID, code, startedAt, out)
		}
		return out, out.Err

	case <-ctx.Done():
		if !s.tracker.Abort(correlationID, ctx.Err()) {
			// The kernel settled it concurrently; keep the real outcome.
			out := <-outcomeCh
			if record {
				s.record(correlationID, code, startedAt, out)
			}
			return out, out.Err
		}
		out := <-outcomeCh
		if record {
			s.record(correlationID, code, startedAt, out)
		}
		return out, ctx.Err()
	}
}

// record hands a finished execution to the recorder, if one is configured.
func (s *Session) record(correlationID, code string, startedAt time.Time, out Outcome) {
	if s.recorder == nil {
		return
	}
	ex := Execution{
		CorrelationID: correlationID,
		Document:      s.document,
		KernelID:      s.endpoint.KernelID,
		Code:          code,
		Status:        out.Status,
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
	}
	if out.Err != nil {
		ex.Error = out.Err.Error()
	}
	if err := s.recorder(ex); err != nil {
		s.logger.Warn("failed to record execution",
			"correlation_id", correlationID, "error", err)
	}
}

// Dispose tears the session down: the transport closes, every pending
// execution settles as Aborted exactly once, and once Dispose returns no
// sink is invoked again. It is idempotent.
func (s *Session) Dispose() error {
	s.mu.Lock()
	already := s.disposed
	s.disposed = true
	s.closed = true
	s.mu.Unlock()

	if !already {
		s.transport.Close()
	}
	// The read goroutine delivers the close notification (which fails all
	// pending executions) before Done closes, so waiting here is what makes
	// the no-callbacks-after-return guarantee hold.
	<-s.transport.Done()
	return nil
}

// handleFrame decodes and dispatches one frame. Malformed frames are logged
// and dropped; the connection continues.
func (s *Session) handleFrame(data []byte) {
	env, err := wire.DecodeFrame(data)
	if err != nil {
		s.logger.Warn("dropping malformed frame",
			"document", s.document, "error", err)
		return
	}
	s.tracker.Dispatch(env)
}

// handleClose runs on the read goroutine when the connection ends, whether
// by Dispose or by the peer. The session fails closed either way.
func (s *Session) handleClose(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.tracker.FailAll(err)
}

// Document returns the document identity this session executes for.
func (s *Session) Document() string {
	return s.document
}

// KernelID returns the kernel id of the session's endpoint.
func (s *Session) KernelID() string {
	return s.endpoint.KernelID
}

// Pending returns the number of in-flight executions.
func (s *Session) Pending() int {
	return s.tracker.Pending()
}

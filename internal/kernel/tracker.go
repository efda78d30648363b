package kernel

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/remote-notebook/kernelclient/internal/wire"
)

// pendingExecution is one in-flight execution. failure is guarded by the
// tracker mutex; the sink is only ever invoked from the dispatch goroutine.
type pendingExecution struct {
	sink    Sink
	outcome chan Outcome
	failure *ExecutionError
}

func (p *pendingExecution) deliver(event OutputEvent) {
	if p.sink != nil {
		p.sink(event)
	}
}

// Tracker holds the pending executions of one connection. Entries settle
// exactly once: whichever of dispatch, Abort or FailAll removes the entry
// from the map owns the outcome send.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingExecution
	logger  *slog.Logger
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		pending: make(map[string]*pendingExecution),
		logger:  logger,
	}
}

// Register adds a pending execution under the given correlation id. The
// returned channel yields the single outcome. Registering an id that is
// already pending fails with ErrDuplicateCorrelation.
func (t *Tracker) Register(correlationID string, sink Sink) (<-chan Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[correlationID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCorrelation, correlationID)
	}

	p := &pendingExecution{
		sink:    sink,
		outcome: make(chan Outcome, 1),
	}
	t.pending[correlationID] = p
	return p.outcome, nil
}

// Pending returns the number of unfinished executions.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Dispatch routes one decoded envelope to its pending execution. It must be
// called from a single goroutine per connection; that is what keeps output
// events in frame order. Frames without a known parent correlation id are
// dropped silently, which is expected during teardown races.
func (t *Tracker) Dispatch(env *wire.Envelope) {
	correlationID := env.ParentID()
	if correlationID == "" {
		t.logger.Debug("dropping frame without parent id", "kind", env.Kind())
		return
	}

	t.mu.Lock()
	p, ok := t.pending[correlationID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("dropping frame for unknown execution",
			"correlation_id", correlationID, "kind", env.Kind())
		return
	}

	switch env.Kind() {
	case wire.KindStatus:
		content, err := env.ParseStatus()
		if err != nil {
			t.logger.Warn("dropping malformed status frame",
				"correlation_id", correlationID, "error", err)
			return
		}
		if content.ExecutionState == wire.StateIdle {
			t.settleIdle(correlationID)
		}

	case wire.KindExecuteReply:
		content, err := env.ParseReply()
		if err != nil {
			t.logger.Warn("dropping malformed reply frame",
				"correlation_id", correlationID, "error", err)
			return
		}
		if content.Status == wire.ReplyError || content.Status == wire.ReplyAbort {
			t.recordFailure(correlationID, &ExecutionError{
				Name:      content.Name,
				Message:   content.Value,
				Traceback: strings.Join(content.Traceback, "\n"),
			})
		}

	default:
		event, err := RouteEnvelope(env)
		if err != nil {
			t.logger.Warn("dropping malformed frame content",
				"correlation_id", correlationID, "kind", env.Kind(), "error", err)
			return
		}
		if event == nil {
			return
		}
		if errOut, isErr := event.(ErrorOutput); isErr {
			t.recordFailure(correlationID, &ExecutionError{
				Name:      errOut.Name,
				Message:   errOut.Message,
				Traceback: errOut.Traceback,
			})
		}
		// The sink runs outside the lock; it may take arbitrary time.
		p.deliver(event)
	}
}

// recordFailure remembers the first kernel-reported failure of an execution.
// The outcome settles when the idle status arrives, so output that trails
// the error frame is still delivered.
func (t *Tracker) recordFailure(correlationID string, execErr *ExecutionError) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[correlationID]; ok && p.failure == nil {
		p.failure = execErr
	}
}

// settleIdle resolves an execution whose idle status arrived: Failed when a
// failure was recorded, Ok otherwise.
func (t *Tracker) settleIdle(correlationID string) {
	t.mu.Lock()
	p, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if p.failure != nil {
		p.outcome <- Outcome{Status: OutcomeFailed, Err: p.failure}
	} else {
		p.outcome <- Outcome{Status: OutcomeOK}
	}
}

// Abort settles a single execution as Aborted. It reports whether this call
// removed the entry; false means the execution already settled elsewhere.
func (t *Tracker) Abort(correlationID string, cause error) bool {
	t.mu.Lock()
	p, ok := t.pending[correlationID]
	if ok {
		delete(t.pending, correlationID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}

	p.outcome <- Outcome{Status: OutcomeAborted, Err: abortError(cause)}
	return true
}

// FailAll settles every pending execution as Aborted, each exactly once.
// Safe to call concurrently with Dispatch.
func (t *Tracker) FailAll(cause error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*pendingExecution)
	t.mu.Unlock()

	if len(pending) > 0 {
		t.logger.Debug("aborting pending executions", "count", len(pending))
	}
	for _, p := range pending {
		p.outcome <- Outcome{Status: OutcomeAborted, Err: abortError(cause)}
	}
}

// Package registry keys live kernel sessions by document identity and
// guarantees at most one session per document. Two concurrent acquisitions
// of the same document share a single connect attempt.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/remote-notebook/kernelclient/internal/kernel"
)

// ErrClosed is returned when acquiring from a closed registry.
var ErrClosed = errors.New("session registry is closed")

// Factory creates and connects a session for a document. It is invoked at
// most once per document while the resulting session lives.
type Factory func(ctx context.Context, document string) (*kernel.Session, error)

// entry is one registry slot. ready is closed once creation settles; after
// that exactly one of session and err is set and never changes.
type entry struct {
	ready   chan struct{}
	session *kernel.Session
	err     error
}

// Registry owns the sessions it creates: removing or closing disposes them.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates an empty Registry using the given factory.
func New(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the session for the document, creating it when absent.
// Concurrent acquisitions of the same document share one factory call: the
// losers wait for the winner's result. A failed creation clears the slot so
// a later Acquire can retry.
func (r *Registry) Acquire(ctx context.Context, document string) (*kernel.Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := r.entries[document]; ok {
		r.mu.Unlock()
		return r.await(ctx, e)
	}

	e := &entry{ready: make(chan struct{})}
	r.entries[document] = e
	r.mu.Unlock()

	session, err := r.factory(ctx, document)

	r.mu.Lock()
	if err == nil && r.closed {
		// Close raced the creation. The session is stored so Close can
		// dispose it; this caller gets the closed error.
		err = ErrClosed
	}
	e.session = session
	e.err = err
	if err != nil {
		// A concurrent Remove can free the slot and a later Acquire can
		// re-create it; clear the slot only while it still holds this entry.
		if cur, ok := r.entries[document]; ok && cur == e {
			delete(r.entries, document)
		}
	}
	r.mu.Unlock()
	close(e.ready)

	if err != nil {
		return nil, err
	}
	r.logger.Debug("session created", "document", document)
	return session, nil
}

// await blocks until the entry's creation settles or the context is
// canceled. Cancellation abandons the wait; the creation itself continues.
func (r *Registry) await(ctx context.Context, e *entry) (*kernel.Session, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.session, nil
}

// Get returns the session for the document if one is established. In-flight
// creations report false.
func (r *Registry) Get(document string) (*kernel.Session, bool) {
	r.mu.Lock()
	e, ok := r.entries[document]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	select {
	case <-e.ready:
	default:
		return nil, false
	}
	if e.err != nil {
		return nil, false
	}
	return e.session, true
}

// Len returns the number of slots, including in-flight creations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Remove disposes the document's session and forgets it. An in-flight
// creation is waited for and then disposed. Removing an absent document is
// a no-op.
func (r *Registry) Remove(document string) error {
	r.mu.Lock()
	e, ok := r.entries[document]
	if ok {
		delete(r.entries, document)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	<-e.ready
	if e.session == nil {
		return nil
	}
	r.logger.Debug("session removed", "document", document)
	return e.session.Dispose()
}

// Close disposes every session and marks the registry unusable. In-flight
// creations are waited for so that no session leaks.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var firstErr error
	for document, e := range entries {
		<-e.ready
		if e.session == nil {
			continue
		}
		if err := e.session.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.logger.Debug("session disposed", "document", document)
	}
	return firstErr
}

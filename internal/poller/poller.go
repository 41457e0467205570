// Package poller follows a submitted session until it reaches a terminal
// stage, then fetches its result once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/recordlens/internal/record"
)

// DefaultInterval is the fixed delay between status polls.
const DefaultInterval = 2 * time.Second

// notFoundMessage is shown when the session vanished server-side.
const notFoundMessage = "This analysis session was not found or has expired."

// Source is the read side of the pipeline as seen by a client.
type Source interface {
	GetStatus(ctx context.Context, sessionID string) (record.Status, error)
	GetResult(ctx context.Context, sessionID string) (record.AnalysisResult, error)
}

// TransientError marks a polling failure that is retried on the next tick
// and never reported to the handlers.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StageFailedError reports a session that ended in the error stage.
type StageFailedError struct {
	Status record.Status
}

func (e *StageFailedError) Error() string {
	if e.Status.Error != "" {
		return e.Status.Message + ": " + e.Status.Error
	}
	return e.Status.Message
}

// Handlers receive poll outcomes on the polling goroutine. Nil handlers are
// skipped.
type Handlers struct {
	OnStatus func(record.Status)
	OnResult func(record.AnalysisResult)
	OnError  func(error)
}

// Poller starts polling loops against a Source.
type Poller struct {
	source   Source
	interval time.Duration
	log      *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func New(source Source, log *slog.Logger, opts ...Option) *Poller {
	p := &Poller{source: source, interval: DefaultInterval, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one polling loop. Cancel stops the loop without affecting
// server-side processing.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu   sync.Mutex
	last record.Status
}

// Cancel stops polling. It is safe to call more than once.
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Last returns the most recent status seen by the loop.
func (h *Handle) Last() record.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

func (h *Handle) setLast(st record.Status) {
	h.mu.Lock()
	h.last = st
	h.mu.Unlock()
}

// Start polls sessionID immediately and then on every interval until the
// session completes or fails, ctx ends, or the handle is cancelled.
func (p *Poller) Start(ctx context.Context, sessionID string, h Handlers) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(handle.done)
		defer handle.Cancel()
		p.loop(ctx, sessionID, h, handle)
	}()
	return handle
}

func (p *Poller) loop(ctx context.Context, sid string, h Handlers, handle *Handle) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	log := p.log.With("session_id", sid)

	for {
		if !p.tick(ctx, sid, h, handle, log) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick performs one poll and reports whether polling should continue.
func (p *Poller) tick(ctx context.Context, sid string, h Handlers, handle *Handle, log *slog.Logger) bool {
	st, err := p.source.GetStatus(ctx, sid)
	if ctx.Err() != nil {
		return false
	}
	var transient *TransientError
	switch {
	case errors.As(err, &transient):
		log.Debug("status poll failed, retrying", "error", err)
		return true
	case errors.Is(err, record.ErrNotFound):
		st = record.Status{Stage: record.StageError, Message: notFoundMessage, Error: err.Error()}
		handle.setLast(st)
		emitStatus(h, st)
		emitError(h, err)
		return false
	case err != nil:
		log.Warn("status poll failed", "error", err)
		emitError(h, err)
		return false
	}

	handle.setLast(st)
	emitStatus(h, st)

	switch st.Stage {
	case record.StageCompleted:
		res, err := p.source.GetResult(ctx, sid)
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			log.Warn("result fetch failed", "error", err)
			emitError(h, err)
			return false
		}
		if h.OnResult != nil {
			h.OnResult(res)
		}
		return false
	case record.StageError:
		emitError(h, &StageFailedError{Status: st})
		return false
	}
	return true
}

func emitStatus(h Handlers, st record.Status) {
	if h.OnStatus != nil {
		h.OnStatus(st)
	}
}

func emitError(h Handlers, err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

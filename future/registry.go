// Package future implements the request future registry: a
// thread-safe map from sync-id to a pending completion, resolved
// exactly once by a response, a timeout sweep, a cancellation, or a
// shutdown.
package future

import (
	"sync"
	"time"

	"dbwire/dberr"
)

// Result is what a completion resolves to: either a decoded response
// body or an error.
type Result struct {
	Body map[int]any
	Err  error
}

// Future is the caller-facing handle for a registered completion. It
// is a plain buffered channel of capacity 1 — the natural one-shot
// promise primitive.
type Future <-chan Result

type pending struct {
	deadline time.Time
	ch       chan Result
}

// Registry tracks in-flight requests by sync-id. All methods are safe
// for concurrent use: completion typically happens from the
// connection's single I/O goroutine while registration happens from
// caller goroutines.
type Registry struct {
	mu       sync.Mutex
	byID     map[uint64]*pending
	shutdown bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[uint64]*pending)}
}

// Register creates a pending completion for syncID, due at deadline. It
// rejects with DuplicateSync if syncID is already registered, and
// refuses new registrations after Shutdown.
func (r *Registry) Register(syncID uint64, deadline time.Time) (Future, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return nil, dberr.New(dberr.KindConnectionClosed, "registry is shut down")
	}
	if _, exists := r.byID[syncID]; exists {
		return nil, dberr.New(dberr.KindProtocolError, "duplicate sync %d", syncID)
	}

	ch := make(chan Result, 1)
	r.byID[syncID] = &pending{deadline: deadline, ch: ch}
	return ch, nil
}

// Complete fulfils syncID with a successful response body. A late
// completion for a sync no longer registered (already timed out,
// cancelled, or completed) is a silent no-op.
func (r *Registry) Complete(syncID uint64, body map[int]any) {
	r.resolve(syncID, Result{Body: body})
}

// Fail fulfils syncID with an error (e.g. ServerError).
func (r *Registry) Fail(syncID uint64, err error) {
	r.resolve(syncID, Result{Err: err})
}

func (r *Registry) resolve(syncID uint64, res Result) {
	r.mu.Lock()
	p, ok := r.byID[syncID]
	if ok {
		delete(r.byID, syncID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	p.ch <- res
}

// Cancel removes syncID's completion, if still pending, and delivers
// Cancelled to it. Any response later arriving for that sync is
// dropped by Complete/Fail's no-op path.
func (r *Registry) Cancel(syncID uint64) {
	r.resolve(syncID, Result{Err: dberr.Cancelled})
}

// Tick removes every entry whose deadline has elapsed as of now,
// delivering Timeout to each. Called periodically by the connection
// pipeline's timeout sweep.
func (r *Registry) Tick(now time.Time) {
	var expired []*pending

	r.mu.Lock()
	for syncID, p := range r.byID {
		if !p.deadline.After(now) {
			expired = append(expired, p)
			delete(r.byID, syncID)
		}
	}
	r.mu.Unlock()

	for _, p := range expired {
		p.ch <- Result{Err: dberr.Timeout}
	}
}

// Shutdown removes every pending completion, delivers err to each, and
// refuses further registrations.
func (r *Registry) Shutdown(err error) {
	r.mu.Lock()
	r.shutdown = true
	all := r.byID
	r.byID = make(map[uint64]*pending)
	r.mu.Unlock()

	for _, p := range all {
		p.ch <- Result{Err: err}
	}
}

// Len reports the number of in-flight completions — used by tests to
// assert the registry drains after a timeout or shutdown.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// RunTimeoutSweep starts a ticker-driven sweep that calls Tick every
// interval until stop is closed. Intended to run in its own goroutine
// for the lifetime of a connection.
func (r *Registry) RunTimeoutSweep(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			r.Tick(now)
		case <-stop:
			return
		}
	}
}

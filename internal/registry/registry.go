// Package registry exposes long-lived, externally named sessions with a
// strict concurrent cap, independent of internal pool reuse. The registry
// holds non-owning references; the pool owns every record and its driver.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Entry binds one external session id to its pooled record. The create-time
// options are kept so identity survives any internal replacement.
type Entry struct {
	ID        string
	Kind      string
	Options   driver.Options
	CreatedAt time.Time

	record *pool.Record

	// lastActivity is the last tracked tool action, guarded by the
	// registry mutex. The idle sweeper expires on it.
	lastActivity time.Time
}

// Registry maps external session ids to pool records, in creation order.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // creation order, for PickDefault and stable listings
	cap     int

	pool        *pool.Pool
	idleTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	totalCreated   int
	failedSessions int64
}

// New creates a registry over the pool with the given concurrent-session cap
// and idle timeout. The cap is the user-facing quota; the pool max is an
// internal bound. A positive idleTimeout starts a sweeper that destroys named
// sessions with no tool activity past it; zero disables the sweep.
func New(p *pool.Pool, maxConcurrent int, idleTimeout time.Duration) *Registry {
	r := &Registry{
		entries:     make(map[string]*Entry),
		cap:         maxConcurrent,
		pool:        p,
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	if idleTimeout > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.sweepLoop()
		}()
	}
	return r
}

func (r *Registry) sweepLoop() {
	interval := r.idleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepIdle()
		}
	}
}

// sweepIdle destroys sessions whose last tool action is older than the idle
// timeout. Snapshot first; destruction takes the lock per session.
func (r *Registry) sweepIdle() {
	now := time.Now()
	r.mu.Lock()
	var expired []string
	for id, e := range r.entries {
		if now.Sub(e.lastActivity) > r.idleTimeout {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		log.Info().
			Str("session_id", id).
			Dur("idle_timeout", r.idleTimeout).
			Msg("Idle session expired")
		r.DestroySession(id)
	}
}

// CreateSession borrows a record from the pool and names it. Fails with
// ErrSessionLimit when the registry already holds its cap, before any pool
// work happens.
func (r *Registry) CreateSession(ctx context.Context, kind string, opts driver.Options) (string, error) {
	r.mu.Lock()
	if len(r.entries) >= r.cap {
		n := len(r.entries)
		r.mu.Unlock()
		return "", types.NewToolError(
			fmt.Errorf("%w: %d of %d sessions in use", types.ErrSessionLimit, n, r.cap),
			fmt.Sprintf("concurrent session limit reached (%d)", r.cap),
		).WithHint("close an existing session or raise MAX_CONCURRENT_SESSIONS")
	}
	r.mu.Unlock()

	rec, err := r.pool.Borrow(ctx, kind, opts)
	if err != nil {
		r.mu.Lock()
		r.failedSessions++
		r.mu.Unlock()
		return "", err
	}

	now := time.Now()
	entry := &Entry{
		ID:           rec.ID,
		Kind:         rec.Kind(),
		Options:      opts,
		CreatedAt:    now,
		record:       rec,
		lastActivity: now,
	}

	r.mu.Lock()
	// The cap may have been reached while the borrow was in flight.
	if len(r.entries) >= r.cap {
		n := len(r.entries)
		r.mu.Unlock()
		r.pool.Return(rec.ID, false)
		return "", types.NewToolError(
			fmt.Errorf("%w: %d of %d sessions in use", types.ErrSessionLimit, n, r.cap),
			fmt.Sprintf("concurrent session limit reached (%d)", r.cap),
		).WithHint("close an existing session or raise MAX_CONCURRENT_SESSIONS")
	}
	r.entries[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	r.totalCreated++
	r.mu.Unlock()

	log.Info().
		Str("session_id", entry.ID).
		Str("kind", entry.Kind).
		Msg("Session registered")

	return entry.ID, nil
}

// GetSession returns the record bound to the id.
func (r *Registry) GetSession(sessionID string) (*pool.Record, error) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, types.NewToolError(
			fmt.Errorf("%w: %s", types.ErrSessionNotFound, sessionID),
			fmt.Sprintf("session %q not found", sessionID),
		).WithHint("list sessions to see valid ids; the session may have been closed or retired")
	}
	return entry.record, nil
}

// DestroySession unbinds the session and returns its record to the pool,
// which may recycle or retire it. Destroying an unknown id is a no-op.
func (r *Registry) DestroySession(sessionID string) {
	r.destroy(sessionID, false)
}

// DestroySessionWithErrors is DestroySession for a session whose driver
// failed mid-call; the pool sees the error and applies retirement.
func (r *Registry) DestroySessionWithErrors(sessionID string) {
	r.destroy(sessionID, true)
}

func (r *Registry) destroy(sessionID string, hadErrors bool) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
		for i, id := range r.order {
			if id == sessionID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.pool.Return(entry.record.ID, hadErrors)
	log.Info().Str("session_id", sessionID).Bool("had_errors", hadErrors).Msg("Session destroyed")
}

// List returns a snapshot of every named session in creation order. It never
// blocks pool operations.
func (r *Registry) List() []types.SessionSummary {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	r.mu.Unlock()

	out := make([]types.SessionSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.SessionSummary{
			ID:          e.ID,
			BrowserKind: e.Kind,
			CreatedAt:   e.CreatedAt.UnixMilli(),
			LastUsedAt:  e.record.LastUsedAt().UnixMilli(),
			UseCount:    e.record.UseCount(),
			InUse:       e.record.InUse(),
		})
	}
	return out
}

// PickDefault returns the first session in creation order. Callers that omit
// a session id land here.
func (r *Registry) PickDefault() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return "", types.NewToolError(
			types.ErrNoDefaultSession,
			"no session available",
		).WithHint("create a session first with create_session")
	}
	return r.order[0], nil
}

// TrackAction records one tool action against the session. Unknown ids are
// ignored; the session may have been destroyed while the action ran.
func (r *Registry) TrackAction(sessionID, name, selector string, success bool, duration time.Duration) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	if ok {
		entry.lastActivity = time.Now()
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	entry.record.TrackAction(name, selector, success, duration)
}

// Count returns the number of currently named sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Cap returns the configured concurrent-session cap.
func (r *Registry) Cap() int {
	return r.cap
}

// Metrics returns a cheap registry-level snapshot.
func (r *Registry) Metrics() types.RegistryMetrics {
	r.mu.Lock()
	total := r.totalCreated
	failed := r.failedSessions
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var ageSum float64
	now := time.Now()
	for _, e := range entries {
		ageSum += float64(now.Sub(e.CreatedAt).Milliseconds())
	}
	avg := 0.0
	if len(entries) > 0 {
		avg = ageSum / float64(len(entries))
	}

	return types.RegistryMetrics{
		TotalSessions:       total,
		ActiveSessions:      len(entries),
		AverageSessionAgeMs: avg,
		FailedSessions:      failed,
	}
}

// Shutdown stops the idle sweeper and destroys every named session. Records
// go back to the pool; the pool's own shutdown tears the drivers down.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()

	r.mu.Lock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.Unlock()

	for _, id := range ids {
		r.DestroySession(id)
	}
	log.Info().Int("destroyed", len(ids)).Msg("Session registry shut down")
}

package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Config bounds the pool. Frozen at construction except via Resize.
type Config struct {
	MinSize              int
	MaxSize              int
	IdleTimeout          time.Duration
	MaxSessionAge        time.Duration
	HealthCheckInterval  time.Duration
	PrewarmCount         int
	BorrowTimeout        time.Duration
	MaxConsecutiveErrors int
	MaxUseCount          int64
	DefaultKind          string
	DefaultOptions       driver.Options
}

// Stats holds monotonic pool counters.
type Stats struct {
	Created  atomic.Int64
	Borrowed atomic.Int64
	Returned atomic.Int64
	Retired  atomic.Int64
	Failures atomic.Int64
}

// Snapshot is a point-in-time view of pool state.
type Snapshot struct {
	Size      int   `json:"size"`
	Available int   `json:"available"`
	InUse     int   `json:"inUse"`
	MinSize   int   `json:"minSize"`
	MaxSize   int   `json:"maxSize"`
	Created   int64 `json:"created"`
	Borrowed  int64 `json:"borrowed"`
	Returned  int64 `json:"returned"`
	Retired   int64 `json:"retired"`
	Failures  int64 `json:"failures"`
}

// Pool is the bounded multiset of session records with borrow/return
// semantics, prewarming, periodic health checks, and retirement.
//
// Lock ordering: p.mu before any record mutex. Never hold p.mu across a
// driver call.
type Pool struct {
	mu       sync.Mutex
	records  map[string]*Record
	creating int // in-flight creations, counted toward MaxSize

	minSize int
	maxSize int

	cfg     Config
	factory driver.Factory

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	// returned receives a pulse whenever a record becomes available,
	// waking one waiting borrower.
	returned chan struct{}

	stats Stats
}

// New creates a pool and starts its health-check loop. No sessions are
// launched until Prewarm or the first Borrow.
func New(cfg Config, factory driver.Factory) *Pool {
	p := &Pool{
		records:  make(map[string]*Record),
		minSize:  cfg.MinSize,
		maxSize:  cfg.MaxSize,
		cfg:      cfg,
		factory:  factory,
		stopCh:   make(chan struct{}),
		returned: make(chan struct{}, 1),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.healthCheckLoop()
	}()

	log.Info().
		Int("min", cfg.MinSize).
		Int("max", cfg.MaxSize).
		Dur("idle_timeout", cfg.IdleTimeout).
		Dur("max_session_age", cfg.MaxSessionAge).
		Msg("Session pool initialized")

	return p
}

// Prewarm raises the pool size up to PrewarmCount, honoring MaxSize.
// Creation failures are logged; prewarm is best-effort.
func (p *Pool) Prewarm(ctx context.Context) {
	target := p.cfg.PrewarmCount

	for {
		p.mu.Lock()
		if p.closed.Load() || len(p.records)+p.creating >= target || len(p.records)+p.creating >= p.maxSize {
			p.mu.Unlock()
			return
		}
		p.creating++
		p.mu.Unlock()

		rec, err := p.createRecord(ctx, p.cfg.DefaultKind, p.cfg.DefaultOptions)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			log.Warn().Err(err).Msg("Prewarm session creation failed")
			return
		}
		p.records[rec.ID] = rec
		p.mu.Unlock()
		p.signalAvailable()

		log.Debug().Str("session_id", rec.ID).Msg("Session prewarmed")
	}
}

// Borrow obtains an exclusive session record. Resolution order: the
// most-recently-used available record of the requested kind; a fresh record
// if there is capacity; otherwise wait for a return up to BorrowTimeout.
// An empty kind means the configured default.
func (p *Pool) Borrow(ctx context.Context, kind string, opts driver.Options) (*Record, error) {
	if kind == "" {
		kind = p.cfg.DefaultKind
		opts = p.cfg.DefaultOptions
	}

	deadline := time.NewTimer(p.cfg.BorrowTimeout)
	defer deadline.Stop()

	for {
		if p.closed.Load() {
			return nil, types.NewPoolBorrowError("pool is shutting down", types.ErrPoolClosed)
		}

		rec, canCreate := p.tryPick(kind)
		if rec != nil {
			p.stats.Borrowed.Add(1)
			log.Debug().Str("session_id", rec.ID).Msg("Session borrowed from pool")
			return rec, nil
		}

		if canCreate {
			rec, err := p.createAndRegister(ctx, kind, opts)
			if err != nil {
				p.stats.Failures.Add(1)
				return nil, err
			}
			// Mark in use before anyone else can see it available.
			rec.mu.Lock()
			rec.inUse = true
			rec.useCount++
			rec.lastUsedAt = time.Now()
			rec.mu.Unlock()
			p.stats.Borrowed.Add(1)
			return rec, nil
		}

		select {
		case <-p.returned:
			// A record came back; retry the pick.
		case <-ctx.Done():
			return nil, types.NewPoolBorrowError("caller canceled", fmt.Errorf("%w: %v", types.ErrPoolExhausted, ctx.Err()))
		case <-deadline.C:
			p.stats.Failures.Add(1)
			return nil, types.NewPoolBorrowError(
				fmt.Sprintf("no session available within %s", p.cfg.BorrowTimeout),
				types.ErrPoolExhausted,
			)
		case <-p.stopCh:
			return nil, types.NewPoolBorrowError("pool is shutting down", types.ErrPoolClosed)
		}
	}
}

// tryPick selects the most-recently-used available record of the kind, or
// reports whether the caller may create a new one instead.
func (p *Pool) tryPick(kind string) (*Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Record
	var bestUsed time.Time
	for _, rec := range p.records {
		rec.mu.Lock()
		ok := rec.ready && !rec.inUse && rec.kind == kind
		used := rec.lastUsedAt
		rec.mu.Unlock()
		if ok && (best == nil || used.After(bestUsed)) {
			best = rec
			bestUsed = used
		}
	}

	if best != nil {
		best.mu.Lock()
		best.inUse = true
		best.useCount++
		best.lastUsedAt = time.Now()
		best.mu.Unlock()
		return best, false
	}

	if len(p.records)+p.creating < p.maxSize {
		p.creating++
		return nil, true
	}
	return nil, false
}

// createAndRegister constructs a record via the factory and registers it.
// The caller has already reserved a creation slot.
func (p *Pool) createAndRegister(ctx context.Context, kind string, opts driver.Options) (*Record, error) {
	rec, err := p.createRecord(ctx, kind, opts)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed.Load() {
		p.mu.Unlock()
		p.destroyRecord(rec)
		return nil, types.NewPoolBorrowError("pool closed during creation", types.ErrPoolClosed)
	}
	p.records[rec.ID] = rec
	p.mu.Unlock()

	return rec, nil
}

// createRecord launches a driver and wraps it. Factory errors propagate as
// DRIVER_CREATE_FAILED; never retried here.
func (p *Pool) createRecord(ctx context.Context, kind string, opts driver.Options) (*Record, error) {
	handle, err := p.factory.Create(ctx, kind, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &Record{
		ID:              uuid.NewString(),
		handle:          handle,
		kind:            kind,
		createdAt:       now,
		lastUsedAt:      now,
		lastHealthCheck: now,
		ready:           true,
	}
	p.stats.Created.Add(1)

	log.Info().
		Str("session_id", rec.ID).
		Str("kind", kind).
		Msg("Session created")

	return rec, nil
}

// Return gives a borrowed record back. If hadErrors, the consecutive-error
// count grows; a clean return resets it. Retirement rules are applied here,
// never while the record is in use.
func (p *Pool) Return(recordID string, hadErrors bool) {
	p.mu.Lock()
	rec, ok := p.records[recordID]
	if !ok {
		p.mu.Unlock()
		return
	}

	rec.mu.Lock()
	if !rec.inUse {
		rec.mu.Unlock()
		p.mu.Unlock()
		return
	}
	if hadErrors {
		rec.consecutiveErrors++
	} else {
		rec.consecutiveErrors = 0
	}
	rec.lastUsedAt = time.Now()

	retire, reason := p.retirementReasonLocked(rec)
	if retire {
		delete(p.records, recordID)
		rec.ready = false
	} else {
		rec.inUse = false
	}
	rec.mu.Unlock()

	belowMin := len(p.records) < p.minSize
	p.mu.Unlock()

	p.stats.Returned.Add(1)

	if retire {
		p.stats.Retired.Add(1)
		log.Info().
			Str("session_id", recordID).
			Str("reason", reason).
			Msg("Session retired on return")
		p.destroyRecord(rec)
		if belowMin && !p.closed.Load() {
			p.spawnReplacement()
		}
		// Retirement freed capacity even when no replacement spawns; a
		// blocked borrower can now create.
		p.signalAvailable()
		return
	}

	p.signalAvailable()
	log.Debug().Str("session_id", recordID).Msg("Session returned to pool")
}

// retirementReasonLocked evaluates the retirement rules. Both p.mu and
// rec.mu must be held.
func (p *Pool) retirementReasonLocked(rec *Record) (bool, string) {
	if p.cfg.MaxSessionAge > 0 && time.Since(rec.createdAt) > p.cfg.MaxSessionAge {
		return true, "max age exceeded"
	}
	if rec.consecutiveErrors > p.cfg.MaxConsecutiveErrors {
		return true, "consecutive error threshold crossed"
	}
	if rec.useCount > p.cfg.MaxUseCount {
		return true, "use count threshold crossed"
	}
	return false, ""
}

// ShouldRetire reports whether the record currently meets a retirement rule.
// The record is not touched; retirement is applied at Return.
func (p *Pool) ShouldRetire(recordID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[recordID]
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	retire, _ := p.retirementReasonLocked(rec)
	return retire
}

// spawnReplacement tops the pool back up to MinSize in the background.
func (p *Pool) spawnReplacement() {
	p.mu.Lock()
	if p.closed.Load() || len(p.records)+p.creating >= p.minSize {
		p.mu.Unlock()
		return
	}
	p.creating++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rec, err := p.createRecord(ctx, p.cfg.DefaultKind, p.cfg.DefaultOptions)

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			log.Warn().Err(err).Msg("Replacement session creation failed")
			return
		}
		if p.closed.Load() {
			p.mu.Unlock()
			p.destroyRecord(rec)
			return
		}
		p.records[rec.ID] = rec
		p.mu.Unlock()
		p.signalAvailable()
	}()
}

// signalAvailable wakes one waiting borrower, if any.
func (p *Pool) signalAvailable() {
	select {
	case p.returned <- struct{}{}:
	default:
	}
}

// Get returns the record with the given id, whether or not it is in use.
func (p *Pool) Get(recordID string) (*Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[recordID]
	return rec, ok
}

// ForceCleanup probes every not-in-use record and destroys any that fail.
// Returns the number of records destroyed.
func (p *Pool) ForceCleanup(ctx context.Context) int {
	candidates := p.claimIdle(nil)

	destroyed := 0
	for _, rec := range candidates {
		res := p.factory.Probe(ctx, rec.Handle())
		if res.Healthy {
			p.releaseClaim(rec, true)
			continue
		}
		p.removeRecord(rec, "failed forced cleanup probe")
		destroyed++
	}

	p.topUpToMin()
	return destroyed
}

// Resize updates the pool bounds. Excess not-in-use records above the new
// max are destroyed in creation-time order; missing records below the new
// min are spawned best-effort.
func (p *Pool) Resize(newMin, newMax int) {
	if newMin < 0 || newMax < 1 || newMin > newMax {
		log.Warn().Int("min", newMin).Int("max", newMax).Msg("Ignoring invalid pool resize")
		return
	}

	p.mu.Lock()
	p.minSize = newMin
	p.maxSize = newMax
	excess := len(p.records) - newMax

	var victims []*Record
	if excess > 0 {
		idle := make([]*Record, 0)
		for _, rec := range p.records {
			rec.mu.Lock()
			if !rec.inUse {
				idle = append(idle, rec)
			}
			rec.mu.Unlock()
		}
		sort.Slice(idle, func(i, j int) bool {
			return idle[i].createdAt.Before(idle[j].createdAt)
		})
		if excess > len(idle) {
			excess = len(idle)
		}
		victims = idle[:excess]
		for _, rec := range victims {
			rec.mu.Lock()
			rec.ready = false
			rec.mu.Unlock()
			delete(p.records, rec.ID)
		}
	}
	p.mu.Unlock()

	for _, rec := range victims {
		p.stats.Retired.Add(1)
		p.destroyRecord(rec)
	}

	log.Info().Int("min", newMin).Int("max", newMax).Msg("Pool resized")
	p.topUpToMin()
	// A raised max means blocked borrowers may now create.
	p.signalAvailable()
}

// Snapshot returns a consistent view of pool counts.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	size := len(p.records)
	inUse := 0
	for _, rec := range p.records {
		rec.mu.Lock()
		if rec.inUse {
			inUse++
		}
		rec.mu.Unlock()
	}
	minSize, maxSize := p.minSize, p.maxSize
	p.mu.Unlock()

	return Snapshot{
		Size:      size,
		Available: size - inUse,
		InUse:     inUse,
		MinSize:   minSize,
		MaxSize:   maxSize,
		Created:   p.stats.Created.Load(),
		Borrowed:  p.stats.Borrowed.Load(),
		Returned:  p.stats.Returned.Load(),
		Retired:   p.stats.Retired.Load(),
		Failures:  p.stats.Failures.Load(),
	}
}

// healthCheckLoop probes idle records, retires chronically failing ones,
// tops up to MinSize, and drops idle-excess records.
func (p *Pool) healthCheckLoop() {
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			log.Debug().Msg("Pool health check loop stopping")
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			p.runHealthCheck()
		}
	}
}

// runHealthCheck is one health-check pass.
func (p *Pool) runHealthCheck() {
	now := time.Now()
	stale := func(rec *Record) bool {
		return now.Sub(rec.lastHealthCheck) >= p.cfg.HealthCheckInterval
	}
	candidates := p.claimIdle(stale)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, rec := range candidates {
		res := p.factory.Probe(ctx, rec.Handle())

		rec.mu.Lock()
		rec.lastHealthCheck = time.Now()
		if !res.Healthy {
			rec.consecutiveErrors++
		} else {
			rec.consecutiveErrors = 0
		}
		failing := rec.consecutiveErrors > p.cfg.MaxConsecutiveErrors
		rec.mu.Unlock()

		if failing {
			p.removeRecord(rec, "failed periodic health check")
			continue
		}
		p.releaseClaim(rec, true)
	}

	p.dropIdleExcess()
	p.topUpToMin()
}

// claimIdle marks matching not-in-use records as in-use so no borrower can
// take them mid-probe, and returns them in creation-time order. A nil filter
// claims every idle record.
func (p *Pool) claimIdle(filter func(*Record) bool) []*Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	var claimed []*Record
	for _, rec := range p.records {
		rec.mu.Lock()
		if !rec.inUse && rec.ready && (filter == nil || filter(rec)) {
			rec.inUse = true
			claimed = append(claimed, rec)
		}
		rec.mu.Unlock()
	}
	sort.Slice(claimed, func(i, j int) bool {
		return claimed[i].createdAt.Before(claimed[j].createdAt)
	})
	return claimed
}

// releaseClaim undoes a claimIdle mark.
func (p *Pool) releaseClaim(rec *Record, signal bool) {
	rec.mu.Lock()
	rec.inUse = false
	rec.mu.Unlock()
	if signal {
		p.signalAvailable()
	}
}

// removeRecord unregisters and destroys a claimed record.
func (p *Pool) removeRecord(rec *Record, reason string) {
	p.mu.Lock()
	delete(p.records, rec.ID)
	p.mu.Unlock()

	rec.mu.Lock()
	rec.ready = false
	rec.mu.Unlock()

	p.stats.Retired.Add(1)
	log.Info().
		Str("session_id", rec.ID).
		Str("reason", reason).
		Msg("Session destroyed")
	p.destroyRecord(rec)
	p.signalAvailable()
}

// dropIdleExcess destroys idle records beyond MinSize whose idle time
// exceeds IdleTimeout, oldest created first.
func (p *Pool) dropIdleExcess() {
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	now := time.Now()

	p.mu.Lock()
	var victims []*Record
	size := len(p.records)
	idle := make([]*Record, 0)
	for _, rec := range p.records {
		rec.mu.Lock()
		if !rec.inUse && rec.ready && now.Sub(rec.lastUsedAt) > p.cfg.IdleTimeout {
			idle = append(idle, rec)
		}
		rec.mu.Unlock()
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].createdAt.Before(idle[j].createdAt)
	})
	for _, rec := range idle {
		if size <= p.minSize {
			break
		}
		rec.mu.Lock()
		rec.ready = false
		rec.inUse = true
		rec.mu.Unlock()
		delete(p.records, rec.ID)
		victims = append(victims, rec)
		size--
	}
	p.mu.Unlock()

	for _, rec := range victims {
		p.stats.Retired.Add(1)
		log.Info().Str("session_id", rec.ID).Msg("Idle session dropped")
		p.destroyRecord(rec)
	}
	if len(victims) > 0 {
		p.signalAvailable()
	}
}

// topUpToMin spawns records until the pool holds MinSize, best-effort.
func (p *Pool) topUpToMin() {
	for {
		p.mu.Lock()
		if p.closed.Load() || len(p.records)+p.creating >= p.minSize {
			p.mu.Unlock()
			return
		}
		p.creating++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		rec, err := p.createRecord(ctx, p.cfg.DefaultKind, p.cfg.DefaultOptions)
		cancel()

		p.mu.Lock()
		p.creating--
		if err != nil {
			p.mu.Unlock()
			log.Warn().Err(err).Msg("Min-size top-up creation failed")
			return
		}
		p.records[rec.ID] = rec
		p.mu.Unlock()
		p.signalAvailable()
	}
}

// destroyRecord closes the record's page and driver. Errors during destroy
// are logged and suppressed.
func (p *Pool) destroyRecord(rec *Record) {
	rec.mu.Lock()
	page := rec.page
	rec.page = nil
	handle := rec.handle
	rec.handle = nil
	rec.mu.Unlock()

	if page != nil {
		if err := page.Close(); err != nil {
			log.Debug().Err(err).Str("session_id", rec.ID).Msg("Error closing session page")
		}
	}
	if handle != nil {
		p.factory.Close(handle)
	}
}

// Shutdown stops health checking and destroys every record, including any
// still in use; their borrowers see subsequent operations fail. Safe to call
// more than once.
func (p *Pool) Shutdown() {
	if p.closed.Swap(true) {
		return
	}

	log.Info().Msg("Shutting down session pool")
	close(p.stopCh)

	p.mu.Lock()
	records := make([]*Record, 0, len(p.records))
	for _, rec := range p.records {
		records = append(records, rec)
	}
	p.records = make(map[string]*Record)
	p.mu.Unlock()

	// Destroy in parallel with a bounded group, matching teardown elsewhere.
	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, rec := range records {
		rec := rec
		eg.Go(func() error {
			p.destroyRecord(rec)
			return nil
		})
	}
	_ = eg.Wait()

	p.wg.Wait()
	log.Info().Int("destroyed", len(records)).Msg("Session pool shut down")
}

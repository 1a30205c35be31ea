// Package pool maintains a bounded, healthy set of browser sessions and
// amortizes driver creation cost across tool calls. The pool owns every
// session record; the registry only holds references.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/browserctl/browserctl-go/internal/driver"
)

// historyCap bounds the per-session action history ring.
const historyCap = 10

// ActionEntry is one recorded tool action on a session.
type ActionEntry struct {
	Name      string    `json:"name"`
	Selector  string    `json:"selector,omitempty"`
	Success   bool      `json:"success"`
	Duration  int64     `json:"durationMs"`
	Timestamp time.Time `json:"timestamp"`
}

// PerfCounters aggregate action outcomes for one session.
type PerfCounters struct {
	TotalActions      int64   `json:"totalActions"`
	SuccessfulActions int64   `json:"successfulActions"`
	AvgActionTimeMs   float64 `json:"avgActionTimeMs"`
}

// Record is a usable automation context: one exclusively owned driver handle
// plus its lifecycle and activity metadata. While a record is in use, no
// other borrower may touch its handle; that serialization is the sole
// concurrency guarantee for remote-browser state.
type Record struct {
	ID string

	mu     sync.Mutex
	handle *driver.Handle
	page   *rod.Page // lazily opened; reset between borrowers

	// exec is a one-slot semaphore serializing handler execution. The
	// record mutex guards only metadata; driver state is protected by
	// holding this slot for the duration of a call.
	exec chan struct{}

	kind      string
	createdAt time.Time

	lastUsedAt      time.Time
	lastHealthCheck time.Time

	ready bool
	inUse bool

	useCount          int64
	consecutiveErrors int

	// history is a fixed-capacity ring with overwrite-at-tail semantics.
	history    [historyCap]ActionEntry
	historyLen int
	historyPos int

	perf PerfCounters

	scrollX, scrollY float64
	activeElement    string
}

// Handle returns the driver handle. Call only while holding the record
// through a borrow; the handle is never shared between borrowers.
func (r *Record) Handle() *driver.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handle
}

// Kind returns the browser kind the record was created with.
func (r *Record) Kind() string {
	return r.kind
}

// CreatedAt returns the record's creation time.
func (r *Record) CreatedAt() time.Time {
	return r.createdAt
}

// LastUsedAt returns the last borrow-return touch time.
func (r *Record) LastUsedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUsedAt
}

// UseCount returns how many times the record has been borrowed.
func (r *Record) UseCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.useCount
}

// InUse reports whether a borrower currently holds the record.
func (r *Record) InUse() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inUse
}

// ConsecutiveErrors returns the current consecutive error count.
func (r *Record) ConsecutiveErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveErrors
}

func (r *Record) execSlot() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec == nil {
		r.exec = make(chan struct{}, 1)
	}
	return r.exec
}

// AcquireExec takes the record's execution slot, blocking until the current
// holder releases it or ctx ends. Two calls naming the same session must
// never drive the browser simultaneously.
func (r *Record) AcquireExec(ctx context.Context) error {
	select {
	case r.execSlot() <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseExec frees the execution slot taken by AcquireExec.
func (r *Record) ReleaseExec() {
	select {
	case <-r.execSlot():
	default:
	}
}

// MarkFailure bumps the consecutive-error count after a failed tool call and
// returns the new count. Retirement itself happens when the record is
// returned to the pool.
func (r *Record) MarkFailure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveErrors++
	return r.consecutiveErrors
}

// MarkSuccess resets the consecutive-error count after a clean tool call.
func (r *Record) MarkSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveErrors = 0
}

// Page returns the record's current page, opening one on first use.
// Only the holder of the borrow may call this.
func (r *Record) Page() (*rod.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.page != nil {
		return r.page, nil
	}
	page, err := r.handle.NewPage()
	if err != nil {
		return nil, err
	}
	r.page = page
	return page, nil
}

// AdoptPage makes the given page the record's working page, used when the
// session switches windows. The previous page stays open.
func (r *Record) AdoptPage(page *rod.Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = page
}

// DropPage forgets the cached page without closing the browser. Used when the
// transport reported the page gone.
func (r *Record) DropPage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = nil
}

// TrackAction appends to the history ring and updates the rolling counters.
// Oldest entries drop first; the ring never exceeds its cap. Writes for a
// given session are in arrival order because the borrower is exclusive.
func (r *Record) TrackAction(name, selector string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := ActionEntry{
		Name:      name,
		Selector:  selector,
		Success:   success,
		Duration:  duration.Milliseconds(),
		Timestamp: time.Now(),
	}

	r.history[r.historyPos] = entry
	r.historyPos = (r.historyPos + 1) % historyCap
	if r.historyLen < historyCap {
		r.historyLen++
	}

	r.perf.TotalActions++
	if success {
		r.perf.SuccessfulActions++
	}
	// Rolling average over all recorded actions.
	n := float64(r.perf.TotalActions)
	r.perf.AvgActionTimeMs += (float64(entry.Duration) - r.perf.AvgActionTimeMs) / n
}

// History returns the recorded actions, oldest first.
func (r *Record) History() []ActionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ActionEntry, 0, r.historyLen)
	start := r.historyPos - r.historyLen
	if start < 0 {
		start += historyCap
	}
	for i := 0; i < r.historyLen; i++ {
		out = append(out, r.history[(start+i)%historyCap])
	}
	return out
}

// Perf returns a copy of the performance counters.
func (r *Record) Perf() PerfCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perf
}

// RememberScroll stores the last observed scroll position.
func (r *Record) RememberScroll(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrollX, r.scrollY = x, y
}

// ScrollMemo returns the remembered scroll position.
func (r *Record) ScrollMemo() (x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scrollX, r.scrollY
}

// RememberActiveElement stores the selector of the last interacted element.
func (r *Record) RememberActiveElement(selector string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeElement = selector
}

// ActiveElementMemo returns the remembered active-element selector.
func (r *Record) ActiveElementMemo() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeElement
}

package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/types"
)

type stubFactory struct {
	mu     sync.Mutex
	closed int
	serial atomic.Int64
}

func (f *stubFactory) Create(ctx context.Context, kind string, opts driver.Options) (*driver.Handle, error) {
	return &driver.Handle{Kind: kind, Serial: f.serial.Add(1)}, nil
}

func (f *stubFactory) Close(h *driver.Handle) {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *stubFactory) Validate(h *driver.Handle) bool { return true }

func (f *stubFactory) Probe(ctx context.Context, h *driver.Handle) driver.ProbeResult {
	return driver.ProbeResult{Healthy: true, CanNavigate: true, CanExecuteScript: true}
}

func testPool() *pool.Pool {
	return pool.New(pool.Config{
		MinSize:              0,
		MaxSize:              5,
		IdleTimeout:          time.Hour,
		MaxSessionAge:        time.Hour,
		HealthCheckInterval:  time.Hour,
		BorrowTimeout:        100 * time.Millisecond,
		MaxConsecutiveErrors: 5,
		MaxUseCount:          1000,
		DefaultKind:          "chromium",
	}, &stubFactory{})
}

func TestCreateAndGetSession(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 3, 0)

	id, err := r.CreateSession(context.Background(), "", driver.Options{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty session id")
	}

	rec, err := r.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if rec.ID != id {
		t.Errorf("Expected record id %s, got %s", id, rec.ID)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 3, 0)

	_, err := r.GetSession("nope")
	if !errors.Is(err, types.ErrSessionNotFound) {
		t.Fatalf("Expected ErrSessionNotFound, got %v", err)
	}
	if types.CodeForError(err) != types.CodeSessionNotFound {
		t.Errorf("Expected code %s, got %s", types.CodeSessionNotFound, types.CodeForError(err))
	}
}

func TestSessionLimit(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 2, 0)

	for i := 0; i < 2; i++ {
		if _, err := r.CreateSession(context.Background(), "", driver.Options{}); err != nil {
			t.Fatalf("CreateSession %d failed: %v", i, err)
		}
	}

	_, err := r.CreateSession(context.Background(), "", driver.Options{})
	if !errors.Is(err, types.ErrSessionLimit) {
		t.Fatalf("Expected ErrSessionLimit, got %v", err)
	}

	// Cap is checked before the pool is touched: pool max is 5, yet the
	// registry refused at 2.
	if r.Count() != 2 {
		t.Errorf("Expected 2 sessions, got %d", r.Count())
	}
}

func TestDestroySessionIdempotent(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 3, 0)

	id, _ := r.CreateSession(context.Background(), "", driver.Options{})

	r.DestroySession(id)
	r.DestroySession(id) // second call is a no-op
	r.DestroySession("never-existed")

	if r.Count() != 0 {
		t.Errorf("Expected 0 sessions, got %d", r.Count())
	}
	if _, err := r.GetSession(id); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after destroy, got %v", err)
	}
}

func TestDestroyFreesQuota(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 1, 0)

	id, _ := r.CreateSession(context.Background(), "", driver.Options{})
	r.DestroySession(id)

	if _, err := r.CreateSession(context.Background(), "", driver.Options{}); err != nil {
		t.Fatalf("Expected quota freed after destroy, got %v", err)
	}
}

func TestListCreationOrder(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 5, 0)

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := r.CreateSession(context.Background(), "", driver.Options{})
		ids = append(ids, id)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 summaries, got %d", len(list))
	}
	for i, s := range list {
		if s.ID != ids[i] {
			t.Errorf("List position %d: expected %s, got %s", i, ids[i], s.ID)
		}
		if s.BrowserKind != "chromium" {
			t.Errorf("Expected kind chromium, got %s", s.BrowserKind)
		}
	}
}

func TestPickDefault(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 5, 0)

	if _, err := r.PickDefault(); !errors.Is(err, types.ErrNoDefaultSession) {
		t.Fatalf("Expected ErrNoDefaultSession on empty registry, got %v", err)
	}

	first, _ := r.CreateSession(context.Background(), "", driver.Options{})
	_, _ = r.CreateSession(context.Background(), "", driver.Options{})

	got, err := r.PickDefault()
	if err != nil {
		t.Fatalf("PickDefault failed: %v", err)
	}
	if got != first {
		t.Errorf("Expected first created session %s, got %s", first, got)
	}

	// Destroying the first promotes the next in creation order.
	r.DestroySession(first)
	got, _ = r.PickDefault()
	if got == first {
		t.Error("Destroyed session still returned as default")
	}
}

func TestTrackActionAndMetrics(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 5, 0)

	id, _ := r.CreateSession(context.Background(), "", driver.Options{})

	r.TrackAction(id, "click", "#go", true, 25*time.Millisecond)
	r.TrackAction("ghost", "click", "", true, time.Millisecond) // ignored

	rec, _ := r.GetSession(id)
	if got := rec.Perf().TotalActions; got != 1 {
		t.Errorf("Expected 1 tracked action, got %d", got)
	}

	m := r.Metrics()
	if m.TotalSessions != 1 || m.ActiveSessions != 1 {
		t.Errorf("Unexpected metrics: %+v", m)
	}
}

func TestIdleSessionExpires(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 3, 60*time.Millisecond)
	defer r.Shutdown()

	id, err := r.CreateSession(context.Background(), "", driver.Options{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for r.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Count() != 0 {
		t.Fatal("Idle session never swept")
	}
	if _, err := r.GetSession(id); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound after sweep, got %v", err)
	}
}

func TestTrackActionKeepsSessionAlive(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 3, 80*time.Millisecond)
	defer r.Shutdown()

	id, err := r.CreateSession(context.Background(), "", driver.Options{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Activity every 20ms stays well inside the 80ms idle window.
	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		r.TrackAction(id, "click", "#go", true, time.Millisecond)
	}

	if _, err := r.GetSession(id); err != nil {
		t.Fatalf("Active session was swept: %v", err)
	}
}

func TestRegistryShutdown(t *testing.T) {
	p := testPool()
	defer p.Shutdown()
	r := New(p, 5, 0)

	for i := 0; i < 3; i++ {
		_, _ = r.CreateSession(context.Background(), "", driver.Options{})
	}

	r.Shutdown()

	if r.Count() != 0 {
		t.Errorf("Expected empty registry after shutdown, got %d", r.Count())
	}
	// Records went back to the pool rather than being destroyed here.
	if snap := p.Snapshot(); snap.InUse != 0 {
		t.Errorf("Expected no in-use pool records, got %d", snap.InUse)
	}
}

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/browserctl/browserctl-go/internal/auth"
	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
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

type fixture struct {
	pool *pool.Pool
	reg  *registry.Registry
	disp *Dispatcher
}

func newFixture(t *testing.T, authCfg config.AuthConfig) *fixture {
	t.Helper()
	p := pool.New(pool.Config{
		MinSize:              0,
		MaxSize:              5,
		IdleTimeout:          time.Hour,
		MaxSessionAge:        time.Hour,
		HealthCheckInterval:  time.Hour,
		BorrowTimeout:        100 * time.Millisecond,
		MaxConsecutiveErrors: 2,
		MaxUseCount:          1000,
		DefaultKind:          "chromium",
	}, &stubFactory{})
	t.Cleanup(p.Shutdown)

	reg := registry.New(p, 10, 0)
	gate, err := auth.New(authCfg)
	if err != nil {
		t.Fatalf("auth.New failed: %v", err)
	}
	return &fixture{pool: p, reg: reg, disp: New(gate, reg, p)}
}

func okHandler(ctx context.Context, inv *Invocation) (interface{}, error) {
	return map[string]string{"ok": "yes"}, nil
}

func (fx *fixture) createSession(t *testing.T) string {
	t.Helper()
	id, err := fx.reg.CreateSession(context.Background(), "", driver.Options{})
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return id
}

func call(fx *fixture, tool string, args map[string]interface{}, sessionID string) types.Envelope {
	return fx.disp.Dispatch(context.Background(), types.ToolCallRequest{
		Tool:      tool,
		Arguments: args,
		SessionID: sessionID,
	}, types.CallAuth{SourceAddress: "127.0.0.1:1234"})
}

func TestUnknownTool(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})

	env := call(fx, "no_such_tool", nil, "")
	if env.Status != types.StatusError || env.Error.Code != types.CodeUnknownTool {
		t.Fatalf("Expected UNKNOWN_TOOL, got %+v", env)
	}
}

func TestSessionLessToolNeedsNoSession(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "list_sessions", Resource: "session", Action: "read",
		SessionLess: true, Handler: okHandler,
	})

	env := call(fx, "list_sessions", nil, "")
	if env.Status != types.StatusSuccess {
		t.Fatalf("Expected success, got %+v", env.Error)
	}
}

func TestUnknownParameterFails(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "click", Resource: "browser", Action: "click",
		Schema: Schema{Fields: map[string]Field{
			"selector": {Type: TypeString, Required: true, Selector: true},
		}},
		Handler: okHandler,
	})
	fx.createSession(t)

	env := call(fx, "click", map[string]interface{}{"selector": "#a", "bogus": 1}, "")
	if env.Error == nil || env.Error.Code != types.CodeValidation {
		t.Fatalf("Expected VALIDATION for unknown key, got %+v", env)
	}
	if env.Error.Field != "bogus" {
		t.Errorf("Expected field bogus, got %q", env.Error.Field)
	}
}

func TestURLSchemeFailsBeforeSessionBind(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "navigate", Resource: "browser", Action: "navigate",
		Schema: Schema{Fields: map[string]Field{
			"url": {Type: TypeString, Required: true, URL: true},
		}},
		Handler: okHandler,
	})
	// No session exists: a bind attempt would yield SESSION_NOT_FOUND.
	env := call(fx, "navigate", map[string]interface{}{"url": "file:///etc/passwd"}, "")
	if env.Error == nil || env.Error.Code != types.CodeValidation {
		t.Fatalf("Expected VALIDATION before session bind, got %+v", env)
	}
}

func TestDefaultSessionBinding(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	var boundID string
	fx.disp.Register(&Descriptor{
		Name: "probe_session", Resource: "browser", Action: "read",
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			boundID = inv.SessionID
			return nil, nil
		},
	})

	first := fx.createSession(t)
	fx.createSession(t)

	env := call(fx, "probe_session", nil, "")
	if env.Status != types.StatusSuccess {
		t.Fatalf("Expected success, got %+v", env.Error)
	}
	if boundID != first {
		t.Errorf("Expected default bind to first session %s, got %s", first, boundID)
	}
}

func TestNoDefaultSession(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "click", Resource: "browser", Action: "click", Handler: okHandler,
	})

	env := call(fx, "click", nil, "")
	if env.Error == nil || env.Error.Code != types.CodeSessionNotFound {
		t.Fatalf("Expected SESSION_NOT_FOUND with no sessions, got %+v", env)
	}
}

func TestExplicitSessionNotFound(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "click", Resource: "browser", Action: "click", Handler: okHandler,
	})

	env := call(fx, "click", nil, "11111111-2222-4333-8444-555555555555")
	if env.Error == nil || env.Error.Code != types.CodeSessionNotFound {
		t.Fatalf("Expected SESSION_NOT_FOUND, got %+v", env)
	}
}

func TestMalformedSessionIDRejected(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "click", Resource: "browser", Action: "click", Handler: okHandler,
	})

	for _, id := range []string{"short", "../../etc/passwd", "id with spaces and padding"} {
		env := call(fx, "click", nil, id)
		if env.Error == nil || env.Error.Code != types.CodeValidation {
			t.Errorf("Session id %q: expected VALIDATION, got %+v", id, env)
		}
	}
}

func TestPermissionDenied(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{
		Enabled:   true,
		Providers: []string{"api-key"},
		Roles: []config.RoleConfig{
			{Name: "tester", Permissions: []config.PermissionConfig{
				{Resource: "extraction", Action: "get*"},
				{Resource: "extraction", Action: "take*"},
			}},
		},
		APIKeys: []config.APIKeyEntry{
			{Key: "tester-key-0123456789", Identity: "tester", Roles: []string{"tester"}},
		},
	})

	for _, name := range []string{"get_element_text", "take_screenshot", "delete_anything"} {
		// The full tool name doubles as the action.
		fx.disp.Register(&Descriptor{
			Name: name, Resource: "extraction", Action: name,
			SessionLess: true, Handler: okHandler,
		})
	}

	authed := types.CallAuth{
		Headers:       map[string]string{"X-Api-Key": "tester-key-0123456789"},
		SourceAddress: "127.0.0.1:1",
	}

	for _, tc := range []struct {
		tool    string
		allowed bool
	}{
		{"get_element_text", true},
		{"take_screenshot", true},
		{"delete_anything", false},
	} {
		env := fx.disp.Dispatch(context.Background(), types.ToolCallRequest{Tool: tc.tool}, authed)
		if tc.allowed && env.Status != types.StatusSuccess {
			t.Errorf("%s should be allowed, got %+v", tc.tool, env.Error)
		}
		if !tc.allowed && (env.Error == nil || env.Error.Code != types.CodePermissionDenied) {
			t.Errorf("%s should be denied, got %+v", tc.tool, env)
		}
	}
}

func TestHandlerErrorTracked(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "flaky", Resource: "browser", Action: "flaky",
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			return nil, types.NewToolError(types.ErrElementNotFound, "nothing matched")
		},
	})
	id := fx.createSession(t)

	env := call(fx, "flaky", nil, id)
	if env.Error == nil || env.Error.Code != types.CodeElementNotFound {
		t.Fatalf("Expected ELEMENT_NOT_FOUND, got %+v", env)
	}

	rec, _ := fx.reg.GetSession(id)
	if rec.Perf().TotalActions != 1 || rec.Perf().SuccessfulActions != 0 {
		t.Errorf("Failure not tracked: %+v", rec.Perf())
	}
}

func TestErrorBudgetDestroysSession(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "broken", Resource: "browser", Action: "broken",
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			return nil, fmt.Errorf("driver hiccup")
		},
	})
	id := fx.createSession(t)

	// MaxConsecutiveErrors is 2; the third straight failure crosses it.
	for i := 0; i < 3; i++ {
		call(fx, "broken", nil, id)
	}

	if _, err := fx.reg.GetSession(id); err == nil {
		t.Error("Session should have been destroyed after crossing its error budget")
	}
}

func TestTransportLostDestroysSession(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "vanish", Resource: "browser", Action: "vanish",
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			return nil, types.NewToolError(types.ErrTransportLost, "connection reset")
		},
	})
	id := fx.createSession(t)

	env := call(fx, "vanish", nil, id)
	if env.Error == nil || env.Error.Code != types.CodeTransportLost {
		t.Fatalf("Expected TRANSPORT_LOST, got %+v", env)
	}
	if _, err := fx.reg.GetSession(id); err == nil {
		t.Error("Session should be destroyed after transport loss")
	}
}

func TestSessionCallsSerialized(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	var inFlight, maxSeen atomic.Int64
	fx.disp.Register(&Descriptor{
		Name: "busy", Resource: "browser", Action: "busy",
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		},
	})
	id := fx.createSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if env := call(fx, "busy", nil, id); env.Status != types.StatusSuccess {
				t.Errorf("Serialized call failed: %+v", env.Error)
			}
		}()
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("Handlers on one session ran %d-wide, want strictly serial", got)
	}
}

func TestBusySessionRespectsCallerDeadline(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	release := make(chan struct{})
	started := make(chan struct{})
	fx.disp.Register(&Descriptor{
		Name: "hold", Resource: "browser", Action: "hold",
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		},
	})
	id := fx.createSession(t)

	go call(fx, "hold", nil, id)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	env := fx.disp.Dispatch(ctx, types.ToolCallRequest{Tool: "hold", SessionID: id},
		types.CallAuth{SourceAddress: "127.0.0.1:1"})
	close(release)

	if env.Error == nil || env.Error.Code != types.CodeTimeout {
		t.Fatalf("Expected TIMEOUT while session busy, got %+v", env)
	}
}

func TestDrainRefusesNewIntake(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	fx.disp.Register(&Descriptor{
		Name: "noop", Resource: "browser", Action: "noop",
		SessionLess: true, Handler: okHandler,
	})

	if !fx.disp.Drain(time.Second) {
		t.Fatal("Drain with nothing in flight should complete")
	}

	env := call(fx, "noop", nil, "")
	if env.Error == nil || env.Error.Code != types.CodePoolClosed {
		t.Fatalf("Expected POOL_CLOSED after drain, got %+v", env)
	}
}

func TestDrainWaitsForInflight(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	release := make(chan struct{})
	started := make(chan struct{})
	fx.disp.Register(&Descriptor{
		Name: "slow", Resource: "browser", Action: "slow",
		SessionLess: true,
		Handler: func(ctx context.Context, inv *Invocation) (interface{}, error) {
			close(started)
			<-release
			return "done", nil
		},
	})

	result := make(chan types.Envelope, 1)
	go func() { result <- call(fx, "slow", nil, "") }()
	<-started

	drained := make(chan bool, 1)
	go func() { drained <- fx.disp.Drain(2 * time.Second) }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	if !<-drained {
		t.Fatal("Drain should succeed once the in-flight call finishes")
	}
	env := <-result
	if env.Status != types.StatusSuccess {
		t.Errorf("In-flight call should complete normally, got %+v", env.Error)
	}
}

func TestDescriptorsSorted(t *testing.T) {
	fx := newFixture(t, config.AuthConfig{})
	for _, name := range []string{"zeta", "alpha", "mid"} {
		fx.disp.Register(&Descriptor{Name: name, Resource: "r", Action: "a", SessionLess: true, Handler: okHandler})
	}
	descs := fx.disp.Descriptors()
	if descs[0].Name != "alpha" || descs[2].Name != "zeta" {
		t.Errorf("Descriptors not sorted: %v, %v, %v", descs[0].Name, descs[1].Name, descs[2].Name)
	}
}

//go:build integration

// Package integration drives the full stack against a real browser.
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/browserctl/browserctl-go/internal/auth"
	"github.com/browserctl/browserctl-go/internal/capture"
	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
	"github.com/browserctl/browserctl-go/internal/tools"
	"github.com/browserctl/browserctl-go/internal/types"
)

var (
	testDispatcher *dispatch.Dispatcher
	testPool       *pool.Pool
	testRegistry   *registry.Registry
)

func TestMain(m *testing.M) {
	cfg := config.Defaults()
	cfg.Headless = true
	cfg.PoolMaxSize = 2
	cfg.MaxConcurrentSessions = 4

	dir, err := os.MkdirTemp("", "browserctl-integration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)
	cfg.ArtifactDir = dir

	factory := driver.NewRodFactory(cfg)
	testPool = pool.New(pool.Config{
		MaxSize:       cfg.PoolMaxSize,
		BorrowTimeout: cfg.BorrowTimeout,
		DefaultKind:   cfg.BrowserKind,
		DefaultOptions: driver.Options{
			Headless: cfg.Headless,
		},
	}, factory)

	testRegistry = registry.New(testPool, cfg.MaxConcurrentSessions, cfg.SessionTimeout)

	gate, err := auth.New(config.AuthConfig{Enabled: false})
	if err != nil {
		fmt.Fprintf(os.Stderr, "auth: %v\n", err)
		os.Exit(1)
	}

	store, err := capture.NewArtifactStore(cfg.ArtifactDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "artifact store: %v\n", err)
		os.Exit(1)
	}

	testDispatcher = dispatch.New(gate, testRegistry, testPool)
	tools.RegisterAll(testDispatcher, tools.Deps{
		Registry: testRegistry,
		Pool:     testPool,
		Capture:  capture.NewManager(),
		Store:    store,
		Version:  "integration",
	})

	code := m.Run()

	testRegistry.Shutdown()
	testPool.Shutdown()
	os.Exit(code)
}

func call(t *testing.T, tool string, args map[string]interface{}, sessionID string) types.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	return testDispatcher.Dispatch(ctx, types.ToolCallRequest{
		Tool:      tool,
		Arguments: args,
		SessionID: sessionID,
	}, types.CallAuth{SourceAddress: "127.0.0.1:1", SecureTransport: true})
}

func mustData(t *testing.T, env types.Envelope) map[string]interface{} {
	t.Helper()
	if env.Status != types.StatusSuccess {
		t.Fatalf("call failed: %+v", env.Error)
	}
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data shape: %T", env.Data)
	}
	return data
}

func TestSessionLifecycle(t *testing.T) {
	data := mustData(t, call(t, "create_session", nil, ""))
	sessionID, _ := data["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("create_session returned no id")
	}
	defer call(t, "close_session", nil, sessionID)

	list := mustData(t, call(t, "list_sessions", nil, ""))
	sessions, ok := list["sessions"].([]types.SessionSummary)
	if !ok || len(sessions) == 0 {
		t.Errorf("list_sessions = %#v, want at least one session", list["sessions"])
	}
}

func TestNavigateAndReadBack(t *testing.T) {
	data := mustData(t, call(t, "create_session", nil, ""))
	sessionID := data["sessionId"].(string)
	defer call(t, "close_session", nil, sessionID)

	nav := mustData(t, call(t, "navigate", map[string]interface{}{
		"url": "data:text/html,<title>landing</title><h1 id=\"x\">hello</h1>",
	}, sessionID))
	if nav["title"] != "landing" {
		t.Errorf("title = %v, want landing", nav["title"])
	}

	text := mustData(t, call(t, "get_element_text", map[string]interface{}{
		"selector": "#x",
	}, sessionID))
	if text["text"] != "hello" {
		t.Errorf("text = %v, want hello", text["text"])
	}
}

func TestEvaluateExpression(t *testing.T) {
	data := mustData(t, call(t, "create_session", nil, ""))
	sessionID := data["sessionId"].(string)
	defer call(t, "close_session", nil, sessionID)

	res := mustData(t, call(t, "evaluate", map[string]interface{}{
		"expression": "6 * 7",
	}, sessionID))
	if fmt.Sprintf("%v", res["value"]) != "42" {
		t.Errorf("value = %v, want 42", res["value"])
	}
}

func TestOpenWindowReportsAppliedRect(t *testing.T) {
	data := mustData(t, call(t, "create_session", nil, ""))
	sessionID := data["sessionId"].(string)
	defer call(t, "close_session", nil, sessionID)

	res := mustData(t, call(t, "open_window", map[string]interface{}{
		"url":    "about:blank",
		"width":  float64(640),
		"height": float64(480),
	}, sessionID))
	if res["windowId"] == "" {
		t.Fatal("open_window returned no window id")
	}
	// The window manager may clamp the rect; what matters is that the
	// response carries the rect actually in effect.
	if res["applied"] == nil {
		t.Error("open_window with a rect did not report the applied bounds")
	}
}

func TestIdempotentClose(t *testing.T) {
	data := mustData(t, call(t, "create_session", nil, ""))
	sessionID := data["sessionId"].(string)

	mustData(t, call(t, "close_session", nil, sessionID))

	// Second close lands on an unknown session.
	env := call(t, "close_session", nil, sessionID)
	if env.Error == nil || env.Error.Code != types.CodeSessionNotFound {
		t.Errorf("second close = %+v, want SESSION_NOT_FOUND", env)
	}
}

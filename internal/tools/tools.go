// Package tools declares one dispatcher descriptor per recognized tool and
// implements the handlers on top of the rod capability set. Handlers are
// thin: find, act, shape the result. Injected browser-side snippets live in
// scripts.go as named constants.
package tools

import (
	"sync"

	"github.com/browserctl/browserctl-go/internal/capture"
	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
	"github.com/browserctl/browserctl-go/internal/stats"
)

// Default per-call deadlines. Script execution gets the long one, dialog
// handling the short one.
const (
	defaultActionTimeout = 30 * 1000 // milliseconds, exposed in schemas
	dialogTimeoutMs      = 10 * 1000
)

// Deps carries everything the handlers reach for. Stats is optional; a nil
// manager disables per-host tracking.
type Deps struct {
	Registry *registry.Registry
	Pool     *pool.Pool
	Capture  *capture.Manager
	Store    *capture.ArtifactStore
	Stats    *stats.Manager
	Version  string
}

// toolset holds the per-session state the handlers maintain across calls:
// the frame stack for frame switching.
type toolset struct {
	deps Deps

	mu     sync.Mutex
	frames map[string][]string // session id -> stack of iframe selectors
}

// RegisterAll wires every tool descriptor into the dispatcher.
func RegisterAll(d *dispatch.Dispatcher, deps Deps) {
	ts := &toolset{
		deps:   deps,
		frames: make(map[string][]string),
	}

	ts.registerSession(d)
	ts.registerNavigation(d)
	ts.registerDOM(d)
	ts.registerExtraction(d)
	ts.registerConditions(d)
	ts.registerScript(d)
	ts.registerDialogs(d)
	ts.registerWindows(d)
	ts.registerFrames(d)
	ts.registerNetwork(d)
	ts.registerPerformance(d)
	ts.registerStorage(d)
	ts.registerMedia(d)
}

// frameStack returns a copy of the session's current frame path.
func (ts *toolset) frameStack(sessionID string) []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	stack := ts.frames[sessionID]
	out := make([]string, len(stack))
	copy(out, stack)
	return out
}

func (ts *toolset) pushFrame(sessionID, selector string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.frames[sessionID] = append(ts.frames[sessionID], selector)
}

// popFrame removes the innermost frame; returns false at the top.
func (ts *toolset) popFrame(sessionID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	stack := ts.frames[sessionID]
	if len(stack) == 0 {
		return false
	}
	ts.frames[sessionID] = stack[:len(stack)-1]
	return true
}

func (ts *toolset) resetFrames(sessionID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.frames, sessionID)
}

package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

func invWith(params map[string]interface{}) *dispatch.Invocation {
	return &dispatch.Invocation{Params: params}
}

func TestParamExtractors(t *testing.T) {
	inv := invWith(map[string]interface{}{
		"s":    "hello",
		"b":    true,
		"f":    2.5,
		"iF64": float64(42), // JSON numbers arrive as float64
		"iInt": 7,
	})

	if got := strParam(inv, "s", "def"); got != "hello" {
		t.Errorf("strParam = %q, want hello", got)
	}
	if got := strParam(inv, "missing", "def"); got != "def" {
		t.Errorf("strParam default = %q, want def", got)
	}
	if !boolParam(inv, "b", false) {
		t.Error("boolParam = false, want true")
	}
	if boolParam(inv, "missing", false) {
		t.Error("boolParam default = true, want false")
	}
	if got := intParam(inv, "iF64", 0); got != 42 {
		t.Errorf("intParam from float64 = %d, want 42", got)
	}
	if got := intParam(inv, "iInt", 0); got != 7 {
		t.Errorf("intParam from int = %d, want 7", got)
	}
	if got := intParam(inv, "missing", 9); got != 9 {
		t.Errorf("intParam default = %d, want 9", got)
	}
	if got := floatParam(inv, "f", 0); got != 2.5 {
		t.Errorf("floatParam = %v, want 2.5", got)
	}
}

func TestTimeoutParam(t *testing.T) {
	inv := invWith(map[string]interface{}{"timeoutMs": float64(1500)})
	if got := timeoutParam(inv, 30000); got != 1500*time.Millisecond {
		t.Errorf("timeoutParam = %v, want 1.5s", got)
	}

	empty := invWith(map[string]interface{}{})
	if got := timeoutParam(empty, 30000); got != 30*time.Second {
		t.Errorf("timeoutParam default = %v, want 30s", got)
	}
}

func TestIsStale(t *testing.T) {
	stale := []error{
		errors.New("Cannot find context with specified id"),
		errors.New("Could not find node with given id"),
		errors.New("element is stale"),
	}
	for _, err := range stale {
		if !isStale(err) {
			t.Errorf("isStale(%v) = false, want true", err)
		}
	}
	if isStale(nil) {
		t.Error("isStale(nil) = true")
	}
	if isStale(errors.New("some other failure")) {
		t.Error("isStale classified an unrelated error")
	}
}

func TestIsTransportLost(t *testing.T) {
	lost := []error{
		errors.New("websocket: close 1006"),
		errors.New("read tcp: connection reset by peer"),
		errors.New("write: broken pipe"),
		errors.New("use of closed network connection"),
		errors.New("target closed"),
	}
	for _, err := range lost {
		if !isTransportLost(err) {
			t.Errorf("isTransportLost(%v) = false, want true", err)
		}
	}
	if isTransportLost(errors.New("element not visible")) {
		t.Error("isTransportLost classified an unrelated error")
	}
}

func TestMapDriverErrClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"transport", errors.New("websocket: bad handshake"), types.CodeTransportLost},
		{"deadline", context.DeadlineExceeded, types.CodeTimeout},
		{"wrapped deadline", fmt.Errorf("eval: %w", context.DeadlineExceeded), types.CodeTimeout},
		{"stale", errors.New("Cannot find context with specified id"), types.CodeStaleElement},
		{"not interactable", errors.New("element not interactable"), types.CodeNotInteractable},
		{"zero size", errors.New("element has zero size"), types.CodeNotInteractable},
		{"unclassified", errors.New("something odd"), types.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var te *types.ToolError
			if !errors.As(mapDriverErr(tc.err, "#x"), &te) {
				t.Fatal("mapDriverErr did not return a ToolError")
			}
			if te.Code != tc.code {
				t.Errorf("code = %s, want %s", te.Code, tc.code)
			}
		})
	}

	if mapDriverErr(nil, "") != nil {
		t.Error("mapDriverErr(nil) != nil")
	}
}

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"https://sub.example.test/path?q=1": "sub.example.test",
		"http://host:8080/":                 "host:8080",
		"not a url":                         "unknown",
		"":                                  "unknown",
	}
	for raw, want := range cases {
		if got := hostOf(raw); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestFrameStack(t *testing.T) {
	ts := &toolset{frames: make(map[string][]string)}

	if depth := len(ts.frameStack("s1")); depth != 0 {
		t.Fatalf("fresh stack depth = %d, want 0", depth)
	}
	if ts.popFrame("s1") {
		t.Error("popFrame on empty stack = true, want false")
	}

	ts.pushFrame("s1", "#outer")
	ts.pushFrame("s1", "#inner")
	ts.pushFrame("s2", "#other")

	got := ts.frameStack("s1")
	if len(got) != 2 || got[0] != "#outer" || got[1] != "#inner" {
		t.Errorf("frameStack = %v, want [#outer #inner]", got)
	}

	if !ts.popFrame("s1") {
		t.Error("popFrame = false, want true")
	}
	if got := ts.frameStack("s1"); len(got) != 1 || got[0] != "#outer" {
		t.Errorf("after pop = %v, want [#outer]", got)
	}

	// Sessions are isolated.
	if got := ts.frameStack("s2"); len(got) != 1 || got[0] != "#other" {
		t.Errorf("s2 stack = %v, want [#other]", got)
	}

	ts.resetFrames("s1")
	if depth := len(ts.frameStack("s1")); depth != 0 {
		t.Errorf("depth after reset = %d, want 0", depth)
	}
	// Mutating the returned copy must not touch the stack.
	s2 := ts.frameStack("s2")
	s2[0] = "mutated"
	if got := ts.frameStack("s2"); got[0] != "#other" {
		t.Error("frameStack returned a live reference, want a copy")
	}
}

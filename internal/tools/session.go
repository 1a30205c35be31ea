package tools

import (
	"context"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/types"
)

func (ts *toolset) registerSession(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "create_session",
		Resource:    "session",
		Action:      "create",
		Description: "Create a new named browser session",
		SessionLess: true,
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"browserKind":  {Type: dispatch.TypeString, Enum: []string{"chromium", "firefox"}},
			"headless":     {Type: dispatch.TypeBool},
			"userAgent":    {Type: dispatch.TypeString, MaxLen: 512},
			"windowWidth":  {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(7680)},
			"windowHeight": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(4320)},
			"stealth":      {Type: dispatch.TypeBool},
		}},
		Handler: ts.createSession,
	})

	d.Register(&dispatch.Descriptor{
		Name:        "close_session",
		Resource:    "session",
		Action:      "destroy",
		Description: "Destroy a named session and release its browser",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			ts.deps.Capture.Drop(inv.SessionID)
			ts.resetFrames(inv.SessionID)
			ts.deps.Registry.DestroySession(inv.SessionID)
			return map[string]interface{}{"closed": inv.SessionID}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "list_sessions",
		Resource:    "session",
		Action:      "read",
		Description: "List every named session",
		SessionLess: true,
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			return map[string]interface{}{
				"sessions": ts.deps.Registry.List(),
				"metrics":  ts.deps.Registry.Metrics(),
			}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_session_info",
		Resource:    "session",
		Action:      "read",
		Description: "Describe one session: lifecycle, action history, performance",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			rec := inv.Session
			return map[string]interface{}{
				"id":                rec.ID,
				"browserKind":       rec.Kind(),
				"createdAt":         rec.CreatedAt().UnixMilli(),
				"lastUsedAt":        rec.LastUsedAt().UnixMilli(),
				"useCount":          rec.UseCount(),
				"consecutiveErrors": rec.ConsecutiveErrors(),
				"history":           rec.History(),
				"performance":       rec.Perf(),
			}, nil
		},
	})
}

func (ts *toolset) createSession(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
	kind := strParam(inv, "browserKind", "")
	opts := driver.Options{
		Headless:  boolParam(inv, "headless", true),
		UserAgent: strParam(inv, "userAgent", ""),
		Stealth:   boolParam(inv, "stealth", false),
	}
	if w, h := intParam(inv, "windowWidth", 0), intParam(inv, "windowHeight", 0); w > 0 && h > 0 {
		opts.WindowSize = &driver.WindowSize{W: w, H: h}
	}

	id, err := ts.deps.Registry.CreateSession(ctx, kind, opts)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"sessionId": id}, nil
}

// sessionSummaryOf is shared by transports that report on a record directly.
func sessionSummaryOf(rec *pool.Record) types.SessionSummary {
	return types.SessionSummary{
		ID:          rec.ID,
		BrowserKind: rec.Kind(),
		CreatedAt:   rec.CreatedAt().UnixMilli(),
		LastUsedAt:  rec.LastUsedAt().UnixMilli(),
		UseCount:    rec.UseCount(),
		InUse:       rec.InUse(),
	}
}

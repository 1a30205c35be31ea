package tools

import (
	"context"
	"encoding/json"

	"github.com/browserctl/browserctl-go/internal/capture"
	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

func (ts *toolset) registerNetwork(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "network_capture_start",
		Resource:    "network",
		Action:      "capture",
		Description: "Begin recording network traffic on the session's page",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			if err := ts.deps.Capture.Start(inv.SessionID, page); err != nil {
				return nil, types.NewToolError(err, err.Error()).
					WithHint("stop the running capture with network_capture_stop first")
			}
			return map[string]interface{}{"capturing": true}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "network_capture_stop",
		Resource:    "network",
		Action:      "capture",
		Description: "Stop the capture and write the recorded traffic as a HAR report",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"save": {Type: dispatch.TypeBool},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			requests := ts.deps.Capture.Stop(inv.SessionID)

			out := map[string]interface{}{
				"requests": requests,
				"count":    len(requests),
			}
			if boolParam(inv, "save", true) && len(requests) > 0 {
				har := capture.BuildHAR(requests, ts.deps.Version)
				data, err := json.MarshalIndent(har, "", "  ")
				if err != nil {
					return nil, types.NewToolError(err, "failed to serialize HAR")
				}
				host := "unknown"
				if page, err := inv.Session.Page(); err == nil {
					host = pageHost(page)
				}
				path, err := ts.deps.Store.WriteReport(host, ".har", data)
				if err != nil {
					return nil, types.NewToolError(err, err.Error())
				}
				out["harPath"] = path
			}
			return out, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "network_block",
		Resource:    "network",
		Action:      "block",
		Description: "Block requests matching URL patterns during a running capture",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"patterns": {Type: dispatch.TypeArray, Required: true},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			raw, _ := inv.Params["patterns"].([]interface{})
			patterns := make([]string, 0, len(raw))
			for _, p := range raw {
				if s, ok := p.(string); ok && s != "" {
					patterns = append(patterns, s)
				}
			}
			if len(patterns) == 0 {
				return nil, types.NewValidationError("patterns", "", "at least one non-empty pattern is required")
			}
			if err := ts.deps.Capture.Block(inv.SessionID, patterns); err != nil {
				return nil, types.NewToolError(err, err.Error()).
					WithHint("start a capture with network_capture_start before blocking")
			}
			return map[string]interface{}{"blocked": patterns}, nil
		},
	})
}

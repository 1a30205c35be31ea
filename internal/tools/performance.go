package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Profile sampling bounds. The sample interval is fixed; callers choose only
// the overall duration.
const (
	profileSampleInterval = 500 * time.Millisecond
	maxProfileDurationMs  = 60000
)

func (ts *toolset) registerPerformance(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "performance_metrics",
		Resource:    "performance",
		Action:      "read",
		Description: "Read the browser's current performance counters",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			if err := (proto.PerformanceEnable{}).Call(page); err != nil {
				return nil, mapDriverErr(err, "")
			}
			res, err := proto.PerformanceGetMetrics{}.Call(page)
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			metrics := make(map[string]float64, len(res.Metrics))
			for _, m := range res.Metrics {
				metrics[m.Name] = m.Value
			}
			return map[string]interface{}{"metrics": metrics}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "performance_profile",
		Resource:    "performance",
		Action:      "profile",
		Description: "Sample page performance over a duration and report the series",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"durationMs": {Type: dispatch.TypeInt, Min: fptr(500), Max: fptr(maxProfileDurationMs)},
			"save":       {Type: dispatch.TypeBool},
		}},
		Handler: ts.performanceProfile,
	})

	d.Register(&dispatch.Descriptor{
		Name:        "render_analysis",
		Resource:    "performance",
		Action:      "read",
		Description: "Summarize paint timing, DOM size, and layout shift for the page",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			res, err := page.Eval(scriptRenderAnalysis)
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return res.Value.Val(), nil
		},
	})
}

// performanceProfile takes repeated point-in-time samples until the duration
// elapses or the call context ends, whichever comes first.
func (ts *toolset) performanceProfile(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
	page, err := ts.sessionPage(inv)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(intParam(inv, "durationMs", 5000)) * time.Millisecond
	deadline := time.Now().Add(duration)

	var samples []interface{}
	ticker := time.NewTicker(profileSampleInterval)
	defer ticker.Stop()

	for {
		res, err := page.Eval(scriptPerformanceSample)
		if err != nil {
			return nil, mapDriverErr(err, "")
		}
		samples = append(samples, res.Value.Val())

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, mapDriverErr(ctx.Err(), "")
		}
	}

	out := map[string]interface{}{
		"samples":    samples,
		"durationMs": duration.Milliseconds(),
		"intervalMs": profileSampleInterval.Milliseconds(),
	}
	if boolParam(inv, "save", false) {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, types.NewToolError(err, "failed to serialize profile")
		}
		path, err := ts.deps.Store.WriteReport(pageHost(page), ".json", data)
		if err != nil {
			return nil, types.NewToolError(err, err.Error())
		}
		out["reportPath"] = path
	}
	return out, nil
}

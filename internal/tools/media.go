package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

// monitorInterval separates the two samples monitor_media compares.
const monitorInterval = 1500 * time.Millisecond

func (ts *toolset) registerMedia(d *dispatch.Dispatcher) {
	indexField := dispatch.Field{Type: dispatch.TypeInt, Min: fptr(0), Max: fptr(999)}

	d.Register(&dispatch.Descriptor{
		Name:        "detect_media",
		Resource:    "media",
		Action:      "read",
		Description: "Find every audio and video element on the page",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			res, err := page.Eval(scriptMediaDetect)
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"media": res.Value.Val()}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_media_state",
		Resource:    "media",
		Action:      "read",
		Description: "Read playback state for one media element by index",
		Schema:      dispatch.Schema{Fields: map[string]dispatch.Field{"index": indexField}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			state, err := mediaState(page, intParam(inv, "index", 0))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"state": state}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "control_media",
		Resource:    "media",
		Action:      "control",
		Description: "Drive one media element: play, pause, mute, seek, or set volume",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"index":  indexField,
			"action": {Type: dispatch.TypeString, Required: true, Enum: []string{"play", "pause", "mute", "unmute", "seek", "volume"}},
			"value":  {Type: dispatch.TypeNumber, Min: fptr(0)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			index := intParam(inv, "index", 0)
			action := strParam(inv, "action", "")

			res, err := page.Eval(scriptMediaControl, index, action, floatParam(inv, "value", 0))
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			if !res.Value.Bool() {
				return nil, mediaNotFound(index)
			}
			state, err := mediaState(page, index)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"action": action, "state": state}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "check_media_playback",
		Resource:    "media",
		Action:      "read",
		Description: "Report whether one media element is actively playing",
		Schema:      dispatch.Schema{Fields: map[string]dispatch.Field{"index": indexField}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			state, err := mediaState(page, intParam(inv, "index", 0))
			if err != nil {
				return nil, err
			}
			paused, _ := state["paused"].(bool)
			ended, _ := state["ended"].(bool)
			playing := !paused && !ended
			return map[string]interface{}{"playing": playing, "state": state}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "monitor_media",
		Resource:    "media",
		Action:      "read",
		Description: "Sample a media element twice and report whether playback advanced",
		Schema:      dispatch.Schema{Fields: map[string]dispatch.Field{"index": indexField}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			index := intParam(inv, "index", 0)

			first, err := mediaState(page, index)
			if err != nil {
				return nil, err
			}
			select {
			case <-time.After(monitorInterval):
			case <-ctx.Done():
				return nil, mapDriverErr(ctx.Err(), "")
			}
			second, err := mediaState(page, index)
			if err != nil {
				return nil, err
			}

			before, _ := first["currentTime"].(float64)
			after, _ := second["currentTime"].(float64)
			return map[string]interface{}{
				"advancing":  after > before,
				"deltaSec":   after - before,
				"intervalMs": monitorInterval.Milliseconds(),
				"before":     first,
				"after":      second,
			}, nil
		},
	})
}

// mediaState reads one element's playback state; a missing index maps to
// ELEMENT_NOT_FOUND.
func mediaState(page *rod.Page, index int) (map[string]interface{}, error) {
	res, err := page.Eval(scriptMediaState, index)
	if err != nil {
		return nil, mapDriverErr(err, "")
	}
	state, ok := res.Value.Val().(map[string]interface{})
	if !ok || state == nil {
		return nil, mediaNotFound(index)
	}
	return state, nil
}

func mediaNotFound(index int) error {
	return types.NewToolError(
		fmt.Errorf("%w: media element %d", types.ErrElementNotFound, index),
		fmt.Sprintf("no media element at index %d", index),
	).WithHint("detect_media lists valid indexes")
}

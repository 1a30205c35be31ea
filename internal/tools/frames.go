package tools

import (
	"context"
	"fmt"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

func (ts *toolset) registerFrames(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "list_frames",
		Resource:    "frame",
		Action:      "read",
		Description: "List the iframes in the current frame context",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			iframes, err := page.Elements("iframe")
			if err != nil {
				return nil, mapDriverErr(err, "iframe")
			}

			frames := make([]map[string]interface{}, 0, len(iframes))
			for i, el := range iframes {
				entry := map[string]interface{}{"index": i}
				if src, err := el.Attribute("src"); err == nil && src != nil {
					entry["src"] = *src
				}
				if name, err := el.Attribute("name"); err == nil && name != nil {
					entry["name"] = *name
				}
				frames = append(frames, entry)
			}
			return map[string]interface{}{
				"frames": frames,
				"depth":  len(ts.frameStack(inv.SessionID)),
			}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "switch_frame",
		Resource:    "frame",
		Action:      "switch",
		Description: "Enter an iframe by selector; later calls run inside it",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			selector := strParam(inv, "selector", "")
			el, err := findElement(page, selector, timeoutParam(inv, defaultActionTimeout))
			if err != nil {
				return nil, err
			}
			// Prove the element hosts a frame before committing to the stack.
			if _, err := el.Frame(); err != nil {
				return nil, types.NewToolError(
					fmt.Errorf("%w: %s", types.ErrElementNotFound, selector),
					fmt.Sprintf("element %q is not a frame", selector),
				).WithHint("switch_frame needs an iframe or frame element")
			}
			ts.pushFrame(inv.SessionID, selector)
			return map[string]interface{}{
				"depth": len(ts.frameStack(inv.SessionID)),
			}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "switch_to_parent",
		Resource:    "frame",
		Action:      "switch",
		Description: "Leave the current frame and return to its parent",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			// Popping at the top is a no-op, matching driver semantics.
			popped := ts.popFrame(inv.SessionID)
			return map[string]interface{}{
				"popped": popped,
				"depth":  len(ts.frameStack(inv.SessionID)),
			}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "execute_in_frame",
		Resource:    "frame",
		Action:      "execute",
		Description: "Run a script inside an iframe without changing the frame context",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"script":    {Type: dispatch.TypeString, Required: true, MaxLen: 65536},
			"args":      {Type: dispatch.TypeArray},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			selector := strParam(inv, "selector", "")
			timeout := timeoutParam(inv, defaultActionTimeout)

			el, err := findElement(page, selector, timeout)
			if err != nil {
				return nil, err
			}
			frame, err := el.Frame()
			if err != nil {
				return nil, mapDriverErr(err, selector)
			}

			args, _ := inv.Params["args"].([]interface{})
			res, err := frame.Timeout(timeout).Eval(strParam(inv, "script", ""), args...)
			if err != nil {
				return nil, mapDriverErr(err, selector)
			}
			return map[string]interface{}{"value": res.Value.Val()}, nil
		},
	})
}

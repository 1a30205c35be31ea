package tools

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserctl/browserctl-go/internal/dispatch"
)

func (ts *toolset) registerDOM(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "click",
		Resource:    "browser",
		Action:      "click",
		Description: "Click the first element matching a selector",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			if err := el.ScrollIntoView(); err != nil {
				return nil, err
			}
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return nil, err
			}
			return map[string]interface{}{"clicked": true}, nil
		}),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "type",
		Resource:    "browser",
		Action:      "type",
		Description: "Type text into the first element matching a selector",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"text":      {Type: dispatch.TypeString, Required: true},
			"clear":     {Type: dispatch.TypeBool},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			if boolParam(inv, "clear", false) {
				if err := el.SelectAllText(); err != nil {
					return nil, err
				}
			}
			text := strParam(inv, "text", "")
			if err := el.Input(text); err != nil {
				return nil, err
			}
			return map[string]interface{}{"typed": len(text)}, nil
		}),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "select",
		Resource:    "browser",
		Action:      "select",
		Description: "Select an option in a select element by visible text",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"value":     {Type: dispatch.TypeString, Required: true, MaxLen: 1024},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			value := strParam(inv, "value", "")
			if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
				return nil, err
			}
			return map[string]interface{}{"selected": value}, nil
		}),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "hover",
		Resource:    "browser",
		Action:      "hover",
		Description: "Move the pointer over the first element matching a selector",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			if err := el.Hover(); err != nil {
				return nil, err
			}
			return map[string]interface{}{"hovered": true}, nil
		}),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "scroll",
		Resource:    "browser",
		Action:      "scroll",
		Description: "Scroll the page by a delta or to an absolute position",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"x":        {Type: dispatch.TypeNumber},
			"y":        {Type: dispatch.TypeNumber},
			"absolute": {Type: dispatch.TypeBool},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			x, y := floatParam(inv, "x", 0), floatParam(inv, "y", 0)
			script := scriptScrollBy
			if boolParam(inv, "absolute", false) {
				script = scriptScrollTo
			}
			res, err := page.Eval(script, x, y)
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			newX := res.Value.Get("x").Num()
			newY := res.Value.Get("y").Num()
			inv.Session.RememberScroll(newX, newY)
			return map[string]interface{}{"x": newX, "y": newY}, nil
		},
	})
}

// elementAction wraps find-then-act handlers: resolve the page and element,
// run the action, remember the element, map driver errors. The find retries
// stale references; the action itself never retries.
func (ts *toolset) elementAction(act func(*rod.Element, *dispatch.Invocation) (interface{}, error)) dispatch.Handler {
	return func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
		page, err := ts.sessionPage(inv)
		if err != nil {
			return nil, err
		}
		selector := strParam(inv, "selector", "")
		el, err := findElement(page, selector, timeoutParam(inv, defaultActionTimeout))
		if err != nil {
			return nil, err
		}

		result, err := act(el, inv)
		if err != nil {
			return nil, mapDriverErr(err, selector)
		}
		inv.Session.RememberActiveElement(selector)
		return result, nil
	}
}

package tools

import (
	"context"

	"github.com/browserctl/browserctl-go/internal/dispatch"
)

func (ts *toolset) registerConditions(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "wait_for_element",
		Resource:    "browser",
		Action:      "read",
		Description: "Block until an element matching the selector appears",
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
			if _, err := findElement(page, selector, timeoutParam(inv, defaultActionTimeout)); err != nil {
				return nil, err
			}
			return map[string]interface{}{"found": true, "selector": selector}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "element_exists",
		Resource:    "browser",
		Action:      "read",
		Description: "Report whether an element matching the selector exists right now",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector": {Type: dispatch.TypeString, Required: true, Selector: true},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			selector := strParam(inv, "selector", "")
			has, _, err := page.Has(selector)
			if err != nil {
				return nil, mapDriverErr(err, selector)
			}
			return map[string]interface{}{"exists": has}, nil
		},
	})
}

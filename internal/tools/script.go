package tools

import (
	"context"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

func (ts *toolset) registerScript(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "evaluate",
		Resource:    "script",
		Action:      "evaluate",
		Description: "Evaluate a JavaScript expression and return its value",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"expression": {Type: dispatch.TypeString, Required: true, MaxLen: 65536},
			"timeoutMs":  {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			timeout := timeoutParam(inv, defaultActionTimeout)
			// Wrap the bare expression so callers write "1 + 1", not a closure.
			res, err := page.Timeout(timeout).Eval(`(expr) => eval(expr)`, strParam(inv, "expression", ""))
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"value": res.Value.Val()}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "execute_script",
		Resource:    "script",
		Action:      "execute",
		Description: "Run a JavaScript function body with optional arguments",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"script":    {Type: dispatch.TypeString, Required: true, MaxLen: 65536},
			"args":      {Type: dispatch.TypeArray},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			script := strParam(inv, "script", "")
			args, _ := inv.Params["args"].([]interface{})
			timeout := timeoutParam(inv, defaultActionTimeout)

			res, err := page.Timeout(timeout).Eval(script, args...)
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"value": res.Value.Val()}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "inject_script_tag",
		Resource:    "script",
		Action:      "inject",
		Description: "Append a script tag by URL or inline content",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"url":       {Type: dispatch.TypeString, URL: true, MaxLen: 4096},
			"content":   {Type: dispatch.TypeString, MaxLen: 262144},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			src := strParam(inv, "url", "")
			content := strParam(inv, "content", "")
			if src == "" && content == "" {
				return nil, types.NewValidationError("url", "", "either url or content is required")
			}

			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			if _, err := page.Timeout(timeoutParam(inv, defaultActionTimeout)).Eval(scriptInjectTag, src, content); err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"injected": true}, nil
		},
	})
}

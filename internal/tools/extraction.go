package tools

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserctl/browserctl-go/internal/dispatch"
)

func (ts *toolset) registerExtraction(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "get_page_content",
		Resource:    "extraction",
		Action:      "get_page_content",
		Description: "Return the page's rendered HTML, optionally cached to disk",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"save": {Type: dispatch.TypeBool},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			html, err := page.HTML()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}

			out := map[string]interface{}{"content": html, "length": len(html)}
			if boolParam(inv, "save", false) {
				path, err := ts.deps.Store.WritePageCapture(pageHost(page), encodeBase64(html))
				if err != nil {
					return nil, err
				}
				out["path"] = path
			}
			return out, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_element_text",
		Resource:    "extraction",
		Action:      "get_element_text",
		Description: "Return the visible text of the first matching element",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			text, err := el.Text()
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"text": text}, nil
		}),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_element_attributes",
		Resource:    "extraction",
		Action:      "get_element_attributes",
		Description: "Return every attribute of the first matching element",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":  {Type: dispatch.TypeString, Required: true, Selector: true},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			res, err := el.Eval(scriptElementAttributes)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"attributes": stringMap(res.Value.Map())}, nil
		}),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "take_screenshot",
		Resource:    "extraction",
		Action:      "take_screenshot",
		Description: "Capture the page or an element as PNG and store it",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector": {Type: dispatch.TypeString, Selector: true},
			"fullPage": {Type: dispatch.TypeBool},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}

			var data []byte
			selector := strParam(inv, "selector", "")
			if selector != "" {
				el, err := findElement(page, selector, timeoutParam(inv, defaultActionTimeout))
				if err != nil {
					return nil, err
				}
				data, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
				if err != nil {
					return nil, mapDriverErr(err, selector)
				}
			} else {
				data, err = page.Screenshot(boolParam(inv, "fullPage", false), &proto.PageCaptureScreenshot{
					Format: proto.PageCaptureScreenshotFormatPng,
				})
				if err != nil {
					return nil, mapDriverErr(err, "")
				}
			}

			path, err := ts.deps.Store.WriteScreenshot(pageHost(page), data)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"path": path, "bytes": len(data)}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_element_css",
		Resource:    "extraction",
		Action:      "get_element_css",
		Description: "Return computed CSS properties for the first matching element",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"selector":   {Type: dispatch.TypeString, Required: true, Selector: true},
			"properties": {Type: dispatch.TypeArray},
			"timeoutMs":  {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: ts.elementAction(func(el *rod.Element, inv *dispatch.Invocation) (interface{}, error) {
			props := []string{"display", "visibility", "position", "color", "background-color", "font-size"}
			if raw, ok := inv.Params["properties"].([]interface{}); ok && len(raw) > 0 {
				props = props[:0]
				for _, p := range raw {
					if s, ok := p.(string); ok {
						props = append(props, s)
					}
				}
			}
			res, err := el.Eval(scriptElementCSS, props)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"css": stringMap(res.Value.Map())}, nil
		}),
	})
}

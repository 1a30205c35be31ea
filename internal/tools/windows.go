package tools

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

func (ts *toolset) registerWindows(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "list_windows",
		Resource:    "window",
		Action:      "read",
		Description: "List every open window (page target) in the session's browser",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			pages, err := ts.browserPages(inv)
			if err != nil {
				return nil, err
			}
			current, _ := inv.Session.Page()

			windows := make([]map[string]interface{}, 0, len(pages))
			for i, p := range pages {
				info, err := p.Info()
				if err != nil {
					continue
				}
				windows = append(windows, map[string]interface{}{
					"index":   i,
					"id":      string(p.TargetID),
					"url":     info.URL,
					"title":   info.Title,
					"current": current != nil && p.TargetID == current.TargetID,
				})
			}
			return map[string]interface{}{"windows": windows}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "switch_window",
		Resource:    "window",
		Action:      "switch",
		Description: "Make another open window the session's working window",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"windowId": {Type: dispatch.TypeString, Required: true, MaxLen: 128},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			target, err := ts.findWindow(inv, strParam(inv, "windowId", ""))
			if err != nil {
				return nil, err
			}
			if _, err := target.Activate(); err != nil {
				return nil, mapDriverErr(err, "")
			}
			inv.Session.AdoptPage(target)
			ts.resetFrames(inv.SessionID)

			info, _ := target.Info()
			out := map[string]interface{}{"switched": string(target.TargetID)}
			if info != nil {
				out["url"] = info.URL
			}
			return out, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "open_window",
		Resource:    "window",
		Action:      "open",
		Description: "Open a new window, optionally positioned, and switch to it",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"url":    {Type: dispatch.TypeString, URL: true, MaxLen: 4096},
			"left":   {Type: dispatch.TypeInt},
			"top":    {Type: dispatch.TypeInt},
			"width":  {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(7680)},
			"height": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(4320)},
		}},
		Handler: ts.openWindow,
	})

	d.Register(&dispatch.Descriptor{
		Name:        "close_window",
		Resource:    "window",
		Action:      "close",
		Description: "Close one open window; closing the working window falls back to the first remaining one",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"windowId": {Type: dispatch.TypeString, Required: true, MaxLen: 128},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			target, err := ts.findWindow(inv, strParam(inv, "windowId", ""))
			if err != nil {
				return nil, err
			}

			current, _ := inv.Session.Page()
			closingCurrent := current != nil && target.TargetID == current.TargetID

			if err := target.Close(); err != nil {
				return nil, mapDriverErr(err, "")
			}
			if closingCurrent {
				inv.Session.DropPage()
				ts.resetFrames(inv.SessionID)
				if pages, err := ts.browserPages(inv); err == nil && len(pages) > 0 {
					inv.Session.AdoptPage(pages[0])
				}
			}
			return map[string]interface{}{"closed": strParam(inv, "windowId", "")}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "arrange_windows",
		Resource:    "window",
		Action:      "arrange",
		Description: "Position and size the working window; reports the rect the driver applied",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"left":   {Type: dispatch.TypeInt},
			"top":    {Type: dispatch.TypeInt},
			"width":  {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(7680)},
			"height": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(4320)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			bounds := boundsFromParams(inv)
			if err := page.SetWindow(bounds); err != nil {
				return nil, mapDriverErr(err, "")
			}
			// Off-screen positions are permitted; report what actually stuck.
			applied, err := page.GetWindow()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"applied": applied}, nil
		},
	})
}

func (ts *toolset) browserPages(inv *dispatch.Invocation) (rod.Pages, error) {
	handle := inv.Session.Handle()
	if handle == nil || handle.Browser == nil {
		return nil, types.NewToolError(types.ErrTransportLost, "session browser is gone")
	}
	pages, err := handle.Browser.Pages()
	if err != nil {
		return nil, mapDriverErr(err, "")
	}
	return pages, nil
}

// findWindow resolves a target id or numeric index string to a page.
func (ts *toolset) findWindow(inv *dispatch.Invocation, windowID string) (*rod.Page, error) {
	pages, err := ts.browserPages(inv)
	if err != nil {
		return nil, err
	}
	for i, p := range pages {
		if string(p.TargetID) == windowID || fmt.Sprintf("%d", i) == windowID {
			return p, nil
		}
	}
	return nil, types.NewToolError(
		fmt.Errorf("%w: window %s", types.ErrElementNotFound, windowID),
		fmt.Sprintf("no window matches %q", windowID),
	).WithHint("list_windows shows valid ids and indexes")
}

func (ts *toolset) openWindow(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
	handle := inv.Session.Handle()
	if handle == nil || handle.Browser == nil {
		return nil, types.NewToolError(types.ErrTransportLost, "session browser is gone")
	}

	url := strParam(inv, "url", "about:blank")
	page, err := handle.Browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, mapDriverErr(err, "")
	}

	out := map[string]interface{}{"windowId": string(page.TargetID), "url": url}
	if hasBoundsParams(inv) {
		if err := page.SetWindow(boundsFromParams(inv)); err != nil {
			return nil, mapDriverErr(err, "")
		}
		// The window manager may clamp or move the requested rect; report
		// what actually stuck, same as arrange_windows.
		applied, err := page.GetWindow()
		if err != nil {
			return nil, mapDriverErr(err, "")
		}
		out["applied"] = applied
	}

	inv.Session.AdoptPage(page)
	ts.resetFrames(inv.SessionID)
	return out, nil
}

func hasBoundsParams(inv *dispatch.Invocation) bool {
	for _, key := range []string{"left", "top", "width", "height"} {
		if inv.Params[key] != nil {
			return true
		}
	}
	return false
}

func boundsFromParams(inv *dispatch.Invocation) *proto.BrowserBounds {
	bounds := &proto.BrowserBounds{WindowState: proto.BrowserWindowStateNormal}
	if inv.Params["left"] != nil {
		left := intParam(inv, "left", 0)
		bounds.Left = &left
	}
	if inv.Params["top"] != nil {
		top := intParam(inv, "top", 0)
		bounds.Top = &top
	}
	if inv.Params["width"] != nil {
		w := intParam(inv, "width", 1280)
		bounds.Width = &w
	}
	if inv.Params["height"] != nil {
		h := intParam(inv, "height", 800)
		bounds.Height = &h
	}
	return bounds
}

package tools

import (
	"context"
	"time"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/stats"
)

func (ts *toolset) registerNavigation(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "navigate",
		Resource:    "browser",
		Action:      "navigate",
		Description: "Navigate the session to a URL and wait for the load event",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"url":       {Type: dispatch.TypeString, Required: true, URL: true, MaxLen: 4096},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(300000)},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			url := strParam(inv, "url", "")
			timeout := timeoutParam(inv, defaultActionTimeout)

			// Navigating tears down every frame context.
			ts.resetFrames(inv.SessionID)

			start := time.Now()
			data, err := func() (interface{}, error) {
				p := page.Timeout(timeout)
				if err := p.Navigate(url); err != nil {
					return nil, mapDriverErr(err, "")
				}
				if err := p.WaitLoad(); err != nil {
					return nil, mapDriverErr(err, "")
				}

				info, err := page.Info()
				if err != nil {
					return nil, mapDriverErr(err, "")
				}
				return map[string]interface{}{"url": info.URL, "title": info.Title}, nil
			}()

			if ts.deps.Stats != nil {
				ts.deps.Stats.RecordAction(stats.ExtractHost(url), time.Since(start).Milliseconds(), err == nil)
			}
			return data, err
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "back",
		Resource:    "browser",
		Action:      "navigate",
		Description: "Go back one entry in the session history",
		Handler:     ts.historyStep(func(p pageNav) error { return p.NavigateBack() }),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "forward",
		Resource:    "browser",
		Action:      "navigate",
		Description: "Go forward one entry in the session history",
		Handler:     ts.historyStep(func(p pageNav) error { return p.NavigateForward() }),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "reload",
		Resource:    "browser",
		Action:      "navigate",
		Description: "Reload the current page",
		Handler:     ts.historyStep(func(p pageNav) error { return p.Reload() }),
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_current_url",
		Resource:    "browser",
		Action:      "read",
		Description: "Report the session's current URL and title",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			info, err := page.Info()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"url": info.URL, "title": info.Title}, nil
		},
	})
}

// pageNav is the slice of the rod page surface the history steps need.
type pageNav interface {
	NavigateBack() error
	NavigateForward() error
	Reload() error
}

// historyStep builds a handler for back/forward/reload: run the step, wait
// for the load, report where the session landed.
func (ts *toolset) historyStep(step func(pageNav) error) dispatch.Handler {
	return func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
		page, err := inv.Session.Page()
		if err != nil {
			return nil, mapDriverErr(err, "")
		}
		ts.resetFrames(inv.SessionID)

		if err := step(page); err != nil {
			return nil, mapDriverErr(err, "")
		}
		if err := page.WaitLoad(); err != nil {
			return nil, mapDriverErr(err, "")
		}
		info, err := page.Info()
		if err != nil {
			return nil, mapDriverErr(err, "")
		}
		return map[string]interface{}{"url": info.URL, "title": info.Title}, nil
	}
}

package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

// staleRetries bounds the internal retry for stale element references.
// Only idempotent finds retry; actions never do.
const staleRetries = 2

// fptr builds the range-bound pointers descriptor schemas use.
func fptr(v float64) *float64 { return &v }

// param helpers: schemas have already validated shape, so these only
// extract with defaults.

func strParam(inv *dispatch.Invocation, name, def string) string {
	if v, ok := inv.Params[name].(string); ok {
		return v
	}
	return def
}

func boolParam(inv *dispatch.Invocation, name string, def bool) bool {
	if v, ok := inv.Params[name].(bool); ok {
		return v
	}
	return def
}

func intParam(inv *dispatch.Invocation, name string, def int) int {
	if v, ok := inv.Params[name].(float64); ok {
		return int(v)
	}
	if v, ok := inv.Params[name].(int); ok {
		return v
	}
	return def
}

func floatParam(inv *dispatch.Invocation, name string, def float64) float64 {
	if v, ok := inv.Params[name].(float64); ok {
		return v
	}
	return def
}

// timeoutParam reads a millisecond timeout with a default.
func timeoutParam(inv *dispatch.Invocation, def int) time.Duration {
	return time.Duration(intParam(inv, "timeoutMs", def)) * time.Millisecond
}

// sessionPage returns the session's working page, positioned at the current
// frame if the session has switched into one.
func (ts *toolset) sessionPage(inv *dispatch.Invocation) (*rod.Page, error) {
	page, err := inv.Session.Page()
	if err != nil {
		return nil, mapDriverErr(err, "")
	}
	for _, sel := range ts.frameStack(inv.SessionID) {
		frameEl, err := page.Element(sel)
		if err != nil {
			return nil, mapDriverErr(err, sel)
		}
		page, err = frameEl.Frame()
		if err != nil {
			return nil, mapDriverErr(err, sel)
		}
	}
	return page, nil
}

// findElement locates one element with a bounded deadline, retrying stale
// references. Absence maps to ELEMENT_NOT_FOUND.
func findElement(page *rod.Page, selector string, timeout time.Duration) (*rod.Element, error) {
	var lastErr error
	for attempt := 0; attempt <= staleRetries; attempt++ {
		has, el, err := page.Has(selector)
		if err != nil {
			if isStale(err) {
				lastErr = err
				continue
			}
			return nil, mapDriverErr(err, selector)
		}
		if has {
			return el, nil
		}

		// Not present yet: wait for it up to the deadline.
		el, err = page.Timeout(timeout).Element(selector)
		if err == nil {
			return el, nil
		}
		if isStale(err) {
			lastErr = err
			continue
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewToolError(
				fmt.Errorf("%w: %s", types.ErrElementNotFound, selector),
				fmt.Sprintf("no element matched %q within %s", selector, timeout),
			).WithHint("check the selector or wait for the page to finish loading")
		}
		return nil, mapDriverErr(err, selector)
	}
	return nil, types.NewToolError(
		fmt.Errorf("%w: %s", types.ErrStaleElement, selector),
		fmt.Sprintf("element %q kept going stale: %v", selector, lastErr),
	)
}

// isStale recognizes CDP errors that mean the node or its context is gone.
func isStale(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Node with given id does not belong") ||
		strings.Contains(msg, "Could not find node") ||
		strings.Contains(msg, "Object reference chain is circular") ||
		strings.Contains(msg, "stale")
}

// isTransportLost recognizes a dead driver connection.
func isTransportLost(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "cdp.Client") ||
		strings.Contains(msg, "target closed")
}

// mapDriverErr shapes a rod/CDP error into the stable taxonomy.
func mapDriverErr(err error, selector string) error {
	switch {
	case err == nil:
		return nil
	case isTransportLost(err):
		return types.NewToolError(
			fmt.Errorf("%w: %v", types.ErrTransportLost, err),
			"browser connection lost",
		).WithHint("the session will be replaced; retry the call on a new session")
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewToolError(
			fmt.Errorf("%w: %v", types.ErrTimeout, err),
			"operation timed out",
		).WithHint("raise timeoutMs or check that the page is responsive")
	case isStale(err):
		return types.NewToolError(
			fmt.Errorf("%w: %s", types.ErrStaleElement, selector),
			"element reference went stale",
		)
	case strings.Contains(err.Error(), "not interactable") ||
		strings.Contains(err.Error(), "not clickable") ||
		strings.Contains(err.Error(), "zero size"):
		return types.NewToolError(
			fmt.Errorf("%w: %s", types.ErrNotInteractable, selector),
			fmt.Sprintf("element %q is not interactable", selector),
		).WithHint("scroll the element into view or wait for overlays to clear")
	default:
		return types.NewToolError(err, err.Error())
	}
}

// stringMap flattens an eval result object into plain strings for
// response payloads.
func stringMap(m map[string]gson.JSON) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.Str()
	}
	return out
}

// encodeBase64 feeds string content through the artifact store's base64
// intermediate format.
func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// hostOf extracts the host component for artifact file names.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// pageHost reads the current page URL's host, falling back to "unknown".
func pageHost(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return "unknown"
	}
	return hostOf(info.URL)
}

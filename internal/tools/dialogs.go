package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/types"
)

func (ts *toolset) registerDialogs(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "handle_dialog",
		Resource:    "browser",
		Action:      "dialog",
		Description: "Wait for the next browser modal and accept, dismiss, or respond to it",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"action":    {Type: dispatch.TypeString, Required: true, Enum: []string{"accept", "dismiss", "respond", "read"}},
			"text":      {Type: dispatch.TypeString, MaxLen: 4096},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fptr(100), Max: fptr(60000)},
		}},
		Handler: ts.handleDialog,
	})
}

// handleDialog arms the page's dialog hook, waits for the next modal up to
// the deadline, and resolves it per the requested action. "read" dismisses
// the dialog after reporting it; prompts answered with "respond" carry text.
func (ts *toolset) handleDialog(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
	page, err := inv.Session.Page()
	if err != nil {
		return nil, mapDriverErr(err, "")
	}

	action := strParam(inv, "action", "read")
	timeout := timeoutParam(inv, dialogTimeoutMs)

	wait, handle := page.HandleDialog()

	type opened struct {
		event *proto.PageJavascriptDialogOpening
	}
	ch := make(chan opened, 1)
	go func() {
		ch <- opened{event: wait()}
	}()

	select {
	case got := <-ch:
		accept := action == "accept" || action == "respond"
		reply := &proto.PageHandleJavaScriptDialog{Accept: accept}
		if action == "respond" {
			reply.PromptText = strParam(inv, "text", "")
		}
		if err := handle(reply); err != nil {
			return nil, mapDriverErr(err, "")
		}
		return map[string]interface{}{
			"type":     string(got.event.Type),
			"message":  got.event.Message,
			"default":  got.event.DefaultPrompt,
			"accepted": accept,
		}, nil
	case <-time.After(timeout):
		return nil, types.NewToolError(
			fmt.Errorf("%w: no dialog within %s", types.ErrTimeout, timeout),
			"no browser dialog appeared",
		).WithHint("trigger the dialog before or while handle_dialog is waiting")
	case <-ctx.Done():
		return nil, types.NewToolError(types.ErrTimeout, "dialog wait canceled")
	}
}

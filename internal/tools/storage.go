package tools

import (
	"context"

	"github.com/go-rod/rod/lib/proto"

	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/security"
)

func (ts *toolset) registerStorage(d *dispatch.Dispatcher) {
	d.Register(&dispatch.Descriptor{
		Name:        "get_cookies",
		Resource:    "storage",
		Action:      "read",
		Description: "List the cookies visible to the current page",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			cookies, err := page.Cookies(nil)
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"cookies": cookies}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "set_cookie",
		Resource:    "storage",
		Action:      "write",
		Description: "Set one cookie on the current page's domain",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"name":     {Type: dispatch.TypeString, Required: true, MaxLen: 256},
			"value":    {Type: dispatch.TypeString, Required: true, MaxLen: 4096},
			"domain":   {Type: dispatch.TypeString, MaxLen: 256},
			"path":     {Type: dispatch.TypeString, MaxLen: 1024},
			"secure":   {Type: dispatch.TypeBool},
			"httpOnly": {Type: dispatch.TypeBool},
		}},
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			// A requested domain that does not cover the current page falls
			// back to the page host instead of failing.
			domain := security.SanitizeCookieDomain(strParam(inv, "domain", ""), pageHost(page))
			cookie := &proto.NetworkCookieParam{
				Name:     strParam(inv, "name", ""),
				Value:    strParam(inv, "value", ""),
				Domain:   domain,
				Path:     strParam(inv, "path", "/"),
				Secure:   boolParam(inv, "secure", false),
				HTTPOnly: boolParam(inv, "httpOnly", false),
			}
			if err := page.SetCookies([]*proto.NetworkCookieParam{cookie}); err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"set": cookie.Name, "domain": domain}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "clear_cookies",
		Resource:    "storage",
		Action:      "write",
		Description: "Remove every cookie in the browser",
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := inv.Session.Page()
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"cleared": true}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "get_storage",
		Resource:    "storage",
		Action:      "read",
		Description: "Dump localStorage or sessionStorage for the current origin",
		Schema:      storageKindSchema(nil),
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			res, err := page.Eval(scriptStorageRead, strParam(inv, "kind", "local"))
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"items": res.Value.Val()}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "set_storage_item",
		Resource:    "storage",
		Action:      "write",
		Description: "Set one web storage key for the current origin",
		Schema: storageKindSchema(map[string]dispatch.Field{
			"key":   {Type: dispatch.TypeString, Required: true, MaxLen: 1024},
			"value": {Type: dispatch.TypeString, Required: true, MaxLen: 65536},
		}),
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			res, err := page.Eval(scriptStorageWrite,
				strParam(inv, "kind", "local"),
				strParam(inv, "key", ""),
				strParam(inv, "value", ""))
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"length": res.Value.Num()}, nil
		},
	})

	d.Register(&dispatch.Descriptor{
		Name:        "clear_storage",
		Resource:    "storage",
		Action:      "write",
		Description: "Empty localStorage or sessionStorage for the current origin",
		Schema:      storageKindSchema(nil),
		Handler: func(ctx context.Context, inv *dispatch.Invocation) (interface{}, error) {
			page, err := ts.sessionPage(inv)
			if err != nil {
				return nil, err
			}
			res, err := page.Eval(scriptStorageClear, strParam(inv, "kind", "local"))
			if err != nil {
				return nil, mapDriverErr(err, "")
			}
			return map[string]interface{}{"removed": res.Value.Num()}, nil
		},
	})
}

// storageKindSchema builds a schema with the shared "kind" enum plus any
// extra fields.
func storageKindSchema(extra map[string]dispatch.Field) dispatch.Schema {
	fields := map[string]dispatch.Field{
		"kind": {Type: dispatch.TypeString, Enum: []string{"local", "session"}},
	}
	for name, f := range extra {
		fields[name] = f
	}
	return dispatch.Schema{Fields: fields}
}

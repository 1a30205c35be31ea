package mcpserver

import (
	"encoding/json"
	"testing"

	"github.com/browserctl/browserctl-go/internal/dispatch"
)

func TestJSONSchemaForSessionTool(t *testing.T) {
	desc := &dispatch.Descriptor{
		Name: "navigate",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"url":       {Type: dispatch.TypeString, Required: true, URL: true, MaxLen: 4096},
			"timeoutMs": {Type: dispatch.TypeInt, Min: fp(100), Max: fp(300000)},
		}},
	}

	schema := jsonSchemaFor(desc)
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	if schema["additionalProperties"] != false {
		t.Error("additionalProperties should be false: the parameter set is closed")
	}

	props := schema["properties"].(map[string]interface{})
	if _, ok := props["sessionId"]; !ok {
		t.Error("session tools should accept sessionId")
	}

	urlProp := props["url"].(map[string]interface{})
	if urlProp["type"] != "string" || urlProp["maxLength"] != 4096 {
		t.Errorf("url schema = %v", urlProp)
	}

	timeout := props["timeoutMs"].(map[string]interface{})
	if timeout["type"] != "integer" || timeout["minimum"] != 100.0 || timeout["maximum"] != 300000.0 {
		t.Errorf("timeoutMs schema = %v", timeout)
	}

	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "url" {
		t.Errorf("required = %v, want [url]", required)
	}
}

func TestJSONSchemaForSessionLessTool(t *testing.T) {
	desc := &dispatch.Descriptor{Name: "create_session", SessionLess: true,
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"browserKind": {Type: dispatch.TypeString, Enum: []string{"chromium", "firefox"}},
		}},
	}

	schema := jsonSchemaFor(desc)
	props := schema["properties"].(map[string]interface{})
	if _, ok := props["sessionId"]; ok {
		t.Error("session-less tools should not accept sessionId")
	}
	kind := props["browserKind"].(map[string]interface{})
	enum := kind["enum"].([]string)
	if len(enum) != 2 {
		t.Errorf("enum = %v", enum)
	}
}

func TestJSONSchemaSerializes(t *testing.T) {
	desc := &dispatch.Descriptor{
		Name: "scroll",
		Schema: dispatch.Schema{Fields: map[string]dispatch.Field{
			"x":        {Type: dispatch.TypeNumber},
			"absolute": {Type: dispatch.TypeBool},
			"args":     {Type: dispatch.TypeArray},
			"options":  {Type: dispatch.TypeObject},
		}},
	}

	data, err := json.Marshal(jsonSchemaFor(desc))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]interface{}
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	props := round["properties"].(map[string]interface{})
	for name, wantType := range map[string]string{
		"x": "number", "absolute": "boolean", "args": "array", "options": "object",
	} {
		p := props[name].(map[string]interface{})
		if p["type"] != wantType {
			t.Errorf("%s type = %v, want %s", name, p["type"], wantType)
		}
	}
}

func fp(v float64) *float64 { return &v }

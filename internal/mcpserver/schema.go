package mcpserver

import "github.com/browserctl/browserctl-go/internal/dispatch"

// jsonSchemaFor renders a dispatcher schema as a JSON Schema object. Every
// tool also accepts an optional sessionId, which the transport strips before
// dispatch.
func jsonSchemaFor(desc *dispatch.Descriptor) map[string]interface{} {
	properties := map[string]interface{}{}
	var required []string

	if !desc.SessionLess {
		properties["sessionId"] = map[string]interface{}{
			"type":        "string",
			"description": "Target session id; defaults to the oldest open session",
		}
	}

	for name, field := range desc.Schema.Fields {
		properties[name] = jsonSchemaField(field)
		if field.Required {
			required = append(required, name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonSchemaField(field dispatch.Field) map[string]interface{} {
	out := map[string]interface{}{}

	switch field.Type {
	case dispatch.TypeString:
		out["type"] = "string"
		if field.MaxLen > 0 {
			out["maxLength"] = field.MaxLen
		}
		if len(field.Enum) > 0 {
			out["enum"] = field.Enum
		}
	case dispatch.TypeInt:
		out["type"] = "integer"
	case dispatch.TypeNumber:
		out["type"] = "number"
	case dispatch.TypeBool:
		out["type"] = "boolean"
	case dispatch.TypeObject:
		out["type"] = "object"
	case dispatch.TypeArray:
		out["type"] = "array"
	}

	if field.Min != nil {
		out["minimum"] = *field.Min
	}
	if field.Max != nil {
		out["maximum"] = *field.Max
	}
	return out
}

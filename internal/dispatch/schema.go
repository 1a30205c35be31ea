// Package dispatch resolves tool calls against a descriptor table, runs the
// authorization and validation pipeline, and shapes the response envelope.
package dispatch

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/browserctl/browserctl-go/internal/types"
)

// Default caps applied during validation.
const (
	maxStringLen   = 8192
	maxSelectorLen = 1024
	maxValueEcho   = 64
)

// urlSchemes is the allow-list for URL-typed parameters.
var urlSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"about": true,
}

// FieldType enumerates the value shapes a schema field accepts.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// Field is one declared parameter. Schemas are explicit values the
// dispatcher walks uniformly; no reflection.
type Field struct {
	Type     FieldType
	Required bool
	Enum     []string // string fields only
	Min, Max *float64 // numeric fields only
	MaxLen   int      // string cap; 0 means the package default
	Selector bool     // CSS-selector syntax cap
	URL      bool     // scheme allow-list applies
	Path     bool     // path-traversal guard applies
	Secret   bool     // never echo the offending value in errors
}

// Schema is the closed parameter set for one tool. Unknown keys fail.
type Schema struct {
	Fields map[string]Field
}

// fptr is a convenience for range bounds in descriptor literals.
func fptr(v float64) *float64 { return &v }

// Validate checks params against the schema and returns them unchanged on
// success. Errors carry the field name and a sanitized value echo.
func (s Schema) Validate(params map[string]interface{}) error {
	for key := range params {
		if _, ok := s.Fields[key]; !ok {
			return types.NewValidationError(key, "", fmt.Sprintf("unknown parameter %q", key)).
				WithHint("the recognized parameter set is closed; remove unrecognized keys")
		}
	}

	for name, field := range s.Fields {
		raw, present := params[name]
		if !present {
			if field.Required {
				return types.NewValidationError(name, "", fmt.Sprintf("missing required parameter %q", name))
			}
			continue
		}
		if err := validateField(name, field, raw); err != nil {
			return err
		}
	}
	return nil
}

func validateField(name string, field Field, raw interface{}) error {
	switch field.Type {
	case TypeString:
		return validateString(name, field, raw)
	case TypeInt:
		f, ok := asNumber(raw)
		if !ok || f != float64(int64(f)) {
			return typeError(name, field, raw, "an integer")
		}
		return validateRange(name, field, f, raw)
	case TypeNumber:
		f, ok := asNumber(raw)
		if !ok {
			return typeError(name, field, raw, "a number")
		}
		return validateRange(name, field, f, raw)
	case TypeBool:
		if _, ok := raw.(bool); !ok {
			return typeError(name, field, raw, "a boolean")
		}
	case TypeObject:
		if _, ok := raw.(map[string]interface{}); !ok {
			return typeError(name, field, raw, "an object")
		}
	case TypeArray:
		if _, ok := raw.([]interface{}); !ok {
			return typeError(name, field, raw, "an array")
		}
	}
	return nil
}

func validateString(name string, field Field, raw interface{}) error {
	s, ok := raw.(string)
	if !ok {
		return typeError(name, field, raw, "a string")
	}

	limit := field.MaxLen
	if limit == 0 {
		limit = maxStringLen
		if field.Selector {
			limit = maxSelectorLen
		}
	}
	if len(s) > limit {
		return types.NewValidationError(name, sanitizeValue(field, s),
			fmt.Sprintf("parameter %q exceeds the %d character cap", name, limit))
	}

	if len(field.Enum) > 0 {
		found := false
		for _, allowed := range field.Enum {
			if s == allowed {
				found = true
				break
			}
		}
		if !found {
			return types.NewValidationError(name, sanitizeValue(field, s),
				fmt.Sprintf("parameter %q must be one of: %s", name, strings.Join(field.Enum, ", ")))
		}
	}

	if field.URL {
		if err := validateURL(name, field, s); err != nil {
			return err
		}
	}
	if field.Path {
		if err := validatePath(name, field, s); err != nil {
			return err
		}
	}
	if field.Selector && strings.TrimSpace(s) == "" {
		return types.NewValidationError(name, "", fmt.Sprintf("parameter %q must be a non-empty selector", name))
	}
	return nil
}

func validateURL(name string, field Field, s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return types.NewValidationError(name, sanitizeValue(field, s),
			fmt.Sprintf("parameter %q is not a valid URL", name))
	}
	if !urlSchemes[strings.ToLower(u.Scheme)] {
		return types.NewValidationError(name, sanitizeValue(field, s),
			fmt.Sprintf("URL scheme %q is not allowed", u.Scheme)).
			WithHint("allowed schemes: http, https, about")
	}
	return nil
}

// validatePath rejects absolute paths and parent traversal; artifact paths
// stay inside the artifact directory.
func validatePath(name string, field Field, s string) error {
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "\\") {
		return types.NewValidationError(name, sanitizeValue(field, s),
			fmt.Sprintf("parameter %q must be a relative path", name))
	}
	for _, seg := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return types.NewValidationError(name, sanitizeValue(field, s),
				fmt.Sprintf("parameter %q may not traverse parent directories", name))
		}
	}
	return nil
}

func validateRange(name string, field Field, f float64, raw interface{}) error {
	if field.Min != nil && f < *field.Min {
		return types.NewValidationError(name, sanitizeValue(field, raw),
			fmt.Sprintf("parameter %q must be at least %v", name, *field.Min))
	}
	if field.Max != nil && f > *field.Max {
		return types.NewValidationError(name, sanitizeValue(field, raw),
			fmt.Sprintf("parameter %q must be at most %v", name, *field.Max))
	}
	return nil
}

// asNumber accepts the numeric shapes JSON decoding produces.
func asNumber(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func typeError(name string, field Field, raw interface{}, want string) *types.ToolError {
	return types.NewValidationError(name, sanitizeValue(field, raw),
		fmt.Sprintf("parameter %q must be %s", name, want))
}

// sanitizeValue truncates the echoed value and blanks secrets entirely.
func sanitizeValue(field Field, raw interface{}) string {
	if field.Secret {
		return "[redacted]"
	}
	s := fmt.Sprintf("%v", raw)
	if len(s) > maxValueEcho {
		// Cut on a rune boundary so the echo stays valid UTF-8.
		cut := maxValueEcho
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

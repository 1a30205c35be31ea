package dispatch

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/browserctl/browserctl-go/internal/types"
)

func validationCode(t *testing.T, err error) *types.ToolError {
	t.Helper()
	if err == nil {
		t.Fatal("Expected a validation error")
	}
	te, ok := err.(*types.ToolError)
	if !ok {
		t.Fatalf("Expected ToolError, got %T", err)
	}
	if te.Code != types.CodeValidation {
		t.Fatalf("Expected VALIDATION, got %s", te.Code)
	}
	return te
}

func TestSchemaTypes(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"name":  {Type: TypeString, Required: true},
		"count": {Type: TypeInt},
		"ratio": {Type: TypeNumber},
		"deep":  {Type: TypeBool},
		"opts":  {Type: TypeObject},
		"items": {Type: TypeArray},
	}}

	ok := map[string]interface{}{
		"name":  "x",
		"count": float64(3), // JSON numbers decode as float64
		"ratio": 0.5,
		"deep":  true,
		"opts":  map[string]interface{}{"a": 1},
		"items": []interface{}{"a"},
	}
	if err := s.Validate(ok); err != nil {
		t.Fatalf("Valid params rejected: %v", err)
	}

	for field, bad := range map[string]interface{}{
		"name":  42,
		"count": 1.5,
		"ratio": "nope",
		"deep":  "true",
		"opts":  []interface{}{},
		"items": map[string]interface{}{},
	} {
		params := map[string]interface{}{"name": "x", field: bad}
		te := validationCode(t, s.Validate(params))
		if te.Field != field {
			t.Errorf("Expected field %q, got %q", field, te.Field)
		}
	}
}

func TestSchemaRequired(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"url": {Type: TypeString, Required: true},
	}}
	te := validationCode(t, s.Validate(map[string]interface{}{}))
	if te.Field != "url" {
		t.Errorf("Expected field url, got %q", te.Field)
	}
}

func TestSchemaEnum(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"kind": {Type: TypeString, Enum: []string{"chromium", "firefox"}},
	}}
	if err := s.Validate(map[string]interface{}{"kind": "chromium"}); err != nil {
		t.Fatalf("Enum member rejected: %v", err)
	}
	validationCode(t, s.Validate(map[string]interface{}{"kind": "safari"}))
}

func TestSchemaRanges(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"timeout": {Type: TypeInt, Min: fptr(0), Max: fptr(300000)},
	}}
	if err := s.Validate(map[string]interface{}{"timeout": float64(5000)}); err != nil {
		t.Fatalf("In-range value rejected: %v", err)
	}
	validationCode(t, s.Validate(map[string]interface{}{"timeout": float64(-1)}))
	validationCode(t, s.Validate(map[string]interface{}{"timeout": float64(300001)}))
}

func TestSchemaSelectorCap(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"selector": {Type: TypeString, Selector: true},
	}}
	validationCode(t, s.Validate(map[string]interface{}{"selector": strings.Repeat("a", maxSelectorLen+1)}))
	validationCode(t, s.Validate(map[string]interface{}{"selector": "   "}))
	if err := s.Validate(map[string]interface{}{"selector": "#id > .cls"}); err != nil {
		t.Fatalf("Reasonable selector rejected: %v", err)
	}
}

func TestSchemaURLSchemes(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"url": {Type: TypeString, URL: true},
	}}
	for _, good := range []string{"https://example.test/", "http://localhost:8080/x", "about:blank"} {
		if err := s.Validate(map[string]interface{}{"url": good}); err != nil {
			t.Errorf("URL %q rejected: %v", good, err)
		}
	}
	for _, bad := range []string{"file:///etc/passwd", "javascript:alert(1)", "ftp://host/"} {
		validationCode(t, s.Validate(map[string]interface{}{"url": bad}))
	}
}

func TestSchemaPathTraversal(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"path": {Type: TypeString, Path: true},
	}}
	if err := s.Validate(map[string]interface{}{"path": "shots/page.png"}); err != nil {
		t.Fatalf("Relative path rejected: %v", err)
	}
	validationCode(t, s.Validate(map[string]interface{}{"path": "../outside.png"}))
	validationCode(t, s.Validate(map[string]interface{}{"path": "a/../../b"}))
	validationCode(t, s.Validate(map[string]interface{}{"path": "/etc/passwd"}))
}

func TestSchemaSecretRedaction(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"token": {Type: TypeString, MaxLen: 8, Secret: true},
	}}
	te := validationCode(t, s.Validate(map[string]interface{}{"token": "very-long-secret-value"}))
	if te.Value != "[redacted]" {
		t.Errorf("Secret value leaked into error: %q", te.Value)
	}
}

func TestSchemaValueEchoTruncated(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"text": {Type: TypeString, MaxLen: 10},
	}}
	long := strings.Repeat("x", 500)
	te := validationCode(t, s.Validate(map[string]interface{}{"text": long}))
	if len(te.Value) > maxValueEcho+3 {
		t.Errorf("Echoed value not truncated: %d chars", len(te.Value))
	}
}

func TestSchemaValueEchoKeepsRunesWhole(t *testing.T) {
	s := Schema{Fields: map[string]Field{
		"text": {Type: TypeString, MaxLen: 10},
	}}
	// Three-byte runes that never line up with the echo cap, so a byte-wise
	// cut would split one.
	long := strings.Repeat("日本語", 100)
	te := validationCode(t, s.Validate(map[string]interface{}{"text": long}))
	if !utf8.ValidString(te.Value) {
		t.Errorf("Truncated echo is not valid UTF-8: %q", te.Value)
	}
	if len(te.Value) > maxValueEcho+3 {
		t.Errorf("Echoed value not truncated: %d chars", len(te.Value))
	}
}

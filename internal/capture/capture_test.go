package capture

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleRequests() []CapturedRequest {
	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []CapturedRequest{
		{
			URL: "https://example.test/", Method: "GET",
			Status: 200, StatusText: "OK", MimeType: "text/html",
			RequestSize: 0, ResponseSize: 5120,
			StartedAt: base, DurationMs: 120,
		},
		{
			URL: "https://example.test/api/data", Method: "POST",
			Status: 201, StatusText: "Created", MimeType: "application/json",
			RequestSize: 256, ResponseSize: 64,
			StartedAt: base.Add(time.Second), DurationMs: 48,
		},
		{
			URL: "https://cdn.example.test/app.js", Method: "GET",
			Status: 404, StatusText: "Not Found", MimeType: "text/plain",
			RequestSize: 0, ResponseSize: 19,
			StartedAt: base.Add(2 * time.Second), DurationMs: 30,
		},
	}
}

func TestHARRoundTrip(t *testing.T) {
	in := sampleRequests()
	har := BuildHAR(in, "test")

	if har.Log.Version != "1.2" {
		t.Errorf("Expected HAR version 1.2, got %s", har.Log.Version)
	}

	data, err := json.Marshal(har)
	if err != nil {
		t.Fatalf("Marshal HAR failed: %v", err)
	}
	out, err := ParseHAR(data)
	if err != nil {
		t.Fatalf("ParseHAR failed: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("Round trip lost entries: %d != %d", len(out), len(in))
	}
	for i := range in {
		if out[i].URL != in[i].URL {
			t.Errorf("Entry %d URL: %s != %s", i, out[i].URL, in[i].URL)
		}
		if out[i].Method != in[i].Method {
			t.Errorf("Entry %d method: %s != %s", i, out[i].Method, in[i].Method)
		}
		if out[i].Status != in[i].Status {
			t.Errorf("Entry %d status: %d != %d", i, out[i].Status, in[i].Status)
		}
		if out[i].ResponseSize != in[i].ResponseSize {
			t.Errorf("Entry %d size: %d != %d", i, out[i].ResponseSize, in[i].ResponseSize)
		}
	}
}

func TestParseHARRejectsGarbage(t *testing.T) {
	if _, err := ParseHAR([]byte("not json")); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestURLPatternMatching(t *testing.T) {
	cases := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"https://ads.example.test/*", "https://ads.example.test/banner.js", true},
		{"https://ads.example.test/*", "https://example.test/page", false},
		{"tracker", "https://x.test/tracker/pixel.gif", true},
		{"tracker", "https://x.test/app.js", false},
	}
	for _, tc := range cases {
		if got := matchURLPattern(tc.pattern, tc.url); got != tc.want {
			t.Errorf("matchURLPattern(%q, %q) = %v, want %v", tc.pattern, tc.url, got, tc.want)
		}
	}
}

func TestRecorderCap(t *testing.T) {
	r := &Recorder{}
	for i := 0; i < maxCapturedRequests+10; i++ {
		r.record(CapturedRequest{URL: "https://x.test/"})
	}
	if got := len(r.stop()); got != maxCapturedRequests {
		t.Errorf("Expected capture capped at %d, got %d", maxCapturedRequests, got)
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager()
	if got := m.Stop("ghost"); got != nil {
		t.Errorf("Expected nil for unknown session, got %v", got)
	}
	if err := m.Block("ghost", []string{"x"}); err == nil {
		t.Error("Expected error blocking with no capture running")
	}
}

func TestFileStemFormat(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	stem := fileStem("sub.example.test", at)

	if strings.Contains(stem, ":") {
		t.Errorf("Stem contains colons: %s", stem)
	}
	if !strings.HasPrefix(stem, "2026-03-14T09-26-53Z") {
		t.Errorf("Unexpected timestamp prefix: %s", stem)
	}
	if !strings.HasSuffix(stem, "_sub.example.test") {
		t.Errorf("Unexpected host suffix: %s", stem)
	}
}

func TestSanitizeHost(t *testing.T) {
	cases := map[string]string{
		"example.test":         "example.test",
		"host:8080":            "host-8080",
		"a/b\\c":               "a-b-c",
		"":                     "unknown",
		"über.test":            "-ber.test",
	}
	for in, want := range cases {
		if got := sanitizeHost(in); got != want {
			t.Errorf("sanitizeHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestArtifactStoreWrites(t *testing.T) {
	root := t.TempDir()
	store, err := NewArtifactStore(root)
	if err != nil {
		t.Fatalf("NewArtifactStore failed: %v", err)
	}

	for _, dir := range []string{"screenshots", "pagecache", "reports"} {
		if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
			t.Errorf("Expected %s directory: %v", dir, err)
		}
	}

	shot, err := store.WriteScreenshot("example.test", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("WriteScreenshot failed: %v", err)
	}
	if filepath.Dir(shot) != filepath.Join(root, "screenshots") {
		t.Errorf("Screenshot in wrong dir: %s", shot)
	}

	html := "<html><body>hi</body></html>"
	page, err := store.WritePageCapture("example.test", base64.StdEncoding.EncodeToString([]byte(html)))
	if err != nil {
		t.Fatalf("WritePageCapture failed: %v", err)
	}
	data, _ := os.ReadFile(page)
	if string(data) != html {
		t.Errorf("Page capture not decoded from base64: %q", string(data))
	}

	if _, err := store.WritePageCapture("example.test", "%%%not-base64%%%"); err == nil {
		t.Error("Expected base64 decode error")
	}

	report, err := store.WriteReport("example.test", ".har", []byte("{}"))
	if err != nil {
		t.Fatalf("WriteReport failed: %v", err)
	}
	if !strings.HasSuffix(report, ".har") {
		t.Errorf("Report missing extension: %s", report)
	}
}

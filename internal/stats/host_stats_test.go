package stats

import (
	"testing"
	"time"
)

func TestExtractHost(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   string
	}{
		{"simple url", "https://example.com/page", "example.com"},
		{"url with port", "https://example.com:8080/page", "example.com"},
		{"url with subdomain", "https://api.example.com/v1/data", "api.example.com"},
		{"url with query params", "https://example.com/page?foo=bar", "example.com"},
		{"bare hostname has no host", "not-a-valid-url", ""},
		{"empty url", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractHost(tt.rawURL)
			if got != tt.want {
				t.Errorf("ExtractHost(%q) = %q, want %q", tt.rawURL, got, tt.want)
			}
		})
	}
}

func TestRecordAction(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordAction("example.com", 120, true)
	m.RecordAction("example.com", 80, true)
	m.RecordAction("example.com", 400, false)

	if got := m.ActionCount("example.com"); got != 3 {
		t.Errorf("ActionCount = %d, want 3", got)
	}

	rate := m.ErrorRate("example.com")
	if rate < 0.33 || rate > 0.34 {
		t.Errorf("ErrorRate = %f, want ~0.333", rate)
	}

	snap := m.AllStats()["example.com"]
	if snap.SuccessCount != 2 || snap.ErrorCount != 1 {
		t.Errorf("snapshot counts = %+v", snap)
	}
	if snap.AvgLatencyMs != 200 {
		t.Errorf("AvgLatencyMs = %d, want 200", snap.AvgLatencyMs)
	}
	if snap.LastActionTime.IsZero() {
		t.Error("LastActionTime not set")
	}
}

func TestRecordActionIgnoresEmptyHost(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordAction("", 10, true)
	if m.HostCount() != 0 {
		t.Errorf("empty host was tracked: count=%d", m.HostCount())
	}
}

func TestUntrackedHostDefaults(t *testing.T) {
	m := NewManager()
	defer m.Close()

	if m.Get("nowhere.example") != nil {
		t.Error("Get for untracked host should be nil")
	}
	if m.ErrorRate("nowhere.example") != 0 {
		t.Error("ErrorRate for untracked host should be 0")
	}
	if m.ActionCount("nowhere.example") != 0 {
		t.Error("ActionCount for untracked host should be 0")
	}
}

func TestResetAndResetAll(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordAction("a.example", 10, true)
	m.RecordAction("b.example", 10, true)

	m.Reset("a.example")
	if m.Get("a.example") != nil {
		t.Error("Reset did not remove the host")
	}
	if m.Get("b.example") == nil {
		t.Error("Reset removed an unrelated host")
	}

	m.ResetAll()
	if m.HostCount() != 0 {
		t.Errorf("ResetAll left %d hosts", m.HostCount())
	}
}

func TestCleanupStaleRemovesOldEntries(t *testing.T) {
	m := NewManager()
	defer m.Close()

	m.RecordAction("old.example", 10, true)
	m.RecordAction("fresh.example", 10, true)

	old := m.Get("old.example")
	old.mu.Lock()
	old.LastAccess = time.Now().Add(-time.Hour)
	old.mu.Unlock()

	m.cleanupStale(30 * time.Minute)

	if m.Get("old.example") != nil {
		t.Error("stale host survived cleanup")
	}
	if m.Get("fresh.example") == nil {
		t.Error("fresh host was cleaned up")
	}
}

func TestEvictOldestBatch(t *testing.T) {
	m := NewManager()
	defer m.Close()

	base := time.Now()
	for i, host := range []string{"h0.example", "h1.example", "h2.example", "h3.example"} {
		m.RecordAction(host, 10, true)
		s := m.Get(host)
		s.mu.Lock()
		s.LastAccess = base.Add(time.Duration(i) * time.Minute)
		s.mu.Unlock()
	}

	m.mu.Lock()
	m.evictOldestBatchLocked(2)
	m.mu.Unlock()

	if m.Get("h0.example") != nil || m.Get("h1.example") != nil {
		t.Error("oldest hosts were not evicted")
	}
	if m.Get("h2.example") == nil || m.Get("h3.example") == nil {
		t.Error("newest hosts were evicted")
	}
}

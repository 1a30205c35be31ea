package security

import (
	"strings"
	"testing"
)

// FuzzSanitizeCookieDomain tests cookie domain sanitization.
func FuzzSanitizeCookieDomain(f *testing.F) {
	// Add seed corpus with domain/target pairs
	seeds := []struct {
		domain string
		target string
	}{
		{".example.com", "sub.example.com"},
		{"example.com", "example.com"},
		{"evil.com", "example.com"},
		{"", "example.com"},
		{".com", "example.com"},
		{"com", "example.com"},
		{"..example.com", "example.com"},
	}

	for _, seed := range seeds {
		f.Add(seed.domain, seed.target)
	}

	f.Fuzz(func(t *testing.T, domain, targetHost string) {
		// Should never panic
		result := SanitizeCookieDomain(domain, targetHost)

		// Result should never be empty if targetHost is non-empty
		if targetHost != "" && result == "" {
			t.Errorf("SanitizeCookieDomain returned empty for non-empty target: domain=%q, target=%q", domain, targetHost)
		}

		// Result should be lowercase
		if result != strings.ToLower(result) {
			t.Errorf("SanitizeCookieDomain returned non-lowercase result: %q", result)
		}
	})
}

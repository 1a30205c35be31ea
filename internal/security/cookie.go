package security

import "strings"

// SanitizeCookieDomain validates and sanitizes a cookie domain.
// Returns the target host if the domain is invalid or potentially malicious.
func SanitizeCookieDomain(domain string, targetHost string) string {
	targetHost = strings.ToLower(targetHost)
	if domain == "" {
		return targetHost
	}

	// Remove leading dot if present (cookies use implicit dot matching)
	domain = strings.TrimPrefix(domain, ".")
	domain = strings.ToLower(domain)

	if domain == targetHost {
		return domain
	}

	// Check if domain is a valid suffix
	if strings.HasSuffix(targetHost, "."+domain) {
		// Prevent setting cookies on TLDs or overly broad domains
		// Domain must have at least 2 segments (e.g., "example.com" not "com")
		if strings.Count(domain, ".") < 1 {
			return targetHost
		}
		return domain
	}

	// Domain doesn't match target - use target host instead
	return targetHost
}

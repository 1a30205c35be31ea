package capture

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Artifact subdirectories under the artifact root.
const (
	screenshotsDir = "screenshots"
	pagecacheDir   = "pagecache"
	reportsDir     = "reports"
)

// ArtifactStore writes screenshots, page captures, and reports under a
// single root directory.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates the store and its subdirectories. A relative root
// resolves against the working directory.
func NewArtifactStore(root string) (*ArtifactStore, error) {
	s := &ArtifactStore{root: root}
	for _, dir := range []string{screenshotsDir, pagecacheDir, reportsDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the artifact root directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

// fileStem builds "<ISO-8601 timestamp, colons as dashes>_<sanitized host>".
func fileStem(host string, at time.Time) string {
	stamp := strings.ReplaceAll(at.UTC().Format(time.RFC3339), ":", "-")
	return stamp + "_" + sanitizeHost(host)
}

// sanitizeHost keeps letters, digits, dots, and dashes; everything else
// becomes a dash. Empty hosts become "unknown".
func sanitizeHost(host string) string {
	if host == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// WriteScreenshot stores raw image bytes and returns the file path.
func (s *ArtifactStore) WriteScreenshot(host string, data []byte) (string, error) {
	path := filepath.Join(s.root, screenshotsDir, fileStem(host, time.Now())+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	log.Debug().Str("path", path).Int("bytes", len(data)).Msg("Screenshot written")
	return path, nil
}

// WritePageCapture decodes a base64 page capture and stores the raw bytes.
func (s *ArtifactStore) WritePageCapture(host, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode page capture: %w", err)
	}
	path := filepath.Join(s.root, pagecacheDir, fileStem(host, time.Now())+".html")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write page capture: %w", err)
	}
	return path, nil
}

// WriteReport stores a generated report (a HAR, a performance profile) and
// returns the file path. The extension should include the leading dot.
func (s *ArtifactStore) WriteReport(host, ext string, data []byte) (string, error) {
	path := filepath.Join(s.root, reportsDir, fileStem(host, time.Now())+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// Package capture records network traffic on a session, serializes it as
// HAR 1.2, and writes artifacts (screenshots, page captures, reports) under
// the artifact directory.
package capture

import (
	"encoding/json"
	"fmt"
	"time"
)

// CapturedRequest is one observed request/response pair.
type CapturedRequest struct {
	URL          string    `json:"url"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	StatusText   string    `json:"statusText,omitempty"`
	MimeType     string    `json:"mimeType,omitempty"`
	RequestSize  int64     `json:"requestSize"`
	ResponseSize int64     `json:"responseSize"`
	StartedAt    time.Time `json:"startedAt"`
	DurationMs   float64   `json:"durationMs"`
	Blocked      bool      `json:"blocked,omitempty"`
}

// HAR 1.2 structures, limited to the fields this service produces and
// consumes. Unknown fields in foreign HARs are ignored on parse.

type HAR struct {
	Log HARLog `json:"log"`
}

type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime string      `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
}

type HARRequest struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	HTTPVersion string `json:"httpVersion"`
	HeadersSize int64  `json:"headersSize"`
	BodySize    int64  `json:"bodySize"`
}

type HARResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"statusText"`
	HTTPVersion string     `json:"httpVersion"`
	Content     HARContent `json:"content"`
	HeadersSize int64      `json:"headersSize"`
	BodySize    int64      `json:"bodySize"`
}

type HARContent struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// BuildHAR serializes captured requests as a HAR 1.2 log.
func BuildHAR(requests []CapturedRequest, creatorVersion string) *HAR {
	entries := make([]HAREntry, 0, len(requests))
	for _, r := range requests {
		entries = append(entries, HAREntry{
			StartedDateTime: r.StartedAt.UTC().Format(time.RFC3339Nano),
			Time:            r.DurationMs,
			Request: HARRequest{
				Method:      r.Method,
				URL:         r.URL,
				HTTPVersion: "HTTP/1.1",
				HeadersSize: -1,
				BodySize:    r.RequestSize,
			},
			Response: HARResponse{
				Status:      r.Status,
				StatusText:  r.StatusText,
				HTTPVersion: "HTTP/1.1",
				Content: HARContent{
					Size:     r.ResponseSize,
					MimeType: r.MimeType,
				},
				HeadersSize: -1,
				BodySize:    r.ResponseSize,
			},
		})
	}
	return &HAR{Log: HARLog{
		Version: "1.2",
		Creator: HARCreator{Name: "browserctl", Version: creatorVersion},
		Entries: entries,
	}}
}

// ParseHAR decodes a HAR document back into captured requests.
func ParseHAR(data []byte) ([]CapturedRequest, error) {
	var har HAR
	if err := json.Unmarshal(data, &har); err != nil {
		return nil, fmt.Errorf("parse HAR: %w", err)
	}
	out := make([]CapturedRequest, 0, len(har.Log.Entries))
	for _, e := range har.Log.Entries {
		started, _ := time.Parse(time.RFC3339Nano, e.StartedDateTime)
		out = append(out, CapturedRequest{
			URL:          e.Request.URL,
			Method:       e.Request.Method,
			Status:       e.Response.Status,
			StatusText:   e.Response.StatusText,
			MimeType:     e.Response.Content.MimeType,
			RequestSize:  e.Request.BodySize,
			ResponseSize: e.Response.Content.Size,
			StartedAt:    started,
			DurationMs:   e.Time,
		})
	}
	return out, nil
}

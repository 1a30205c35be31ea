package types

import "encoding/json"

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolCallRequest is the ingress contract: one tool call handed to the core
// by the HTTP or MCP transport layer.
type ToolCallRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	SessionID string                 `json:"sessionId,omitempty"`
}

// CallAuth carries the transport-level authentication material for a call.
// The gate turns this into an AuthContext; it is never stored past the request.
type CallAuth struct {
	Headers         map[string]string
	SourceAddress   string
	SecureTransport bool
}

// Envelope is the uniform response wrapper for every tool call.
type Envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ToolError      `json:"error,omitempty"`
}

// SuccessEnvelope wraps handler output as a success response.
// Marshal failures degrade to an INTERNAL error envelope rather than a panic.
func SuccessEnvelope(data interface{}) Envelope {
	raw, err := json.Marshal(data)
	if err != nil {
		return ErrorEnvelope(&ToolError{
			Code:    CodeInternal,
			Message: "failed to encode tool result",
			Err:     err,
		})
	}
	return Envelope{Status: StatusSuccess, Data: raw}
}

// ErrorEnvelope wraps a ToolError as an error response.
func ErrorEnvelope(te *ToolError) Envelope {
	return Envelope{Status: StatusError, Error: te}
}

// SessionSummary is the externally visible description of a named session.
type SessionSummary struct {
	ID          string `json:"id"`
	BrowserKind string `json:"browserKind"`
	CreatedAt   int64  `json:"createdAt"`
	LastUsedAt  int64  `json:"lastUsedAt"`
	UseCount    int64  `json:"useCount"`
	InUse       bool   `json:"inUse"`
}

// RegistryMetrics is a cheap snapshot of registry-level counters.
type RegistryMetrics struct {
	TotalSessions       int     `json:"totalSessions"`
	ActiveSessions      int     `json:"activeSessions"`
	AverageSessionAgeMs float64 `json:"averageSessionAgeMs"`
	FailedSessions      int64   `json:"failedSessions"`
}

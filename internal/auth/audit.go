package auth

import (
	"sync"
	"time"
)

// auditCap bounds the in-memory decision trail.
const auditCap = 1000

// AuditEntry records one authorization decision.
type AuditEntry struct {
	Time          time.Time `json:"time"`
	Identity      string    `json:"identity"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	Allowed       bool      `json:"allowed"`
	Reason        string    `json:"reason,omitempty"`
	SourceAddress string    `json:"sourceAddress,omitempty"`
}

// auditLog is a fixed-capacity ring; oldest entries drop first.
type auditLog struct {
	mu      sync.Mutex
	entries [auditCap]AuditEntry
	length  int
	pos     int
}

func (a *auditLog) append(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[a.pos] = e
	a.pos = (a.pos + 1) % auditCap
	if a.length < auditCap {
		a.length++
	}
}

// Entries returns the recorded decisions, oldest first.
func (a *auditLog) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AuditEntry, 0, a.length)
	start := a.pos - a.length
	if start < 0 {
		start += auditCap
	}
	for i := 0; i < a.length; i++ {
		out = append(out, a.entries[(start+i)%auditCap])
	}
	return out
}

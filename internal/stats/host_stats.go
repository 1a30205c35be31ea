// Package stats provides host-level statistics for browser automation
// activity: how often each host is visited, how often actions against it
// fail, and how long its page loads take.
package stats

import (
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxHosts is the maximum number of hosts to track before LRU eviction.
const maxHosts = 10000

// evictionBatchSize is the number of hosts to evict at once to reduce eviction overhead.
const evictionBatchSize = 100

// Maximum counter value to prevent overflow (use 90% of int64 max)
const maxCounterValue int64 = 1 << 62

// HostStats tracks automation statistics for a single host.
type HostStats struct {
	mu sync.RWMutex

	// Counters
	ActionCount  int64 `json:"actionCount"`
	SuccessCount int64 `json:"successCount"`
	ErrorCount   int64 `json:"errorCount"`

	// Timing (internal, for calculations)
	totalLatencyMs int64

	// Timestamps
	LastActionTime  time.Time `json:"lastActionTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
	LastAccess      time.Time `json:"-"` // For LRU eviction, not serialized
}

// HostStatsJSON is the JSON-serializable snapshot of HostStats.
type HostStatsJSON struct {
	ActionCount     int64     `json:"actionCount"`
	SuccessCount    int64     `json:"successCount"`
	ErrorCount      int64     `json:"errorCount"`
	AvgLatencyMs    int64     `json:"avgLatencyMs"`
	ErrorRate       float64   `json:"errorRate"`
	LastActionTime  time.Time `json:"lastActionTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
}

// ToJSON converts HostStats to its JSON-serializable form.
func (s *HostStats) ToJSON() HostStatsJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avgLatency int64
	var errorRate float64
	if s.ActionCount > 0 {
		avgLatency = s.totalLatencyMs / s.ActionCount
		errorRate = float64(s.ErrorCount) / float64(s.ActionCount)
	}

	return HostStatsJSON{
		ActionCount:     s.ActionCount,
		SuccessCount:    s.SuccessCount,
		ErrorCount:      s.ErrorCount,
		AvgLatencyMs:    avgLatency,
		ErrorRate:       errorRate,
		LastActionTime:  s.LastActionTime,
		LastSuccessTime: s.LastSuccessTime,
	}
}

// ErrorRate returns the error rate (0.0-1.0) for this host.
func (s *HostStats) ErrorRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ActionCount == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.ActionCount)
}

// Manager manages statistics for all hosts.
type Manager struct {
	mu    sync.RWMutex
	hosts map[string]*HostStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a host stats manager and starts its background cleanup
// routine for stale entries.
func NewManager() *Manager {
	m := &Manager{
		hosts:  make(map[string]*HostStats),
		stopCh: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupRoutine()

	return m
}

// cleanupRoutine periodically removes stale host entries so hosts that are
// no longer visited do not grow memory without bound.
func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupStale(30 * time.Minute)
		case <-m.stopCh:
			return
		}
	}
}

// cleanupStale removes host stats that haven't been accessed recently.
func (m *Manager) cleanupStale(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var removed int

	for host, stats := range m.hosts {
		stats.mu.RLock()
		lastAccess := stats.LastAccess
		stats.mu.RUnlock()

		if now.Sub(lastAccess) > maxAge {
			delete(m.hosts, host)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("remaining", len(m.hosts)).
			Msg("Cleaned up stale host stats")
	}
}

// Close stops the background cleanup routine.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// ExtractHost extracts the host from a URL.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// getOrCreate returns the stats for a host, creating if needed.
// Implements LRU eviction when the host count exceeds maxHosts.
func (m *Manager) getOrCreate(host string) *HostStats {
	m.mu.Lock()

	stats, exists := m.hosts[host]
	if !exists {
		// Evict oldest hosts in batch if at capacity
		if len(m.hosts) >= maxHosts {
			m.evictOldestBatchLocked(evictionBatchSize)
		}
		stats = &HostStats{
			LastAccess: time.Now(), // Safe - no one else has a reference yet
		}
		m.hosts[host] = stats
		m.mu.Unlock()
		return stats
	}

	// Release manager lock before acquiring stats lock to prevent nested lock
	m.mu.Unlock()

	stats.mu.Lock()
	stats.LastAccess = time.Now()
	stats.mu.Unlock()

	return stats
}

// evictOldestBatchLocked removes the N least recently accessed hosts.
// Must be called with m.mu held. Approximate LRU is fine here; the slight
// staleness of LastAccess reads under per-stats locks is acceptable.
func (m *Manager) evictOldestBatchLocked(count int) {
	if count <= 0 || len(m.hosts) == 0 {
		return
	}

	if len(m.hosts) <= count {
		for host := range m.hosts {
			delete(m.hosts, host)
		}
		return
	}

	type hostTime struct {
		host       string
		lastAccess time.Time
	}
	candidates := make([]hostTime, 0, len(m.hosts))
	for host, stats := range m.hosts {
		stats.mu.RLock()
		lastAccess := stats.LastAccess
		stats.mu.RUnlock()
		candidates = append(candidates, hostTime{host, lastAccess})
	}

	// Selection of the N oldest; batch size is small relative to the map.
	for i := 0; i < count && i < len(candidates); i++ {
		minIdx := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].lastAccess.Before(candidates[minIdx].lastAccess) {
				minIdx = j
			}
		}
		if minIdx != i {
			candidates[i], candidates[minIdx] = candidates[minIdx], candidates[i]
		}
		delete(m.hosts, candidates[i].host)
	}
}

// Get returns the stats for a host (nil if not tracked).
func (m *Manager) Get(host string) *HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hosts[host]
}

// RecordAction updates stats after an action against a host completes.
func (m *Manager) RecordAction(host string, latencyMs int64, success bool) {
	if host == "" {
		return
	}

	stats := m.getOrCreate(host)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	// Overflow protection: reset counters if approaching max value
	if stats.ActionCount >= maxCounterValue {
		log.Warn().
			Str("host", host).
			Int64("action_count", stats.ActionCount).
			Msg("Counter overflow protection triggered, resetting stats")
		stats.ActionCount = 0
		stats.SuccessCount = 0
		stats.ErrorCount = 0
		stats.totalLatencyMs = 0
		stats.LastActionTime = time.Time{}
		stats.LastSuccessTime = time.Time{}
	}

	stats.ActionCount++
	if stats.totalLatencyMs < maxCounterValue-latencyMs {
		stats.totalLatencyMs += latencyMs
	}
	stats.LastActionTime = time.Now()

	if success {
		stats.SuccessCount++
		stats.LastSuccessTime = time.Now()
	} else {
		stats.ErrorCount++
	}
}

// ErrorRate returns the error rate for a host.
func (m *Manager) ErrorRate(host string) float64 {
	stats := m.Get(host)
	if stats == nil {
		return 0
	}
	return stats.ErrorRate()
}

// ActionCount returns the action count for a host.
func (m *Manager) ActionCount(host string) int64 {
	stats := m.Get(host)
	if stats == nil {
		return 0
	}
	stats.mu.RLock()
	defer stats.mu.RUnlock()
	return stats.ActionCount
}

// AllStats returns a copy of all host statistics.
func (m *Manager) AllStats() map[string]HostStatsJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]HostStatsJSON, len(m.hosts))
	for host, stats := range m.hosts {
		result[host] = stats.ToJSON()
	}
	return result
}

// Reset clears all statistics for a host.
func (m *Manager) Reset(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, host)
}

// ResetAll clears all host statistics.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts = make(map[string]*HostStats)
}

// HostCount returns the number of tracked hosts.
func (m *Manager) HostCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts)
}

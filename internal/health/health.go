// Package health implements the liveness, readiness, and startup probes.
// Readiness aggregates individual checks worst-wins: one unhealthy check
// makes the whole report unhealthy.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
)

// Status is one of healthy, degraded, unhealthy, ordered by severity.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Memory pressure thresholds as a fraction of system memory.
const (
	memoryDegradedPct  = 80.0
	memoryUnhealthyPct = 90.0
)

// severity orders statuses for the worst-wins aggregate.
func severity(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check is one probe outcome inside a report.
type Check struct {
	Name     string                 `json:"name"`
	Status   Status                 `json:"status"`
	Message  string                 `json:"message,omitempty"`
	Duration int64                  `json:"durationMs"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Report is the aggregate the probe endpoints serialize.
type Report struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	UptimeSec int64     `json:"uptimeSec"`
	Checks    []Check   `json:"checks,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Service runs the probes over the live components.
type Service struct {
	cfg     *config.Config
	pool    *pool.Pool
	reg     *registry.Registry
	version string
	started time.Time
	ready   atomic.Bool

	// Startup checks that are expensive or mutate state run once and are
	// served from cache on every later poll.
	configOnce  sync.Once
	configCheck Check
	bootOnce    sync.Once
	bootCheck   Check
}

// New creates the health service. MarkReady flips the startup probe once the
// server is accepting traffic.
func New(cfg *config.Config, p *pool.Pool, reg *registry.Registry, version string) *Service {
	return &Service{
		cfg:     cfg,
		pool:    p,
		reg:     reg,
		version: version,
		started: time.Now(),
	}
}

// MarkReady flips the startup probe to passing.
func (s *Service) MarkReady() {
	s.ready.Store(true)
}

// MarkStopping flips the startup and readiness probes to failing during
// shutdown so load balancers stop routing before the listener closes.
func (s *Service) MarkStopping() {
	s.ready.Store(false)
}

// Liveness reports whether the process itself is still serviceable: memory
// pressure and artifact-disk writability. Dependency state belongs to
// readiness, so a congested pool never restarts the process.
func (s *Service) Liveness() Report {
	return s.aggregate(StatusHealthy, []Check{
		s.checkMemory(),
		s.checkDisk(),
	})
}

// Startup reports whether initialization has completed: the listener is up,
// the configuration validates, and one browser has actually been launched.
func (s *Service) Startup() Report {
	base := StatusUnhealthy
	if s.ready.Load() {
		base = StatusHealthy
	}
	return s.aggregate(base, []Check{
		s.checkConfig(),
		s.checkEnv(),
		s.checkBootstrap(),
	})
}

// Readiness runs every dependency check and aggregates worst-wins.
func (s *Service) Readiness() Report {
	base := StatusHealthy
	if !s.ready.Load() {
		base = StatusUnhealthy
	}
	return s.aggregate(base, []Check{
		s.checkPool(),
		s.checkSessions(),
		s.checkMemory(),
		s.checkDisk(),
	})
}

func (s *Service) aggregate(base Status, checks []Check) Report {
	worst := base
	for _, c := range checks {
		if severity(c.Status) > severity(worst) {
			worst = c.Status
		}
	}
	return Report{
		Status:    worst,
		Version:   s.version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
		Checks:    checks,
		CheckedAt: time.Now(),
	}
}

// checkPool inspects the session pool counters. An empty pool with recorded
// failures means browsers cannot launch.
func (s *Service) checkPool() Check {
	start := time.Now()
	snap := s.pool.Snapshot()

	status := StatusHealthy
	message := ""
	switch {
	case snap.Size == 0 && snap.Failures > 0:
		status = StatusUnhealthy
		message = "pool is empty and session creation is failing"
	case snap.Available == 0 && snap.Size >= snap.MaxSize:
		status = StatusDegraded
		message = "pool is saturated; new borrows will queue"
	}

	return Check{
		Name:     "pool",
		Status:   status,
		Message:  message,
		Duration: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{
			"size":      snap.Size,
			"available": snap.Available,
			"inUse":     snap.InUse,
			"failures":  snap.Failures,
		},
	}
}

// checkSessions compares named-session usage against the configured cap.
func (s *Service) checkSessions() Check {
	start := time.Now()
	count, limit := s.reg.Count(), s.reg.Cap()

	status := StatusHealthy
	message := ""
	if limit > 0 && count >= limit {
		status = StatusDegraded
		message = "session limit reached; new create_session calls will fail"
	}

	return Check{
		Name:     "sessions",
		Status:   status,
		Message:  message,
		Duration: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{"count": count, "limit": limit},
	}
}

// checkMemory reads system memory pressure and the Go heap.
func (s *Service) checkMemory() Check {
	start := time.Now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	meta := map[string]interface{}{
		"heapAllocMB": ms.HeapAlloc / 1024 / 1024,
		"goroutines":  runtime.NumGoroutine(),
	}

	status := StatusHealthy
	message := ""
	vm, err := mem.VirtualMemory()
	if err != nil {
		status = StatusDegraded
		message = fmt.Sprintf("cannot read system memory: %v", err)
	} else {
		meta["systemUsedPct"] = vm.UsedPercent
		switch {
		case vm.UsedPercent > memoryUnhealthyPct:
			status = StatusUnhealthy
			message = fmt.Sprintf("system memory at %.1f%%", vm.UsedPercent)
		case vm.UsedPercent > memoryDegradedPct:
			status = StatusDegraded
			message = fmt.Sprintf("system memory at %.1f%%", vm.UsedPercent)
		}
	}

	return Check{
		Name:     "memory",
		Status:   status,
		Message:  message,
		Duration: time.Since(start).Milliseconds(),
		Metadata: meta,
	}
}

// checkDisk verifies the artifact directory is writable. Screenshots and HAR
// reports fail without it, so a read-only disk degrades the service.
func (s *Service) checkDisk() Check {
	start := time.Now()

	status := StatusHealthy
	message := ""
	probe := filepath.Join(s.cfg.ArtifactDir, ".healthprobe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		status = StatusDegraded
		message = fmt.Sprintf("artifact directory not writable: %v", err)
	} else {
		os.Remove(probe)
	}

	return Check{
		Name:     "disk",
		Status:   status,
		Message:  message,
		Duration: time.Since(start).Milliseconds(),
		Metadata: map[string]interface{}{"artifactDir": s.cfg.ArtifactDir},
	}
}

// checkConfig re-validates the loaded configuration. Validate rewrites
// normalized fields, so it runs once; the config does not change after load.
func (s *Service) checkConfig() Check {
	s.configOnce.Do(func() {
		start := time.Now()
		c := Check{Name: "config", Status: StatusHealthy}
		if err := s.cfg.Validate(); err != nil {
			c.Status = StatusUnhealthy
			c.Message = fmt.Sprintf("configuration invalid: %v", err)
		}
		c.Duration = time.Since(start).Milliseconds()
		s.configCheck = c
	})
	return s.configCheck
}

// checkBootstrap launches one browser through the pool and hands it straight
// back, proving the driver dependencies resolve and a session can actually be
// created. Launching is expensive, so the outcome is cached.
func (s *Service) checkBootstrap() Check {
	s.bootOnce.Do(func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c := Check{Name: "bootstrap", Status: StatusHealthy}
		rec, err := s.pool.Borrow(ctx, "", driver.Options{})
		if err != nil {
			c.Status = StatusUnhealthy
			c.Message = fmt.Sprintf("cannot launch a browser: %v", err)
		} else {
			s.pool.Return(rec.ID, false)
		}
		c.Duration = time.Since(start).Milliseconds()
		s.bootCheck = c
	})
	return s.bootCheck
}

// checkEnv reports configuration environment variables that are referenced
// but unset. Missing variables degrade rather than fail: defaults still work.
func (s *Service) checkEnv() Check {
	start := time.Now()

	status := StatusHealthy
	message := ""
	missing := config.MissingEnv()
	if len(missing) > 0 {
		status = StatusDegraded
		message = "unset environment variables: " + strings.Join(missing, ", ")
	}

	return Check{
		Name:     "env",
		Status:   status,
		Message:  message,
		Duration: time.Since(start).Milliseconds(),
	}
}

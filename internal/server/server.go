// Package server exposes the tool dispatcher over HTTP: the tool-call
// endpoint, session and status listings, the health probes, and the
// Prometheus scrape endpoint. It also owns the shutdown sequence.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/browserctl/browserctl-go/internal/assets"
	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/health"
	"github.com/browserctl/browserctl-go/internal/metrics"
	mw "github.com/browserctl/browserctl-go/internal/middleware"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
	"github.com/browserctl/browserctl-go/internal/stats"
	"github.com/browserctl/browserctl-go/internal/types"
)

// maxRequestBody caps tool-call request bodies at 1MB.
const maxRequestBody = 1 << 20

// gaugeInterval paces the pool/session gauge refresh.
const gaugeInterval = 10 * time.Second

// Server ties the transport to the dispatcher and owns shutdown ordering.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	health     *health.Service
	reg        *registry.Registry
	pool       *pool.Pool
	stats      *stats.Manager
	version    string
	started    time.Time

	httpServer *http.Server
	stopCh     chan struct{}
}

// New builds the server and its router. st may be nil; the hosts listing is
// then empty.
func New(cfg *config.Config, d *dispatch.Dispatcher, h *health.Service, reg *registry.Registry, p *pool.Pool, st *stats.Manager, version string) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		health:     h,
		reg:        reg,
		pool:       p,
		stats:      st,
		version:    version,
		started:    time.Now(),
		stopCh:     make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Tool calls can legitimately run for minutes (profiling, waits).
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.CORS(mw.CORSConfig{}))
	if s.cfg.RateLimitPerIP > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitPerIP, time.Minute))
	}

	r.Get("/", s.handleIndex)

	r.Post("/v1/tools/call", s.handleToolCall)
	r.Get("/v1/tools", s.handleListTools)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/hosts", s.handleListHosts)
	r.Post("/v1/pool/cleanup", s.handlePoolCleanup)

	r.Get("/health/live", s.probeHandler(s.health.Liveness))
	r.Get("/health/ready", s.probeHandler(s.health.Readiness))
	r.Get("/health/startup", s.probeHandler(s.health.Startup))

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// Start begins serving and blocks until the listener closes. The listener is
// capped at WorkerCap concurrent connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	if s.cfg.WorkerCap > 0 {
		ln = netutil.LimitListener(ln, s.cfg.WorkerCap)
	}

	metrics.SetBuildInfo(s.version, runtime.Version())
	go metrics.StartMemoryCollector(gaugeInterval, s.stopCh)
	go s.gaugeLoop()

	s.health.MarkReady()
	log.Info().
		Str("addr", s.httpServer.Addr).
		Int("worker_cap", s.cfg.WorkerCap).
		Msg("HTTP server listening")

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop runs the shutdown sequence: stop advertising readiness, drain
// in-flight calls, destroy sessions, tear down the pool, close the listener.
func (s *Server) Stop(ctx context.Context) {
	log.Info().Msg("Shutting down")
	s.health.MarkStopping()
	close(s.stopCh)

	if !s.dispatcher.Drain(s.cfg.DrainTimeout) {
		log.Warn().Msg("Drain incomplete; abandoning in-flight calls")
	}
	s.reg.Shutdown()
	s.pool.Shutdown()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	log.Info().Msg("Shutdown complete")
}

// handleToolCall decodes one tool call, runs it through the dispatcher, and
// writes the envelope. Transport errors use the same envelope shape.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req types.ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, types.ErrorEnvelope(
			types.NewValidationError("", "", "request body is not valid JSON")))
		return
	}
	if req.Tool == "" {
		writeEnvelope(w, http.StatusBadRequest, types.ErrorEnvelope(
			types.NewValidationError("tool", "", "tool name is required")))
		return
	}

	start := time.Now()
	env := s.dispatcher.Dispatch(r.Context(), req, s.callAuth(r))

	code := "OK"
	status := http.StatusOK
	if env.Error != nil {
		code = env.Error.Code
		status = httpStatusFor(code)
	}
	metrics.RecordToolCall(req.Tool, code, time.Since(start))
	writeEnvelope(w, status, env)
}

// callAuth lifts the transport authentication material off the request.
func (s *Server) callAuth(r *http.Request) types.CallAuth {
	headers := map[string]string{}
	for _, name := range []string{"X-Api-Key", "Authorization"} {
		if v := r.Header.Get(name); v != "" {
			headers[name] = v
		}
	}

	addr := r.RemoteAddr
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			addr = fwd
		}
	}

	return types.CallAuth{
		Headers:         headers,
		SourceAddress:   addr,
		SecureTransport: r.TLS != nil,
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Name        string `json:"name"`
		Resource    string `json:"resource"`
		Action      string `json:"action"`
		Description string `json:"description"`
	}
	descs := s.dispatcher.Descriptors()
	out := make([]toolInfo, 0, len(descs))
	for _, desc := range descs {
		out = append(out, toolInfo{
			Name:        desc.Name,
			Resource:    desc.Resource,
			Action:      desc.Action,
			Description: desc.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": out})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.reg.List(),
		"metrics":  s.reg.Metrics(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Snapshot()
	page, err := assets.RenderStatusPage(assets.StatusPageData{
		Version:   s.version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		PoolSize:  snap.Size,
		Available: snap.Available,
		Sessions:  s.reg.Count(),
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, types.ErrorEnvelope(&types.ToolError{
			Code:    types.CodeInternal,
			Message: "status page unavailable",
		}))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(page))
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts := map[string]stats.HostStatsJSON{}
	if s.stats != nil {
		hosts = s.stats.AllStats()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": hosts})
}

// handlePoolCleanup probes every idle pool record and destroys the failures.
func (s *Server) handlePoolCleanup(w http.ResponseWriter, r *http.Request) {
	destroyed := s.pool.ForceCleanup(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"destroyed": destroyed})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   s.version,
		"uptimeSec": int64(time.Since(s.started).Seconds()),
		"pool":      s.pool.Snapshot(),
		"sessions":  s.reg.Metrics(),
	})
}

// probeHandler serializes one health report; non-healthy reports get 503.
func (s *Server) probeHandler(probe func() health.Report) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := probe()
		status := http.StatusOK
		if report.Status == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// gaugeLoop refreshes the pool and session gauges until shutdown.
func (s *Server) gaugeLoop() {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := s.pool.Snapshot()
			metrics.UpdatePoolMetrics(snap.Size, snap.Available)
			metrics.UpdateSessionMetrics(s.reg.Count())
		case <-s.stopCh:
			return
		}
	}
}

// httpStatusFor maps stable error codes to HTTP statuses.
func httpStatusFor(code string) int {
	switch code {
	case types.CodeValidation, types.CodeUnknownTool:
		return http.StatusBadRequest
	case types.CodeAuthRequired, types.CodeAuthFailed:
		return http.StatusUnauthorized
	case types.CodePermissionDenied:
		return http.StatusForbidden
	case types.CodeSessionNotFound:
		return http.StatusNotFound
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeSessionLimit, types.CodePoolExhausted:
		return http.StatusConflict
	case types.CodePoolClosed:
		return http.StatusServiceUnavailable
	case types.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeEnvelope(w http.ResponseWriter, status int, env types.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("Failed to encode response envelope")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

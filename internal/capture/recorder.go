package capture

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// maxCapturedRequests bounds a single capture; the oldest capture keeps
// running but stops recording past the cap.
const maxCapturedRequests = 2000

// Recorder observes every request on one page through a hijack router and
// optionally blocks matching URLs.
type Recorder struct {
	mu       sync.Mutex
	router   *rod.HijackRouter
	requests []CapturedRequest
	blocked  []string
	active   bool
}

// start attaches the router to the page and begins recording.
func (r *Recorder) start(page *rod.Page) error {
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		url := h.Request.URL().String()
		method := h.Request.Method()
		started := time.Now()

		if r.isBlocked(url) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			r.record(CapturedRequest{
				URL:       url,
				Method:    method,
				StartedAt: started,
				Blocked:   true,
			})
			return
		}

		reqSize := int64(len(h.Request.Body()))
		if err := h.LoadResponse(http.DefaultClient, true); err != nil {
			r.record(CapturedRequest{
				URL:         url,
				Method:      method,
				RequestSize: reqSize,
				StartedAt:   started,
				DurationMs:  float64(time.Since(started).Milliseconds()),
			})
			return
		}

		body := h.Response.Body()
		r.record(CapturedRequest{
			URL:          url,
			Method:       method,
			Status:       h.Response.Payload().ResponseCode,
			MimeType:     h.Response.Headers().Get("Content-Type"),
			RequestSize:  reqSize,
			ResponseSize: int64(len(body)),
			StartedAt:    started,
			DurationMs:   float64(time.Since(started).Milliseconds()),
		})
	})
	if err != nil {
		return fmt.Errorf("attach capture router: %w", err)
	}

	go router.Run()

	r.mu.Lock()
	r.router = router
	r.active = true
	r.mu.Unlock()
	return nil
}

// stop detaches the router and returns everything recorded so far.
func (r *Recorder) stop() []CapturedRequest {
	r.mu.Lock()
	router := r.router
	r.router = nil
	r.active = false
	out := make([]CapturedRequest, len(r.requests))
	copy(out, r.requests)
	r.mu.Unlock()

	if router != nil {
		if err := router.Stop(); err != nil {
			log.Debug().Err(err).Msg("Error stopping capture router")
		}
	}
	return out
}

func (r *Recorder) record(req CapturedRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) < maxCapturedRequests {
		r.requests = append(r.requests, req)
	}
}

func (r *Recorder) isBlocked(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pattern := range r.blocked {
		if matchURLPattern(pattern, url) {
			return true
		}
	}
	return false
}

func (r *Recorder) block(patterns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked = append(r.blocked, patterns...)
}

// matchURLPattern supports substring match and trailing-* prefixes.
func matchURLPattern(pattern, url string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(url, strings.TrimSuffix(pattern, "*"))
	}
	return strings.Contains(url, pattern)
}

// Manager keys one recorder per session id.
type Manager struct {
	mu        sync.Mutex
	recorders map[string]*Recorder
}

// NewManager creates an empty capture manager.
func NewManager() *Manager {
	return &Manager{recorders: make(map[string]*Recorder)}
}

// Start begins capturing traffic on the session's page. Starting twice is an
// error; stop the running capture first.
func (m *Manager) Start(sessionID string, page *rod.Page) error {
	m.mu.Lock()
	if rec, exists := m.recorders[sessionID]; exists && rec.active {
		m.mu.Unlock()
		return fmt.Errorf("capture already running for session %s", sessionID)
	}
	rec := &Recorder{}
	m.recorders[sessionID] = rec
	m.mu.Unlock()

	if err := rec.start(page); err != nil {
		m.mu.Lock()
		delete(m.recorders, sessionID)
		m.mu.Unlock()
		return err
	}

	log.Info().Str("session_id", sessionID).Msg("Network capture started")
	return nil
}

// Stop ends the capture and returns the recorded requests. Stopping a
// session with no capture returns an empty slice.
func (m *Manager) Stop(sessionID string) []CapturedRequest {
	m.mu.Lock()
	rec, ok := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	requests := rec.stop()
	log.Info().
		Str("session_id", sessionID).
		Int("requests", len(requests)).
		Msg("Network capture stopped")
	return requests
}

// Block adds URL patterns to the session's running capture. A capture must
// be running; blocking without recording is not supported by the router.
func (m *Manager) Block(sessionID string, patterns []string) error {
	m.mu.Lock()
	rec, ok := m.recorders[sessionID]
	m.mu.Unlock()
	if !ok || !rec.active {
		return fmt.Errorf("no capture running for session %s", sessionID)
	}
	rec.block(patterns)
	return nil
}

// Drop discards any recorder state for the session, used when the session is
// destroyed mid-capture.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	rec, ok := m.recorders[sessionID]
	delete(m.recorders, sessionID)
	m.mu.Unlock()
	if ok {
		rec.stop()
	}
}

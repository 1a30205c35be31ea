// Package driver constructs and tears down browser automation handles.
// A Handle wraps one live browser reached over CDP; the pool owns every
// handle through its session records.
package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/types"
)

// probeDeadline bounds the navigation and script round trips inside Probe.
const probeDeadline = 5 * time.Second

// Options configure one browser launch. The recognized set is closed.
type Options struct {
	Headless   bool
	WindowSize *WindowSize
	UserAgent  string
	ExtraArgs  []string
	Stealth    bool
}

// WindowSize is the initial window geometry.
type WindowSize struct {
	W int
	H int
}

// Handle is an opaque reference to one live remote-controlled browser.
// It is owned by exactly one session record and never shared.
type Handle struct {
	Kind       string
	Browser    *rod.Browser
	ControlURL string
	Serial     int64
	stealth    bool
}

// ProbeResult reports the outcome of one health probe round trip.
type ProbeResult struct {
	Healthy          bool
	CanNavigate      bool
	CanExecuteScript bool
	ResponseTime     time.Duration
}

// Factory turns a (kind, options) pair into a usable Handle. The pool and
// its tests depend on this interface, not on the rod implementation.
type Factory interface {
	Create(ctx context.Context, kind string, opts Options) (*Handle, error)
	Close(h *Handle)
	Validate(h *Handle) bool
	Probe(ctx context.Context, h *Handle) ProbeResult
}

// RodFactory launches real browsers through rod's launcher and CDP.
type RodFactory struct {
	cfg    *config.Config
	serial atomic.Int64
}

// NewRodFactory creates a factory using the configured browser paths.
func NewRodFactory(cfg *config.Config) *RodFactory {
	return &RodFactory{cfg: cfg}
}

// Create launches a browser of the given kind and connects to it.
// Unknown kinds fail with ErrUnsupportedBrowser; launch and connect failures
// are wrapped as DriverCreationError. Never retried at this layer.
func (f *RodFactory) Create(ctx context.Context, kind string, opts Options) (*Handle, error) {
	if kind != config.BrowserChromium && kind != config.BrowserFirefox {
		return nil, &types.DriverCreationError{
			Kind:    kind,
			Message: fmt.Sprintf("unsupported browser kind %q", kind),
			Err:     types.ErrUnsupportedBrowser,
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l := f.buildLauncher(kind, opts)

	url, err := l.Launch()
	if err != nil {
		return nil, &types.DriverCreationError{
			Kind:    kind,
			Message: fmt.Sprintf("failed to launch %s browser: %v", kind, err),
			Err:     fmt.Errorf("%w: %v", types.ErrDriverCreate, err),
		}
	}

	// The browser outlives the create call, so it is not bound to ctx.
	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, &types.DriverCreationError{
			Kind:    kind,
			Message: fmt.Sprintf("failed to connect to %s browser: %v", kind, err),
			Err:     fmt.Errorf("%w: %v", types.ErrDriverCreate, err),
		}
	}

	h := &Handle{
		Kind:       kind,
		Browser:    browser,
		ControlURL: url,
		Serial:     f.serial.Add(1),
		stealth:    opts.Stealth,
	}

	log.Debug().
		Str("kind", kind).
		Int64("serial", h.Serial).
		Msg("Browser launched")

	return h, nil
}

// buildLauncher assembles launch flags for the kind. Container-safe flags
// are always set; anti-detection flags are applied only for stealth.
func (f *RodFactory) buildLauncher(kind string, opts Options) *launcher.Launcher {
	l := launcher.New()

	switch kind {
	case config.BrowserFirefox:
		if f.cfg.FirefoxPath != "" {
			l = l.Bin(f.cfg.FirefoxPath)
		}
	case config.BrowserChromium:
		if f.cfg.BrowserPath != "" {
			l = l.Bin(f.cfg.BrowserPath)
		}
	}

	if opts.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; disable it explicitly.
		l = l.Headless(false)
	}

	// Container safety
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	// Quiet first-run behavior
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("mute-audio")

	if opts.WindowSize != nil {
		l = l.Set("window-size", strconv.Itoa(opts.WindowSize.W)+","+strconv.Itoa(opts.WindowSize.H))
	} else {
		l = l.Set("window-size", "1920,1080")
	}

	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}

	if opts.Stealth {
		l = l.Set("disable-blink-features", "AutomationControlled")
		l = l.Delete("enable-automation")
	}

	for _, arg := range opts.ExtraArgs {
		name, value, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}

	return l
}

// NewPage opens a fresh page on the handle, using the stealth bundle when the
// handle was created with the stealth option.
func (h *Handle) NewPage() (*rod.Page, error) {
	if h.stealth {
		return stealth.Page(h.Browser)
	}
	return h.Browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// Close tears down the browser. Idempotent; errors are logged and swallowed
// so close never fails the caller.
func (f *RodFactory) Close(h *Handle) {
	if h == nil || h.Browser == nil {
		return
	}
	if err := h.Browser.Close(); err != nil {
		log.Warn().
			Err(err).
			Int64("serial", h.Serial).
			Msg("Error closing browser")
	}
	h.Browser = nil
}

// Validate is a cheap "is the transport still alive" probe.
func (f *RodFactory) Validate(h *Handle) bool {
	if h == nil || h.Browser == nil {
		return false
	}
	// A version query is the lightest CDP round trip available.
	_, err := proto.BrowserGetVersion{}.Call(h.Browser)
	return err == nil
}

// Probe performs one trivial navigation and one trivial script execution
// round trip, each bounded by a short internal deadline.
func (f *RodFactory) Probe(ctx context.Context, h *Handle) ProbeResult {
	res := ProbeResult{}
	if h == nil || h.Browser == nil {
		return res
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, probeDeadline)
	defer cancel()

	page, err := h.Browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		log.Debug().Err(err).Int64("serial", h.Serial).Msg("Probe failed: cannot create page")
		res.ResponseTime = time.Since(start)
		return res
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing probe page")
		}
	}()

	page = page.Context(probeCtx)

	if err := page.Navigate("about:blank"); err == nil {
		res.CanNavigate = true
	} else {
		log.Debug().Err(err).Int64("serial", h.Serial).Msg("Probe failed: cannot navigate")
	}

	if _, err := page.Eval(`() => 1 + 1`); err == nil {
		res.CanExecuteScript = true
	} else {
		log.Debug().Err(err).Int64("serial", h.Serial).Msg("Probe failed: cannot execute script")
	}

	res.ResponseTime = time.Since(start)
	res.Healthy = res.CanNavigate && res.CanExecuteScript
	return res
}

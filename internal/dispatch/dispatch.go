package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/browserctl/browserctl-go/internal/auth"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
	"github.com/browserctl/browserctl-go/internal/security"
	"github.com/browserctl/browserctl-go/internal/types"
)

// Invocation is one tool call in flight, handed to the handler after the
// pipeline has authorized, bound, and validated it.
type Invocation struct {
	Tool      string
	Params    map[string]interface{}
	SessionID string
	Session   *pool.Record // nil for session-less tools
	Auth      *auth.Context
	Start     time.Time
}

// Handler executes one validated tool call.
type Handler func(ctx context.Context, inv *Invocation) (interface{}, error)

// Descriptor declares one tool: its auth surface, its closed parameter
// schema, and its handler. Schemas are values, not reflection.
type Descriptor struct {
	Name        string
	Resource    string
	Action      string
	Description string
	Schema      Schema
	SessionLess bool
	Handler     Handler
}

// Dispatcher owns the descriptor table and runs the call pipeline:
// resolve, authorize, validate, bind session, execute, track, envelope.
// Parameter validation runs before session binding so a bad URL never
// costs a session borrow.
type Dispatcher struct {
	gate *auth.Gate
	reg  *registry.Registry
	pool *pool.Pool

	mu    sync.Mutex
	tools map[string]*Descriptor

	draining atomic.Bool
	inflight sync.WaitGroup
}

// New creates a dispatcher over the gate, registry, and pool.
func New(gate *auth.Gate, reg *registry.Registry, p *pool.Pool) *Dispatcher {
	return &Dispatcher{
		gate:  gate,
		reg:   reg,
		pool:  p,
		tools: make(map[string]*Descriptor),
	}
}

// Register adds a descriptor. Duplicate names are a programmer error.
func (d *Dispatcher) Register(desc *Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tools[desc.Name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", desc.Name))
	}
	d.tools[desc.Name] = desc
}

// Descriptors returns the registered tools sorted by name.
func (d *Dispatcher) Descriptors() []*Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Descriptor, 0, len(d.tools))
	for _, desc := range d.tools {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Registry exposes the registry for transports that list sessions directly.
func (d *Dispatcher) Registry() *registry.Registry {
	return d.reg
}

// Drain refuses new intakes and waits for in-flight calls up to the deadline.
// Calls still running at the deadline are abandoned; their sessions die with
// the pool.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	d.draining.Store(true)

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("Drain deadline reached with calls still in flight")
		return false
	}
}

// Dispatch runs one tool call through the full pipeline and always returns
// an envelope; pipeline errors never escape as Go errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.ToolCallRequest, callAuth types.CallAuth) types.Envelope {
	if d.draining.Load() {
		return types.ErrorEnvelope(types.NewToolError(
			types.ErrPoolClosed,
			"server is shutting down",
		))
	}

	d.inflight.Add(1)
	defer d.inflight.Done()

	authCtx, err := d.gate.Authenticate(callAuth)
	if err != nil {
		return types.ErrorEnvelope(asToolError(err))
	}

	d.mu.Lock()
	desc, ok := d.tools[req.Tool]
	d.mu.Unlock()
	if !ok {
		return types.ErrorEnvelope(types.NewToolError(
			fmt.Errorf("%w: %s", types.ErrUnknownTool, req.Tool),
			fmt.Sprintf("unknown tool %q", req.Tool),
		).WithHint("list the registered tools for valid names"))
	}

	if err := d.gate.Authorize(authCtx, desc.Resource, desc.Action, nil); err != nil {
		return types.ErrorEnvelope(asToolError(err))
	}

	params := req.Arguments
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := desc.Schema.Validate(params); err != nil {
		return types.ErrorEnvelope(asToolError(err))
	}

	inv := &Invocation{
		Tool:      req.Tool,
		Params:    params,
		SessionID: req.SessionID,
		Auth:      authCtx,
		Start:     time.Now(),
	}

	if !desc.SessionLess {
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID, err = d.reg.PickDefault()
			if err != nil {
				return types.ErrorEnvelope(asToolError(err))
			}
		} else if msg := security.ValidateSessionID(sessionID); msg != "" {
			// Caller-supplied ids are validated before any registry lookup so
			// malformed input never reaches logs or lookups verbatim.
			return types.ErrorEnvelope(types.NewValidationError("sessionId", "", msg))
		}
		rec, err := d.reg.GetSession(sessionID)
		if err != nil {
			return types.ErrorEnvelope(asToolError(err))
		}
		inv.SessionID = sessionID
		inv.Session = rec
	}

	if inv.Session != nil {
		// One call at a time per session: the record mutex guards only
		// metadata, so handler execution holds the record's exec slot.
		if err := inv.Session.AcquireExec(ctx); err != nil {
			return types.ErrorEnvelope(types.NewToolError(
				fmt.Errorf("%w: %v", types.ErrTimeout, err),
				"session is busy with another call",
			).WithHint("wait for the in-flight call on this session to finish"))
		}
	}

	data, err := desc.Handler(ctx, inv)
	duration := time.Since(inv.Start)

	if inv.Session != nil {
		inv.Session.ReleaseExec()
	}

	if inv.Session != nil {
		selector, _ := params["selector"].(string)
		d.reg.TrackAction(inv.SessionID, req.Tool, selector, err == nil, duration)
		d.settleSession(inv, err)
	}

	if err != nil {
		te := asToolError(err)
		log.Debug().
			Str("tool", req.Tool).
			Str("code", te.Code).
			Dur("duration", duration).
			Msg("Tool call failed")
		return types.ErrorEnvelope(te)
	}

	log.Debug().
		Str("tool", req.Tool).
		Dur("duration", duration).
		Msg("Tool call completed")
	return types.SuccessEnvelope(data)
}

// settleSession updates the session's error bookkeeping after a call. A lost
// transport or a record over its error budget is destroyed immediately so
// the pool can retire it and replace capacity.
func (d *Dispatcher) settleSession(inv *Invocation, callErr error) {
	if callErr == nil {
		inv.Session.MarkSuccess()
		return
	}

	inv.Session.MarkFailure()

	if errors.Is(callErr, types.ErrTransportLost) {
		inv.Session.DropPage()
		log.Warn().Str("session_id", inv.SessionID).Msg("Driver transport lost, destroying session")
		d.reg.DestroySessionWithErrors(inv.SessionID)
		return
	}

	if d.pool.ShouldRetire(inv.Session.ID) {
		log.Warn().Str("session_id", inv.SessionID).Msg("Session crossed its error budget, destroying")
		d.reg.DestroySessionWithErrors(inv.SessionID)
	}
}

// asToolError shapes any error as a ToolError without double-wrapping.
func asToolError(err error) *types.ToolError {
	var te *types.ToolError
	if errors.As(err, &te) {
		return te
	}
	return types.NewToolError(err, err.Error())
}

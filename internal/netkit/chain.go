// internal/netkit/chain.go
package netkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ActionKind discriminates the outcome of a before-request hook.
type ActionKind int

const (
	// ActionContinue passes the request to the next interceptor unchanged.
	ActionContinue ActionKind = iota
	// ActionRewrite substitutes a modified request and continues.
	ActionRewrite
	// ActionFulfill short-circuits the wire with a synthetic response.
	ActionFulfill
	// ActionAbort drops the exchange entirely.
	ActionAbort
)

// Action is the result of a BeforeRequest hook.
type Action struct {
	Kind     ActionKind
	Request  *Request
	Response *Response
	Reason   error
}

// Continue keeps the chain moving.
func Continue() Action { return Action{Kind: ActionContinue} }

// Rewrite substitutes req for the in-flight request.
func Rewrite(req *Request) Action { return Action{Kind: ActionRewrite, Request: req} }

// Fulfill answers the request without touching the wire.
func Fulfill(resp *Response) Action { return Action{Kind: ActionFulfill, Response: resp} }

// Abort terminates the exchange with a reason.
func Abort(reason error) Action { return Action{Kind: ActionAbort, Reason: reason} }

// Interceptor is a named chain element. The two hooks are optional; an
// interceptor implements whichever sub-interfaces it needs.
type Interceptor interface {
	Name() string
}

// RequestHook runs before the request hits the wire, in registration order.
type RequestHook interface {
	BeforeRequest(ctx context.Context, req *Request) Action
}

// ResponseHook runs after the response is available, in reverse registration
// order, and may observe or rewrite the response.
type ResponseHook interface {
	AfterResponse(ctx context.Context, req *Request, resp *Response) *Response
}

// ErrAborted wraps the reason an interceptor gave for dropping an exchange.
var ErrAborted = errors.New("request aborted by interceptor")

// Chain applies an ordered interceptor sequence to every exchange. The wire
// itself is a Client; a Fulfill action replaces it for that exchange.
type Chain struct {
	mu           sync.Mutex
	interceptors []Interceptor
	client       *Client
	log          *EventLog
	logger       *zap.Logger
}

// NewChain builds a chain over a client and an event log.
func NewChain(client *Client, log *EventLog, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		client: client,
		log:    log,
		logger: logger.Named("chain"),
	}
}

// Register appends an interceptor. The event recorder is installed by the
// browser as the final registration so it observes the fully rewritten
// request and the raw wire response.
func (c *Chain) Register(i Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
}

// Names lists registered interceptors in order, mostly for diagnostics.
func (c *Chain) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.interceptors))
	for i, ic := range c.interceptors {
		out[i] = ic.Name()
	}
	return out
}

// Execute runs one exchange through the chain. Transport failures are not
// returned as errors to interceptors; the chain writes them to the event log
// as failed events and then returns the error to the caller.
func (c *Chain) Execute(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	chain := make([]Interceptor, len(c.interceptors))
	copy(chain, c.interceptors)
	c.mu.Unlock()

	if req.CorrelationID == 0 && c.log != nil {
		req.CorrelationID = c.log.NextCorrelationID()
	}

	current := req
	var fulfilled *Response
	// Interceptors whose BeforeRequest returned Continue (or that have no
	// request hook) still see the response, LIFO.
	var continued []Interceptor

loop:
	for _, ic := range chain {
		hook, ok := ic.(RequestHook)
		if !ok {
			continued = append(continued, ic)
			continue
		}
		action := hook.BeforeRequest(ctx, current)
		switch action.Kind {
		case ActionContinue:
			continued = append(continued, ic)
		case ActionRewrite:
			if action.Request != nil {
				action.Request.CorrelationID = current.CorrelationID
				current = action.Request
			}
			continued = append(continued, ic)
		case ActionFulfill:
			fulfilled = action.Response
			break loop
		case ActionAbort:
			reason := action.Reason
			if reason == nil {
				reason = ErrAborted
			}
			c.recordFailure(current, reason)
			return nil, errors.Join(ErrAborted, reason)
		}
	}

	var resp *Response
	if fulfilled != nil {
		resp = fulfilled
		resp.CorrelationID = current.CorrelationID
		if resp.Start.IsZero() {
			resp.Start = time.Now()
			resp.End = resp.Start
		}
	} else {
		wire, err := c.client.Do(ctx, current)
		if err != nil {
			c.recordFailure(current, err)
			return nil, err
		}
		resp = wire
	}

	for i := len(continued) - 1; i >= 0; i-- {
		hook, ok := continued[i].(ResponseHook)
		if !ok {
			continue
		}
		if next := hook.AfterResponse(ctx, current, resp); next != nil {
			next.CorrelationID = resp.CorrelationID
			resp = next
		}
	}
	return resp, nil
}

func (c *Chain) recordFailure(req *Request, reason error) {
	if c.log == nil {
		return
	}
	c.log.Record(NetworkEvent{Request: req.Clone(), FailureReason: reason.Error()})
}

// --- Built-in interceptors ---

// AuthHeaderInjector unconditionally inserts auth headers into every
// outbound request, overriding caller-set values of the same name.
type AuthHeaderInjector struct {
	mu      sync.Mutex
	headers Headers
}

// NewAuthHeaderInjector builds an injector with a bearer token; extra custom
// headers can be added with SetHeader.
func NewAuthHeaderInjector(bearerToken string) *AuthHeaderInjector {
	inj := &AuthHeaderInjector{}
	if bearerToken != "" {
		inj.headers.Set("Authorization", "Bearer "+bearerToken)
	}
	return inj
}

func (a *AuthHeaderInjector) Name() string { return "auth-header-injector" }

// SetHeader replaces the injected value for name.
func (a *AuthHeaderInjector) SetHeader(name, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.headers.Set(name, value)
}

// SetBearer replaces the injected bearer token; empty clears it.
func (a *AuthHeaderInjector) SetBearer(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if token == "" {
		a.headers.Del("Authorization")
		return
	}
	a.headers.Set("Authorization", "Bearer "+token)
}

func (a *AuthHeaderInjector) BeforeRequest(_ context.Context, req *Request) Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range a.headers {
		req.Headers.Set(f.Name, f.Value)
	}
	return Continue()
}

// RateLimitInterceptor throttles outbound requests so scans stay polite.
type RateLimitInterceptor struct {
	limiter *rate.Limiter
}

// NewRateLimitInterceptor allows rps requests per second with the given burst.
func NewRateLimitInterceptor(rps float64, burst int) *RateLimitInterceptor {
	return &RateLimitInterceptor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimitInterceptor) Name() string { return "rate-limit" }

func (r *RateLimitInterceptor) BeforeRequest(ctx context.Context, _ *Request) Action {
	if err := r.limiter.Wait(ctx); err != nil {
		return Abort(err)
	}
	return Continue()
}

// EventRecorder appends the final pre-wire request and post-wire response to
// the event log. It must be registered last: BeforeRequest then sees the
// request after every rewrite, and AfterResponse (reverse order) sees the
// response before any rewrite.
type EventRecorder struct {
	log *EventLog

	mu      sync.Mutex
	pending map[uint64]*Request
}

// NewEventRecorder wires a recorder to a log.
func NewEventRecorder(log *EventLog) *EventRecorder {
	return &EventRecorder{log: log, pending: make(map[uint64]*Request)}
}

func (r *EventRecorder) Name() string { return "event-recorder" }

func (r *EventRecorder) BeforeRequest(_ context.Context, req *Request) Action {
	r.mu.Lock()
	r.pending[req.CorrelationID] = req.Clone()
	r.mu.Unlock()
	return Continue()
}

func (r *EventRecorder) AfterResponse(_ context.Context, req *Request, resp *Response) *Response {
	r.mu.Lock()
	recorded, ok := r.pending[req.CorrelationID]
	delete(r.pending, req.CorrelationID)
	r.mu.Unlock()
	if !ok {
		recorded = req.Clone()
	}
	r.log.Record(NetworkEvent{Request: recorded, Response: resp.Clone()})
	return nil
}

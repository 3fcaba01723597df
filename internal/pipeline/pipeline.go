// Package pipeline implements the Session Server's per-connection pipeline
// of §4.6: one goroutine per accepted TCP connection, running envelope
// validation, auth gates, schema validation, idempotency caching, and
// dispatch -- including bulk.execute's capture mode.
//
// Grounded on the teacher's one-task-per-connection model
// (consumer.Service.QueueTasks queuing tasks.Queue("service.Watch", ...))
// and on consumer/context.go's ConsumerContext, the direct ancestor of
// Context here: a per-unit-of-work struct carrying a cache handle and a
// writer.
package pipeline

import (
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"twclone/internal/envelope"
	"twclone/internal/errcode"
)

// HandlerFunc processes one C2S request and returns the response data (for
// status=ok) or an error. Handlers never write to the socket directly;
// Pipeline.Dispatch does, except in capture mode.
type HandlerFunc func(ctx *Context, data map[string]interface{}) (map[string]interface{}, error)

// AuthFunc reports whether the current connection is authenticated, and
// whether it holds the SysOp role.
type AuthFunc func(ctx *Context) (authenticated bool, isSysOp bool)

var ansiEscape = regexp.MustCompile("\x1b\\[[0-9;]*[a-zA-Z]")

// StripANSI removes ANSI escape sequences from s. Grounded in §9's
// "response-side filter... walk the JSON tree once"; no ANSI-stripping
// library appears anywhere in the retrieval pack, so the one-line
// regexp.MustCompile filter is the grounded standard-library choice (see
// DESIGN.md).
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// stripANSITree walks v (the decoded JSON value) and strips ANSI escapes
// from every string it finds, recursively through maps and slices.
func stripANSITree(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return StripANSI(t)
	case map[string]interface{}:
		for k, sub := range t {
			t[k] = stripANSITree(sub)
		}
		return t
	case []interface{}:
		for i, sub := range t {
			t[i] = stripANSITree(sub)
		}
		return t
	default:
		return v
	}
}

// Registry is the command dispatch table: dotted type -> HandlerFunc.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces the handler for typ.
func (r *Registry) Register(typ string, h HandlerFunc) {
	r.handlers[typ] = h
}

func (r *Registry) lookup(typ string) (HandlerFunc, bool) {
	var h, ok = r.handlers[typ]
	return h, ok
}

// IdempotencyCache caches responses by idempotency_key so a retried
// request replays the cached response verbatim (§4.6 step 5, §8 Testable
// Property #8) instead of re-running the handler.
type IdempotencyCache struct {
	mu      sync.RWMutex
	entries map[string]envelope.Response
}

// NewIdempotencyCache returns an empty cache.
func NewIdempotencyCache() *IdempotencyCache {
	return &IdempotencyCache{entries: make(map[string]envelope.Response)}
}

func (c *IdempotencyCache) get(key string) (envelope.Response, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var r, ok = c.entries[key]
	return r, ok
}

func (c *IdempotencyCache) put(key string, resp envelope.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = resp
}

// Pipeline wires a Registry, schema registry, idempotency cache, and the
// connection set used by Broadcast (§4.6's "pipeline exposes
// broadcast(event_type, payload)").
type Pipeline struct {
	reg      *Registry
	schemas  *envelope.Registry
	idemp    *IdempotencyCache
	auth     AuthFunc
	connsMu  sync.Mutex
	conns    map[*Conn]struct{}
	serverID string
}

// New returns a Pipeline. auth decides, per request, whether the calling
// connection is authenticated and whether it holds the SysOp role.
func New(reg *Registry, schemas *envelope.Registry, auth AuthFunc, serverID string) *Pipeline {
	return &Pipeline{
		reg: reg, schemas: schemas, idemp: NewIdempotencyCache(), auth: auth,
		conns: make(map[*Conn]struct{}), serverID: serverID,
	}
}

// Conn is a registered connection, used only as a broadcast target;
// internal/pipeline doesn't own the socket itself (the connection handler
// in cmd/sessiond does) -- Conn is the minimal write surface Broadcast needs.
type Conn struct {
	Write func(envelope.Response) error
}

// Register adds conn to the broadcast set.
func (p *Pipeline) Register(conn *Conn) {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	p.conns[conn] = struct{}{}
}

// Unregister removes conn from the broadcast set.
func (p *Pipeline) Unregister(conn *Conn) {
	p.connsMu.Lock()
	defer p.connsMu.Unlock()
	delete(p.conns, conn)
}

// Broadcast writes an event to every registered connection in turn, logging
// (not failing) individual write errors, so a failed write does not stop
// delivery to the rest (§4.6). Writes are sequential: a slow write delays
// the ones after it.
func (p *Pipeline) Broadcast(eventType string, payload map[string]interface{}) {
	p.connsMu.Lock()
	var targets = make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		targets = append(targets, c)
	}
	p.connsMu.Unlock()

	var resp = envelope.OK(p.serverID, "", eventType, payload, nil)
	for _, c := range targets {
		if err := c.Write(resp); err != nil {
			log.WithError(err).Warn("pipeline: broadcast write failed")
		}
	}
}

// Context is the per-connection state threaded through Dispatch: the
// authenticated session, the rate limiter, and -- while inside a
// bulk.execute -- the capture buffer. Modeled on consumer/context.go's
// ConsumerContext (Cache interface{} + Writer).
type Context struct {
	PlayerID      int64
	Authenticated bool
	SysOp         bool
	Limiter       *rate.Limiter
	capturing     bool
	captured      []envelope.Response
}

// NewContext returns a fresh, unauthenticated Context with a per-connection
// rate limiter, grounded on other_examples's Vitadek-OwnWorld/ownworld.go
// ipLimiters map (here one limiter per connection rather than per IP,
// since the spec scopes meta.rate_limit to the response envelope of each
// connection's own requests).
func NewContext(limit rate.Limit, burst int) *Context {
	return &Context{Limiter: rate.NewLimiter(limit, burst)}
}

// Dispatch runs the full §4.6 pipeline for one decoded C2S request and
// returns the Response to write (or, in capture mode, appends it to the
// connection's capture buffer and returns a nil Response). A returned
// Response carries the connection limiter's state as meta.rate_limit.
func (p *Pipeline) Dispatch(ctx *Context, req envelope.Request) *envelope.Response {
	var resp envelope.Response
	if req.Type == "bulk.execute" {
		resp = *p.dispatchBulk(ctx, req)
	} else {
		resp = p.dispatchOne(ctx, req)
		if ctx.capturing {
			ctx.captured = append(ctx.captured, resp)
			return nil
		}
	}
	if resp.Meta == nil && ctx.Limiter != nil {
		resp.Meta = map[string]interface{}{
			"rate_limit": RateLimitMeta(ctx.Limiter, ctx.Limiter.Burst(), time.Minute),
		}
	}
	return &resp
}

// dispatchOne runs steps 2-7 of §4.6 for a single (possibly nested)
// request, without the bulk special-case.
func (p *Pipeline) dispatchOne(ctx *Context, req envelope.Request) envelope.Response {
	if req.Type == "" || req.ID == "" {
		return envelope.Refused(p.serverID, req.ID, int(errcode.BadEnvelope), "missing type or id")
	}

	if p.auth != nil {
		ctx.Authenticated, ctx.SysOp = p.auth(ctx)
	}

	var requiresAuth = !isAuthCommand(req.Type)
	if requiresAuth && !ctx.Authenticated {
		return envelope.Refused(p.serverID, req.ID, int(errcode.AuthRequired), "authentication required")
	}
	if isSysopCommand(req.Type) && !ctx.SysOp {
		return envelope.Refused(p.serverID, req.ID, int(errcode.AuthForbidden), "sysop role required")
	}

	if err := p.schemas.Validate(req.Type, req.Data); err != nil {
		return envelope.Refused(p.serverID, req.ID, int(errcode.SchemaViolation), err.Error())
	}

	var idemKey, hasIdem = idempotencyKey(req)
	if hasIdem {
		if cached, ok := p.idemp.get(idemKey); ok {
			return cached
		}
	}

	var handler, ok = p.reg.lookup(req.Type)
	if !ok {
		return envelope.Refused(p.serverID, req.ID, int(errcode.UnknownCommand), "unknown command type")
	}

	var resp = p.invoke(handler, ctx, req)

	if hasIdem && resp.Status == envelope.StatusOK {
		p.idemp.put(idemKey, resp)
	}
	return resp
}

// invoke calls handler and recovers from panics, converting them to an
// opaque "error" response per §7 ("Internal panics inside handlers are
// trapped and converted to error with an opaque code; the connection
// survives").
func (p *Pipeline) invoke(handler HandlerFunc, ctx *Context, req envelope.Request) (resp envelope.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("pipeline: handler panic recovered")
			resp = envelope.Errored(p.serverID, req.ID, int(errcode.Internal), "internal error", nil)
		}
	}()

	var data, err = handler(ctx, req.Data)
	if err != nil {
		return errToResponse(p.serverID, req.ID, err)
	}
	resp = envelope.OK(p.serverID, req.ID, responseType(req.Type), stripResponseANSI(data), nil)
	return resp
}

// dispatchBulk implements §4.6's bulk execution: enters capture mode,
// dispatches each sub-envelope through dispatchOne, and emits a single
// outer ok response whose data.responses is the captured array in
// submission order (§8 Testable Property #9).
func (p *Pipeline) dispatchBulk(ctx *Context, outer envelope.Request) *envelope.Response {
	var rawRequests, _ = outer.Data["requests"].([]interface{})

	var wasCapturing = ctx.capturing
	var savedCaptured = ctx.captured
	ctx.capturing = true
	ctx.captured = nil

	for _, raw := range rawRequests {
		var sub, ok = raw.(map[string]interface{})
		if !ok {
			ctx.captured = append(ctx.captured, envelope.Refused(p.serverID, "", int(errcode.BadEnvelope), "malformed sub-request"))
			continue
		}
		var subReq = decodeSubRequest(sub)
		var resp = p.dispatchOne(ctx, subReq)
		ctx.captured = append(ctx.captured, resp)
	}

	var captured = ctx.captured
	ctx.capturing = wasCapturing
	ctx.captured = savedCaptured

	var responses = make([]interface{}, len(captured))
	for i, r := range captured {
		responses[i] = r
	}

	var outerResp = envelope.OK(p.serverID, outer.ID, "bulk.result", map[string]interface{}{
		"responses": responses,
	}, nil)
	return &outerResp
}

func decodeSubRequest(m map[string]interface{}) envelope.Request {
	var req = envelope.Request{}
	if v, ok := m["id"].(string); ok {
		req.ID = v
	}
	if v, ok := m["type"].(string); ok {
		req.Type = v
	}
	if v, ok := m["data"].(map[string]interface{}); ok {
		req.Data = v
	} else {
		req.Data = map[string]interface{}{}
	}
	return req
}

func idempotencyKey(req envelope.Request) (string, bool) {
	var v, ok = req.Data["idempotency_key"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func isAuthCommand(typ string) bool {
	return len(typ) >= 5 && typ[:5] == "auth."
}

func isSysopCommand(typ string) bool {
	return len(typ) >= 6 && typ[:6] == "sysop."
}

func responseType(requestType string) string {
	if requestType == "session.ping" {
		return "session.pong"
	}
	return requestType + ".result"
}

func stripResponseANSI(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	var stripped, _ = stripANSITree(data).(map[string]interface{})
	return stripped
}

// errToResponse maps a handler error to the §7 error taxonomy: not-found
// and conflict errors are wrapped in status=error responses; anything
// else falls back to an opaque internal error.
func errToResponse(serverID, replyTo string, err error) envelope.Response {
	var cause = errors.Cause(err)
	switch cause {
	case errNotFound:
		return envelope.Errored(serverID, replyTo, int(errcode.NotFound), "not found", nil)
	case errConflict:
		return envelope.Errored(serverID, replyTo, int(errcode.Conflict), "conflict", nil)
	default:
		return envelope.Errored(serverID, replyTo, int(errcode.Internal), err.Error(), nil)
	}
}

var (
	errNotFound = errors.New("pipeline: not found")
	errConflict = errors.New("pipeline: conflict")
)

// RateLimitMeta reports a rate.Limiter's current state in the shape of
// §6's meta.rate_limit object.
func RateLimitMeta(l *rate.Limiter, limit int, window time.Duration) envelope.RateLimitMeta {
	return envelope.RateLimitMeta{
		Limit:     limit,
		Remaining: int(l.Tokens()),
		Reset:     int(window.Seconds()),
	}
}

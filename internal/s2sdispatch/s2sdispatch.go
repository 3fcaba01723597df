// Package s2sdispatch implements the Session Server's inbound S2S command
// table of §4.3: the small, fixed set of inter-process command types
// (s2s.health, s2s.broadcast.sweep, s2s.command.push), each hand-checked by
// internal/envelope.ValidateS2SPayload and dispatched here. Grounded on
// internal/pipeline.Dispatch's shape -- validate, check idempotency, run,
// cache -- narrowed to the three S2S command types instead of a full
// command registry, since the spec calls for exactly these three.
package s2sdispatch

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"twclone/internal/envelope"
	"twclone/internal/errcode"
)

// Broadcaster is the subset of *pipeline.Pipeline that s2s.broadcast.sweep
// needs: fan the named event out to every connected client session.
type Broadcaster interface {
	Broadcast(eventType string, payload map[string]interface{})
}

// CommandApplier runs one s2s.command.push's cmd_type against the session
// server's state (eg, "notice.publish" inserting a system_notice row). A
// real deployment registers one per cmd_type; this port ships the table
// with whatever cmd_types its handler map names.
type CommandApplier func(cmdType string, payload map[string]interface{}) error

// Dispatcher routes inbound S2S requests to their command handling and
// tracks idem_key uniqueness for s2s.command.push (§8's "a second identical
// push responds with duplicate=true").
//
// Unlike internal/pipeline.IdempotencyCache (which replays a cached
// response), s2s.command.push only needs a seen/not-seen bit: the ack
// itself carries no handler output to replay, only the duplicate flag.
type Dispatcher struct {
	src    string
	bcast  Broadcaster
	apply  CommandApplier
	mu     sync.Mutex
	seen   map[string]bool
	health func() map[string]interface{}
}

// New returns a Dispatcher. health, if nil, reports {"ok": true}.
func New(src string, bcast Broadcaster, apply CommandApplier, health func() map[string]interface{}) *Dispatcher {
	if health == nil {
		health = func() map[string]interface{} { return map[string]interface{}{"ok": true} }
	}
	return &Dispatcher{
		src: src, bcast: bcast, apply: apply,
		seen: make(map[string]bool), health: health,
	}
}

// Handle validates and runs one inbound S2S envelope, returning the
// envelope to send back (an ack or an error envelope per §3).
func (d *Dispatcher) Handle(req envelope.S2S) envelope.S2S {
	if err := envelope.ValidateS2SPayload(req.Type, req.Payload); err != nil {
		return envelope.Err(req, d.src, int(errcode.SchemaViolation), err.Error(), nil)
	}

	switch req.Type {
	case "s2s.health":
		return envelope.Ack(req, d.src, d.health())

	case "s2s.broadcast.sweep":
		var eventType, _ = req.Payload["event_type"].(string)
		var data, _ = req.Payload["data"].(map[string]interface{})
		if d.bcast != nil {
			d.bcast.Broadcast(eventType, data)
		}
		return envelope.Ack(req, d.src, map[string]interface{}{"swept": true})

	case "s2s.command.push":
		return d.handleCommandPush(req)

	default:
		return envelope.Err(req, d.src, int(errcode.UnknownCommand), "unrecognized s2s command type", nil)
	}
}

func (d *Dispatcher) handleCommandPush(req envelope.S2S) envelope.S2S {
	var cmdType, _ = req.Payload["cmd_type"].(string)
	var idemKey, _ = req.Payload["idem_key"].(string)

	d.mu.Lock()
	var duplicate = d.seen[idemKey]
	if !duplicate {
		d.seen[idemKey] = true
	}
	d.mu.Unlock()

	if duplicate {
		return envelope.Ack(req, d.src, map[string]interface{}{"duplicate": true})
	}

	var payload, _ = req.Payload["data"].(map[string]interface{})
	if d.apply != nil {
		if err := d.apply(cmdType, payload); err != nil {
			log.WithError(err).WithField("cmd_type", cmdType).Error("s2sdispatch: command push apply failed")
			return envelope.Err(req, d.src, int(errcode.Internal), err.Error(), nil)
		}
	}

	return envelope.Ack(req, d.src, map[string]interface{}{"duplicate": false})
}

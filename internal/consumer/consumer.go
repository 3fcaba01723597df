// Package consumer implements the event consumer of §4.4: a two-phase
// priority scan over the append-only engine_events log, with watermark
// persistence and dead-letter quarantine. Grounded on consumer/resolver.go
// and consumer/service.go's mutex-guarded state-machine style and
// logrus/pkg-errors wrapping; the transactional apply-per-tick shape is
// this port's own (the teacher's consumer package assumes etcd-backed
// shard assignment, which has no analogue in a single-process event log).
//
// Both passes scan from the same tick-start watermark (§4.4 step 4's
// "id > last_id" uses the value loaded in step 1, not a value either pass
// advances mid-tick): the priority pass jumps ahead in id-space to apply
// latency-sensitive rows early, but the persisted watermark only ever
// advances through the contiguous run of ids resolved (applied or
// quarantined) *this tick*, starting right after the previous watermark.
// A priority row with a higher id than some still-pending row doesn't
// drag the watermark past that row -- it stays reachable on a later tick,
// and because handlers are required to be idempotent (§4.4), a priority
// row already applied this way is harmless to re-apply once the
// watermark finally catches up to it.
package consumer

import (
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"twclone/internal/repo"
)

// Handler applies one event's effect. It must be idempotent with respect
// to its own keys: the consumer gives at-least-once delivery (§4.4).
// A non-nil return routes the row to dead-letter.
type Handler func(e repo.Event) error

// Config holds the tunables of §4.4's Inputs.
type Config struct {
	BatchSize            int
	BacklogPrioThreshold int64
	PriorityTypes        map[string]bool
	ConsumerKey          string
}

// Metrics is the per-tick Output of §4.4.
type Metrics struct {
	LastEventID       int64
	Lag               int64
	ProcessedInTick   int
	QuarantinedInTick int
}

// Consumer runs the tick algorithm against a repo.EventRepository and a
// registry of type -> Handler.
type Consumer struct {
	repo     repo.EventRepository
	cfg      Config
	handlers map[string]Handler
}

// New returns a Consumer. handlers maps event type to its Handler; an
// event whose type has no registered handler is treated as handler
// failure (unknown type -> quarantine, per §4.4).
func New(r repo.EventRepository, cfg Config, handlers map[string]Handler) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Consumer{repo: r, cfg: cfg, handlers: handlers}
}

// Tick runs exactly one tick of the algorithm in §4.4 steps 1-6.
func (c *Consumer) Tick() (Metrics, error) {
	var offset, err = c.repo.LoadOffset(c.cfg.ConsumerKey)
	if err != nil {
		return Metrics{}, errors.WithMessage(err, "consumer: load offset")
	}
	var startID, startTS = offset.LastEventID, offset.LastEventTS

	var maxID, merr = c.repo.MaxEventID()
	if merr != nil {
		return Metrics{}, errors.WithMessage(merr, "consumer: max event id")
	}
	var lag = maxID - startID
	if lag < 0 {
		lag = 0
	}

	var remaining = c.cfg.BatchSize
	var processed, quarantined int
	var resolved = make(map[int64]int64)    // id -> ts, for every row applied or quarantined this tick
	var deadLetters = make(map[int64]string) // id -> reason, for ApplyBatch
	var usePriority = len(c.cfg.PriorityTypes) > 0 && lag >= c.cfg.BacklogPrioThreshold

	if usePriority {
		var priorityTypes = sortedKeys(c.cfg.PriorityTypes)

		var p1, n1, err1 = c.runPass(startID, remaining, priorityTypes, false, resolved, deadLetters)
		if err1 != nil {
			return Metrics{}, err1
		}
		processed += p1
		quarantined += n1
		remaining -= p1 + n1

		if remaining > 0 {
			var p2, n2, err2 = c.runPass(startID, remaining, nil, true, resolved, deadLetters)
			if err2 != nil {
				return Metrics{}, err2
			}
			processed += p2
			quarantined += n2
		}
	} else {
		var p, n, err1 = c.runPass(startID, remaining, nil, false, resolved, deadLetters)
		if err1 != nil {
			return Metrics{}, err1
		}
		processed += p
		quarantined += n
	}

	// The persisted watermark only advances through the contiguous run of
	// ids resolved this tick, starting right after the previous watermark
	// -- a priority row resolved out of id-order never drags the
	// watermark past a still-pending lower-id row from the other pass.
	var newID, newTS = startID, startTS
	for {
		var ts, ok = resolved[newID+1]
		if !ok {
			break
		}
		newID++
		newTS = ts
	}

	if processed > 0 || quarantined > 0 {
		if err := c.repo.ApplyBatch(c.cfg.ConsumerKey, repo.Offset{
			Key: c.cfg.ConsumerKey, LastEventID: newID, LastEventTS: newTS,
		}, deadLetters); err != nil {
			return Metrics{}, errors.WithMessage(err, "consumer: apply batch")
		}
	}

	maxID, merr = c.repo.MaxEventID()
	if merr != nil {
		return Metrics{}, errors.WithMessage(merr, "consumer: max event id (recompute)")
	}
	var newLag = maxID - newID
	if newLag < 0 {
		newLag = 0
	}

	var m = Metrics{
		LastEventID:       newID,
		Lag:               newLag,
		ProcessedInTick:   processed,
		QuarantinedInTick: quarantined,
	}
	log.WithFields(log.Fields{
		"consumer_key":  c.cfg.ConsumerKey,
		"last_event_id": m.LastEventID,
		"lag":           m.Lag,
		"processed":     m.ProcessedInTick,
		"quarantined":   m.QuarantinedInTick,
	}).Info("consumer: tick complete")

	return m, nil
}

// runPass implements one pass of §4.4 step 4: select up to limit rows
// after afterID (optionally filtered to onlyTypes), apply each via its
// handler, and record every applied-or-quarantined row's id/ts into
// resolved and every quarantined row's reason into deadLetters. Both
// passes of a tick share the same afterID (the tick's starting
// watermark) and the same resolved/deadLetters maps; Tick computes and
// persists the combined watermark once, after both passes have run.
// skipPriority, when true, skips rows whose type is in
// c.cfg.PriorityTypes (the non-priority pass deferring priority rows to
// the priority pass, per step 4's first bullet) without consuming budget.
func (c *Consumer) runPass(afterID int64, limit int, onlyTypes []string, skipPriority bool, resolved map[int64]int64, deadLetters map[int64]string) (processed, quarantinedCount int, err error) {
	if limit <= 0 {
		return 0, 0, nil
	}

	var events, serr = c.repo.SelectEvents(afterID, onlyTypes, limit)
	if serr != nil {
		return 0, 0, errors.WithMessage(serr, "consumer: select events")
	}

	for _, e := range events {
		if skipPriority && c.cfg.PriorityTypes[e.Type] {
			continue
		}

		if applyErr := c.apply(e); applyErr != nil {
			deadLetters[e.ID] = applyErr.Error()
			quarantinedCount++
			log.WithFields(log.Fields{
				"event_id": e.ID, "type": e.Type, "reason": applyErr.Error(),
			}).Warn("consumer: quarantined event")
		} else {
			processed++
		}

		resolved[e.ID] = e.TS

		limit--
		if limit <= 0 {
			break
		}
	}

	return processed, quarantinedCount, nil
}

// apply looks up the handler for e.Type and invokes it. An unknown type,
// a handler failure, or malformed JSON payload all count as failure per
// the Handler contract in §4.4.
func (c *Consumer) apply(e repo.Event) error {
	var h, ok = c.handlers[e.Type]
	if !ok {
		return errors.Errorf("consumer: unknown event type %q", e.Type)
	}
	if !json.Valid(e.Payload) {
		return errors.Errorf("consumer: invalid JSON payload for event %d", e.ID)
	}
	return h(e)
}

func sortedKeys(m map[string]bool) []string {
	var out = make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Schema registry: maps a dotted command type ("trade.buy") to a validator
// of its "data" sub-object. Per §4.3 the registry is additive and doesn't
// need online mutation; an engineer registers a new command with Register.
// Validation is advisory at the edge: unknown types pass through to
// dispatch (which refuses them itself); known types are validated here.
//
// No JSON-Schema engine is wired (see DESIGN.md): the pack carries no
// JSON-Schema library, and the spec's own description of validation --
// "a small fixed set of... shapes... checked by hand" for S2S, and
// per-command generators for C2S -- matches a hand-written Go validator
// table more closely than a generic schema interpreter would.
package envelope

import (
	"fmt"
	"sync"
)

// Validator checks a decoded "data" object and returns a one-line reason on
// failure.
type Validator func(data map[string]interface{}) error

// Registry is a command-type -> Validator map, safe for concurrent
// Register/Lookup (writes serialize, per §5's read-mostly cache policy).
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// Register adds or replaces the Validator for typ.
func (r *Registry) Register(typ string, v Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validators[typ] = v
}

// Lookup returns the Validator for typ, or false if typ is unregistered
// (unregistered types pass through to dispatch, per §4.3).
func (r *Registry) Lookup(typ string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var v, ok = r.validators[typ]
	return v, ok
}

// Validate runs the registered Validator for typ against data, if one is
// registered; returns nil (pass-through) for unregistered types.
func (r *Registry) Validate(typ string, data map[string]interface{}) error {
	var v, ok = r.Lookup(typ)
	if !ok {
		return nil
	}
	return v(data)
}

// RequireString returns an error unless data[field] is a non-empty string.
func RequireString(data map[string]interface{}, field string) error {
	var v, ok = data[field].(string)
	if !ok || v == "" {
		return fmt.Errorf("%q must be a non-empty string", field)
	}
	return nil
}

// RequireNumber returns an error unless data[field] is a JSON number.
func RequireNumber(data map[string]interface{}, field string) error {
	if _, ok := data[field].(float64); !ok {
		return fmt.Errorf("%q must be a number", field)
	}
	return nil
}

// RequireObject returns an error unless data[field] is a JSON object.
func RequireObject(data map[string]interface{}, field string) error {
	if _, ok := data[field].(map[string]interface{}); !ok {
		return fmt.Errorf("%q must be an object", field)
	}
	return nil
}

// RequireArray returns an error unless data[field] is a JSON array.
func RequireArray(data map[string]interface{}, field string) error {
	if _, ok := data[field].([]interface{}); !ok {
		return fmt.Errorf("%q must be an array", field)
	}
	return nil
}

// DefaultRegistry returns a Registry pre-populated with the small set of
// commands this port's core ships handlers for directly (auth, session,
// bulk); game-content handlers (trade, combat, chat, mail, planet ops) are
// out of the core's scope per §1 and register their own schemas into this
// same Registry at startup.
func DefaultRegistry() *Registry {
	var r = NewRegistry()

	r.Register("auth.login", func(data map[string]interface{}) error {
		if err := RequireString(data, "username"); err != nil {
			return err
		}
		return RequireString(data, "passwd")
	})

	r.Register("session.ping", func(data map[string]interface{}) error {
		return nil // no required fields; any object (including empty) is valid
	})

	r.Register("bulk.execute", func(data map[string]interface{}) error {
		return RequireArray(data, "requests")
	})

	return r
}

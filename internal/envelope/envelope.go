// Package envelope builds and validates the S2S and C2S envelopes of §3,
// generalizing message.Envelope (which wraps a Message with Journal/offset
// metadata) to this port's wire shapes.
package envelope

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// S2S is the inter-process envelope of §3. Authentication fields (key_id,
// sig) are attached/verified by internal/transport only; handlers never
// see them, so S2S itself carries no such fields.
type S2S struct {
	V       int                    `json:"v"`
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	TS      int64                  `json:"ts"`
	Src     string                 `json:"src"`
	Dst     string                 `json:"dst"`
	Payload map[string]interface{} `json:"payload"`
	AckOf   string                 `json:"ack_of,omitempty"`
	Error   *ErrorDetail           `json:"error,omitempty"`
}

// ErrorDetail is the {code, message, details} shape carried by error S2S
// envelopes.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// New builds a fresh S2S envelope with a new UUID v4 id and the current
// UTC second as ts.
func New(src, dst, typ string, payload map[string]interface{}) S2S {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return S2S{
		V:       1,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      time.Now().UTC().Unix(),
		Src:     src,
		Dst:     dst,
		Payload: payload,
	}
}

// Ack builds an acknowledgement of req.
func Ack(req S2S, from string, payload map[string]interface{}) S2S {
	var e = New(from, req.Src, req.Type+".ack", payload)
	e.AckOf = req.ID
	return e
}

// Err builds an error envelope replying to req.
func Err(req S2S, from string, code int, message string, details map[string]interface{}) S2S {
	var e = New(from, req.Src, req.Type+".error", nil)
	e.AckOf = req.ID
	e.Error = &ErrorDetail{Code: code, Message: message, Details: details}
	return e
}

// ErrMissingField names a required field absent from an envelope under
// validation.
type ErrMissingField struct{ Field string }

func (e *ErrMissingField) Error() string { return "envelope: missing or invalid field " + e.Field }

// Validate applies the minimal S2S validator of §4.3: v==1, type/id
// non-empty strings, ts a positive integer, src/dst non-empty strings,
// payload an object.
func Validate(e S2S) error {
	if e.V != 1 {
		return &ErrMissingField{Field: "v"}
	}
	if e.Type == "" {
		return &ErrMissingField{Field: "type"}
	}
	if e.ID == "" {
		return &ErrMissingField{Field: "id"}
	}
	if e.TS <= 0 {
		return &ErrMissingField{Field: "ts"}
	}
	if e.Src == "" {
		return &ErrMissingField{Field: "src"}
	}
	if e.Dst == "" {
		return &ErrMissingField{Field: "dst"}
	}
	if e.Payload == nil {
		return &ErrMissingField{Field: "payload"}
	}
	return nil
}

// FromWire decodes a raw frame object (as read by internal/transport, which
// still carries key_id/sig) into an S2S envelope, ignoring the auth fields.
func FromWire(obj map[string]interface{}) (S2S, error) {
	var e S2S

	if v, ok := obj["v"].(float64); ok {
		e.V = int(v)
	}
	e.Type, _ = obj["type"].(string)
	e.ID, _ = obj["id"].(string)
	if ts, ok := obj["ts"].(float64); ok {
		e.TS = int64(ts)
	}
	e.Src, _ = obj["src"].(string)
	e.Dst, _ = obj["dst"].(string)
	e.AckOf, _ = obj["ack_of"].(string)
	if p, ok := obj["payload"].(map[string]interface{}); ok {
		e.Payload = p
	}

	if err := Validate(e); err != nil {
		return e, errors.WithMessage(err, "decoding S2S envelope")
	}
	return e, nil
}

// ToWire renders e as the map internal/transport.Conn.Send expects (it will
// add key_id/sig itself).
func ToWire(e S2S) map[string]interface{} {
	var m = map[string]interface{}{
		"v":       e.V,
		"type":    e.Type,
		"id":      e.ID,
		"ts":      e.TS,
		"src":     e.Src,
		"dst":     e.Dst,
		"payload": e.Payload,
	}
	if e.AckOf != "" {
		m["ack_of"] = e.AckOf
	}
	if e.Error != nil {
		m["error"] = map[string]interface{}{
			"code":    e.Error.Code,
			"message": e.Error.Message,
			"details": e.Error.Details,
		}
	}
	return m
}

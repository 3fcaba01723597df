package envelope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/envelope"
)

func TestNewAndValidate(t *testing.T) {
	var e = envelope.New("sessiond", "engine", "notice.publish", map[string]interface{}{"msg": "hi"})
	require.NoError(t, envelope.Validate(e))
	assert.Equal(t, 1, e.V)
	assert.NotEmpty(t, e.ID)
	assert.Greater(t, e.TS, int64(0))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	var e = envelope.S2S{V: 1, Type: "x", ID: "1", TS: 1, Src: "a", Dst: "b"}
	assert.Error(t, envelope.Validate(e)) // missing payload
}

func TestAckAndErr(t *testing.T) {
	var req = envelope.New("engine", "sessiond", "notice.publish", nil)
	var ack = envelope.Ack(req, "sessiond", map[string]interface{}{"duplicate": false})
	assert.Equal(t, req.ID, ack.AckOf)
	assert.Equal(t, "notice.publish.ack", ack.Type)

	var errEnv = envelope.Err(req, "sessiond", 1500, "boom", nil)
	require.NotNil(t, errEnv.Error)
	assert.Equal(t, 1500, errEnv.Error.Code)
}

func TestFromWireRoundTrip(t *testing.T) {
	var e = envelope.New("a", "b", "x.y", map[string]interface{}{"k": "v"})
	var wire = envelope.ToWire(e)
	wire["key_id"] = "k0"
	wire["sig"] = "deadbeef"

	var decoded, err = envelope.FromWire(wire)
	require.NoError(t, err)
	assert.Equal(t, e.Type, decoded.Type)
	assert.Equal(t, e.Payload["k"], decoded.Payload["k"])
}

func TestSchemaRegistryUnknownTypePassesThrough(t *testing.T) {
	var r = envelope.DefaultRegistry()
	assert.NoError(t, r.Validate("does.not.exist", map[string]interface{}{}))
}

func TestSchemaRegistryRejectsBadLogin(t *testing.T) {
	var r = envelope.DefaultRegistry()
	assert.Error(t, r.Validate("auth.login", map[string]interface{}{}))
	assert.NoError(t, r.Validate("auth.login", map[string]interface{}{
		"username": "u", "passwd": "p",
	}))
}

func TestValidateS2SPayload(t *testing.T) {
	assert.NoError(t, envelope.ValidateS2SPayload("s2s.health", map[string]interface{}{}))
	assert.Error(t, envelope.ValidateS2SPayload("s2s.command.push", map[string]interface{}{}))
	assert.NoError(t, envelope.ValidateS2SPayload("s2s.command.push", map[string]interface{}{
		"cmd_type": "notice.publish", "idem_key": "k1",
	}))
	assert.Error(t, envelope.ValidateS2SPayload("s2s.unknown", map[string]interface{}{}))
}

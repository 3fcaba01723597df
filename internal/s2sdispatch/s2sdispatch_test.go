package s2sdispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/envelope"
	"twclone/internal/s2sdispatch"
)

type fakeBroadcaster struct {
	eventType string
	payload   map[string]interface{}
	calls     int
}

func (f *fakeBroadcaster) Broadcast(eventType string, payload map[string]interface{}) {
	f.eventType, f.payload = eventType, payload
	f.calls++
}

func TestHealthReplies(t *testing.T) {
	var d = s2sdispatch.New("engine", nil, nil, nil)
	var req = envelope.New("sessiond", "engine", "s2s.health", map[string]interface{}{})
	var reply = d.Handle(req)
	assert.Equal(t, "s2s.health.ack", reply.Type)
	assert.Equal(t, req.ID, reply.AckOf)
}

func TestBroadcastSweepFansOut(t *testing.T) {
	var b = &fakeBroadcaster{}
	var d = s2sdispatch.New("engine", b, nil, nil)
	var req = envelope.New("sessiond", "engine", "s2s.broadcast.sweep", map[string]interface{}{
		"event_type": "news.posted",
		"data":       map[string]interface{}{"id": float64(7)},
	})
	var reply = d.Handle(req)
	assert.Equal(t, "s2s.broadcast.sweep.ack", reply.Type)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, "news.posted", b.eventType)
}

func TestCommandPushIsIdempotentByIdemKey(t *testing.T) {
	var applyCalls int
	var apply = func(cmdType string, payload map[string]interface{}) error {
		applyCalls++
		return nil
	}
	var d = s2sdispatch.New("sessiond-1", nil, apply, nil)

	var push = envelope.New("engine", "sessiond-1", "s2s.command.push", map[string]interface{}{
		"cmd_type": "notice.publish",
		"idem_key": "k1",
		"data":     map[string]interface{}{"message": "hello"},
	})

	var first = d.Handle(push)
	require.Nil(t, first.Error)
	var firstDup, _ = first.Payload["duplicate"].(bool)
	assert.False(t, firstDup)

	var second = d.Handle(push)
	var secondDup, _ = second.Payload["duplicate"].(bool)
	assert.True(t, secondDup)

	assert.Equal(t, 1, applyCalls)
}

func TestCommandPushAppliesErrorPropagates(t *testing.T) {
	var apply = func(cmdType string, payload map[string]interface{}) error {
		return assert.AnError
	}
	var d = s2sdispatch.New("sessiond-1", nil, apply, nil)
	var push = envelope.New("engine", "sessiond-1", "s2s.command.push", map[string]interface{}{
		"cmd_type": "notice.publish",
		"idem_key": "k2",
	})
	var reply = d.Handle(push)
	require.NotNil(t, reply.Error)
}

func TestUnrecognizedTypeErrors(t *testing.T) {
	var d = s2sdispatch.New("engine", nil, nil, nil)
	var req = envelope.New("sessiond", "engine", "s2s.bogus", map[string]interface{}{})
	var reply = d.Handle(req)
	require.NotNil(t, reply.Error)
}

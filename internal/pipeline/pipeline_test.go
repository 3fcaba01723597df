package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"twclone/internal/envelope"
	"twclone/internal/pipeline"
)

func newTestPipeline(authed bool) *pipeline.Pipeline {
	var reg = pipeline.NewRegistry()
	reg.Register("auth.login", func(ctx *pipeline.Context, data map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"token": "tok-1"}, nil
	})
	reg.Register("session.ping", func(ctx *pipeline.Context, data map[string]interface{}) (map[string]interface{}, error) {
		return data, nil
	})

	var schemas = envelope.DefaultRegistry()
	var auth pipeline.AuthFunc = func(ctx *pipeline.Context) (bool, bool) { return authed, false }
	return pipeline.New(reg, schemas, auth, "srv-1")
}

func TestLoginAndPing(t *testing.T) {
	var p = newTestPipeline(true)
	var ctx = pipeline.NewContext(rate.Limit(60), 60)

	var loginResp = p.Dispatch(ctx, envelope.Request{
		ID: "c1", Type: "auth.login", Data: map[string]interface{}{"username": "u", "passwd": "p"},
	})
	require.NotNil(t, loginResp)
	assert.Equal(t, envelope.StatusOK, loginResp.Status)

	var pingResp = p.Dispatch(ctx, envelope.Request{
		ID: "c2", Type: "session.ping", Data: map[string]interface{}{},
	})
	require.NotNil(t, pingResp)
	assert.Equal(t, envelope.StatusOK, pingResp.Status)
	assert.Equal(t, "session.pong", pingResp.Type)
}

func TestUnauthenticatedNonAuthCommandRefused(t *testing.T) {
	var p = newTestPipeline(false)
	var ctx = pipeline.NewContext(rate.Limit(60), 60)

	var resp = p.Dispatch(ctx, envelope.Request{ID: "c1", Type: "session.ping", Data: map[string]interface{}{}})
	require.NotNil(t, resp)
	assert.Equal(t, envelope.StatusRefused, resp.Status)
}

func TestUnknownCommandIsRefusedNotError(t *testing.T) {
	var p = newTestPipeline(true)
	var ctx = pipeline.NewContext(rate.Limit(60), 60)

	var resp = p.Dispatch(ctx, envelope.Request{ID: "c3", Type: "does.not.exist", Data: map[string]interface{}{}})
	require.NotNil(t, resp)
	assert.Equal(t, envelope.StatusRefused, resp.Status)
}

func TestIdempotencyCacheReplaysVerbatim(t *testing.T) {
	var calls int
	var reg = pipeline.NewRegistry()
	reg.Register("session.ping", func(ctx *pipeline.Context, data map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"n": calls}, nil
	})
	var schemas = envelope.DefaultRegistry()
	var p = pipeline.New(reg, schemas, func(ctx *pipeline.Context) (bool, bool) { return true, false }, "srv-1")
	var ctx = pipeline.NewContext(rate.Limit(60), 60)

	var req = envelope.Request{ID: "c1", Type: "session.ping", Data: map[string]interface{}{"idempotency_key": "k1"}}
	var r1 = p.Dispatch(ctx, req)
	var r2 = p.Dispatch(ctx, req)

	require.NotNil(t, r1)
	require.NotNil(t, r2)
	assert.Equal(t, r1.Data, r2.Data)
	assert.Equal(t, 1, calls, "handler must run at most once for a repeated idempotency_key")
}

func TestBulkExecuteCapturesInOrder(t *testing.T) {
	var p = newTestPipeline(true)
	var ctx = pipeline.NewContext(rate.Limit(60), 60)

	var resp = p.Dispatch(ctx, envelope.Request{
		ID: "c4", Type: "bulk.execute",
		Data: map[string]interface{}{"requests": []interface{}{
			map[string]interface{}{"id": "s1", "type": "session.ping", "data": map[string]interface{}{}},
			map[string]interface{}{"id": "s2", "type": "session.ping", "data": map[string]interface{}{}},
			map[string]interface{}{"id": "s3", "type": "session.ping", "data": map[string]interface{}{}},
		}},
	})

	require.NotNil(t, resp)
	assert.Equal(t, envelope.StatusOK, resp.Status)
	var responses, ok = resp.Data["responses"].([]interface{})
	require.True(t, ok)
	assert.Len(t, responses, 3)
}

func TestStripANSIRemovesEscapeSequences(t *testing.T) {
	var input = "\x1b[31mred\x1b[0m text"
	assert.Equal(t, "red text", pipeline.StripANSI(input))
}

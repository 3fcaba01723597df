package transport_test

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/keyring"
	"twclone/internal/transport"
)

func testKeyring(t *testing.T, id string, secret []byte) *keyring.Keyring {
	t.Helper()
	var kr = keyring.New()
	t.Setenv("S2S_KEY_ID", id)
	t.Setenv("S2S_KEY_B64", encodeB64(secret))
	require.NoError(t, kr.InstallFromEnv())
	return kr
}

func encodeB64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func TestHMACRoundTrip(t *testing.T) {
	var serverKr = testKeyring(t, "k0", []byte("0123456789abcdef0123456789abcdef"))

	var client, server = net.Pipe()
	defer client.Close()
	defer server.Close()

	var sConn = transport.New(server, serverKr, 0, nil)
	var cConn = transport.New(client, serverKr, 0, nil)

	var done = make(chan error, 1)
	go func() {
		done <- cConn.Send(context.Background(), map[string]interface{}{"v": float64(1), "type": "ping"}, time.Second)
	}()

	var got, err = sConn.Recv(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "ping", got["type"])
}

func TestHMACBadKeyRejected(t *testing.T) {
	var senderKr = testKeyring(t, "k0", []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	var receiverKr = keyring.New()
	t.Setenv("S2S_KEY_ID", "k0")
	t.Setenv("S2S_KEY_B64", encodeB64([]byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")))
	require.NoError(t, receiverKr.InstallFromEnv())

	var client, server = net.Pipe()
	defer client.Close()
	defer server.Close()

	var sConn = transport.New(server, receiverKr, 0, nil)
	var cConn = transport.New(client, senderKr, 0, nil)

	go cConn.Send(context.Background(), map[string]interface{}{"v": float64(1)}, time.Second)

	var _, err = sConn.Recv(context.Background(), time.Second)
	assert.ErrorIs(t, err, transport.ErrAuthBad)
	assert.EqualValues(t, 1, sConn.Counters().Snapshot().AuthFail)
}

func TestFrameTooLargeRejectedBeforeParsing(t *testing.T) {
	var kr = testKeyring(t, "k0", []byte("cccccccccccccccccccccccccccccccc"))

	var client, server = net.Pipe()
	defer client.Close()
	defer server.Close()

	var sConn = transport.New(server, kr, 128, nil)
	var cConn = transport.New(client, kr, 1<<20, nil)

	go func() {
		var big = strings.Repeat("x", 1024)
		cConn.Send(context.Background(), map[string]interface{}{"v": float64(1), "pad": big}, time.Second)
	}()

	var _, err = sConn.Recv(context.Background(), time.Second)
	assert.ErrorIs(t, err, transport.ErrTooLarge)
	assert.EqualValues(t, 1, sConn.Counters().Snapshot().TooLarge)
}

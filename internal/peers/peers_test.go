package peers_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/peers"
	"twclone/internal/repo"
)

func newTestRegistry(t *testing.T) (*peers.Registry, *repo.Store) {
	t.Helper()
	var s, err = repo.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return peers.New(s), s
}

func TestUpsertGetAndEnable(t *testing.T) {
	var reg, _ = newTestRegistry(t)

	require.NoError(t, reg.Upsert(peers.Peer{
		PeerID: "peer-a", Host: "10.0.0.2", Port: 9100, Enabled: true,
		SharedKeyID: "k0", CreatedAt: 1000,
	}))

	p, err := reg.Get("peer-a")
	require.NoError(t, err)
	assert.True(t, p.Enabled)

	require.NoError(t, reg.SetEnabled("peer-a", false))
	p, err = reg.Get("peer-a")
	require.NoError(t, err)
	assert.False(t, p.Enabled)

	_, err = reg.Get("ghost")
	assert.ErrorIs(t, err, peers.ErrNotFound)
}

func TestCheckAndInsertNonceRejectsReplay(t *testing.T) {
	var reg, _ = newTestRegistry(t)
	require.NoError(t, reg.Upsert(peers.Peer{PeerID: "peer-a", Host: "h", Port: 1, SharedKeyID: "k0", CreatedAt: 1}))

	require.NoError(t, reg.CheckAndInsertNonce("peer-a", "n1", 100))
	err := reg.CheckAndInsertNonce("peer-a", "n1", 100)
	assert.ErrorIs(t, err, peers.ErrReplay)

	// a different nonce from the same peer is fine
	assert.NoError(t, reg.CheckAndInsertNonce("peer-a", "n2", 101))
}

func TestSweepNoncesRemovesExpired(t *testing.T) {
	var reg, _ = newTestRegistry(t)
	require.NoError(t, reg.Upsert(peers.Peer{PeerID: "peer-a", Host: "h", Port: 1, SharedKeyID: "k0", CreatedAt: 1}))
	require.NoError(t, reg.CheckAndInsertNonce("peer-a", "old", 0))

	var now = time.Unix(10000, 0)
	removed, err := reg.SweepNonces(time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// after sweep, the same nonce is accepted again since its record is gone
	assert.NoError(t, reg.CheckAndInsertNonce("peer-a", "old", now.Unix()))
}

func TestLoadAllPopulatesCache(t *testing.T) {
	var reg, store = newTestRegistry(t)
	require.NoError(t, store.UpsertPeer(repo.PeerRow{PeerID: "peer-b", Host: "h2", Port: 2, SharedKeyID: "k0", CreatedAt: 5}))

	require.NoError(t, reg.LoadAll())
	p, err := reg.Get("peer-b")
	require.NoError(t, err)
	assert.Equal(t, "h2", p.Host)
	assert.Len(t, reg.List(), 1)
}

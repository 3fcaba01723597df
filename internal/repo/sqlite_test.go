package repo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/repo"
	"twclone/internal/universe"
)

func openTestStore(t *testing.T) *repo.Store {
	t.Helper()
	var s, err = repo.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOffsetRoundTrip(t *testing.T) {
	var s = openTestStore(t)

	var o, err = s.LoadOffset("engine")
	require.NoError(t, err)
	assert.Equal(t, int64(0), o.LastEventID)

	require.NoError(t, s.ApplyBatch("engine", repo.Offset{Key: "engine", LastEventID: 5, LastEventTS: 100}, nil))

	o, err = s.LoadOffset("engine")
	require.NoError(t, err)
	assert.Equal(t, int64(5), o.LastEventID)
	assert.Equal(t, int64(100), o.LastEventTS)
}

func TestInsertPlaceholderKeyBecomesDefault(t *testing.T) {
	var s = openTestStore(t)

	_, err := s.ListActiveKeys() // smoke: schema applied
	require.NoError(t, err)

	_, execErr := s.DefaultKeyID()
	assert.ErrorIs(t, execErr, repo.ErrNotFound)

	k, err := s.InsertPlaceholderKey()
	require.NoError(t, err)
	assert.NotEmpty(t, k.ID)
	assert.True(t, k.IsDefault)

	id, err := s.DefaultKeyID()
	require.NoError(t, err)
	assert.Equal(t, k.ID, id)
}

func TestPeerUpsertAndNonceReplay(t *testing.T) {
	var s = openTestStore(t)

	require.NoError(t, s.UpsertPeer(repo.PeerRow{
		PeerID: "peer-a", Host: "10.0.0.1", Port: 9000,
		Enabled: true, SharedKeyID: "k0", CreatedAt: 1000,
	}))

	p, err := s.GetPeer("peer-a")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", p.Host)

	_, err = s.GetPeer("does-not-exist")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	inserted, err := s.InsertNonceIfAbsent("peer-a", "nonce-1", 1000)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertNonceIfAbsent("peer-a", "nonce-1", 1000)
	require.NoError(t, err)
	assert.False(t, inserted, "replayed nonce must not insert again")

	removed, err := s.SweepNonces(2000)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestPersistUniverseWritesAllTables(t *testing.T) {
	var s = openTestStore(t)

	var u, err = universe.Generate(universe.Params{
		Seed: 7, NumSectors: 200, Density: 4,
		MinTunnels: 2, MinTunnelLen: 4,
		MaxPorts: 20, MaxPlanets: 10, PortCredits: 50000,
	})
	require.NoError(t, err)

	require.NoError(t, s.PersistUniverse(u))

	// a second call against an already-seeded database must refuse, not
	// silently duplicate every row.
	assert.ErrorIs(t, s.PersistUniverse(u), repo.ErrAlreadySeeded)
}

func TestValidateOrderInvariant(t *testing.T) {
	assert.Error(t, repo.ValidateOrder(repo.CommodityOrder{
		Side: repo.SideBuy, Status: repo.OrderOpen, Quantity: 5, FilledQuantity: 10,
	}))
	assert.NoError(t, repo.ValidateOrder(repo.CommodityOrder{
		Side: repo.SideSell, Status: repo.OrderFilled, Quantity: 5, FilledQuantity: 5,
	}))
}

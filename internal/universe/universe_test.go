package universe_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twclone/internal/universe"
)

func smallParams() universe.Params {
	return universe.Params{
		Seed: 42, NumSectors: 500, Density: 4,
		PortRatio: 0.1, PlanetRatio: 0.05,
		MinTunnels: 3, MinTunnelLen: 5,
		MaxPorts: 40, MaxPlanets: 20, PortCredits: 100000,
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	var u1, err1 = universe.Generate(smallParams())
	require.NoError(t, err1)
	var u2, err2 = universe.Generate(smallParams())
	require.NoError(t, err2)

	assert.Equal(t, len(u1.Warps), len(u2.Warps))
	assert.Equal(t, u1.Warps, u2.Warps)
}

func TestEveryOuterSectorHasOutgoingWarp(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)

	var outDegree = make(map[int]int)
	for _, w := range u.Warps {
		outDegree[w.From]++
	}
	for _, s := range u.Sectors {
		if s.ID > 10 {
			assert.Greaterf(t, outDegree[s.ID], 0, "sector %d has no outgoing warp", s.ID)
		}
	}
}

func TestFedSpaceHasAtLeastThreeOuterExits(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)

	var count = 0
	for _, w := range u.Warps {
		if w.From >= 2 && w.From <= 10 && w.To >= 11 {
			count++
		}
	}
	assert.GreaterOrEqual(t, count, 3)
}

func TestNoSelfLoops(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)
	for _, w := range u.Warps {
		assert.NotEqual(t, w.From, w.To)
	}
}

func TestNoEdgeCrossesTunnelBoundary(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)
	for _, w := range u.Warps {
		assert.Equal(t, u.UsedSectors[w.From], u.UsedSectors[w.To],
			"warp %v crosses the tunnel boundary", w)
	}
}

func TestMinTunnelsOfMinLength(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(u.Tunnels), 3)
	for _, tun := range u.Tunnels {
		assert.GreaterOrEqual(t, len(tun), 5)
	}
}

func TestPortsAndPlanetsSeeded(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)

	var hasStardock bool
	var blackMarket *universe.Port
	for i, p := range u.Ports {
		if p.Kind == 9 {
			hasStardock = true
		}
		if p.Kind == 10 {
			blackMarket = &u.Ports[i]
		}
	}
	assert.True(t, hasStardock)
	require.GreaterOrEqual(t, len(u.Planets), 3)
	assert.Equal(t, "Terra", u.Planets[0].Name)
	assert.Equal(t, "Ferringhi Homeworld", u.Planets[1].Name)
	assert.Equal(t, "Orion Hideout", u.Planets[2].Name)

	require.NotNil(t, blackMarket, "Orion cluster exists (3 tunnels seeded) so a Black Market port must be created")
	assert.Equal(t, u.Planets[2].SectorID, blackMarket.SectorID, "Black Market shares the Orion homeworld's sector")
}

func TestNPCShipsSeededAtHomeworlds(t *testing.T) {
	var u, err = universe.Generate(smallParams())
	require.NoError(t, err)
	assert.NotEmpty(t, u.Ships)
}

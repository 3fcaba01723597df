// Package universe implements the deterministic-with-seed universe
// generator of §4.7: sector graph construction, tunnels, ports, planets,
// and NPC ships. There is no teacher analogue for procedural graph
// generation in go.gazette.dev/core; grounded instead on
// original_source/src/server_bigbang.c and server_warp_post_processing.c
// for exact step ordering, and on math/rand (seeded *rand.Rand) -- no pack
// example wires a third-party PRNG or graph library for bespoke procedural
// generation, so math/rand plus a local adjacency representation is the
// grounded, idiomatic choice (see DESIGN.md).
package universe

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Params configures one generation run (§4.7's "Parameters").
type Params struct {
	Seed         int64
	NumSectors   int
	Density      int // max warps per sector
	PortRatio    float64
	PlanetRatio  float64
	MinTunnels   int
	MinTunnelLen int
	MaxPorts     int
	MaxPlanets   int
	PortCredits  int64

	PDeadend float64 // default 0.05
	POneway  float64 // default 0.05

	OuterMin int // default 11
	OuterMax int // defaults to NumSectors
}

func (p *Params) fillDefaults() {
	if p.PDeadend == 0 {
		p.PDeadend = 0.05
	}
	if p.POneway == 0 {
		p.POneway = 0.05
	}
	if p.OuterMin == 0 {
		p.OuterMin = 11
	}
	if p.OuterMax == 0 {
		p.OuterMax = p.NumSectors
	}
	if p.Density <= 0 {
		p.Density = 4
	}
	// MaxPorts/MaxPlanets take precedence when set explicitly; PortRatio/
	// PlanetRatio exist for callers that would rather size a universe as a
	// fraction of NumSectors than count out fixed caps.
	if p.MaxPorts == 0 && p.PortRatio > 0 {
		p.MaxPorts = int(float64(p.NumSectors) * p.PortRatio)
	}
	if p.MaxPlanets == 0 && p.PlanetRatio > 0 {
		p.MaxPlanets = int(float64(p.NumSectors) * p.PlanetRatio)
	}
}

// Sector is a generated node. IDs are 1-based; FedSpace is {2..10}; sector
// 1 is Terra's home sector.
type Sector struct {
	ID       int
	Beacon   string
	FedSpace bool
}

// Warp is a directed edge; reciprocal edges are represented as two Warps.
type Warp struct {
	From, To int
}

// Port is a generated trading post; Kind 1..8 ordinary, 9 Stardock, 10
// Black Market.
type Port struct {
	SectorID int
	Kind     int
	Credits  int64
}

// Planet is a generated planet; homeworld planets have fixed names/ids.
type Planet struct {
	ID       int
	Name     string
	SectorID int
}

// NPCShip is a generated faction-owned ship.
type NPCShip struct {
	SectorID int
	Faction  string
	Kind     string // "trader" | "warship"
}

// Universe is the full generated output.
type Universe struct {
	Sectors     []Sector
	Warps       []Warp
	UsedSectors map[int]bool // tunnel membership
	Tunnels     [][]int
	Ports       []Port
	Planets     []Planet
	Ships       []NPCShip
}

// generator carries the mutable working state of one Generate call.
type generator struct {
	p       Params
	rng     *rand.Rand
	degree  map[int]int // outgoing warps per sector; Density caps it
	edgeSet map[Warp]bool
	warps   []Warp
	used    map[int]bool
}

// Generate runs the full 10-step algorithm of §4.7 and returns the result,
// or an error if connectivity cannot be established (step 6's "fail
// loudly if any remain").
func Generate(p Params) (*Universe, error) {
	p.fillDefaults()
	if p.NumSectors < p.OuterMin {
		return nil, errors.New("universe: NumSectors must exceed OuterMin")
	}

	var g = &generator{
		p:       p,
		rng:     rand.New(rand.NewSource(p.Seed)),
		degree:  make(map[int]int, p.NumSectors),
		edgeSet: make(map[Warp]bool),
		used:    make(map[int]bool),
	}

	var sectors = g.createSectors()
	g.randomWarps(sectors)
	g.fedspaceExit()
	var tunnels = g.buildTunnels()
	g.pruneTunnelLeaks()
	if err := g.validateConnectivity(sectors); err != nil {
		return nil, err
	}
	g.trapRepair(sectors)

	var ports = g.createPorts(sectors, tunnels)
	var planets = g.createPlanets(tunnels)
	var ships = g.createShips(planets)

	return &Universe{
		Sectors:     sectors,
		Warps:       g.warps,
		UsedSectors: g.used,
		Tunnels:     tunnels,
		Ports:       ports,
		Planets:     planets,
		Ships:       ships,
	}, nil
}

// step 1: create sectors, every 64th carries a starter beacon.
func (g *generator) createSectors() []Sector {
	var out = make([]Sector, g.p.NumSectors)
	for i := 1; i <= g.p.NumSectors; i++ {
		var s = Sector{ID: i, FedSpace: i >= 2 && i <= 10}
		if i%64 == 0 {
			s.Beacon = fmt.Sprintf("beacon-%d", i)
		}
		out[i-1] = s
	}
	return out
}

func (g *generator) addEdge(from, to int) bool {
	if from == to {
		return false
	}
	var w = Warp{From: from, To: to}
	if g.edgeSet[w] {
		return false
	}
	if g.degree[from] >= g.p.Density {
		return false
	}
	g.edgeSet[w] = true
	g.warps = append(g.warps, w)
	g.degree[from]++
	return true
}

// step 2: random warps for each non-tunnel sector > 10.
func (g *generator) randomWarps(sectors []Sector) {
	for _, s := range sectors {
		if s.ID <= 10 || g.used[s.ID] {
			continue
		}
		if g.rng.Float64() < g.p.PDeadend {
			continue
		}

		var targetDegree = 1 + g.rng.Intn(g.p.Density)
		var placed = false

		for attempt := 0; attempt < 200 && g.degree[s.ID] < targetDegree; attempt++ {
			var t = g.p.OuterMin + g.rng.Intn(g.p.NumSectors-g.p.OuterMin+1)
			if g.addEdge(s.ID, t) {
				placed = true
				if g.rng.Float64() < 1-g.p.POneway {
					g.addEdge(t, s.ID)
				}
			}
		}

		if !placed {
			// force one edge unconditionally to prevent orphans.
			for t := g.p.OuterMin; t <= g.p.OuterMax; t++ {
				if t != s.ID && g.addEdge(s.ID, t) {
					break
				}
			}
		}
	}
}

// step 3: at least three edges from FedSpace {2..10} into the outer range.
func (g *generator) fedspaceExit() {
	var count = 0
	for _, w := range g.warps {
		if w.From >= 2 && w.From <= 10 && w.To >= g.p.OuterMin {
			count++
		}
	}

	var attempts = 0
	for count < 3 && attempts < 2000 {
		attempts++
		var from = 2 + g.rng.Intn(9)
		var to = g.p.OuterMin + g.rng.Intn(g.p.OuterMax-g.p.OuterMin+1)
		if g.addEdge(from, to) {
			count++
			if g.rng.Float64() < 1-g.p.POneway {
				g.addEdge(to, from)
			}
		}
	}

	if count < 3 {
		log.WithField("count", count).Warn("universe: fedspace exit count below minimum after attempt cap")
	}
}

// step 4: build MinTunnels disjoint linear paths of length >= MinTunnelLen,
// using sectors not already used, attempted as an in-memory "savepoint"
// (a trial path is discarded wholesale on any conflict, never partially
// committed).
func (g *generator) buildTunnels() [][]int {
	var tunnels [][]int
	var candidateStart = g.p.NumSectors

	for len(tunnels) < g.p.MinTunnels && candidateStart > g.p.OuterMin {
		var path = g.tryBuildTunnelPath(candidateStart)
		if path != nil {
			tunnels = append(tunnels, path)
			for _, id := range path {
				g.used[id] = true
			}
		}
		candidateStart -= g.p.MinTunnelLen
	}

	for i, path := range tunnels {
		for j := 0; j+1 < len(path); j++ {
			g.addTunnelEdge(path[j], path[j+1])
			g.addTunnelEdge(path[j+1], path[j])
		}
		tunnels[i] = path
	}

	return tunnels
}

// addTunnelEdge bypasses the degree cap: tunnel edges are a deliberate
// linear chain, not subject to the random-graph density limit.
func (g *generator) addTunnelEdge(from, to int) {
	var w = Warp{From: from, To: to}
	if g.edgeSet[w] {
		return
	}
	g.edgeSet[w] = true
	g.warps = append(g.warps, w)
	g.degree[from]++
}

func (g *generator) tryBuildTunnelPath(start int) []int {
	var path = make([]int, 0, g.p.MinTunnelLen)
	var id = start
	for len(path) < g.p.MinTunnelLen {
		if id < g.p.OuterMin || id > g.p.NumSectors || g.used[id] {
			return nil // conflict: rollback the trial path entirely
		}
		path = append(path, id)
		id--
	}
	return path
}

// step 5: remove any warp where exactly one endpoint is in used (tunnel
// membership) -- tunnels must not leak into the general graph.
func (g *generator) pruneTunnelLeaks() {
	var kept = g.warps[:0:0]
	for _, w := range g.warps {
		if g.used[w.From] != g.used[w.To] {
			g.edgeSet[w] = false
			g.degree[w.From]--
			continue
		}
		kept = append(kept, w)
	}
	g.warps = kept
}

// step 6: find zero-outdegree sectors (id > 10, not used) and attempt
// repairs; fail loudly if any remain unrepaired.
func (g *generator) validateConnectivity(sectors []Sector) error {
	var outDegree = make(map[int]int)
	for _, w := range g.warps {
		outDegree[w.From]++
	}

	for _, s := range sectors {
		if s.ID <= 10 || g.used[s.ID] {
			continue
		}
		if outDegree[s.ID] > 0 {
			continue
		}
		for attempt := 0; attempt < 10 && outDegree[s.ID] == 0; attempt++ {
			var t = g.p.OuterMin + g.rng.Intn(g.p.NumSectors-g.p.OuterMin+1)
			if !g.used[t] && g.addEdge(s.ID, t) {
				outDegree[s.ID]++
			}
		}
		if outDegree[s.ID] == 0 {
			return errors.Errorf("universe: sector %d has no outgoing warp after repair attempts", s.ID)
		}
	}
	return nil
}

// step 7: BFS from sector 1 backward (via incoming edges) to find sectors
// with no path back to FedSpace; for each, make up to ten attempts to add
// an edge into a random FedSpace sector, each subject to the Density cap.
// A sector whose attempts all fail is left without that edge.
func (g *generator) trapRepair(sectors []Sector) {
	var adj = make(map[int][]int)
	for _, w := range g.warps {
		adj[w.From] = append(adj[w.From], w.To)
	}

	var reach = make(map[int]bool)
	var reverse = make(map[int][]int)
	for _, w := range g.warps {
		reverse[w.To] = append(reverse[w.To], w.From)
	}

	var queue = []int{1}
	reach[1] = true
	for len(queue) > 0 {
		var cur = queue[0]
		queue = queue[1:]
		for _, prev := range reverse[cur] {
			if !reach[prev] {
				reach[prev] = true
				queue = append(queue, prev)
			}
		}
	}

	for _, s := range sectors {
		if s.ID <= 10 {
			continue // FedSpace sectors are trivially "on a path back to FedSpace"
		}
		// tunnel sectors are deliberately isolated from the general graph
		// (step 5 pruned their only non-tunnel edges); they are never
		// trap-repaired into FedSpace, or the repair would itself violate
		// the "no edge crosses the tunnel boundary" invariant.
		if reach[s.ID] || g.used[s.ID] {
			continue
		}
		for attempt := 0; attempt < 10; attempt++ {
			var target = 2 + g.rng.Intn(9)
			if g.addEdge(s.ID, target) {
				break
			}
		}
		reach[s.ID] = true
	}
}

// step 8: Stardock, ordinary ports, Black Market. The Black Market sits in
// the Orion cluster's homeworld sector (the same sector createPlanets will
// seed "Orion Hideout" into, from the third-longest tunnel) and is only
// created when that tunnel exists -- a universe generated with fewer than
// three tunnels has no Orion cluster to host one.
func (g *generator) createPorts(sectors []Sector, tunnels [][]int) []Port {
	var ports []Port

	var stardockSector = g.p.OuterMin + g.rng.Intn(g.p.OuterMax-g.p.OuterMin+1)
	ports = append(ports, Port{SectorID: stardockSector, Kind: 9, Credits: g.p.PortCredits})

	if len(tunnels) > 2 {
		var orionSector = tunnels[2][len(tunnels[2])-1]
		ports = append(ports, Port{SectorID: orionSector, Kind: 10, Credits: g.p.PortCredits})
	}

	var nonTunnel []int
	for _, s := range sectors {
		if s.ID > 10 && !g.used[s.ID] {
			nonTunnel = append(nonTunnel, s.ID)
		}
	}
	g.rng.Shuffle(len(nonTunnel), func(i, j int) { nonTunnel[i], nonTunnel[j] = nonTunnel[j], nonTunnel[i] })

	var n = g.p.MaxPorts
	if n > len(nonTunnel) {
		n = len(nonTunnel)
	}
	for i := 0; i < n; i++ {
		ports = append(ports, Port{SectorID: nonTunnel[i], Kind: 1 + g.rng.Intn(8), Credits: g.p.PortCredits})
	}

	return ports
}

// step 9: Terra in sector 1; Ferringhi and Orion homeworlds at the ends of
// the second and third tunnels (sector 1 when that tunnel does not exist),
// plus filler planets up to MaxPlanets.
func (g *generator) createPlanets(tunnels [][]int) []Planet {
	var planets []Planet

	var terraSector, ferringhiSector, orionSector = 1, 1, 1
	if len(tunnels) > 1 {
		ferringhiSector = tunnels[1][len(tunnels[1])-1]
	}
	if len(tunnels) > 2 {
		orionSector = tunnels[2][len(tunnels[2])-1]
	}

	planets = append(planets,
		Planet{ID: 1, Name: "Terra", SectorID: terraSector},
		Planet{ID: 2, Name: "Ferringhi Homeworld", SectorID: ferringhiSector},
		Planet{ID: 3, Name: "Orion Hideout", SectorID: orionSector},
	)

	var nextID = 4
	for len(planets) < g.p.MaxPlanets {
		var sectorID = 11 + g.rng.Intn(g.p.NumSectors-10)
		planets = append(planets, Planet{ID: nextID, Name: fmt.Sprintf("Colony-%d", nextID), SectorID: sectorID})
		nextID++
	}

	return planets
}

// step 10: NPC traders and warships at the faction homeworlds.
func (g *generator) createShips(planets []Planet) []NPCShip {
	var ships []NPCShip
	var factions = []struct {
		name      string
		planetIdx int
	}{
		{"terran", 0}, {"ferringhi", 1}, {"orion", 2},
	}

	for _, f := range factions {
		if f.planetIdx >= len(planets) {
			continue
		}
		var sector = planets[f.planetIdx].SectorID
		ships = append(ships,
			NPCShip{SectorID: sector, Faction: f.name, Kind: "trader"},
			NPCShip{SectorID: sector, Faction: f.name, Kind: "warship"},
		)
	}
	return ships
}

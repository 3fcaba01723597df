// Package peers implements the peer registry and nonce cache of §4.5: the
// S2S client and session server consult this to decide which peers to dial
// and which inbound messages are replays. Grounded on
// _examples/other_examples's SAGE-X-project-sage/pkg/agent/handshake-server.go,
// whose cachedPeer/pendingState maps plus a mutex-guarded cleanupLoop ticker
// are adapted here into Registry's in-memory cache and sweep loop.
package peers

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"twclone/internal/repo"
)

// ErrNotFound is returned by Get for an unknown peer id.
var ErrNotFound = errors.New("peers: not found")

// ErrReplay is returned by CheckAndInsertNonce when (peer_id, nonce) has
// already been seen within the replay window.
var ErrReplay = errors.New("peers: nonce replay detected")

// Peer is one entry of the registry (§4.5).
type Peer struct {
	PeerID      string
	Host        string
	Port        int
	Enabled     bool
	SharedKeyID string
	LastSeenAt  int64
	Notes       string
	CreatedAt   int64
}

// Registry caches the s2s_peers table in memory, read-mostly like
// handshake-server.go's cachedPeer map, backed by repo.PeerRepository for
// durability and for the nonce uniqueness check itself (which must be
// transactionally exact, not just in-memory -- a restart must not reopen
// the replay window).
type Registry struct {
	mu    sync.RWMutex
	peers map[string]Peer
	repo  repo.PeerRepository
}

// New returns a Registry backed by r. Call LoadAll once at startup.
func New(r repo.PeerRepository) *Registry {
	return &Registry{peers: make(map[string]Peer), repo: r}
}

// LoadAll populates the in-memory cache from the repository.
func (reg *Registry) LoadAll() error {
	var rows, err = reg.repo.ListPeers()
	if err != nil {
		return errors.WithMessage(err, "peers: load all")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, row := range rows {
		reg.peers[row.PeerID] = fromRow(row)
	}
	return nil
}

// List returns a snapshot of every cached peer.
func (reg *Registry) List() []Peer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var out = make([]Peer, 0, len(reg.peers))
	for _, p := range reg.peers {
		out = append(out, p)
	}
	return out
}

// Get returns the cached Peer for id, or ErrNotFound.
func (reg *Registry) Get(id string) (Peer, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var p, ok = reg.peers[id]
	if !ok {
		return Peer{}, ErrNotFound
	}
	return p, nil
}

// Upsert writes p to the repository and refreshes the cache.
func (reg *Registry) Upsert(p Peer) error {
	if err := reg.repo.UpsertPeer(toRow(p)); err != nil {
		return errors.WithMessage(err, "peers: upsert")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.peers[p.PeerID] = p
	return nil
}

// SetEnabled flips enabled for id in both the repository and the cache.
func (reg *Registry) SetEnabled(id string, enabled bool) error {
	if err := reg.repo.SetPeerEnabled(id, enabled); err != nil {
		return errors.WithMessage(err, "peers: set enabled")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if p, ok := reg.peers[id]; ok {
		p.Enabled = enabled
		reg.peers[id] = p
	}
	return nil
}

// TouchLastSeen records a contact with id at at (unix seconds).
func (reg *Registry) TouchLastSeen(id string, at int64) error {
	if err := reg.repo.TouchLastSeen(id, at); err != nil {
		return errors.WithMessage(err, "peers: touch last seen")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if p, ok := reg.peers[id]; ok {
		p.LastSeenAt = at
		reg.peers[id] = p
	}
	return nil
}

// CheckAndInsertNonce records (peerID, nonce, msgTS) if unseen, or returns
// ErrReplay if it has already been recorded -- the replay defense of §4.5
// and §8 Testable Property #6. The repository's uniqueness constraint is
// the source of truth; this call is safe under concurrent dispatch from
// multiple connection goroutines.
func (reg *Registry) CheckAndInsertNonce(peerID, nonce string, msgTS int64) error {
	var inserted, err = reg.repo.InsertNonceIfAbsent(peerID, nonce, msgTS)
	if err != nil {
		return errors.WithMessage(err, "peers: check and insert nonce")
	}
	if !inserted {
		return ErrReplay
	}
	return nil
}

// SweepNonces deletes nonce records older than the replay window and logs
// how many were removed; intended to be called periodically by the engine
// cron, mirroring handshake-server.go's cleanupLoop ticker.
func (reg *Registry) SweepNonces(window time.Duration, now time.Time) (int, error) {
	var cutoff = now.Add(-window).Unix()
	var removed, err = reg.repo.SweepNonces(cutoff)
	if err != nil {
		return 0, errors.WithMessage(err, "peers: sweep nonces")
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("peers: swept expired nonces")
	}
	return removed, nil
}

func fromRow(r repo.PeerRow) Peer {
	return Peer{
		PeerID: r.PeerID, Host: r.Host, Port: r.Port, Enabled: r.Enabled,
		SharedKeyID: r.SharedKeyID, LastSeenAt: r.LastSeenAt, Notes: r.Notes, CreatedAt: r.CreatedAt,
	}
}

func toRow(p Peer) repo.PeerRow {
	return repo.PeerRow{
		PeerID: p.PeerID, Host: p.Host, Port: p.Port, Enabled: p.Enabled,
		SharedKeyID: p.SharedKeyID, LastSeenAt: p.LastSeenAt, Notes: p.Notes, CreatedAt: p.CreatedAt,
	}
}

// Package repo defines the typed repository interface handlers use to reach
// persistence (§4.9). The core owns this contract, never SQL strings built
// from command data; internal/repo/sqlite.go is the one concrete
// implementation, over database/sql + github.com/mattn/go-sqlite3 (grounded
// on _examples/other_examples's Vitadek-OwnWorld/ownworld.go, the pack's
// closest embedded-game-database analogue).
package repo

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by lookups that find nothing; callers compare
// with errors.Is.
var ErrNotFound = errors.New("repo: not found")

// ErrConflict is returned by mutations that violate a uniqueness or
// check constraint.
var ErrConflict = errors.New("repo: conflict")

// Event is one row of the append-only engine_events log (§3).
type Event struct {
	ID            int64
	TS            int64
	Type          string
	ActorPlayerID *int64
	SectorID      *int64
	Payload       json.RawMessage
}

// Offset is the per-consumer watermark of engine_offset.
type Offset struct {
	Key         string
	LastEventID int64
	LastEventTS int64
}

// DeadLetter is a quarantined event, shaped like Event plus failure detail.
type DeadLetter struct {
	Event
	Error   string
	MovedAt int64
}

// Ship, Player, Port, Planet, BankAccount, and CommodityOrder restore the
// detail the distilled spec.md summarizes into "specified by the repository
// contract, not by the core" (§3A); CommodityOrder's invariants are
// enforced by ValidateOrder below, and the rest are owned by the SQL layer
// this interface abstracts over.
type Ship struct {
	ID        int64
	OwnerID   int64
	SectorID  int64
	TypeID    int64
	NPCLocked bool
}

type Player struct {
	ID        int64
	Name      string
	SectorID  int64
	Alignment int
	XP        int64
}

type Port struct {
	ID       int64
	SectorID int64
	Kind     int // 1..8 ordinary, 9 Stardock, 10 Black Market
	Credits  int64
}

type Planet struct {
	ID       int64
	Name     string
	SectorID int64
	OwnerID  *int64
}

type BankAccount struct {
	OwnerID int64
	Credits int64
}

// OrderSide and OrderStatus enumerate the commodity order invariants of §3.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

type CommodityOrder struct {
	ID             int64
	Side           OrderSide
	Status         OrderStatus
	Quantity       int64
	FilledQuantity int64
	ExpiresAt      *time.Time
}

// ValidateOrder enforces the §3 invariants on a CommodityOrder: side and
// status must be in their closed sets, and filled_quantity must never
// exceed quantity.
func ValidateOrder(o CommodityOrder) error {
	switch o.Side {
	case SideBuy, SideSell:
	default:
		return errors.Errorf("repo: invalid order side %q", o.Side)
	}
	switch o.Status {
	case OrderOpen, OrderFilled, OrderCancelled, OrderExpired:
	default:
		return errors.Errorf("repo: invalid order status %q", o.Status)
	}
	if o.FilledQuantity > o.Quantity {
		return errors.Errorf("repo: filled_quantity %d exceeds quantity %d", o.FilledQuantity, o.Quantity)
	}
	return nil
}

// NewsFeedEntry and SystemNotice restore the news_feed/system_notice tables
// named in §6 but left unspecified otherwise (§3A).
type NewsFeedEntry struct {
	ID      int64
	TS      int64
	Scope   string
	Message string
}

type SystemNotice struct {
	ID      int64
	TS      int64
	Message string
}

// EventRepository is the slice of the repository the consumer needs.
type EventRepository interface {
	MaxEventID() (int64, error)
	LoadOffset(consumerKey string) (Offset, error)
	// SelectEvents returns up to limit rows with id > afterID, ascending by
	// id. If onlyTypes is non-empty, rows are filtered to those types.
	SelectEvents(afterID int64, onlyTypes []string, limit int) ([]Event, error)
	// ApplyBatch commits, in one transaction: moving quarantined (by id) to
	// the dead-letter table (upsert on id) with the given errors, and
	// persisting the new offset -- atomically, per §4.4's watermark
	// guarantee.
	ApplyBatch(consumerKey string, newOffset Offset, quarantined map[int64]string) error
}

// KeyRepository is the slice of the repository internal/keyring needs.
type KeyRepository interface {
	ListActiveKeys() ([]KeyRow, error)
	DefaultKeyID() (string, error)
	InsertPlaceholderKey() (KeyRow, error)
}

// KeyRow mirrors a s2s_keys row.
type KeyRow struct {
	ID        string
	Secret    []byte
	IsDefault bool
}

// PeerRepository is the slice of the repository internal/peers needs.
type PeerRepository interface {
	ListPeers() ([]PeerRow, error)
	GetPeer(peerID string) (PeerRow, error)
	UpsertPeer(p PeerRow) error
	SetPeerEnabled(peerID string, enabled bool) error
	TouchLastSeen(peerID string, at int64) error
	InsertNonceIfAbsent(peerID, nonce string, msgTS int64) (inserted bool, err error)
	SweepNonces(olderThan int64) (removed int, err error)
}

// PeerRow mirrors a s2s_peers row.
type PeerRow struct {
	PeerID      string
	Host        string
	Port        int
	Enabled     bool
	SharedKeyID string
	LastSeenAt  int64
	Notes       string
	CreatedAt   int64
}

// NoticeRepository is the slice of the repository the S2S command-push
// handler needs: persisting a system_notice row for cmd_type="notice.publish"
// (§8's worked S2S command-push scenario).
type NoticeRepository interface {
	InsertSystemNotice(ts int64, message string) (int64, error)
}

// Repository is the full interface; concrete stores (Store in sqlite.go) satisfy
// all of it, while individual components depend only on the narrow slice
// they need (EventRepository, KeyRepository, PeerRepository) to keep their
// own tests simple to fake.
type Repository interface {
	EventRepository
	KeyRepository
	PeerRepository
	NoticeRepository
}

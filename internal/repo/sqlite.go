package repo

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store is the sqlite3-backed Repository. One Store per process; callers
// check out *sql.DB connections per task the way
// _examples/other_examples's Vitadek-OwnWorld/ownworld.go does, relying on
// database/sql's own pool rather than a hand-rolled one (§5).
type Store struct {
	db *sql.DB
}

var _ Repository = (*Store)(nil)

// Open opens (and, if needed, creates) the sqlite3 database at path and
// applies schemaDDL. "_foreign_keys=on" and "_journal_mode=WAL" mirror the
// pragmas OwnWorld's ownworld.go sets on its own connection string.
func Open(path string) (*Store, error) {
	var db, err = sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "repo: open sqlite3")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "repo: apply schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying *sql.DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// MaxEventID returns the highest id in engine_events, or 0 if the log is
// empty.
func (s *Store) MaxEventID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM engine_events`).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "repo: max event id")
	}
	return id.Int64, nil
}

// LoadOffset returns the persisted watermark for consumerKey, or a
// zero-value Offset if none has been recorded yet (first tick, §4.4).
func (s *Store) LoadOffset(consumerKey string) (Offset, error) {
	var o = Offset{Key: consumerKey}
	var err = s.db.QueryRow(
		`SELECT last_event_id, last_event_ts FROM engine_offset WHERE consumer_key = ?`,
		consumerKey,
	).Scan(&o.LastEventID, &o.LastEventTS)
	if errors.Is(err, sql.ErrNoRows) {
		return o, nil
	}
	if err != nil {
		return Offset{}, errors.Wrap(err, "repo: load offset")
	}
	return o, nil
}

// SelectEvents returns up to limit rows after afterID, ascending by id,
// optionally filtered to onlyTypes (the priority pass of §4.4).
func (s *Store) SelectEvents(afterID int64, onlyTypes []string, limit int) ([]Event, error) {
	var query = `SELECT id, ts, type, actor_player_id, sector_id, payload FROM engine_events WHERE id > ?`
	var args = []interface{}{afterID}

	if len(onlyTypes) > 0 {
		query += ` AND type IN (`
		for i, t := range onlyTypes {
			if i > 0 {
				query += `,`
			}
			query += `?`
			args = append(args, t)
		}
		query += `)`
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)

	var rows, err = s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "repo: select events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ActorPlayerID, &e.SectorID, &payload); err != nil {
			return nil, errors.Wrap(err, "repo: scan event")
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyBatch persists a consumer tick's outcome atomically: quarantined
// rows move to engine_events_deadletter and the stored offset is set to
// newOffset, which the caller may place past quarantined rows, so a poison
// row never blocks the watermark (§4.4, §8 Testable Property #1/#2).
func (s *Store) ApplyBatch(consumerKey string, newOffset Offset, quarantined map[int64]string) error {
	var tx, err = s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "repo: begin apply batch")
	}
	defer tx.Rollback()

	for id, reason := range quarantined {
		var row = s.db.QueryRow(`SELECT ts, type, payload FROM engine_events WHERE id = ?`, id)
		var ts int64
		var typ, payload string
		if err := row.Scan(&ts, &typ, &payload); err != nil {
			return errors.Wrapf(err, "repo: load quarantine candidate %d", id)
		}
		if _, err := tx.Exec(
			`INSERT INTO engine_events_deadletter (id, ts, type, payload, error, moved_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET error = excluded.error, moved_at = excluded.moved_at`,
			id, ts, typ, payload, reason, newOffset.LastEventTS,
		); err != nil {
			return errors.Wrapf(err, "repo: quarantine event %d", id)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO engine_offset (consumer_key, last_event_id, last_event_ts)
		 VALUES (?, ?, ?)
		 ON CONFLICT(consumer_key) DO UPDATE SET last_event_id = excluded.last_event_id, last_event_ts = excluded.last_event_ts`,
		consumerKey, newOffset.LastEventID, newOffset.LastEventTS,
	); err != nil {
		return errors.Wrap(err, "repo: persist offset")
	}

	return errors.Wrap(tx.Commit(), "repo: commit apply batch")
}

// ListActiveKeys returns every row of s2s_keys.
func (s *Store) ListActiveKeys() ([]KeyRow, error) {
	var rows, err = s.db.Query(`SELECT id, secret_b64, is_default FROM s2s_keys`)
	if err != nil {
		return nil, errors.Wrap(err, "repo: list keys")
	}
	defer rows.Close()

	var out []KeyRow
	for rows.Next() {
		var k KeyRow
		var secretB64 string
		if err := rows.Scan(&k.ID, &secretB64, &k.IsDefault); err != nil {
			return nil, errors.Wrap(err, "repo: scan key")
		}
		k.Secret, err = base64.StdEncoding.DecodeString(secretB64)
		if err != nil {
			return nil, errors.Wrapf(err, "repo: decode secret for key %q", k.ID)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// DefaultKeyID returns the id marked is_default, or ErrNotFound if none is.
func (s *Store) DefaultKeyID() (string, error) {
	var id string
	var err = s.db.QueryRow(`SELECT id FROM s2s_keys WHERE is_default = 1 LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "repo: default key id")
	}
	return id, nil
}

// InsertPlaceholderKey inserts a fresh random key and marks it default;
// internal/keyring calls this exactly once, on an empty keyring, per §4.1.
func (s *Store) InsertPlaceholderKey() (KeyRow, error) {
	var secret = make([]byte, 32)
	if _, err := randRead(secret); err != nil {
		return KeyRow{}, errors.Wrap(err, "repo: generate placeholder secret")
	}
	var id = "k-" + randHex(8)
	var secretB64 = base64.StdEncoding.EncodeToString(secret)

	if _, err := s.db.Exec(
		`INSERT INTO s2s_keys (id, secret_b64, is_default) VALUES (?, ?, 1)`,
		id, secretB64,
	); err != nil {
		return KeyRow{}, errors.Wrap(err, "repo: insert placeholder key")
	}
	return KeyRow{ID: id, Secret: secret, IsDefault: true}, nil
}

// ListPeers returns every row of s2s_peers.
func (s *Store) ListPeers() ([]PeerRow, error) {
	var rows, err = s.db.Query(
		`SELECT peer_id, host, port, enabled, shared_key_id, last_seen_at, notes, created_at FROM s2s_peers`)
	if err != nil {
		return nil, errors.Wrap(err, "repo: list peers")
	}
	defer rows.Close()

	var out []PeerRow
	for rows.Next() {
		var p PeerRow
		if err := rows.Scan(&p.PeerID, &p.Host, &p.Port, &p.Enabled, &p.SharedKeyID, &p.LastSeenAt, &p.Notes, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "repo: scan peer")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPeer returns the row for peerID, or ErrNotFound.
func (s *Store) GetPeer(peerID string) (PeerRow, error) {
	var p = PeerRow{PeerID: peerID}
	var err = s.db.QueryRow(
		`SELECT host, port, enabled, shared_key_id, last_seen_at, notes, created_at FROM s2s_peers WHERE peer_id = ?`,
		peerID,
	).Scan(&p.Host, &p.Port, &p.Enabled, &p.SharedKeyID, &p.LastSeenAt, &p.Notes, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PeerRow{}, ErrNotFound
	}
	if err != nil {
		return PeerRow{}, errors.Wrap(err, "repo: get peer")
	}
	return p, nil
}

// UpsertPeer inserts or replaces the row for p.PeerID.
func (s *Store) UpsertPeer(p PeerRow) error {
	var _, err = s.db.Exec(
		`INSERT INTO s2s_peers (peer_id, host, port, enabled, shared_key_id, last_seen_at, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET
		   host = excluded.host, port = excluded.port, enabled = excluded.enabled,
		   shared_key_id = excluded.shared_key_id, notes = excluded.notes`,
		p.PeerID, p.Host, p.Port, p.Enabled, p.SharedKeyID, p.LastSeenAt, p.Notes, p.CreatedAt,
	)
	return errors.Wrap(err, "repo: upsert peer")
}

// SetPeerEnabled flips the enabled flag for peerID.
func (s *Store) SetPeerEnabled(peerID string, enabled bool) error {
	var res, err = s.db.Exec(`UPDATE s2s_peers SET enabled = ? WHERE peer_id = ?`, enabled, peerID)
	if err != nil {
		return errors.Wrap(err, "repo: set peer enabled")
	}
	return checkAffected(res)
}

// TouchLastSeen updates last_seen_at for peerID.
func (s *Store) TouchLastSeen(peerID string, at int64) error {
	var res, err = s.db.Exec(`UPDATE s2s_peers SET last_seen_at = ? WHERE peer_id = ?`, at, peerID)
	if err != nil {
		return errors.Wrap(err, "repo: touch last seen")
	}
	return checkAffected(res)
}

// InsertNonceIfAbsent inserts (peerID, nonce) if not already present,
// returning inserted=false on a uniqueness violation (replay, §4.5).
func (s *Store) InsertNonceIfAbsent(peerID, nonce string, msgTS int64) (bool, error) {
	var _, err = s.db.Exec(
		`INSERT INTO s2s_nonce_seen (peer_id, nonce, msg_ts) VALUES (?, ?, ?)`,
		peerID, nonce, msgTS,
	)
	if err == nil {
		return true, nil
	}
	if isUniqueViolation(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "repo: insert nonce")
}

// SweepNonces deletes nonce rows older than olderThan, returning the count
// removed.
func (s *Store) SweepNonces(olderThan int64) (int, error) {
	var res, err = s.db.Exec(`DELETE FROM s2s_nonce_seen WHERE msg_ts < ?`, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "repo: sweep nonces")
	}
	var n, _ = res.RowsAffected()
	return int(n), nil
}

// InsertSystemNotice inserts a system_notice row and returns its id.
func (s *Store) InsertSystemNotice(ts int64, message string) (int64, error) {
	var res, err = s.db.Exec(`INSERT INTO system_notice (ts, message) VALUES (?, ?)`, ts, message)
	if err != nil {
		return 0, errors.Wrap(err, "repo: insert system notice")
	}
	var id, idErr = res.LastInsertId()
	if idErr != nil {
		return 0, errors.Wrap(idErr, "repo: system notice last insert id")
	}
	return id, nil
}

func checkAffected(res sql.Result) error {
	var n, err = res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "repo: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a sqlite3 UNIQUE/PRIMARY KEY
// constraint failure. go-sqlite3 exposes this as sqlite3.Error with
// ExtendedCode in the Constraint* family; checked by string match here to
// avoid importing the driver's internal error type into call sites.
func isUniqueViolation(err error) bool {
	return err != nil && containsFold(err.Error(), "UNIQUE constraint failed")
}

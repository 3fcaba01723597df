package repo

// schemaDDL holds every table the engine and session server touch. A
// single string, executed with database/sql's multi-statement Exec, the
// way _examples/other_examples's Vitadek-OwnWorld/ownworld.go lays out its
// own embedded schema. sqlite3 is the only dialect this port ships; a
// second dialect would isolate itself behind this same file (§4.9) rather
// than leaking branches into Store's methods.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS engine_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	ts              INTEGER NOT NULL,
	type            TEXT NOT NULL,
	actor_player_id INTEGER,
	sector_id       INTEGER,
	payload         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_events_deadletter (
	id         INTEGER PRIMARY KEY,
	ts         INTEGER NOT NULL,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	error      TEXT NOT NULL,
	moved_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_offset (
	consumer_key   TEXT PRIMARY KEY,
	last_event_id  INTEGER NOT NULL,
	last_event_ts  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS s2s_keys (
	id         TEXT PRIMARY KEY,
	secret_b64 TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS s2s_peers (
	peer_id       TEXT PRIMARY KEY,
	host          TEXT NOT NULL,
	port          INTEGER NOT NULL,
	enabled       INTEGER NOT NULL DEFAULT 1,
	shared_key_id TEXT NOT NULL,
	last_seen_at  INTEGER NOT NULL DEFAULT 0,
	notes         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS s2s_nonce_seen (
	peer_id TEXT NOT NULL,
	nonce   TEXT NOT NULL,
	msg_ts  INTEGER NOT NULL,
	PRIMARY KEY (peer_id, nonce)
);

CREATE TABLE IF NOT EXISTS sectors (
	id        INTEGER PRIMARY KEY,
	beacon    TEXT NOT NULL DEFAULT '',
	fedspace  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sector_warps (
	from_sector INTEGER NOT NULL,
	to_sector   INTEGER NOT NULL,
	one_way     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (from_sector, to_sector)
);

CREATE TABLE IF NOT EXISTS used_sectors (
	sector_id INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS ports (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	sector_id INTEGER NOT NULL,
	kind      INTEGER NOT NULL,
	credits   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS planets (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	sector_id INTEGER NOT NULL,
	owner_id  INTEGER
);

CREATE TABLE IF NOT EXISTS ships (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id   INTEGER NOT NULL,
	sector_id  INTEGER NOT NULL,
	type_id    INTEGER NOT NULL,
	npc_locked INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS players (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL UNIQUE,
	sector_id INTEGER NOT NULL,
	alignment INTEGER NOT NULL DEFAULT 0,
	xp        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	player_id   INTEGER NOT NULL,
	started_at  INTEGER NOT NULL,
	last_seen_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_stock (
	port_id     INTEGER NOT NULL,
	commodity   TEXT NOT NULL,
	quantity    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (port_id, commodity)
);

CREATE TABLE IF NOT EXISTS commodity_orders (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	side            TEXT NOT NULL,
	status          TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	filled_quantity INTEGER NOT NULL DEFAULT 0,
	expires_at      INTEGER
);

CREATE TABLE IF NOT EXISTS commodity_trades (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL,
	qty      INTEGER NOT NULL,
	price    INTEGER NOT NULL,
	ts       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bank_accounts (
	owner_id INTEGER PRIMARY KEY,
	credits  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS citadels (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	planet_id INTEGER NOT NULL,
	level     INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS sector_assets (
	sector_id INTEGER NOT NULL,
	kind      TEXT NOT NULL,
	ref_id    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS news_feed (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	scope   TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_notice (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	message TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notice_seen (
	notice_id INTEGER NOT NULL,
	player_id INTEGER NOT NULL,
	PRIMARY KEY (notice_id, player_id)
);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

package repo

import (
	"database/sql"

	"github.com/pkg/errors"

	"twclone/internal/universe"
)

// npcShipTypeID encodes universe.NPCShip.Kind into the ships.type_id column.
// Player-owned ship types are assigned by a later, unrelated allocation;
// these two values are reserved for NPC-locked ships only.
var npcShipTypeID = map[string]int{
	"trader":  1,
	"warship": 2,
}

// ErrAlreadySeeded is returned by PersistUniverse when the database already
// has sector rows; callers bootstrapping a fresh deployment should treat it
// as "nothing to do" rather than fatal.
var ErrAlreadySeeded = errors.New("repo: universe already persisted")

// PersistUniverse writes a freshly generated universe.Universe into the
// sectors/sector_warps/used_sectors/ports/planets/ships tables in one
// transaction, for the "invoked at fresh database initialisation" step of
// §4.7. It is an error to call this against a database that already has
// sector rows -- universe generation is a one-time bootstrap, not a
// incremental update.
func (s *Store) PersistUniverse(u *universe.Universe) error {
	var tx, err = s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "repo: begin persist universe")
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow(`SELECT count(*) FROM sectors`).Scan(&n); err != nil {
		return errors.Wrap(err, "repo: check existing sectors")
	}
	if n > 0 {
		return ErrAlreadySeeded
	}

	if err := persistSectors(tx, u); err != nil {
		return err
	}
	if err := persistWarps(tx, u); err != nil {
		return err
	}
	if err := persistUsedSectors(tx, u); err != nil {
		return err
	}
	if err := persistPorts(tx, u); err != nil {
		return err
	}
	if err := persistPlanets(tx, u); err != nil {
		return err
	}
	if err := persistNPCShips(tx, u); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "repo: commit persist universe")
	}
	return nil
}

func persistSectors(tx *sql.Tx, u *universe.Universe) error {
	var stmt, err = tx.Prepare(`INSERT INTO sectors (id, beacon, fedspace) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "repo: prepare sector insert")
	}
	defer stmt.Close()

	for _, sec := range u.Sectors {
		if _, err := stmt.Exec(sec.ID, sec.Beacon, boolToInt(sec.FedSpace)); err != nil {
			return errors.Wrapf(err, "repo: insert sector %d", sec.ID)
		}
	}
	return nil
}

func persistWarps(tx *sql.Tx, u *universe.Universe) error {
	var stmt, err = tx.Prepare(`INSERT OR IGNORE INTO sector_warps (from_sector, to_sector, one_way) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "repo: prepare warp insert")
	}
	defer stmt.Close()

	for _, w := range u.Warps {
		if _, err := stmt.Exec(w.From, w.To, 0); err != nil {
			return errors.Wrapf(err, "repo: insert warp %d->%d", w.From, w.To)
		}
	}
	return nil
}

func persistUsedSectors(tx *sql.Tx, u *universe.Universe) error {
	var stmt, err = tx.Prepare(`INSERT INTO used_sectors (sector_id) VALUES (?)`)
	if err != nil {
		return errors.Wrap(err, "repo: prepare used_sectors insert")
	}
	defer stmt.Close()

	for sectorID, used := range u.UsedSectors {
		if !used {
			continue
		}
		if _, err := stmt.Exec(sectorID); err != nil {
			return errors.Wrapf(err, "repo: insert used_sectors %d", sectorID)
		}
	}
	return nil
}

func persistPorts(tx *sql.Tx, u *universe.Universe) error {
	var stmt, err = tx.Prepare(`INSERT INTO ports (sector_id, kind, credits) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "repo: prepare port insert")
	}
	defer stmt.Close()

	for _, p := range u.Ports {
		if _, err := stmt.Exec(p.SectorID, p.Kind, p.Credits); err != nil {
			return errors.Wrapf(err, "repo: insert port in sector %d", p.SectorID)
		}
	}
	return nil
}

func persistPlanets(tx *sql.Tx, u *universe.Universe) error {
	var stmt, err = tx.Prepare(`INSERT INTO planets (id, name, sector_id, owner_id) VALUES (?, ?, ?, NULL)`)
	if err != nil {
		return errors.Wrap(err, "repo: prepare planet insert")
	}
	defer stmt.Close()

	for _, p := range u.Planets {
		if _, err := stmt.Exec(p.ID, p.Name, p.SectorID); err != nil {
			return errors.Wrapf(err, "repo: insert planet %q", p.Name)
		}
	}
	return nil
}

func persistNPCShips(tx *sql.Tx, u *universe.Universe) error {
	var stmt, err = tx.Prepare(`INSERT INTO ships (owner_id, sector_id, type_id, npc_locked) VALUES (0, ?, ?, 1)`)
	if err != nil {
		return errors.Wrap(err, "repo: prepare npc ship insert")
	}
	defer stmt.Close()

	for _, sh := range u.Ships {
		var typeID, ok = npcShipTypeID[sh.Kind]
		if !ok {
			return errors.Errorf("repo: unrecognized npc ship kind %q", sh.Kind)
		}
		if _, err := stmt.Exec(sh.SectorID, typeID); err != nil {
			return errors.Wrapf(err, "repo: insert npc ship in sector %d", sh.SectorID)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/lancejames221b/agent-hivemind-sub004/internal/types"
)

// versionIndex is the secondary index keyed by id (spec §6's
// "version_index"), giving point lookups of the current version and state
// without scanning the append-only logs. Uses the teacher's embedded
// pure-Go sqlite driver (ncruces/go-sqlite3, no CGO) rather than its
// primary Dolt backend — see DESIGN.md.
//
// Raw-SQL insert/query style is grounded on the teacher's
// internal/storage/sqlite/issues.go.
type versionIndex struct {
	db *sql.DB
}

func openVersionIndex(path string) (*versionIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open version_index: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS version_index (
			id          TEXT PRIMARY KEY,
			counter     INTEGER NOT NULL,
			machine_id  TEXT NOT NULL,
			state       TEXT NOT NULL,
			category    TEXT NOT NULL,
			scope       TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create version_index: %w", err)
	}
	return &versionIndex{db: db}, nil
}

// Upsert records the latest known version/state for id.
func (v *versionIndex) Upsert(m types.Memory) error {
	_, err := v.db.Exec(`
		INSERT INTO version_index (id, counter, machine_id, state, category, scope)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			counter=excluded.counter, machine_id=excluded.machine_id,
			state=excluded.state, category=excluded.category, scope=excluded.scope`,
		m.ID, m.Version.Counter, m.Version.MachineID, string(m.State), string(m.Category), string(m.Scope))
	if err != nil {
		return fmt.Errorf("storage: upsert version_index: %w", err)
	}
	return nil
}

// CurrentVersion returns the version_index's record for id, if any.
func (v *versionIndex) CurrentVersion(id string) (types.Version, types.State, bool, error) {
	row := v.db.QueryRow(`SELECT counter, machine_id, state FROM version_index WHERE id = ?`, id)
	var counter uint64
	var machineID, state string
	if err := row.Scan(&counter, &machineID, &state); err != nil {
		if err == sql.ErrNoRows {
			return types.Version{}, "", false, nil
		}
		return types.Version{}, "", false, fmt.Errorf("storage: query version_index: %w", err)
	}
	return types.Version{Counter: counter, MachineID: machineID}, types.State(state), true, nil
}

func (v *versionIndex) Close() error { return v.db.Close() }

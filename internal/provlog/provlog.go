// Package provlog persists one provenance row per turn. The row carries
// the stable field set external health monitoring reads: energy,
// satisfaction, per-processor coherence, nexus count, and safety flags.
package provlog

// #region imports
import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #endregion

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS turn_log (
	turn_id          TEXT PRIMARY KEY,
	strategy         TEXT NOT NULL,
	confidence       REAL NOT NULL,
	energy           REAL NOT NULL,
	satisfaction     REAL NOT NULL,
	coherences_json  TEXT,
	nexus_count      INTEGER NOT NULL,
	risk             REAL NOT NULL,
	minimal_mode     INTEGER NOT NULL,
	non_convergence  INTEGER NOT NULL,
	created_at       TEXT NOT NULL
);
`

// Init creates the turn_log table.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate turn log schema: %w", err)
	}
	return nil
}

// #endregion schema

// #region entry

// Entry is a single row in the turn_log table.
type Entry struct {
	TurnID         string
	Strategy       string
	Confidence     float32
	Energy         float32
	Satisfaction   float32
	Coherences     map[string]float32
	NexusCount     int
	Risk           float32
	MinimalMode    bool
	NonConvergence bool
	CreatedAt      time.Time
}

// #endregion entry

// #region log-turn

// LogTurn writes a provenance entry to the turn_log table.
func LogTurn(db *sql.DB, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	coherences, err := json.Marshal(entry.Coherences)
	if err != nil {
		return fmt.Errorf("encode coherences: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO turn_log (turn_id, strategy, confidence, energy, satisfaction, coherences_json, nexus_count, risk, minimal_mode, non_convergence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TurnID,
		entry.Strategy,
		entry.Confidence,
		entry.Energy,
		entry.Satisfaction,
		string(coherences),
		entry.NexusCount,
		entry.Risk,
		boolInt(entry.MinimalMode),
		boolInt(entry.NonConvergence),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log turn: %w", err)
	}
	return nil
}

// #endregion log-turn

// #region recent-turns

// RecentTurns returns the latest entries, newest first. Used by the
// inspect tool.
func RecentTurns(db *sql.DB, limit int) ([]Entry, error) {
	rows, err := db.Query(
		`SELECT turn_id, strategy, confidence, energy, satisfaction, coherences_json, nexus_count, risk, minimal_mode, non_convergence, created_at
		 FROM turn_log ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("read turn log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var coherences, createdAt string
		var minimal, nonConv int
		if err := rows.Scan(&e.TurnID, &e.Strategy, &e.Confidence, &e.Energy, &e.Satisfaction,
			&coherences, &e.NexusCount, &e.Risk, &minimal, &nonConv, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn log: %w", err)
		}
		if coherences != "" {
			if err := json.Unmarshal([]byte(coherences), &e.Coherences); err != nil {
				return nil, fmt.Errorf("decode coherences: %w", err)
			}
		}
		e.MinimalMode = minimal != 0
		e.NonConvergence = nonConv != 0
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion recent-turns

// #region helpers

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers

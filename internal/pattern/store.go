package pattern

// #region imports
import (
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/axo-lotto/felt/go-pipeline/internal/nexus"
)

// #endregion

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS pattern_records (
	signature         TEXT NOT NULL,
	fragment          TEXT NOT NULL,
	quality           REAL NOT NULL,
	use_count         INTEGER NOT NULL DEFAULT 0,
	last_update_turn  INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (signature, fragment)
);

CREATE INDEX IF NOT EXISTS idx_pattern_records_quality
ON pattern_records(signature, quality DESC);

CREATE TABLE IF NOT EXISTS pending_feedback (
	turn_id     TEXT PRIMARY KEY,
	signature   TEXT NOT NULL,
	fragment    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// #region types

// Record is one learned response fragment for a nexus signature.
type Record struct {
	Signature      nexus.Signature
	Fragment       string
	Quality        float32 // [0, 1], EMA of rewards
	UseCount       int
	LastUpdateTurn int
}

// Config holds pattern-store tuning knobs.
type Config struct {
	Alpha       float32 // EMA step for quality updates
	FuzzyLookup bool    // fall back to Hamming-distance-1 signatures
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Alpha:       0.15,
		FuzzyLookup: true,
	}
}

// #endregion types

// #region store

// Store maps quantized nexus signatures to ranked response fragments
// with learned quality. Shared across conversations; every mutating call
// serializes on an internal mutex (single-writer discipline).
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	config Config
	rng    *rand.Rand
}

// NewStore initializes the pattern tables on an open database. rng
// drives the weighted candidate sampling; pass a seeded source for
// deterministic tests, or nil for a time-seeded one.
func NewStore(db *sql.DB, config Config, rng *rand.Rand) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate pattern schema: %w", err)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Store{db: db, config: config, rng: rng}, nil
}

// #endregion store

// #region lookup

// Lookup returns up to topK records for the signature, best quality
// first. Exact match is tried first; with fuzzy lookup enabled, all
// signatures within Hamming distance 1 are consulted when the exact
// match is empty.
func (s *Store) Lookup(sig nexus.Signature, topK int) ([]Record, error) {
	records, err := s.lookupExact([]nexus.Signature{sig}, topK)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 || !s.config.FuzzyLookup {
		return records, nil
	}
	return s.lookupExact(sig.Neighbors(), topK)
}

func (s *Store) lookupExact(sigs []nexus.Signature, topK int) ([]Record, error) {
	placeholders := make([]string, len(sigs))
	args := make([]interface{}, len(sigs)+1)
	for i, sig := range sigs {
		placeholders[i] = "?"
		args[i] = string(sig)
	}
	args[len(sigs)] = topK

	rows, err := s.db.Query(
		`SELECT signature, fragment, quality, use_count, last_update_turn
		 FROM pattern_records
		 WHERE signature IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY quality DESC, fragment ASC
		 LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup patterns: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var sig string
		if err := rows.Scan(&sig, &r.Fragment, &r.Quality, &r.UseCount, &r.LastUpdateTurn); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		r.Signature = nexus.Signature(sig)
		records = append(records, r)
	}
	return records, rows.Err()
}

// #endregion lookup

// #region select

// Select picks one candidate via weighted sampling proportional to
// quality rather than pure argmax, to preserve exploration. Returns nil for an
// empty candidate list.
func (s *Store) Select(records []Record) *Record {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float32
	for _, r := range records {
		total += r.Quality
	}
	if total <= 0 {
		return &records[0]
	}
	pick := s.rng.Float32() * total
	for i := range records {
		pick -= records[i].Quality
		if pick <= 0 {
			return &records[i]
		}
	}
	return &records[len(records)-1]
}

// #endregion select

// #region record-outcome

// RecordOutcome folds a reward into the fragment's quality via EMA:
// quality ← (1−α)·quality + α·reward. A novel (signature, fragment)
// pair is created with the reward as its initial quality.
func (s *Store) RecordOutcome(sig nexus.Signature, fragment string, reward float32, turn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordOutcomeLocked(sig, fragment, reward, turn)
}

func (s *Store) recordOutcomeLocked(sig nexus.Signature, fragment string, reward float32, turn int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var quality float32
	var useCount int
	err = tx.QueryRow(
		`SELECT quality, use_count FROM pattern_records WHERE signature = ? AND fragment = ?`,
		string(sig), fragment,
	).Scan(&quality, &useCount)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO pattern_records (signature, fragment, quality, use_count, last_update_turn, created_at)
			 VALUES (?, ?, ?, 1, ?, ?)`,
			string(sig), fragment, reward, turn, time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert pattern: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read pattern: %w", err)
	default:
		newQuality := (1-s.config.Alpha)*quality + s.config.Alpha*reward
		_, err = tx.Exec(
			`UPDATE pattern_records SET quality = ?, use_count = ?, last_update_turn = ?
			 WHERE signature = ? AND fragment = ?`,
			newQuality, useCount+1, turn, string(sig), fragment,
		)
		if err != nil {
			return fmt.Errorf("update pattern: %w", err)
		}
	}

	return tx.Commit()
}

// #endregion record-outcome

// #region pending-feedback

// RegisterPending records that turnID emitted fragment for sig and is
// awaiting its delayed reward. One slot per turn.
func (s *Store) RegisterPending(turnID string, sig nexus.Signature, fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO pending_feedback (turn_id, signature, fragment, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(turn_id) DO NOTHING`,
		turnID, string(sig), fragment, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("register pending feedback: %w", err)
	}
	return nil
}

// ResolvePending applies the delayed reward for a turn exactly once.
// Returns false when the slot was already resolved (or never existed).
func (s *Store) ResolvePending(turnID string, reward float32, turn int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sig, fragment string
	err := s.db.QueryRow(
		`SELECT signature, fragment FROM pending_feedback WHERE turn_id = ?`, turnID,
	).Scan(&sig, &fragment)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read pending feedback: %w", err)
	}

	res, err := s.db.Exec(`DELETE FROM pending_feedback WHERE turn_id = ?`, turnID)
	if err != nil {
		return false, fmt.Errorf("clear pending feedback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil // lost the race; someone else resolved it
	}

	if err := s.recordOutcomeLocked(nexus.Signature(sig), fragment, reward, turn); err != nil {
		return false, err
	}
	log.Printf("[PATTERN] resolved feedback for turn %s: reward=%.3f sig=%s", turnID, reward, sig)
	return true, nil
}

// #endregion pending-feedback

// #region prune

// Prune removes low-quality records that have not been updated for
// staleTurns turns. Records are otherwise never deleted.
func (s *Store) Prune(minQuality float32, staleTurns, currentTurn int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM pattern_records WHERE quality < ? AND last_update_turn < ?`,
		minQuality, currentTurn-staleTurns,
	)
	if err != nil {
		return 0, fmt.Errorf("prune patterns: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Printf("[PATTERN] pruned %d stale low-quality record(s)", n)
	}
	return int(n), nil
}

// Count returns the total record count, for the inspect tool.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pattern_records`).Scan(&n)
	return n, err
}

// Top returns the highest-quality records across all signatures.
func (s *Store) Top(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT signature, fragment, quality, use_count, last_update_turn
		 FROM pattern_records ORDER BY quality DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top patterns: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var sig string
		if err := rows.Scan(&sig, &r.Fragment, &r.Quality, &r.UseCount, &r.LastUpdateTurn); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		r.Signature = nexus.Signature(sig)
		records = append(records, r)
	}
	return records, rows.Err()
}

// #endregion prune

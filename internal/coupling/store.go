package coupling

// #region imports
import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #endregion

// #region schema

const schema = `
CREATE TABLE IF NOT EXISTS coupling_versions (
	version_id     TEXT PRIMARY KEY,
	parent_id      TEXT,
	organ_ids      TEXT NOT NULL,
	weights        BLOB NOT NULL,
	learning_rate  REAL NOT NULL,
	turn_count     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES coupling_versions(version_id)
);

CREATE TABLE IF NOT EXISTS coupling_active (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	version_id  TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES coupling_versions(version_id)
);
`

// #endregion schema

// #region store

// Store persists coupling matrix versions in SQLite. Calls on one Store
// serialize on an internal mutex. Commit writes a full snapshot of the
// matrix it is given, so every writer over the same database must share
// one loaded Matrix; committing from a privately loaded copy reverts
// whatever other writers learned since that copy was taken.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	config Config
}

// NewStore initializes the coupling tables on an open database.
func NewStore(db *sql.DB, config Config) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate coupling schema: %w", err)
	}
	return &Store{db: db, config: config}, nil
}

// OpenDB opens (or creates) a SQLite database with WAL mode, which keeps
// reads safe while a write is in flight.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	return db, nil
}

// #endregion store

// #region load

// LoadActive returns the active matrix for the given processor registry
// together with the effective learning rate.
//
// The stored learning_rate metadata is authoritative: when it differs
// from the configured rate the stored value wins and the mismatch is
// logged. (Assuming the runtime rate over the matrix's own metadata once
// caused 10× faster-than-intended learning.)
//
// A missing, malformed, or mismatched persisted matrix reinitializes to
// the configured defaults instead of failing the caller.
func (s *Store) LoadActive(organIDs []string) (*Matrix, float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := make([]string, len(organIDs))
	copy(sorted, organIDs)
	sort.Strings(sorted)

	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM coupling_active WHERE id = 1`).Scan(&versionID)
	if err == sql.ErrNoRows {
		return s.initialize(sorted)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get active coupling version: %w", err)
	}

	var idsJSON string
	var blob []byte
	var storedRate float64
	err = s.db.QueryRow(
		`SELECT organ_ids, weights, learning_rate FROM coupling_versions WHERE version_id = ?`,
		versionID,
	).Scan(&idsJSON, &blob, &storedRate)
	if err != nil {
		log.Printf("[COUPLING] active version %s unreadable (%v), reinitializing", versionID, err)
		return s.initialize(sorted)
	}

	var storedIDs []string
	if err := json.Unmarshal([]byte(idsJSON), &storedIDs); err != nil {
		log.Printf("[COUPLING] corrupt organ registry in version %s, reinitializing", versionID)
		return s.initialize(sorted)
	}
	if !sameIDs(storedIDs, sorted) {
		log.Printf("[COUPLING] processor registry changed (%v → %v), reinitializing", storedIDs, sorted)
		return s.initialize(sorted)
	}

	weights, ok := decodeWeights(blob, len(sorted))
	if !ok {
		log.Printf("[COUPLING] weight blob size mismatch in version %s, reinitializing", versionID)
		return s.initialize(sorted)
	}

	rate := float32(storedRate)
	if rate <= 0 || rate > 1 {
		log.Printf("[COUPLING] invalid stored learning_rate %.4f, reinitializing", rate)
		return s.initialize(sorted)
	}
	if rate != s.config.LearningRate {
		log.Printf("[COUPLING] learning_rate mismatch: config=%.4f stored=%.4f, stored metadata wins",
			s.config.LearningRate, rate)
	}

	m := NewMatrix(sorted, 0)
	copy(m.weights, weights)
	return m, rate, nil
}

func (s *Store) initialize(sorted []string) (*Matrix, float32, error) {
	m := NewMatrix(sorted, s.config.InitialWeight)
	if err := s.commitLocked(m, "", s.config.LearningRate, 0); err != nil {
		return nil, 0, fmt.Errorf("initialize coupling matrix: %w", err)
	}
	return m, s.config.LearningRate, nil
}

// VersionInfo describes the stored active matrix version.
type VersionInfo struct {
	VersionID    string
	ParentID     string
	OrganIDs     []string
	LearningRate float32
	TurnCount    int
	CreatedAt    string
}

// Active reads the active matrix exactly as stored, without the
// reinitialize-on-mismatch behavior of LoadActive. Used by the inspect
// tool, which must never mutate the database.
func (s *Store) Active() (*Matrix, VersionInfo, error) {
	var info VersionInfo
	err := s.db.QueryRow(`SELECT version_id FROM coupling_active WHERE id = 1`).Scan(&info.VersionID)
	if err == sql.ErrNoRows {
		return nil, info, fmt.Errorf("no active coupling version")
	}
	if err != nil {
		return nil, info, fmt.Errorf("get active coupling version: %w", err)
	}

	var idsJSON string
	var blob []byte
	var parent sql.NullString
	var rate float64
	err = s.db.QueryRow(
		`SELECT parent_id, organ_ids, weights, learning_rate, turn_count, created_at
		 FROM coupling_versions WHERE version_id = ?`, info.VersionID,
	).Scan(&parent, &idsJSON, &blob, &rate, &info.TurnCount, &info.CreatedAt)
	if err != nil {
		return nil, info, fmt.Errorf("read coupling version %s: %w", info.VersionID, err)
	}
	info.ParentID = parent.String
	info.LearningRate = float32(rate)

	if err := json.Unmarshal([]byte(idsJSON), &info.OrganIDs); err != nil {
		return nil, info, fmt.Errorf("corrupt organ registry in version %s", info.VersionID)
	}
	weights, ok := decodeWeights(blob, len(info.OrganIDs))
	if !ok {
		return nil, info, fmt.Errorf("weight blob size mismatch in version %s", info.VersionID)
	}

	m := NewMatrix(info.OrganIDs, 0)
	copy(m.weights, weights)
	return m, info, nil
}

// #endregion load

// #region commit

// Commit writes a new matrix version and moves the active pointer, all
// in one transaction.
func (s *Store) Commit(m *Matrix, rate float32, turnCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parent string
	_ = s.db.QueryRow(`SELECT version_id FROM coupling_active WHERE id = 1`).Scan(&parent)
	return s.commitLocked(m, parent, rate, turnCount)
}

func (s *Store) commitLocked(m *Matrix, parent string, rate float32, turnCount int) error {
	idsJSON, err := json.Marshal(m.organIDs)
	if err != nil {
		return fmt.Errorf("marshal organ ids: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	var parentPtr interface{}
	if parent != "" {
		parentPtr = parent
	}

	_, err = tx.Exec(
		`INSERT INTO coupling_versions (version_id, parent_id, organ_ids, weights, learning_rate, turn_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, parentPtr, string(idsJSON), encodeWeights(m.weights), rate, turnCount,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert coupling version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO coupling_active (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set active coupling version: %w", err)
	}

	return tx.Commit()
}

// #endregion commit

// #region audit

// AuditMetric is one named check over the persisted matrix.
type AuditMetric struct {
	Name  string
	Value float32
	Pass  bool
}

// AuditResult summarizes matrix health for the inspect tool.
type AuditResult struct {
	Stability Stability
	Metrics   []AuditMetric
	Passed    bool
}

// Audit runs bounds and regime checks on a loaded matrix.
func Audit(m *Matrix, config Config) AuditResult {
	var metrics []AuditMetric
	passed := true

	inBounds := true
	for _, w := range m.weights {
		if w < 0 || w > 1 {
			inBounds = false
			break
		}
	}
	metrics = append(metrics, AuditMetric{Name: "weights_in_unit_interval", Value: boolVal(inBounds), Pass: inBounds})
	if !inBounds {
		passed = false
	}

	mean := m.Mean()
	meanOK := mean <= config.SaturationMean
	metrics = append(metrics, AuditMetric{Name: "mean_weight", Value: mean, Pass: meanOK})
	if !meanOK {
		passed = false
	}

	// Low stddev only counts against the matrix once the common value
	// has drifted; a fresh uniform matrix is healthy.
	sd := m.Stddev()
	drift := float32(math.Abs(float64(mean - config.InitialWeight)))
	sdOK := sd >= config.CollapseStddev || drift <= config.CollapseDrift
	metrics = append(metrics, AuditMetric{Name: "weight_stddev", Value: sd, Pass: sdOK})
	if !sdOK {
		passed = false
	}

	return AuditResult{Stability: m.Regime(config), Metrics: metrics, Passed: passed}
}

func boolVal(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// #endregion audit

// #region helpers

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// #endregion helpers

package provlog

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Init(db); err != nil {
		t.Fatalf("init: %v", err)
	}
	return db
}

func TestLogTurnRoundtrip(t *testing.T) {
	db := setupDB(t)

	entry := Entry{
		TurnID:       "turn-1",
		Strategy:     "direct",
		Confidence:   0.66,
		Energy:       0.4,
		Satisfaction: 0.85,
		Coherences:   map[string]float32{"affect": 0.7, "urgency": 0.5},
		NexusCount:   1,
		Risk:         0.2,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogTurn(db, entry); err != nil {
		t.Fatalf("log turn: %v", err)
	}

	entries, err := RecentTurns(db, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.TurnID != "turn-1" || got.Strategy != "direct" || got.Confidence != 0.66 {
		t.Fatalf("emission fields mangled: %+v", got)
	}
	if got.Energy != 0.4 || got.Satisfaction != 0.85 || got.Risk != 0.2 {
		t.Fatalf("felt fields mangled: %+v", got)
	}
	if got.Coherences["affect"] != 0.7 || got.Coherences["urgency"] != 0.5 {
		t.Fatalf("coherences mangled: %+v", got.Coherences)
	}
	if got.MinimalMode || got.NonConvergence {
		t.Fatalf("safety flags should be false: %+v", got)
	}
}

func TestLogTurnFlags(t *testing.T) {
	db := setupDB(t)

	if err := LogTurn(db, Entry{
		TurnID:         "turn-2",
		Strategy:       "minimal_safe",
		Risk:           0.9,
		MinimalMode:    true,
		NonConvergence: true,
	}); err != nil {
		t.Fatalf("log turn: %v", err)
	}

	entries, _ := RecentTurns(db, 1)
	if len(entries) != 1 || !entries[0].MinimalMode || !entries[0].NonConvergence {
		t.Fatalf("flags must roundtrip: %+v", entries)
	}
}

func TestRecentTurnsNewestFirst(t *testing.T) {
	db := setupDB(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := LogTurn(db, Entry{
			TurnID:    id,
			Strategy:  "direct",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("log turn: %v", err)
		}
	}

	entries, err := RecentTurns(db, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 || entries[0].TurnID != "c" || entries[1].TurnID != "b" {
		t.Fatalf("expected newest first with limit, got %+v", entries)
	}
}

func TestDuplicateTurnIDRejected(t *testing.T) {
	db := setupDB(t)

	if err := LogTurn(db, Entry{TurnID: "turn-1", Strategy: "direct"}); err != nil {
		t.Fatalf("log turn: %v", err)
	}
	if err := LogTurn(db, Entry{TurnID: "turn-1", Strategy: "fusion"}); err == nil {
		t.Fatal("duplicate turn id must be rejected by the primary key")
	}
}

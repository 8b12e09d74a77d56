package replay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFixture_NotFound(t *testing.T) {
	if _, err := LoadFixture("testdata/nonexistent.json"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadFixture_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

func TestLoadFixture_ValidationRejectsMismatchedExpectations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mismatch.json")
	fixture := `{
		"organs": ["affect"],
		"turns": [{"text": "a", "cycles": [{"results": []}]}],
		"expected": [{"strategy": "direct"}, {"strategy": "fusion"}]
	}`
	if err := os.WriteFile(path, []byte(fixture), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected validation error for mismatched expected results")
	}
}

func TestLoadFixture_ValidationRejectsEmptyCycles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.json")
	fixture := `{
		"organs": ["affect"],
		"turns": [{"text": "a", "cycles": []}]
	}`
	if err := os.WriteFile(path, []byte(fixture), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected validation error for a turn with no cycles")
	}
}

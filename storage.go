package rsonldb

import "sync"

// listNode is one slot in Storage's intrusive doubly-linked list,
// which exists purely to preserve insertion order (spec §3 "Map":
// "first insert wins position; overwrite keeps position"). No library
// in the retrieval pack offers an order-preserving map, so this one
// piece of Storage is plain stdlib data structures rather than a
// wired dependency (see DESIGN.md).
type listNode struct {
	key        string
	prev, next *listNode
}

// storageEntry is a (key, value) pair as returned by snapshotting
// operations (Keys-ordered iteration, Index.rebuild, Dump, Compact).
type storageEntry struct {
	key   string
	value rawJSON
}

// Storage is the in-memory mirror of the durable log plus its pending
// write journal (spec §3, §4.2). All of Map and Journal are mutated
// together under mu, and mu is never held across a suspension point —
// every method here returns before any file I/O would need to happen
// (spec §5).
type Storage struct {
	mu      sync.Mutex
	values  map[string]rawJSON
	nodes   map[string]*listNode
	head    *listNode
	tail    *listNode
	j       *journal
	idx     *index
}

func newStorage(idx *index) *Storage {
	return &Storage{
		values: make(map[string]rawJSON),
		nodes:  make(map[string]*listNode),
		j:      newJournal(),
		idx:    idx,
	}
}

// pushTail appends a brand-new key to the order list. Callers must
// already know key isn't present in s.nodes.
func (s *Storage) pushTail(key string) *listNode {
	n := &listNode{key: key}
	if s.tail == nil {
		s.head, s.tail = n, n
	} else {
		n.prev = s.tail
		s.tail.next = n
		s.tail = n
	}
	s.nodes[key] = n
	return n
}

// unlink removes a node from the order list in O(1).
func (s *Storage) unlink(n *listNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// insert performs a Set(key, value): applies it to the map, keeps or
// assigns list position, maintains the index, and coalesces the
// pending journal entry. Returns the previous value, if any.
func (s *Storage) insert(key string, value rawJSON) (prev rawJSON, hadPrev bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev = s.values[key]
	if !hadPrev {
		s.pushTail(key)
	} else if s.idx != nil {
		s.idx.remove(key)
	}
	s.values[key] = value
	if s.idx != nil {
		s.idx.addValueChecked(key, value)
	}
	s.j.recordSet(key)
	return prev, hadPrev
}

// remove performs a Delete(key). Returns the previous value, if any.
func (s *Storage) remove(key string) (prev rawJSON, hadPrev bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev = s.values[key]
	if !hadPrev {
		// Still coalesce and journal the delete attempt; a delete of a
		// key that doesn't exist is a legal no-op write per the
		// facade (spec §6 delete(k)).
		s.j.recordDelete(key)
		return prev, false
	}
	delete(s.values, key)
	s.unlink(s.nodes[key])
	delete(s.nodes, key)
	if s.idx != nil {
		s.idx.remove(key)
	}
	s.j.recordDelete(key)
	return prev, true
}

// clear empties the map, index and order list, returning the values
// that were present (for a host to release — unused in this
// Native-only collapse, kept for API symmetry with spec §4.2).
func (s *Storage) clear() map[string]rawJSON {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.values
	s.values = make(map[string]rawJSON)
	s.nodes = make(map[string]*listNode)
	s.head, s.tail = nil, nil
	if s.idx != nil {
		s.idx.clear()
	}
	s.j.recordClear()
	return prev
}

func (s *Storage) get(key string) (rawJSON, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Storage) contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

func (s *Storage) length() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// keys returns every key in insertion order.
func (s *Storage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.values))
	for n := s.head; n != nil; n = n.next {
		out = append(out, n.key)
	}
	return out
}

// snapshot returns every (key, value) pair in insertion order, used
// by Dump and by Compaction's render step (spec §4.5 step 3).
func (s *Storage) snapshot() []storageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storageEntry, 0, len(s.values))
	for n := s.head; n != nil; n = n.next {
		out = append(out, storageEntry{key: n.key, value: s.values[n.key]})
	}
	return out
}

// rangeValues returns the values of keys within [start, end]
// (inclusive, lexicographic) subject to an optional candidate
// restriction (the bucket from an index filter). A nil candidates
// slice means "consider every key" (spec §6 get_many).
func (s *Storage) rangeValues(start, end string, candidates []string) []rawJSON {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []rawJSON
	inRange := func(k string) bool { return k >= start && k <= end }
	if candidates != nil {
		for _, k := range candidates {
			if inRange(k) {
				if v, ok := s.values[k]; ok {
					out = append(out, v)
				}
			}
		}
		return out
	}
	for n := s.head; n != nil; n = n.next {
		if inRange(n.key) {
			out = append(out, s.values[n.key])
		}
	}
	return out
}

// pendingLen reports the live journal entry count, used by the
// persistence loop's throttle gate (spec §4.4).
func (s *Storage) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.j.pendingLen()
}

// journalPos captures a position marker for later renderSince calls.
func (s *Storage) journalPos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.j.pos()
}

// renderSince non-destructively renders journal entries recorded
// after pos, resolving Set against the current map (spec §4.2
// clone_journal).
func (s *Storage) renderSince(pos int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.j.renderFrom(pos, func(key string) (rawJSON, bool) {
		v, ok := s.values[key]
		return v, ok
	})
}

// drainForWrite renders and empties the journal in one critical
// section (spec §4.2 drain_journal).
func (s *Storage) drainForWrite() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.j.drain(func(key string) (rawJSON, bool) {
		v, ok := s.values[key]
		return v, ok
	})
}

// applyReplay installs a (key, value) pair read back from the log at
// Open time, bypassing the journal entirely — replayed state is
// already durable by construction.
func (s *Storage) applyReplay(key string, value rawJSON) {
	if _, ok := s.values[key]; !ok {
		s.pushTail(key)
	}
	s.values[key] = value
}

// applyReplayDelete removes a key during replay, bypassing the
// journal.
func (s *Storage) applyReplayDelete(key string) {
	if n, ok := s.nodes[key]; ok {
		s.unlink(n)
		delete(s.nodes, key)
		delete(s.values, key)
	}
}

// buildIndex rebuilds the optional index from the current map,
// called once replay finishes (spec §4.3 add_entries_checked).
func (s *Storage) buildIndex() {
	if s.idx == nil {
		return
	}
	s.idx.rebuild(s.snapshot())
}

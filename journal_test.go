package rsonldb

import (
	"reflect"
	"testing"
)

func resolverFromMap(m map[string]rawJSON) resolver {
	return func(k string) (rawJSON, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// TestJournalCoalescing covers P3/J2: set("a",1); set("a",2); set("a",3);
// delete("a"); set("a",4) should drain to exactly one record.
func TestJournalCoalescing(t *testing.T) {
	j := newJournal()
	m := map[string]rawJSON{}

	set := func(k string, v string) {
		m[k] = rawJSON(v)
		j.recordSet(k)
	}
	del := func(k string) {
		delete(m, k)
		j.recordDelete(k)
	}

	set("a", "1")
	set("a", "2")
	set("a", "3")
	del("a")
	set("a", "4")

	if n := j.pendingLen(); n != 1 {
		t.Fatalf("pendingLen = %d, want 1", n)
	}

	lines, err := j.drain(resolverFromMap(m))
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	want := []string{`{"k":"a","v":4}`}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("got %v, want %v", lines, want)
	}
	if j.pendingLen() != 0 {
		t.Fatal("journal should be empty after drain")
	}
}

func TestJournalDrainSkipsDeletedSet(t *testing.T) {
	j := newJournal()
	m := map[string]rawJSON{}
	j.recordSet("ghost") // no corresponding map entry
	lines, err := j.drain(resolverFromMap(m))
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestJournalClearDiscardsPending(t *testing.T) {
	j := newJournal()
	m := map[string]rawJSON{"a": rawJSON("1")}
	j.recordSet("a")
	j.recordClear()

	if n := j.pendingLen(); n != 1 {
		t.Fatalf("pendingLen = %d, want 1 (just the Clear)", n)
	}

	lines, err := j.drain(resolverFromMap(m))
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(lines) != 1 || lines[0] != "" {
		t.Fatalf("expected a single synthetic truncate marker, got %v", lines)
	}
}

func TestJournalRenderFromIsNonDestructive(t *testing.T) {
	j := newJournal()
	m := map[string]rawJSON{"a": rawJSON("1")}
	pos := j.pos()
	j.recordSet("a")

	lines, err := j.renderFrom(pos, resolverFromMap(m))
	if err != nil {
		t.Fatalf("renderFrom: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %v", lines)
	}
	if n := j.pendingLen(); n != 1 {
		t.Fatal("renderFrom must not mutate the journal")
	}
}

func TestJournalClearThenNewKeysAfterClearPos(t *testing.T) {
	j := newJournal()
	m := map[string]rawJSON{"b": rawJSON("2")}
	j.recordClear()
	pos := j.pos()
	j.recordSet("b")

	delta, err := j.renderFrom(pos, resolverFromMap(m))
	if err != nil {
		t.Fatalf("renderFrom: %v", err)
	}
	if len(delta) != 1 || delta[0] == "" {
		t.Fatalf("expected one upsert record after the clear, got %v", delta)
	}
}

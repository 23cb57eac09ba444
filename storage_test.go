package rsonldb

import (
	"testing"
)

func TestStorageOrderPreservedOnOverwrite(t *testing.T) {
	s := newStorage(nil)
	s.insert("a", rawJSON("1"))
	s.insert("b", rawJSON("2"))
	s.insert("c", rawJSON("3"))
	// Overwrite b: position must not change (spec §3 "overwrite keeps
	// position").
	s.insert("b", rawJSON(`"x"`))

	got := s.keys()
	want := []string{"a", "b", "c"}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("keys = %v, want %v", got, want)
		}
	}
}

func TestStorageRemoveMidSequenceKeepsOrder(t *testing.T) {
	s := newStorage(nil)
	s.insert("a", rawJSON("1"))
	s.insert("b", rawJSON("2"))
	s.insert("c", rawJSON("3"))
	s.remove("b")

	got := s.keys()
	want := []string{"a", "c"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("keys = %v, want %v", got, want)
	}
}

func TestStorageClearEmptiesEverything(t *testing.T) {
	s := newStorage(nil)
	s.insert("a", rawJSON("1"))
	s.insert("b", rawJSON("2"))
	prev := s.clear()
	if len(prev) != 2 {
		t.Fatalf("clear returned %d previous values, want 2", len(prev))
	}
	if s.length() != 0 {
		t.Fatal("expected empty storage after clear")
	}
	if len(s.keys()) != 0 {
		t.Fatal("expected no keys after clear")
	}
}

func TestStorageRangeValuesInclusiveBounds(t *testing.T) {
	s := newStorage(nil)
	s.insert("a", rawJSON(`"A"`))
	s.insert("b", rawJSON(`"B"`))
	s.insert("c", rawJSON(`"C"`))
	s.insert("d", rawJSON(`"D"`))

	got := s.rangeValues("b", "c", nil)
	if len(got) != 2 {
		t.Fatalf("got %d values, want 2: %v", len(got), got)
	}
}

func TestStorageDeleteOfAbsentKeyIsNoopButJournaled(t *testing.T) {
	s := newStorage(nil)
	_, had := s.remove("nope")
	if had {
		t.Fatal("expected no previous value")
	}
	if n := s.pendingLen(); n != 1 {
		t.Fatalf("pendingLen = %d, want 1 (the delete attempt is still journaled)", n)
	}
}

func TestStorageIndexTracksConfiguredPointer(t *testing.T) {
	ix := newIndex([]string{"/type"})
	s := newStorage(ix)
	s.insert("a", rawJSON(`{"type":"sensor"}`))
	s.insert("b", rawJSON(`{"type":"sensor"}`))
	s.insert("c", rawJSON(`{"type":"gateway"}`))

	keys := ix.getKeys(indexKey("/type", "sensor"))
	if len(keys) != 2 {
		t.Fatalf("got %v, want 2 keys", keys)
	}

	s.remove("a")
	keys = ix.getKeys(indexKey("/type", "sensor"))
	if len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("got %v after remove, want [b]", keys)
	}
}

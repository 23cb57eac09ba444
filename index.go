package rsonldb

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// index is the optional inverted map from "<json-pointer>=<value>" to
// the set of keys whose stored value resolves that pointer to that
// string (spec §3 "Index", §4.3). Each bucket is an *xsync.Map used as
// a concurrent set, mirroring the teacher's "dirty *xsync.Map" idiom
// for a value-less set — access here is still serialised by Storage's
// single mutex (§5), so the concurrency safety is incidental, not
// load-bearing.
type index struct {
	paths   []string
	buckets *xsync.Map // indexKey(string) -> *xsync.Map (set of row keys)
}

func newIndex(paths []string) *index {
	if len(paths) == 0 {
		return nil
	}
	return &index{paths: paths, buckets: xsync.NewMap()}
}

func indexKey(pointer, value string) string {
	return pointer + "=" + value
}

// addValueChecked inspects v against every configured pointer and
// inserts k into the bucket for each that resolves to a string.
func (ix *index) addValueChecked(k string, v rawJSON) {
	if ix == nil {
		return
	}
	var keys []string
	for _, p := range ix.paths {
		if s, ok := resolvePointer(v, p); ok {
			keys = append(keys, indexKey(p, s))
		}
	}
	ix.addMany(k, keys)
}

// addMany inserts k into every named bucket, creating buckets that
// don't exist yet. Exposed separately from addValueChecked so a
// caller holding pre-computed index keys (the spec's accommodation
// for Reference-valued inserts in embeddings with host object
// handles) can bypass pointer resolution entirely.
func (ix *index) addMany(k string, keys []string) {
	if ix == nil {
		return
	}
	for _, bk := range keys {
		actual, _ := ix.buckets.Compute(bk, func(oldValue interface{}, loaded bool) (interface{}, bool) {
			if loaded {
				return oldValue, false
			}
			return xsync.NewMap(), false
		})
		actual.(*xsync.Map).Store(k, struct{}{})
	}
}

// remove drops k from every bucket. Scanning all buckets is the
// behaviour spec.md §4.3 explicitly sanctions ("the index is small
// relative to the map").
func (ix *index) remove(k string) {
	if ix == nil {
		return
	}
	ix.buckets.Range(func(_ string, v interface{}) bool {
		v.(*xsync.Map).Delete(k)
		return true
	})
}

// clear drops every bucket.
func (ix *index) clear() {
	if ix == nil {
		return
	}
	ix.buckets = xsync.NewMap()
}

// getKeys returns the keys in a bucket, sorted for deterministic
// output, or nil if the bucket doesn't exist or holds no keys.
func (ix *index) getKeys(key string) []string {
	if ix == nil {
		return nil
	}
	v, ok := ix.buckets.Load(key)
	if !ok {
		return nil
	}
	set := v.(*xsync.Map)
	var keys []string
	set.Range(func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// rebuild repopulates every bucket from a full (key, value) snapshot,
// used after replaying the log at Open (spec §4.3 add_entries_checked).
func (ix *index) rebuild(entries []storageEntry) {
	if ix == nil {
		return
	}
	ix.buckets = xsync.NewMap()
	for _, e := range entries {
		ix.addValueChecked(e.key, e.value)
	}
}

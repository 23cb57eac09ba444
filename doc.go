// Package rsonldb is an embeddable single-writer key/value store backed
// by an append-only JSON-lines log.
//
// Every record is one line: {"k":<key>,"v":<value>} for an upsert or
// {"k":<key>} for a delete. An in-memory map mirrors the log and is
// rebuilt by replaying it on Open. A single background goroutine owns
// the file handle, draining writes on a throttled schedule and
// compacting the log back down to one record per live key, either on
// an explicit Compress call or when a configured AutoCompress trigger
// fires (the zero Options configure none).
//
// The zero value of Store is not usable; construct one with Open.
package rsonldb

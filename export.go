package rsonldb

import (
	"bytes"
	"os"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/xxh3"
)

// ExportOptions configures ExportJSON.
type ExportOptions struct {
	// Pretty indents the output with two-space indentation.
	Pretty bool
	// Gzip compresses the written file. Grounded on jpl-au-folio's
	// use of klauspost/compress.
	Gzip bool
}

// ExportJSON writes the entire map as a single JSON object (not JSON
// Lines) to path, in key insertion order. This is the "import/export
// of whole-map JSON snapshots" spec.md names as an external
// collaborator — a thin batch helper, not a second persistence
// format, so it is built directly on Storage.snapshot rather than
// going through the persistence loop.
func (s *Store) ExportJSON(path string, opts ExportOptions) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	entries := s.storage.snapshot()

	body, err := encodeObjectInOrder(entries)
	if err != nil {
		return err
	}
	if opts.Pretty {
		indented, err := json.MarshalIndent(jsonRawHolder(body), "", "  ")
		if err != nil {
			return newSerializeErr("export: indent", err)
		}
		body = indented
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapIO("export: open", err)
	}
	defer f.Close()

	if opts.Gzip {
		gw := gzip.NewWriter(f)
		if _, err := gw.Write(body); err != nil {
			return wrapIO("export: gzip write", err)
		}
		if err := gw.Close(); err != nil {
			return wrapIO("export: gzip close", err)
		}
		return wrapIO("export: sync", f.Sync())
	}
	if _, err := f.Write(body); err != nil {
		return wrapIO("export: write", err)
	}
	return wrapIO("export: sync", f.Sync())
}

// jsonRawHolder lets json.MarshalIndent re-indent an already-encoded
// object without round-tripping it through a generic interface{}.
type jsonRawHolder json.RawMessage

func (r jsonRawHolder) MarshalJSON() ([]byte, error) { return r, nil }

// encodeObjectInOrder hand-assembles {"k1":v1,"k2":v2,...} preserving
// Storage's insertion order — encoding/json (and goccy/go-json) both
// sort map keys alphabetically when marshalling a Go map, which would
// violate P4's order-preservation guarantee for exports.
func encodeObjectInOrder(entries []storageEntry) ([]byte, error) {
	out := make([]byte, 0, 64*len(entries)+2)
	out = append(out, '{')
	for i, e := range entries {
		if i > 0 {
			out = append(out, ',')
		}
		kb, err := json.Marshal(e.key)
		if err != nil {
			return nil, newSerializeErr("export: marshal key", err)
		}
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, e.value...)
	}
	out = append(out, '}')
	return out, nil
}

// ImportJSONFile batch-Sets every top-level member of the JSON object
// stored at path (spec §6 import_json_file). Order of application
// follows the file's own member order. A malformed file fails the
// whole import before any key is set.
func (s *Store) ImportJSONFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return wrapIO("import: read file", err)
	}
	return s.ImportJSONString(data)
}

// ImportJSONString is ImportJSONFile given the JSON object bytes
// directly (spec §6 import_json_string).
func (s *Store) ImportJSONString(data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	keys, values, err := decodeObjectInOrder(data)
	if err != nil {
		return err
	}
	for i, k := range keys {
		s.storage.insert(k, values[i])
	}
	return nil
}

// decodeObjectInOrder parses a top-level JSON object preserving
// source member order, which a plain map[string]json.RawMessage
// unmarshal would lose.
func decodeObjectInOrder(data []byte) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, newParseErr("import: "+err.Error(), 0)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, newParseErr("import: expected a top-level JSON object", 0)
	}

	var keys []string
	var values []json.RawMessage
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, newParseErr("import: "+err.Error(), 0)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, newParseErr("import: non-string object key", 0)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, newParseErr("import: "+err.Error(), 0)
		}
		keys = append(keys, key)
		values = append(values, raw)
	}
	tok, err = dec.Token()
	if err != nil {
		return nil, nil, newParseErr("import: "+err.Error(), 0)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '}' {
		return nil, nil, newParseErr("import: unterminated top-level JSON object", 0)
	}
	return keys, values, nil
}

// dumpChecksum reads path whole and hashes it with xxh3.
func dumpChecksum(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, wrapIO("checksum: read", err)
	}
	return xxh3.Hash(data), nil
}

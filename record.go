package rsonldb

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// rawJSON is the internal representation of a stored value: the
// value's own serialised form, kept as bytes rather than decoded into
// a Go interface{}. Collapsing the spec's Native/Reference value sum
// to this single representation is valid per spec.md's design notes
// ("implementations targeting a homogeneous host... can collapse this
// to the Native case only; the on-disk format is identical") since
// this package has no host object handles to track.
type rawJSON = json.RawMessage

// recordKind distinguishes an upsert from a delete once a line has
// been parsed.
type recordKind int

const (
	recordUpsert recordKind = iota
	recordDelete
)

// record is the decoded form of one log line: {"k":<key>,"v":<value>}
// or {"k":<key>}.
type record struct {
	Kind  recordKind
	Key   string
	Value json.RawMessage // nil for a delete
}

// wireRecord mirrors the on-disk member layout. A writer always puts
// k before v; parse accepts either order (spec §6).
type wireRecord struct {
	K string          `json:"k"`
	V json.RawMessage `json:"v,omitempty"`
}

// encodeUpsert renders {"k":<key>,"v":<value>} as a single line
// without a trailing newline; callers append their own separators.
func encodeUpsert(key string, value json.RawMessage) (string, error) {
	out, err := json.Marshal(wireRecord{K: key, V: value})
	if err != nil {
		return "", newSerializeErr("encode upsert", err)
	}
	return string(out), nil
}

// encodeDelete renders {"k":<key>}.
func encodeDelete(key string) (string, error) {
	out, err := json.Marshal(struct {
		K string `json:"k"`
	}{K: key})
	if err != nil {
		return "", newSerializeErr("encode delete", err)
	}
	return string(out), nil
}

// parseRecord parses one log line. line must not include its
// trailing newline. An empty or whitespace-only line is a parse
// error, not a silent skip — the caller decides whether to drop it
// based on IgnoreReadErrors.
func parseRecord(line string) (record, error) {
	if strings.TrimSpace(line) == "" {
		return record{}, newParseErr("empty record", 0)
	}
	var w wireRecord
	hasV, err := decodeWireRecord(line, &w)
	if err != nil {
		return record{}, newParseErr("malformed json: "+err.Error(), 0)
	}
	if hasV {
		return record{Kind: recordUpsert, Key: w.K, Value: w.V}, nil
	}
	return record{Kind: recordDelete, Key: w.K}, nil
}

// decodeWireRecord decodes line into w and reports whether a "v"
// member was present at all (as opposed to present-but-null, which is
// a legitimate upsert of JSON null).
func decodeWireRecord(line string, w *wireRecord) (hasV bool, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return false, err
	}
	kRaw, hasK := raw["k"]
	if !hasK {
		return false, errMissingKey
	}
	if err := json.Unmarshal(kRaw, &w.K); err != nil {
		return false, err
	}
	vRaw, hasV := raw["v"]
	if hasV {
		w.V = vRaw
	}
	return hasV, nil
}

var errMissingKey = strconvErr("missing \"k\" member")

// strconvErr is a tiny local error type so record.go doesn't need to
// import the stdlib "errors" package for a single sentinel.
type strconvErr string

func (e strconvErr) Error() string { return string(e) }

// resolvePointer walks a JSON-Pointer-like path (RFC 6901 subset:
// "/"-separated object-member and array-index segments) against a raw
// JSON value and reports the string found there, if any. It never
// returns an error: an unresolvable path or a non-string target simply
// reports ok=false, matching the Index's "only populated... for values
// where the pointer resolves to a JSON string" rule (spec §3).
func resolvePointer(v json.RawMessage, pointer string) (s string, ok bool) {
	if pointer == "" || pointer == "/" {
		return unquoteJSONString(v)
	}
	if pointer[0] != '/' {
		return "", false
	}
	segments := strings.Split(pointer[1:], "/")
	cur := v
	for _, seg := range segments {
		seg = unescapePointerSegment(seg)
		next, ok := stepPointer(cur, seg)
		if !ok {
			return "", false
		}
		cur = next
	}
	return unquoteJSONString(cur)
}

func unescapePointerSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "~1", "/")
	seg = strings.ReplaceAll(seg, "~0", "~")
	return seg
}

func stepPointer(v json.RawMessage, seg string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(v))
	if len(trimmed) == 0 {
		return nil, false
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, false
		}
		next, ok := obj[seg]
		return next, ok
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(v, &arr); err != nil {
			return nil, false
		}
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(arr) {
			return nil, false
		}
		return arr[idx], true
	default:
		return nil, false
	}
}

func unquoteJSONString(v json.RawMessage) (string, bool) {
	if len(v) < 2 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

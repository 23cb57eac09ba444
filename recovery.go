package rsonldb

import "os"

// recoverFileSet implements spec §4.6 L1-L5: before anything is
// parsed, pick the freshest-and-complete variant among <name>,
// <name>.bak, <name>.dump and reinstate a valid main file.
//
// A present main file (any size, including empty — "empty main file
// is treated as new empty DB, not as invalid") always wins outright:
// only a missing main file falls through to .bak, then .dump. This is
// deliberately not the same test as validFile, which additionally
// requires size > 0 — that stricter test only applies to .bak/.dump,
// which are crash artifacts and meaningless when empty.
func recoverFileSet(path string) error {
	bakPath := path + ".bak"
	dumpPath := path + ".dump"

	if fileExists(path) {
		removeIfExists(bakPath)
		removeIfExists(dumpPath)
		return nil
	}
	if validFile(bakPath) {
		if err := os.Rename(bakPath, path); err != nil {
			return wrapIO("recover: restore .bak", err)
		}
		removeIfExists(dumpPath)
		return nil
	}
	if validFile(dumpPath) {
		if err := os.Rename(dumpPath, path); err != nil {
			return wrapIO("recover: restore .dump", err)
		}
		removeIfExists(bakPath)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return wrapIO("recover: create fresh main", err)
	}
	return wrapIO("recover: close fresh main", f.Close())
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// validFile is spec §4.6 L1: "exists, is a regular file, size > 0".
func validFile(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

func removeIfExists(p string) {
	if fileExists(p) {
		os.Remove(p)
	}
}

// needsTrailingNewline reports whether f's last byte is something
// other than '\n', meaning the writer must append one before its
// first normal write (spec §4.6). size is f's size as already
// observed by the caller to avoid a second Stat.
func needsTrailingNewline(f *os.File, size int64) (bool, error) {
	if size == 0 {
		return false, nil
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, size-1); err != nil {
		return false, wrapIO("recover: read last byte", err)
	}
	return buf[0] != '\n', nil
}

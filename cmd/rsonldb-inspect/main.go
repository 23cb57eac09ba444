// Command rsonldb-inspect is a debugging aid, not part of the core
// persistence engine: it opens a store read-only-ish (it still needs
// the exclusive lock, same as any other Open) and prints a summary.
// spec.md explicitly scopes command-line front-ends out of the core;
// besides the rsonldb package this tool uses only the standard library
// (flag, fmt, log, os).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Jipok/rsonldb"
)

func main() {
	dump := flag.String("dump", "", "write a compacted snapshot to this path before reporting")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rsonldb-inspect [-dump path] <db-file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	store, err := rsonldb.Open(path, nil)
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer store.Close()

	size, err := store.Size()
	if err != nil {
		log.Fatalf("size: %v", err)
	}
	keys, err := store.Keys()
	if err != nil {
		log.Fatalf("keys: %v", err)
	}
	fmt.Printf("%s: %d live keys\n", path, size)
	for _, k := range keys {
		fmt.Println(" ", k)
	}

	if *dump != "" {
		if err := store.Dump(*dump); err != nil {
			log.Fatalf("dump: %v", err)
		}
		sum, err := store.DumpChecksum(*dump)
		if err != nil {
			log.Fatalf("checksum: %v", err)
		}
		fmt.Printf("wrote snapshot to %s (xxh3 %x)\n", *dump, sum)
	}
}

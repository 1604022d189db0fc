// duskmail-store is a small inspection tool for the persistence core: point
// it at a database file and it opens (bootstrapping or migrating as
// needed), prints the resulting schema version and table list, and closes
// cleanly. Useful for verifying a migration ladder change against a copy
// of a real database before shipping it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nyxwire/duskmail/internal/peerstate"
	"github.com/nyxwire/duskmail/internal/store"
)

func main() {
	path := flag.String("db", "", "path to the sqlite database file")
	readOnly := flag.Bool("ro", false, "open read-only, skipping migration")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: duskmail-store -db <path> [-ro]")
		os.Exit(2)
	}

	if err := run(*path, *readOnly); err != nil {
		fmt.Fprintf(os.Stderr, "duskmail-store: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, readOnly bool) error {
	s := store.New()

	var flags store.OpenFlags
	if readOnly {
		flags = store.OpenReadOnly
	}

	ctx := context.Background()
	if err := s.Open(ctx, path, flags, store.WithPeerStateFixer(func() store.PeerState { return peerstate.New() })); err != nil {
		return err
	}
	defer s.Unref()

	version := s.GetConfigInt(ctx, "dbversion", -1)
	fmt.Printf("path:      %s\n", s.Path())
	fmt.Printf("dbversion: %d\n", version)

	tables := []string{"config", "contacts", "chats", "chats_contacts", "msgs", "msgs_mdns", "jobs", "keypairs", "acpeerstates", "leftgrps", "tokens"}
	fmt.Println("tables:")
	for _, t := range tables {
		fmt.Printf("  %-16s %v\n", t, s.TableExists(t))
	}

	return nil
}

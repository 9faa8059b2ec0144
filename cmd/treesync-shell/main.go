// cmd/treesync-shell/main.go
//
// treesync-shell - interactive shell over a treesync move-only tree.
//
// Usage:
//
//	treesync-shell [database-file]
//
// If no database file is given, opens an in-memory tree. Use .help
// for available commands.
package main

import (
	"fmt"
	"os"

	"treesync/pkg/cli"
	"treesync/pkg/kv"
	"treesync/pkg/kv/diskkv"
)

func main() {
	var db kv.KV
	if len(os.Args) > 1 {
		d, err := diskkv.Open(os.Args[1], diskkv.Options{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
			os.Exit(1)
		}
		db = d
	} else {
		db = kv.NewMemKV()
	}

	repl, err := cli.NewREPL(db, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}

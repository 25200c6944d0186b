// Copyright (c) 2020-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vaultstamp/vaultstamp/ledger/local"
)

var (
	configFile  = flag.String("C", defaultConfigFile, "vaultstampd configuration file")
	destination = flag.String("destination", "", "Restore destination")
	dumpJSON    = flag.Bool("json", false, "Dump JSON")
	restore     = flag.Bool("restore", false, "Restore backend, -destination is required")
	dbRoot      = flag.String("source", "", "Source database directory")
)

// dump writes the records of the database at root to w.
func dump(root string, w io.Writer, human bool) error {
	kv, err := local.OpenLevelDB(root, false)
	if err != nil {
		return err
	}
	l, err := local.New(kv, 0)
	if err != nil {
		kv.Close()
		return err
	}
	defer l.Close()

	return l.Dump(w, human)
}

// restoreTo creates a database at root from the JSON dump in r.
func restoreTo(root string, r io.Reader) (int, error) {
	if _, err := os.Stat(root); err == nil {
		return 0, fmt.Errorf("destination exists: %v", root)
	}
	kv, err := local.OpenLevelDB(root, true)
	if err != nil {
		return 0, err
	}
	l, err := local.New(kv, 0)
	if err != nil {
		kv.Close()
		return 0, err
	}
	defer l.Close()

	return l.Restore(r)
}

func _main() error {
	flag.Parse()

	loadedCfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}
	if loadedCfg.Backend != "leveldb" {
		return fmt.Errorf("Unsupported backend type: %v",
			loadedCfg.Backend)
	}

	if *restore {
		if *destination == "" {
			return fmt.Errorf("-destination must be set")
		}
		n, err := restoreTo(*destination, os.Stdin)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %v records into %v\n", n, *destination)
		return nil
	}

	root := *dbRoot
	if root == "" {
		root = filepath.Join(loadedCfg.DataDir, "proofs.db")
	}
	if !*dumpJSON {
		fmt.Printf("=== Root: %v\n", root)
	}
	return dump(root, os.Stdout, !*dumpJSON)
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

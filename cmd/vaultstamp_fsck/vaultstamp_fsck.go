// Copyright (c) 2020-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vaultstamp/vaultstamp/ledger/local"
)

var (
	configFile  = flag.String("C", defaultConfigFile, "vaultstampd configuration file")
	file        = flag.String("file", "", "journal of modifications if used (will be written despite -fix)")
	fix         = flag.Bool("fix", false, "Try to correct correctable failures")
	printHashes = flag.Bool("printhashes", false, "Print all hashes")
	dbRoot      = flag.String("source", "", "Source database directory")
	verbose     = flag.Bool("v", false, "Print more information during run")
)

// fsck checks the leveldb store in root and returns the number of problems
// found.
func fsck(root string, options *local.FsckOptions) (int, error) {
	kv, err := local.OpenLevelDB(root, false)
	if err != nil {
		return 0, err
	}
	l, err := local.New(kv, 0)
	if err != nil {
		kv.Close()
		return 0, err
	}
	defer l.Close()

	return l.Fsck(options)
}

func _main() error {
	flag.Parse()

	loadedCfg, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("Could not load configuration file: %v", err)
	}

	root := *dbRoot
	if root == "" {
		if loadedCfg.Backend != "leveldb" {
			return fmt.Errorf("Unsupported backend type: %v",
				loadedCfg.Backend)
		}
		root = filepath.Join(loadedCfg.DataDir, "proofs.db")
	}

	fmt.Printf("=== Root: %v\n", root)

	problems, err := fsck(root, &local.FsckOptions{
		Verbose:     *verbose,
		PrintHashes: *printHashes,
		Fix:         *fix,
		File:        *file,
	})
	if err != nil {
		return err
	}
	if problems != 0 && !*fix {
		return fmt.Errorf("%v problems found, rerun with -fix to "+
			"correct them", problems)
	}
	return nil
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// Copyright (c) 2020-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrutil/v2"
	"github.com/jessevdk/go-flags"
)

const defaultConfigFilename = "vaultstampd.conf"

var (
	defaultHomeDir    = dcrutil.AppDataDir("vaultstampd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultBackend    = "leveldb"
)

// config holds the vaultstampd options vaultstamp_dumpdb cares about.  All
// other daemon options are ignored.
//
// See loadConfig for details on the configuration load process.
type config struct {
	DataDir string `short:"b" long:"datadir" description:"Directory to store data"`
	Backend string `long:"backend" description:"Sets the proof store type 'memory'/'leveldb'/'postgres'/'remote'"`
}

// loadConfig initializes and parses the daemon config file.  A missing file
// selects the defaults.
func loadConfig(configFile string) (*config, error) {
	// Default config.
	cfg := config{
		DataDir: filepath.Join(defaultHomeDir, "data"),
		Backend: defaultBackend,
	}

	parser := flags.NewParser(&cfg, flags.IgnoreUnknown)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			return nil, err
		}
	}

	return &cfg, nil
}

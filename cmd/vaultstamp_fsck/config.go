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
)

// config defines the vaultstampd options used by vaultstamp_fsck.
//
// See loadConfig for details on the configuration load process.
type config struct {
	DataDir string `short:"b" long:"datadir" description:"Directory to store data"`
	Backend string `long:"backend" description:"Sets the proof store type 'memory'/'leveldb'/'postgres'/'remote'"`
}

// loadConfig initializes and parses the config using a config file
func loadConfig(configFile string) (*config, error) {
	// Default config.
	cfg := config{
		DataDir: filepath.Join(defaultHomeDir, "data"),
		Backend: "leveldb",
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

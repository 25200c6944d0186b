// Copyright (c) 2015-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrutil/v2"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "vaultstamp.conf"
	defaultWalletFilename = "wallet.json"
)

var (
	defaultHomeDir    = dcrutil.AppDataDir("vaultstamp", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultWalletFile = filepath.Join(defaultHomeDir, defaultWalletFilename)
)

// config defines the configuration file options for vaultstamp.  Command
// line flags override them.
//
// See loadConfig for details on the configuration load process.
type config struct {
	Host       string `long:"host" description:"Ledger host"`
	Cert       string `long:"cert" description:"File containing the https certificate of the ledger host"`
	SkipVerify bool   `long:"skipverify" description:"Skip TLS verification of the ledger host"`
	Local      string `long:"local" description:"Use the leveldb store in this directory instead of a ledger host"`
	Wallet     string `long:"wallet" description:"Wallet key file"`
}

// loadConfig initializes and parses the config using a config file.  A
// missing config file leaves the defaults in place.
func loadConfig(configFile string) (*config, error) {
	// Default config.
	cfg := config{
		Wallet: defaultWalletFile,
	}

	err := flags.IniParse(configFile, &cfg)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			return nil, err
		}
	}

	return &cfg, nil
}

// initHomeDirectory creates the home directory if it doesn't already exist.
func initHomeDirectory(homeDir string) error {
	funcName := "initHomeDirectory"
	err := os.MkdirAll(homeDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		var e *os.PathError
		if errors.As(err, &e) && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}

		str := "%s: Failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	return nil
}

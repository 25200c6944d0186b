// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2017-2026 The Vaultstamp developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrutil/v2"
	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron"
	v1 "github.com/vaultstamp/vaultstamp/api/v1"
	"github.com/vaultstamp/vaultstamp/ledger"
)

const (
	defaultConfigFilename = "vaultstampd.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "vaultstampd.log"
	defaultBackupDirname  = "backups"

	backendMemory   = "memory"
	backendLevelDB  = "leveldb"
	backendPostgres = "postgres"
	backendRemote   = "remote"
)

var (
	defaultHomeDir       = dcrutil.AppDataDir("vaultstampd", false)
	defaultConfigFile    = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir       = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultHTTPSKeyFile  = filepath.Join(defaultHomeDir, "https.key")
	defaultHTTPSCertFile = filepath.Join(defaultHomeDir, "https.cert")
	defaultLogDir        = filepath.Join(defaultHomeDir, defaultLogDirname)
	defaultBackend       = backendLevelDB
)

// config defines the configuration options for vaultstampd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	HomeDir          string        `short:"A" long:"appdata" description:"Path to application home directory"`
	ShowVersion      bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile       string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir          string        `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir           string        `long:"logdir" description:"Directory to log output."`
	DebugLevel       string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Listeners        []string      `long:"listen" description:"Add an interface/port to listen for connections (default all interfaces port: 49155)"`
	HTTPSCert        string        `long:"httpscert" description:"File containing the https certificate file"`
	HTTPSKey         string        `long:"httpskey" description:"File containing the https certificate key"`
	AllowedOrigins   []string      `long:"allowedorigin" description:"Origin allowed to make cross origin requests, may be repeated (default none)"`
	RequireSignature bool          `long:"requiresignature" description:"Reject uploads without a valid owner signature over the metadata"`
	Backend          string        `long:"backend" description:"Sets the proof store type 'memory'/'leveldb'/'postgres'/'remote'"`
	Latency          time.Duration `long:"latency" description:"Simulated latency of the memory and leveldb stores"`
	Timeout          time.Duration `long:"timeout" description:"Bound on every proof store operation"`
	BackupSchedule   string        `long:"backupschedule" description:"Cron schedule (with seconds) for JSON backups of the memory and leveldb stores"`
	StoreHost        string        `long:"storehost" description:"Remote backend - send requests to the specified host:port"`
	StoreCert        string        `long:"storecert" description:"File containing the https certificate file for storehost"`
	PostgresUser     string        `long:"postgresuser" description:"Postgres user"`
	PostgresHost     string        `long:"postgreshost" description:"Postgres ip:port"`
	PostgresDB       string        `long:"postgresdb" description:"Postgres database name"`
	PostgresRootCert string        `long:"postgresrootcert" description:"File containing the CA certificate for postgres"`
	PostgresCert     string        `long:"postgrescert" description:"File containing the vaultstampd client certificate for postgres"`
	PostgresKey      string        `long:"postgreskey" description:"File containing the vaultstampd client certificate key for postgres"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string

		usr, err := user.Current()
		if err == nil {
			homeDir = usr.HomeDir
		} else {
			// Fallback to CWD
			homeDir = "."
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// removeDuplicateAddresses returns a new slice with all duplicate entries in
// addrs removed.
func removeDuplicateAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, val := range addrs {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = struct{}{}
		}
	}
	return result
}

// normalizeAddresses returns a new slice with all the passed peer addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	for i, addr := range addrs {
		addrs[i] = normalizeAddress(addr, defaultPort)
	}

	return removeDuplicateAddresses(addrs)
}

// defaultConfig returns the configuration before any file or command line
// options are applied.
func defaultConfig() config {
	return config{
		HomeDir:      defaultHomeDir,
		ConfigFile:   defaultConfigFile,
		DebugLevel:   defaultLogLevel,
		DataDir:      defaultDataDir,
		LogDir:       defaultLogDir,
		HTTPSKey:     defaultHTTPSKeyFile,
		HTTPSCert:    defaultHTTPSCertFile,
		Backend:      defaultBackend,
		Timeout:      ledger.DefaultTimeout,
		PostgresUser: "vaultstampd",
		PostgresDB:   "vaultstamp",
	}
}

// validate checks the option combinations that loadConfig can not express
// with flags alone.
func (cfg *config) validate() error {
	switch cfg.Backend {
	case backendMemory, backendLevelDB:
		if cfg.StoreHost != "" {
			return fmt.Errorf("storehost requires the %v backend",
				backendRemote)
		}
	case backendPostgres:
		if cfg.PostgresHost == "" {
			return fmt.Errorf("postgreshost required with the "+
				"%v backend", backendPostgres)
		}
	case backendRemote:
		if cfg.StoreHost == "" {
			return fmt.Errorf("storehost required with the %v "+
				"backend", backendRemote)
		}
	default:
		return fmt.Errorf("invalid backend %q", cfg.Backend)
	}

	if cfg.Latency < 0 {
		return fmt.Errorf("latency may not be negative")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if cfg.BackupSchedule != "" {
		if cfg.Backend != backendMemory && cfg.Backend != backendLevelDB {
			return fmt.Errorf("backupschedule requires the %v or "+
				"%v backend", backendMemory, backendLevelDB)
		}
		if _, err := cron.Parse(cfg.BackupSchedule); err != nil {
			return fmt.Errorf("invalid backupschedule: %v", err)
		}
	}

	// Add the default listener if none were specified.  The default
	// listener is all addresses on the listen port.
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{
			net.JoinHostPort("", v1.DefaultPort),
		}
	}
	cfg.Listeners = normalizeAddresses(cfg.Listeners, v1.DefaultPort)

	if cfg.StoreHost != "" {
		cfg.StoreHost = normalizeAddress(cfg.StoreHost, v1.DefaultPort)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in vaultstampd functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(0)
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Update the home directory for vaultstampd if specified.  Since the
	// home directory is updated, other variables need to be updated to
	// reflect the new changes.
	if preCfg.HomeDir != "" {
		cfg.HomeDir, _ = filepath.Abs(cleanAndExpandPath(preCfg.HomeDir))

		if preCfg.ConfigFile == defaultConfigFile {
			defaultConfigFile = filepath.Join(cfg.HomeDir,
				defaultConfigFilename)
			preCfg.ConfigFile = defaultConfigFile
			cfg.ConfigFile = defaultConfigFile
		} else {
			cfg.ConfigFile = preCfg.ConfigFile
		}
		if preCfg.DataDir == defaultDataDir {
			cfg.DataDir = filepath.Join(cfg.HomeDir,
				defaultDataDirname)
		} else {
			cfg.DataDir = preCfg.DataDir
		}
		if preCfg.HTTPSKey == defaultHTTPSKeyFile {
			cfg.HTTPSKey = filepath.Join(cfg.HomeDir, "https.key")
		} else {
			cfg.HTTPSKey = preCfg.HTTPSKey
		}
		if preCfg.HTTPSCert == defaultHTTPSCertFile {
			cfg.HTTPSCert = filepath.Join(cfg.HomeDir, "https.cert")
		} else {
			cfg.HTTPSCert = preCfg.HTTPSCert
		}
		if preCfg.LogDir == defaultLogDir {
			cfg.LogDir = filepath.Join(cfg.HomeDir,
				defaultLogDirname)
		} else {
			cfg.LogDir = preCfg.LogDir
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(cfg.HomeDir, 0700)
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
		return nil, nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.HTTPSKey = cleanAndExpandPath(cfg.HTTPSKey)
	cfg.HTTPSCert = cleanAndExpandPath(cfg.HTTPSCert)
	if cfg.StoreCert != "" {
		cfg.StoreCert = cleanAndExpandPath(cfg.StoreCert)
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}

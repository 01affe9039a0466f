package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btclog"
)

const (
	defaultConfigFilename = "vaultd.conf"
	defaultDataDirname    = "data"
	defaultLogFilename    = "vaultd.log"
	defaultLogLevel       = "info"
	defaultDBDriver       = "sqlite"
	defaultDSN            = "vault.db"
)

var (
	vaultdHomeDir     = appDataDir("vaultd")
	defaultConfigFile = filepath.Join(vaultdHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(vaultdHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(vaultdHomeDir, "logs")
)

// config mirrors btcwallet's own flat flags-struct-plus-ini-file
// convention (config.go), trimmed to what the vault core actually
// needs: a storage driver/DSN pair and logging knobs.
type config struct {
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the vault database and logs"`
	DBDriver    string `long:"dbdriver" description:"Storage driver: sqlite or postgres"`
	DSN         string `long:"dsn" description:"Data source name for the chosen driver"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	NoLogStdout bool   `long:"nologstdout" description:"Disable logging to stdout"`
}

func defaultConfig() *config {
	return &config{
		ConfigFile: defaultConfigFile,
		DataDir:    defaultDataDir,
		DBDriver:   defaultDBDriver,
		DSN:        defaultDSN,
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
	}
}

// loadConfig parses command-line flags over preConfig's defaults. A
// config file is honored if present but, unlike btcwallet, is never
// created automatically — vaultd is a library-first daemon, not an
// end-user wallet installer.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	preCfg := *cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.Parse(); err != nil {
		return nil, err
	}
	if preCfg.ConfigFile != "" {
		if _, err := os.Stat(preCfg.ConfigFile); err == nil {
			iniParser := flags.NewIniParser(flags.NewParser(cfg, flags.Default))
			if err := iniParser.ParseFile(preCfg.ConfigFile); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", preCfg.ConfigFile, err)
			}
		}
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	return cfg, nil
}

func appDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", name)
	}
	switch {
	case os.Getenv("APPDATA") != "":
		return filepath.Join(os.Getenv("APPDATA"), name)
	default:
		return filepath.Join(home, "."+name)
	}
}

// logLevelFromString maps the familiar btclog level names to a
// btclog.Level, defaulting to Info on anything unrecognized.
func logLevelFromString(s string) btclog.Level {
	lvl, ok := btclog.LevelFromString(s)
	if !ok {
		return btclog.LevelInfo
	}
	return lvl
}

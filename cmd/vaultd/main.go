// Command vaultd is a minimal process entry point around the vault
// core: parse flags/config, open storage, construct a vault.Vault, and
// drain its notification channel to the log — the library is the
// product; this binary exists so the core can be smoke-tested and run
// standalone, the way btcwallet/cmd.go wires wallet.Wallet.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/moneymikec/mSIGNA/internal/loggers"
	"github.com/moneymikec/mSIGNA/store"
	"github.com/moneymikec/mSIGNA/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := loggers.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename), !cfg.NoLogStdout)
	if err != nil {
		return fmt.Errorf("init log rotator: %w", err)
	}
	logger := backend.Logger("VLT")
	logger.SetLevel(logLevelFromString(cfg.DebugLevel))
	loggers.UseLogger(logger)

	dsn := cfg.DSN
	if cfg.DBDriver == "sqlite" && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(cfg.DataDir, dsn)
	}
	db, err := store.Open(cfg.DBDriver, dsn)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	v := vault.New(db)
	defer v.Close()

	loggers.Vault.Infof("vaultd ready (driver=%s dsn=%s)", cfg.DBDriver, dsn)

	for ev := range v.Notifications() {
		loggers.Vault.Infof("event: %s account=%q keychain=%q", ev.Kind, ev.AccountName, ev.KeychainName)
	}
	return nil
}

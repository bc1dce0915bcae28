package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/benaskins/lockbox/internal/audit"
	"github.com/benaskins/lockbox/internal/config"
	"github.com/benaskins/lockbox/internal/keychain"
	"github.com/benaskins/lockbox/internal/vault"
)

var (
	flagConfig  string
	flagVault   string
	flagPolicy  string
	flagGroup   string
	flagKind    string
	flagVerbose bool
	flagNoAudit bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "lockbox",
	Short:         "Policy-scoped secret vaults in the macOS Keychain",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
		if flagVault != "" {
			cfg.Vault = flagVault
		}
		if flagPolicy != "" {
			cfg.Policy = flagPolicy
		}
		if flagGroup != "" {
			cfg.SharedGroup = flagGroup
		}
		if flagKind != "" {
			cfg.Kind = flagKind
		}
		setupLogging(cfg.LogLevel, flagVerbose)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", config.DefaultPath(), "config file")
	pf.StringVar(&flagVault, "vault", "", "vault name (default from config, else \"default\")")
	pf.StringVar(&flagPolicy, "policy", "", "protection policy, e.g. when-unlocked, after-first-unlock-this-device-only")
	pf.StringVar(&flagGroup, "group", "", "shared access group")
	pf.StringVar(&flagKind, "kind", "", "vault kind: standard, synchronizable, secure-hardware")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&flagNoAudit, "no-audit", false, "do not write the audit log")
}

func setupLogging(level string, verbose bool) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	if verbose {
		l = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// openStore returns the system store, wrapped for auditing unless disabled.
// The returned func releases the audit log.
func openStore() (keychain.Store, func(), error) {
	var store keychain.Store = keychain.NewSystemStore()
	if flagNoAudit {
		return store, func() {}, nil
	}

	path := cfg.AuditPath()
	if path == "" {
		slog.Warn("no home directory, audit log disabled")
		return store, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, fmt.Errorf("creating audit directory: %w", err)
	}
	logger, err := audit.NewLogger(path)
	if err != nil {
		return nil, nil, err
	}
	return keychain.NewAuditedStore(store, logger, "cli"), func() { logger.Close() }, nil
}

// openVault opens the vault selected by config and flags.
func openVault() (*vault.Vault, func(), error) {
	id, err := cfg.Identity()
	if err != nil {
		return nil, nil, err
	}
	store, closeFn, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	v, err := vault.New(store, id)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	slog.Debug("opened vault", "vault", v.String(), "service", vault.BaseQuery(id).Service)
	return v, closeFn, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

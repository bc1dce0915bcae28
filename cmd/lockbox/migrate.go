package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benaskins/lockbox/internal/config"
	"github.com/benaskins/lockbox/internal/keychain"
	"github.com/benaskins/lockbox/internal/vault"
)

var migrateFlags struct {
	class       string
	service     string
	server      string
	account     string
	accessGroup string
	label       string
	fromVault   string
	fromPolicy  string
	fromKind    string
	fromGroup   string
	remove      bool
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move existing Keychain items into the vault",
	Long: `Copy every Keychain item matching the given attributes into the vault,
keyed by each item's account. Either all matched items are copied or none are;
keys the vault already holds are never overwritten.

Select the source either by Keychain attributes (--service, --account, ...) or
by another lockbox vault (--from-vault).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeFn, err := openStore()
		if err != nil {
			return err
		}
		defer closeFn()
		id, err := cfg.Identity()
		if err != nil {
			return err
		}
		reg := vault.NewRegistry(store)
		dst, err := reg.Open(id)
		if err != nil {
			return err
		}

		var report *vault.MigrationReport
		if migrateFlags.fromVault != "" {
			src, err := sourceVault(reg, dst)
			if err != nil {
				return err
			}
			report, err = dst.MigrateFrom(src, migrateFlags.remove)
			if err != nil {
				return err
			}
		} else {
			q, err := sourceQuery()
			if err != nil {
				return err
			}
			report, err = dst.Migrate(q, migrateFlags.remove)
			if err != nil {
				return err
			}
		}

		fmt.Printf("Migrated %d secrets into %s\n", len(report.Migrated), dst)
		for _, k := range report.Migrated {
			fmt.Printf("  %s\n", k)
		}
		if migrateFlags.remove {
			fmt.Printf("Removed %d source items\n", report.Removed)
		}
		if report.RemovalErr != nil {
			return fmt.Errorf("secrets were copied but some source items remain: %w", report.RemovalErr)
		}
		return nil
	},
}

func sourceQuery() (keychain.Query, error) {
	f := migrateFlags
	class := keychain.Class(f.class)
	switch {
	case class != keychain.ClassGenericPassword && class != keychain.ClassInternetPassword:
		return keychain.Query{}, fmt.Errorf("unknown item class %q: use genp or inet", f.class)
	case class == keychain.ClassInternetPassword && f.service != "":
		return keychain.Query{}, errors.New("--service applies to genp items; use --server for inet")
	case class == keychain.ClassGenericPassword && f.server != "":
		return keychain.Query{}, errors.New("--server applies to inet items; use --service for genp")
	case f.service == "" && f.server == "" && f.account == "" && f.accessGroup == "" && f.label == "":
		return keychain.Query{}, errors.New("refusing to migrate every item of a class: pass --service, --server, --account, --access-group or --label")
	}
	return keychain.Query{
		Class:               class,
		Service:             f.service,
		Server:              f.server,
		Account:             f.account,
		AccessGroup:         f.accessGroup,
		Label:               f.label,
		MatchLimit:          keychain.MatchLimitAll,
		ReturnAttributes:    true,
		ReturnPersistentRef: true,
	}, nil
}

func sourceVault(reg *vault.Registry, dst *vault.Vault) (*vault.Vault, error) {
	src := config.Config{
		Vault:       migrateFlags.fromVault,
		Policy:      migrateFlags.fromPolicy,
		Kind:        migrateFlags.fromKind,
		SharedGroup: migrateFlags.fromGroup,
	}
	if src.Policy == "" {
		src.Policy = dst.Identity().Policy.String()
	}
	id, err := src.Identity()
	if err != nil {
		return nil, err
	}
	return reg.Open(id)
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateFlags.class, "class", string(keychain.ClassGenericPassword), "item class: genp or inet")
	f.StringVar(&migrateFlags.service, "service", "", "match genp items with this service")
	f.StringVar(&migrateFlags.server, "server", "", "match inet items for this server")
	f.StringVar(&migrateFlags.account, "account", "", "match items with this account")
	f.StringVar(&migrateFlags.accessGroup, "access-group", "", "match items in this access group")
	f.StringVar(&migrateFlags.label, "label", "", "match items with this label")
	f.StringVar(&migrateFlags.fromVault, "from-vault", "", "migrate from another lockbox vault")
	f.StringVar(&migrateFlags.fromPolicy, "from-policy", "", "policy of --from-vault (default: destination policy)")
	f.StringVar(&migrateFlags.fromKind, "from-kind", "", "kind of --from-vault")
	f.StringVar(&migrateFlags.fromGroup, "from-group", "", "shared group of --from-vault")
	f.BoolVar(&migrateFlags.remove, "remove", false, "delete source items after a successful copy")
	rootCmd.AddCommand(migrateCmd)
}

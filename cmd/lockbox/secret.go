package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var setCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store a secret in the vault",
	Long:  "Store a secret. If value is omitted, reads from stdin (useful for piping).",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeFn, err := openVault()
		if err != nil {
			return err
		}
		defer closeFn()
		key := args[0]

		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			value, err = readSecret()
			if err != nil {
				return err
			}
		}

		if err := v.SetString(key, value); err != nil {
			return err
		}
		fmt.Printf("Secret %q stored in %s\n", key, v)
		return nil
	},
}

func readSecret() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Enter secret value: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		fmt.Println()
		return string(b), nil
	}
	b, err := os.ReadFile("/dev/stdin")
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Retrieve a secret from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeFn, err := openVault()
		if err != nil {
			return err
		}
		defer closeFn()

		val, ok, err := v.GetString(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("secret %q not found in %s", args[0], v)
		}
		fmt.Println(val)
		return nil
	},
}

var keysCmd = &cobra.Command{
	Use:     "keys",
	Short:   "List all keys in the vault",
	Aliases: []string{"ls", "list"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeFn, err := openVault()
		if err != nil {
			return err
		}
		defer closeFn()

		keys, err := v.Keys()
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No secrets stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY")
		for _, k := range keys {
			fmt.Fprintln(w, k)
		}
		return w.Flush()
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <key>",
	Short:   "Remove a secret from the vault",
	Aliases: []string{"rm", "delete"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeFn, err := openVault()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := v.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("Secret %q removed\n", args[0])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every secret in the vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeFn, err := openVault()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := v.RemoveAll(); err != nil {
			return err
		}
		fmt.Printf("Vault %s cleared\n", v)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the vault can be written and read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, closeFn, err := openVault()
		if err != nil {
			return err
		}
		defer closeFn()

		if !v.CanAccess() {
			return fmt.Errorf("vault %s is not accessible (is the keychain locked?)", v)
		}
		fmt.Printf("Vault %s is accessible\n", v)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(checkCmd)
}

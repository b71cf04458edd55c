package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trackmeta/internal/settings"
)

func newSettingsCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage stored provider credentials",
		Long: `Credentials saved here take precedence over the environment and are
picked up by running lookups without a restart.`,
	}
	cmd.AddCommand(newSettingsListCommand(cc))
	cmd.AddCommand(newSettingsGetCommand(cc))
	cmd.AddCommand(newSettingsSetCommand(cc))
	cmd.AddCommand(newSettingsDeleteCommand(cc))
	return cmd
}

func newSettingsListCommand(cc *commandContext) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show every credential and where its value comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			store, err := cc.settingsStore(ctx)
			if err != nil {
				return err
			}
			stored, err := store.List(ctx)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(settings.Known))
			for _, c := range settings.Known {
				value, source := credentialValue(stored[c.Key], c.Env)
				if !reveal {
					value = settings.Mask(value)
				}
				rows = append(rows, []string{c.Key, c.Env, source, value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Env", "Source", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print values unmasked")
	return cmd
}

func newSettingsGetCommand(cc *commandContext) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of one credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := lookupCredential(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			store, err := cc.settingsStore(ctx)
			if err != nil {
				return err
			}
			stored, err := store.Get(ctx, c.Key)
			if err != nil {
				return err
			}

			value, source := credentialValue(stored, c.Env)
			if !reveal {
				value = settings.Mask(value)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", value, source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the value unmasked")
	return cmd
}

func newSettingsSetCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := lookupCredential(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			store, err := cc.settingsStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Set(ctx, c.Key, args[1]); err != nil {
				if errors.Is(err, settings.ErrBlankValue) {
					return fmt.Errorf("%s: value is blank, use \"settings delete\" to clear it", c.Key)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", c.Key)
			return nil
		},
	}
}

func newSettingsDeleteCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"rm"},
		Short:   "Remove a stored credential",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := lookupCredential(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			store, err := cc.settingsStore(ctx)
			if err != nil {
				return err
			}
			if err := store.Delete(ctx, c.Key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", c.Key)
			return nil
		},
	}
}

func lookupCredential(key string) (settings.Credential, error) {
	key = strings.TrimSpace(key)
	names := make([]string, 0, len(settings.Known))
	for _, c := range settings.Known {
		if c.Key == key {
			return c, nil
		}
		names = append(names, c.Key)
	}
	return settings.Credential{}, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(names, ", "))
}

// credentialValue mirrors settings.Resolver: stored wins over environment.
func credentialValue(stored, env string) (value, source string) {
	if v := strings.TrimSpace(stored); v != "" {
		return v, "store"
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return v, "env"
	}
	return "", "unset"
}

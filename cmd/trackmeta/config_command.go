package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trackmeta/internal/config"
)

func newConfigCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(cc))
	cmd.AddCommand(newConfigValidateCommand(cc))
	return cmd
}

func newConfigInitCommand(cc *commandContext) *cobra.Command {
	var path string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with default values",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				target = strings.TrimSpace(*cc.configFlag)
			}
			if target == "" {
				target = config.GetDefaultConfigPath()
			}
			target = config.ExpandHome(target)

			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			}
			if err := config.SaveConfigFile(config.DefaultConfig(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Where to write the file (default ~/.config/trackmeta/config.yaml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigValidateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := cc.ensureConfig(); err != nil {
				return err
			}
			source := cc.configPath
			if source == "" {
				source = "built-in defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (%s)\n", source)
			return nil
		},
	}
}

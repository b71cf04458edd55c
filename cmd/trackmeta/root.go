package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() (*cobra.Command, *commandContext) {
	var configFlag string
	var verbose bool

	cc := newCommandContext(&configFlag, &verbose)

	rootCmd := &cobra.Command{
		Use:   "trackmeta",
		Short: "Look up track metadata across music catalogs",
		Long: `trackmeta asks MusicBrainz, iTunes, Last.fm, Spotify and Genius about a
track at once and keeps the answer from the highest-priority catalog that
matched with enough confidence.

Credentials are read from the settings store first, then from the
environment (SPOTIFY_CLIENT_ID, SPOTIFY_CLIENT_SECRET, GENIUS_ACCESS_TOKEN,
LASTFM_API_KEY).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := cc.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed log output")

	rootCmd.AddCommand(newEnrichCommand(cc))
	rootCmd.AddCommand(newBatchCommand(cc))
	rootCmd.AddCommand(newProvidersCommand(cc))
	rootCmd.AddCommand(newSettingsCommand(cc))
	rootCmd.AddCommand(newConfigCommand(cc))

	return rootCmd, cc
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

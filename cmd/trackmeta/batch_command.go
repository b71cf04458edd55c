package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"trackmeta/internal/batch"
	"trackmeta/internal/progress"
)

func newBatchCommand(cc *commandContext) *cobra.Command {
	var workers int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "batch [file]",
		Short: "Look up metadata for many tracks",
		Long: `Reads tracks from file, or stdin when file is omitted or "-". Input is
either one "Artist - Title" per line or a JSON array of
{"artist": ..., "title": ...} objects.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = cfg.Batch.Workers
			}

			items, err := readBatchInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return fmt.Errorf("no tracks to enrich")
			}

			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			p, err := cc.pipeline(ctx)
			if err != nil {
				return err
			}
			p.Aggregator.LogEnabled(ctx)

			var bar *progress.Bar
			if !cfg.Log.Verbose {
				bar = progress.ForTerminal(len(items), os.Stderr)
			}
			hooks := batch.Hooks{
				OnProgress: func(_ int, r batch.Result) { bar.Increment(r.Match != nil) },
			}

			results, stats, err := batch.Run(ctx, p, items, workers, cc.logger(), hooks)
			bar.Finish()

			out := cmd.OutOrStdout()
			if asJSON {
				if werr := writeJSON(out, results); werr != nil {
					return werr
				}
			} else {
				fmt.Fprintln(out, renderResults(results))
				fmt.Fprintf(out, "%d of %d tracks matched\n", stats.Matched, stats.Total)
			}
			return err
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent lookups (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func readBatchInput(stdin io.Reader, args []string) ([]batch.Item, error) {
	if len(args) == 0 || args[0] == "-" {
		return batch.ReadItems(stdin)
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("open batch input: %w", err)
	}
	defer f.Close()
	return batch.ReadItems(f)
}

func renderResults(results []batch.Result) string {
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		row := []string{strconv.Itoa(i + 1), r.Artist, r.Title}
		if m := r.Match; m != nil {
			row = append(row, m.Album, intOrBlank(m.Year), m.Genre, m.Source, fmt.Sprintf("%.2f", m.Confidence))
		}
		rows = append(rows, row)
	}
	return renderTable(
		[]string{"#", "Artist", "Title", "Album", "Year", "Genre", "Source", "Confidence"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	)
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"trackmeta/internal/metadata"
)

func newEnrichCommand(cc *commandContext) *cobra.Command {
	var asJSON, details bool

	cmd := &cobra.Command{
		Use:   "enrich <artist> <title>",
		Short: "Look up metadata for one track",
		Example: `  trackmeta enrich "The Beatles" "Let It Be"
  trackmeta enrich --details Radiohead Creep`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cc.commandCtx(cmd.Context())
			defer cancel()

			p, err := cc.pipeline(ctx)
			if err != nil {
				return err
			}
			p.Aggregator.LogEnabled(ctx)

			res := p.Aggregator.EnrichDetailed(ctx, metadata.Query{Artist: args[0], Title: args[1]})
			if err := ctx.Err(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res.Winner)
			}
			if res.Winner == nil {
				fmt.Fprintf(out, "No metadata found for %s - %s\n", args[0], args[1])
			} else {
				fmt.Fprintln(out, renderCandidate(res.Winner))
			}
			if details {
				fmt.Fprintln(out, renderOutcomes(res.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the match as JSON")
	cmd.Flags().BoolVar(&details, "details", false, "Also show what each provider returned")
	return cmd
}

func renderCandidate(c *metadata.Candidate) string {
	rows := [][]string{
		{"Source", c.Source},
		{"Artist", c.Artist},
		{"Album", c.Album},
		{"Year", intOrBlank(c.Year)},
		{"Genre", c.Genre},
		{"Tracks", intOrBlank(c.TotalTracks)},
		{"Cover art", c.CoverArtURL},
		{"Artist image", c.ArtistImageURL},
		{"Confidence", fmt.Sprintf("%.2f", c.Confidence)},
		{"Lyrics", firstLine(c.Lyrics)},
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func renderOutcomes(outcomes []metadata.Outcome) string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		confidence, errText := "", ""
		if o.Candidate != nil {
			confidence = fmt.Sprintf("%.2f", o.Candidate.Confidence)
		}
		if o.Err != nil {
			errText = o.Err.Error()
		}
		rows = append(rows, []string{
			o.Provider,
			strconv.Itoa(o.Priority),
			o.Label(),
			confidence,
			o.Elapsed.Round(1e6).String(),
			errText,
		})
	}
	return renderTable(
		[]string{"Provider", "Priority", "Outcome", "Confidence", "Elapsed", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
	)
}

func intOrBlank(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func firstLine(s string) string {
	line, rest, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if rest != "" {
		return line + " …"
	}
	return line
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

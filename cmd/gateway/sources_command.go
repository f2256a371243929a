package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"hls-gateway/internal/sources"
)

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List saved sources from the metadata file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(file)
			if path == "" {
				s, err := ctx.ensureSettings()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				path = s.MetadataFile
			}

			recs, err := sources.NewFilePersister(path).Load()
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No saved sources")
				return nil
			}
			fmt.Fprintln(out, renderSources(recs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Metadata file (default from METADATA_FILE)")
	return cmd
}

// renderSources lays out saved sources as a rounded table, newest session
// details alongside each URL and the screenshot count right-aligned.
func renderSources(recs []sources.Record) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Source", "Label", "Last Session", "Last Started", "Shots"})
	for _, r := range recs {
		started := "-"
		if r.LastStartedAt != nil {
			started = r.LastStartedAt.Local().Format(time.DateTime)
		}
		tw.AppendRow(table.Row{
			r.SourceURL,
			valueOr(r.Label, "-"),
			valueOr(r.LastSessionID, "-"),
			started,
			len(r.Screenshots),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignRight},
	})
	return tw.Render()
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

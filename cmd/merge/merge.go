// Package merge implements the merge command, a one-shot sweep over the data
// dir that finds and persists cross-source publication matches.
package merge

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citehub/citehub/internal/config"
	"github.com/citehub/citehub/internal/logger"
	"github.com/citehub/citehub/internal/merge"
	"github.com/citehub/citehub/internal/storage"
)

// Command returns the merge command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Run one merge sweep and print the matches",
		Long: `Sweep the stored publications of every enabled source pair once,
persist the matches found, and print them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log, err := logger.New(cfg.Logger.Level, cfg.App.Debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			store, err := storage.New(cfg.Storage.Root, log)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}

			merger := merge.New(store, cfg.Crawler.Subject, cfg.Crawler.Sources, log,
				merge.WithThreshold(cfg.Merger.SimilarityThreshold),
			)
			if err := merger.Sweep(cmd.Context()); err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			records := store.Merges(cfg.Crawler.Subject)
			if len(records) == 0 {
				fmt.Println("No cross-source matches found.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Source A", "Publication A", "Source B", "Publication B", "Similarity"})
			for _, rec := range records {
				t.AppendRow(table.Row{
					rec.SourceA,
					rec.PubA,
					rec.SourceB,
					rec.PubB,
					fmt.Sprintf("%.2f", rec.Similarity),
				})
			}
			t.Render()

			return nil
		},
	}
}

package sources

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citehub/citehub/internal/config"
	"github.com/citehub/citehub/internal/logger"
	internalsources "github.com/citehub/citehub/internal/sources"
	"github.com/citehub/citehub/internal/storage"
)

// newListCommand creates the list command, which renders every enabled
// source's fields and effective values in a table.
func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the enabled sources and their field values",
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

			return renderSources(cfg, store)
		},
	}
}

// renderSources prints the effective field values the next serve run would
// start with: config file seeds overlaid by anything persisted in the data
// dir.
func renderSources(cfg *config.Config, store *storage.Store) error {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Namespace", "Field", "Description", "Value"})

	for _, ns := range cfg.Crawler.Sources {
		src, err := internalsources.New(ns)
		if err != nil {
			return err
		}

		stored, err := store.Source(ns).LoadFields()
		if err != nil {
			return err
		}

		values := make(map[string]string)
		for key, val := range cfg.Sources[ns] {
			values[key] = val
		}
		for key, val := range stored {
			values[key] = val
		}

		declared := src.Fields()
		keys := make([]string, 0, len(declared))
		for key := range declared {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			t.AppendRow(table.Row{ns, key, declared[key], values[key]})
		}
	}

	t.Render()
	return nil
}

package sources

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citehub/citehub/internal/config"
	"github.com/citehub/citehub/internal/logger"
	internalsources "github.com/citehub/citehub/internal/sources"
	"github.com/citehub/citehub/internal/storage"
)

const setArgCount = 3

// newSetCommand creates the set command, which updates one source field in
// the data dir. The running service is not touched; use the HTTP API for
// live updates.
func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <namespace> <field> <value>",
		Short: "Set a source configuration field",
		Long: `Set a source configuration field in the data dir. The source
restarts from its initial stage on the next serve run.`,
		Args: cobra.ExactArgs(setArgCount),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns, key, value := args[0], args[1], args[2]

			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			// The adapter validates the field key
			src, err := internalsources.New(ns)
			if err != nil {
				return err
			}
			if err := src.SetField(key, value); err != nil {
				return err
			}

			log, err := logger.New(cfg.Logger.Level, cfg.App.Debug)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			store, err := storage.New(cfg.Storage.Root, log)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}

			srcStore := store.Source(ns)
			values, err := srcStore.LoadFields()
			if err != nil {
				return err
			}
			values[key] = value
			if err := srcStore.SaveFields(values); err != nil {
				return err
			}
			if err := srcStore.DeleteTaskState(); err != nil {
				return err
			}

			fmt.Printf("Updated %s.%s; the source restarts from its initial stage on the next serve run.\n", ns, key)
			return nil
		},
	}
}

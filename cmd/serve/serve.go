// Package serve implements the serve command, which runs the full service:
// crawl scheduler, merge engine, and HTTP API.
package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/citehub/citehub/internal/bootstrap"
	"github.com/citehub/citehub/internal/config"
)

// Command returns the serve command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl scheduler, merge engine, and HTTP API",
		Long: `Run the full service. Crawl tasks resume from their persisted
state and the server runs until interrupted with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return bootstrap.Run(cfg)
		},
	}
}

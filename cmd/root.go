// Package cmd implements the command-line interface for citehub.
// It provides the root command and subcommands for running the service and
// managing sources and merge records.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdmerge "github.com/citehub/citehub/cmd/merge"
	"github.com/citehub/citehub/cmd/serve"
	cmdsources "github.com/citehub/citehub/cmd/sources"
	"github.com/citehub/citehub/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// Debug enables debug mode for all commands
	Debug bool

	rootCmd = &cobra.Command{
		Use:   "citehub",
		Short: "An academic publication aggregator",
		Long: `Tracks one author's publications and citations across multiple
academic sources and merges the copies into a single view.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command
func Execute() error {
	// Load .env file early so environment variables are available
	_ = godotenv.Load()

	// Parse flags early to get the config path before reading it
	_ = rootCmd.ParseFlags(os.Args[1:])

	if err := initConfig(); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "enable debug mode")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("citehub version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(serve.Command())
	rootCmd.AddCommand(cmdsources.Command())
	rootCmd.AddCommand(cmdmerge.Command())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	// Environment variables take precedence over defaults
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config.SetDefaults(viper.GetViper())

	// Config file is optional; defaults and environment variables cover a
	// missing one
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Config file not found: %v (using defaults and environment variables)\n", err)
	}

	if err := bindCommandLineFlags(); err != nil {
		return err
	}
	if err := bindEnvVars(); err != nil {
		return err
	}

	if Debug || viper.GetBool("app.debug") {
		viper.Set("logger.level", "debug")
		Debug = true
	}

	return nil
}

// bindCommandLineFlags binds command-line flags to Viper.
func bindCommandLineFlags() error {
	if err := viper.BindPFlag("app.debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("failed to bind debug flag: %w", err)
	}
	return nil
}

// bindEnvVars maps well-known environment variables to config keys.
func bindEnvVars() error {
	if err := viper.BindEnv("app.environment", "APP_ENV"); err != nil {
		return fmt.Errorf("failed to bind APP_ENV: %w", err)
	}
	if err := viper.BindEnv("app.debug", "APP_DEBUG"); err != nil {
		return fmt.Errorf("failed to bind APP_DEBUG: %w", err)
	}
	if err := viper.BindEnv("logger.level", "LOG_LEVEL"); err != nil {
		return fmt.Errorf("failed to bind LOG_LEVEL: %w", err)
	}
	if err := viper.BindEnv("crawler.subject", "CITEHUB_SUBJECT"); err != nil {
		return fmt.Errorf("failed to bind CITEHUB_SUBJECT: %w", err)
	}
	// Source credentials usually arrive through the environment rather
	// than the config file
	if err := viper.BindEnv("sources.scholar.user", "SCHOLAR_USER"); err != nil {
		return fmt.Errorf("failed to bind SCHOLAR_USER: %w", err)
	}
	if err := viper.BindEnv("sources.scopus.api_key", "SCOPUS_API_KEY"); err != nil {
		return fmt.Errorf("failed to bind SCOPUS_API_KEY: %w", err)
	}
	if err := viper.BindEnv("sources.aminer.auth", "AMINER_TOKEN"); err != nil {
		return fmt.Errorf("failed to bind AMINER_TOKEN: %w", err)
	}
	return nil
}

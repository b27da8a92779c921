// Command setupctl drives the setup wizard without the desktop UI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"setup-wizard/internal/bootstrap"
	"setup-wizard/internal/config"
	"setup-wizard/internal/logging"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "setupctl",
	Short:         "Inspect and run the model setup wizard",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := config.DefaultLogLevel
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.setup-wizard/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	runCmd.Flags().StringVar(&summaryModel, "summary-model", "", "Summary model variant to install")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp loads settings and builds every component without starting the wizard.
func openApp() (*bootstrap.App, error) {
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	store := config.NewYAMLStore(path)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if !verbose && settings.LogLevel != config.DefaultLogLevel {
		configured, err := logging.New(settings.LogLevel)
		if err != nil {
			return nil, err
		}
		_ = logger.Sync()
		logger = configured
	}

	return bootstrap.NewFromSettings(store, settings, logger.With(zap.String("config", path)))
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/app"
	"github.com/ternarybob/gleaner/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported, later files override earlier ones
	serverPort  int
	serverHost  string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gleaner",
		Short:         "Discover, crawl and catalogue community services",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times)")
	cmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Metrics server port (overrides config)")
	cmd.PersistentFlags().StringVar(&serverHost, "host", "", "Metrics server host (overrides config)")

	cmd.AddCommand(
		serveCmd(),
		discoverCmd(),
		crawlCmd(),
		extractCmd(),
		jobCmd(),
		jobsCmd(),
		proposalsCmd(),
		approveCmd(),
		rejectCmd(),
		cleanupCmd(),
		versionCmd(),
	)
	return cmd
}

// loadConfig resolves configuration in order: defaults -> files -> env -> flags,
// then sets up the logger
func loadConfig() error {
	if len(configFiles) == 0 {
		if _, err := os.Stat("gleaner.toml"); err == nil {
			configFiles = append(configFiles, "gleaner.toml")
		} else if _, err := os.Stat("deployments/local/gleaner.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/gleaner.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	common.ApplyFlagOverrides(config, serverPort, serverHost)
	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.SetupLogger(config)
	logger.Debug().
		Strs("config_files", configFiles).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Msg("Resolved configuration")
	return nil
}

// newApp builds the application; callers must Close it
func newApp() (*app.App, error) {
	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Gleaner version %s\n", common.GetFullVersion())
		},
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/lance13c/deltawatch/internal/config"
	"github.com/lance13c/deltawatch/internal/logging"
	"github.com/spf13/cobra"
)

var cfgFile string

var (
	loader    *config.Loader
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deltawatch",
	Short: "DeltaWatch - watch web pages for changes",
	Long: `DeltaWatch periodically loads web pages in headless Chrome, extracts
a text value or screenshot, and notifies you when it changes.

Add monitors with 'deltawatch monitor add', then start the scheduler with
'deltawatch run'.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .deltawatch/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory")
}

// initConfig loads the configuration and sets up logging under its data dir
func initConfig(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	projectDir, _ := cmd.Flags().GetString("project")

	loader = config.NewLoader(projectDir, cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	appConfig = cfg

	if err := logging.Initialize(cfg.DataDir); err != nil {
		// Fall back to stderr if logging fails to initialize
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		logging.RedirectStandardLog()
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logging.DEBUG
	}
	logging.GetLogger().SetLevel(level)

	if path := loader.ConfigPath(); path != "" {
		logging.Debug("Using config file %s", path)
	} else {
		logging.Debug("No config file found, using defaults (data dir %s)", cfg.DataDir)
	}
	return nil
}

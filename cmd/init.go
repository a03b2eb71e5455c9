package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lance13c/deltawatch/internal/config"
	"github.com/spf13/cobra"
)

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize DeltaWatch in the current project",
	Long: `Create .deltawatch/config.yaml with default settings. Secrets such as
the AI key or SMTP password can be given through DELTAWATCH_* environment
variables or 'deltawatch settings set' instead of the file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	initCmd.Flags().String("ai-provider", "", "Enable AI with this provider (openai, openrouter, local)")
	initCmd.Flags().String("ai-model", "", "AI model name")
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Flags().GetString("project")
	force, _ := cmd.Flags().GetBool("force")

	l := config.NewLoader(projectDir, cfgFile)
	path := cfgFile
	if path == "" {
		path = l.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if provider, _ := cmd.Flags().GetString("ai-provider"); provider != "" {
		if _, ok := config.LookupProvider(provider); !ok {
			return fmt.Errorf("unknown AI provider %q (known: %v)", provider, config.ProviderIDs())
		}
		cfg.AI.Enabled = true
		cfg.AI.Provider = provider
	}
	if model, _ := cmd.Flags().GetString("ai-model"); model != "" {
		cfg.AI.Model = model
	}

	if err := l.Save(cfg, path); err != nil {
		return err
	}

	dataDir := filepath.Join(filepath.Dir(filepath.Dir(path)), cfg.DataDir)
	fmt.Printf("%s %s\n", successStyle.Render("Created"), path)
	fmt.Printf("Data will be stored in %s\n", dataDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  deltawatch monitor add https://example.com --selector '.price'")
	fmt.Println("  deltawatch run")
	return nil
}

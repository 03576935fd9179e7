package config

import (
	"fmt"

	"github.com/protoproxy/dispatch/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the protoproxy configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  protoproxy config validate

  # Validate specific config file
  protoproxy config validate --config /etc/protoproxy/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if len(cfg.Dispatch.BundlePaths) == 0 {
		warnings = append(warnings, "no protocol bundles configured - the Codec Registry will start empty")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == 0 {
		warnings = append(warnings, "metrics enabled but no port configured")
	}

	fmt.Printf("Configuration file: %s\n", displayPath)
	fmt.Println("Validation: OK")

	if len(warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Printf("\nConfiguration summary:\n")
	fmt.Printf("  Bundles:         %d\n", len(cfg.Dispatch.BundlePaths))
	fmt.Printf("  Metrics enabled: %t\n", cfg.Metrics.Enabled)
	fmt.Printf("  Log level:       %s\n", cfg.Logging.Level)

	return nil
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and environment
variables are merged. Secrets are masked.`,
	RunE: runConfig,
}

var configCheck bool

func init() {
	RootCmd.AddCommand(configCmd)

	configCmd.Flags().BoolVar(&configCheck, "check", false, "Also validate the configuration as \"run\" would")
}

func runConfig(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(out); err != nil {
		return err
	}

	if configCheck {
		if err := cfg.Validate(true); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "# configuration is valid")
	}
	return nil
}

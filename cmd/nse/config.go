package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"nsefetch/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage nse configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (NSE_*, also read from .env)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	Long: `Write the default configuration to .nse.yaml, or to the path given
with --config. An existing file is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = ".nse.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file %s already exists", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration from all sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for invalid values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
}

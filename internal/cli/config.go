package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/agentflow/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to the config path. The file format
follows the extension (.yaml or .json). Existing files are kept unless --force
is given.`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and list every problem",
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()
	if path == "" {
		return fmt.Errorf("failed to resolve config path")
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{
		{ID: "anthropic", Provider: "anthropic", APIKey: "${ANTHROPIC_API_KEY}", Models: []string{"claude-*"}},
	}
	if err := loader.Save(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
	fmt.Fprintln(cmd.OutOrStdout(), "Set ANTHROPIC_API_KEY and start talking with: agentflow run")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	errs := config.NewValidator().ValidateConfig(cfg)
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	}

	for _, e := range errs {
		fmt.Fprintf(cmd.OutOrStdout(), "- %v\n", e)
	}
	return fmt.Errorf("configuration has %d problems", len(errs))
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/agentflow/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine configuration",
	Long:  `Load the configuration, build the engine and show its agents, limits and use cases.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer a.Close()
	status := a.Status()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config: %s\n", config.NewLoader(cfgFile).GetConfigPath())
	fmt.Fprintf(out, "Entry agent: %s\n", cfg.Engine.EntryAgent)
	fmt.Fprintf(out, "Agents: %s\n", strings.Join(status.Agents, ", "))
	fmt.Fprintf(out, "Memory: %s\n", memoryDescription(cfg.Memory))
	fmt.Fprintf(out, "Limits: %d tool calls, %d handovers, %d retries\n",
		cfg.Engine.ToolCallLimit, cfg.Engine.HandoverLimit, cfg.Engine.RetryLimit)
	if cfg.Flow.Enabled {
		fmt.Fprintf(out, "Use cases: %d (%s)\n", status.UseCases, cfg.Flow.UseCaseDir)
	} else {
		fmt.Fprintln(out, "Use cases: disabled")
	}
	return nil
}

func memoryDescription(m config.MemoryConfig) string {
	if m.Driver == "sqlite" {
		return fmt.Sprintf("sqlite (%s)", m.Path)
	}
	return m.Driver
}

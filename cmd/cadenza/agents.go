package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwald/cadenza/internal/config"
	"github.com/mwald/cadenza/internal/orchestrator"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the registered agents",
	Long: `List the agent registry: built-in specialists plus any agents
loaded from the configured agents file.

Requests are matched against each agent's keywords; the best-scoring
agents handle the request under the chosen coordination strategy.`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := orchestrator.DefaultRegistry()
	if cfg.Agents.File != "" {
		if err := registry.LoadFile(cfg.Agents.File); err != nil {
			return fmt.Errorf("loading agents: %w", err)
		}
	}

	agents := registry.All()
	fmt.Printf("%d agents registered\n\n", len(agents))
	for _, agent := range agents {
		fmt.Printf("%s\n", color.CyanString(agent.Name))
		if len(agent.Specialties) > 0 {
			fmt.Printf("  specialties: %s\n", strings.Join(agent.Specialties, ", "))
		}
		if len(agent.Keywords) > 0 {
			fmt.Printf("  keywords:    %s\n", strings.Join(agent.Keywords, ", "))
		}
		fmt.Printf("  provider:    %s\n", agent.Provider)
		if agent.Fallback != "" {
			fmt.Printf("  fallback:    %s\n", agent.Fallback)
		}
		fmt.Println()
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/conductd/internal/config"
)

// validateCmd validates a pipeline file locally, without a daemon.
var validateCmd = &cobra.Command{
	Use:   "validate <pipeline.yaml>",
	Short: "Validate a pipeline definition file",
	Long: `Validate a pipeline definition file without starting the daemon.

Checks the stage graph for cycles and dangling prerequisites, resolves
retry policy references, and validates gate rules and project overlays.

Examples:
  conduct validate pipeline.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	pipe, err := config.LoadPipeline(args[0])
	if err != nil {
		return err
	}

	g, err := pipe.Graph()
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", args[0])
	fmt.Printf("  stages:        %d\n", g.Len())
	fmt.Printf("  agents:        %d\n", len(pipe.Agents))
	fmt.Printf("  policies:      %d\n", len(pipe.Policies))
	fmt.Printf("  gate rules:    %d (version %d)\n", len(pipe.Gate.Rules), pipe.Gate.Version)
	fmt.Printf("  project rules: %d\n", len(pipe.Projects))
	return nil
}

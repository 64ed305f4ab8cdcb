package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal"
	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal/nodes"
	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal/serve"
	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal/version"
)

func NewMeshdCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "meshd",
		Short:        fmt.Sprintf("meshd - addressable hub mesh v%s", internal.GetVersion()),
		Example:      "meshd serve --config mesh.toml --nodes nodes.hcl",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		nodes.NewNodesCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewMeshdCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

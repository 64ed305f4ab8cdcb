package serve

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal"
	"github.com/tailored-agentic-units/mesh/config"
)

func NewServeCommand() *cobra.Command {
	var (
		configFile string
		nodesFile  string
		addr       string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run a mesh node",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if nodesFile != "" {
				cfg.Routing.NodesFile = nodesFile
			}
			if addr != "" {
				cfg.Gateway.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := Build(ctx, *cfg, internal.NewLogger(debug))
			if err != nil {
				return err
			}
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "JSON or TOML configuration file")
	cmd.Flags().StringVarP(&nodesFile, "nodes", "n", "", "HCL file of node descriptors")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides gateway.addr")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	return cmd
}

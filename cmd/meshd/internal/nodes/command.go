package nodes

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/mesh/cmd/meshd/internal"
	"github.com/tailored-agentic-units/mesh/mesh"
)

var errNoNodesFile = errors.New("--nodes is required")

func NewNodesCommand() *cobra.Command {
	var nodesFile string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Validate and list mesh node descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if nodesFile == "" {
				return errNoNodesFile
			}
			nodes, err := mesh.LoadNodesHCL(nodesFile, internal.EnvVars())
			if err != nil {
				return err
			}
			return writeTable(cmd.OutOrStdout(), nodes)
		},
	}

	cmd.Flags().StringVarP(&nodesFile, "nodes", "n", "", "HCL file of node descriptors")

	return cmd
}

func writeTable(out io.Writer, nodes []mesh.Node) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tMODULE\tBASE PATH\tCONTENT")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Address(), dash(n.ModuleReference), dash(n.BasePath), dash(n.ContentPath))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d node(s)\n", len(nodes))
	return err
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dpaschal/meshcore-gateway/internal/config"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/store/sqlite"
)

// newNodesCommand implements the `meshgw nodes` inspection subcommand: a
// read-only listing of the node table through the Store Port adapter,
// without standing up the rest of the gateway.
func newNodesCommand(cfg *config.Config) *cobra.Command {
	var maxAgeHours int
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List known mesh nodes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := sqlite.Open(cfg.StoreDSN)
			if err != nil {
				return fmt.Errorf("meshgw nodes: open store: %w", err)
			}
			nodes, err := st.ListActiveNodes(cmd.Context(), maxAgeHours)
			if err != nil {
				return fmt.Errorf("meshgw nodes: list active nodes: %w", err)
			}
			for _, n := range nodes {
				printNode(cmd, n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 24, "only list nodes heard from within this many hours")
	return cmd
}

func printNode(cmd *cobra.Command, n *model.Node) {
	fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-20s %-8s hops=%-3d snr=%-6.1f rssi=%-5d lastHeard=%d\n",
		n.IDString(), n.LongName, n.ShortName, n.HopsAway, n.LastSNR, n.LastRSSI, n.LastHeard)
}

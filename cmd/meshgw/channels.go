package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dpaschal/meshcore-gateway/internal/config"
	"github.com/dpaschal/meshcore-gateway/internal/store/sqlite"
)

// maxChannelSlots is the radio's fixed channel-slot count (§3); there is
// no "list all channels" store operation, so the inspection command
// walks every slot instead.
const maxChannelSlots = 8

// newChannelsCommand implements the `meshgw channels` inspection
// subcommand: a read-only listing of the channel table.
func newChannelsCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List configured radio channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := sqlite.Open(cfg.StoreDSN)
			if err != nil {
				return fmt.Errorf("meshgw channels: open store: %w", err)
			}
			for i := uint32(0); i < maxChannelSlots; i++ {
				ch, ok, err := st.GetChannel(cmd.Context(), i)
				if err != nil {
					return fmt.Errorf("meshgw channels: get channel %d: %w", i, err)
				}
				if !ok {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d %-10s role=%-3d uplink=%-5t downlink=%-5t\n",
					ch.Index, ch.Name, ch.Role, ch.UplinkEnabled, ch.DownlinkEnabled)
			}
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/malbeclabs/connectivity-metrics/internal/types"
	"github.com/spf13/cobra"
)

type NetworkCmd struct{}

func NewNetworkCmd() *NetworkCmd {
	return &NetworkCmd{}
}

func (c *NetworkCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Register and unregister networks",
	}

	register := &cobra.Command{
		Use:   "register",
		Short: "Register a network and its primary interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			netID, err := cmd.Flags().GetInt32("net-id")
			if err != nil {
				return fmt.Errorf("failed to get net-id flag: %w", err)
			}
			ifname, err := cmd.Flags().GetString("ifname")
			if err != nil {
				return fmt.Errorf("failed to get ifname flag: %w", err)
			}
			transports, err := cmd.Flags().GetUint64("transports")
			if err != nil {
				return fmt.Errorf("failed to get transports flag: %w", err)
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			resp, err := client.RegisterNetwork(cmd.Context(), types.RegisterNetworkRequest{
				NetID:      netID,
				IfName:     ifname,
				Transports: transports,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "netId=%d %s\n", resp.NetID, resp.LinkLayer)
			return nil
		},
	}
	register.Flags().Int32("net-id", 0, "network id")
	register.Flags().String("ifname", "", "primary interface name")
	register.Flags().Uint64("transports", 0, "transports bitmask; derived from the interface when 0")
	_ = register.MarkFlagRequired("net-id")
	_ = register.MarkFlagRequired("ifname")

	lost := &cobra.Command{
		Use:   "lost",
		Short: "Unregister a lost network",
		RunE: func(cmd *cobra.Command, args []string) error {
			netID, err := cmd.Flags().GetInt32("net-id")
			if err != nil {
				return fmt.Errorf("failed to get net-id flag: %w", err)
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			return client.NetworkLost(cmd.Context(), netID)
		},
	}
	lost.Flags().Int32("net-id", 0, "network id")
	_ = lost.MarkFlagRequired("net-id")

	cmd.AddCommand(register, lost)
	return cmd
}

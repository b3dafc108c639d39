package cli

import (
	"fmt"

	"github.com/malbeclabs/connectivity-metrics/internal/types"
	"github.com/spf13/cobra"
)

type EventCmd struct{}

func NewEventCmd() *EventCmd {
	return &EventCmd{}
}

func (c *EventCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Report a connectivity event to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ev types.Event
			var err error
			if ev.Kind, err = cmd.Flags().GetString("kind"); err != nil {
				return fmt.Errorf("failed to get kind flag: %w", err)
			}
			if ev.NetID, err = cmd.Flags().GetInt32("net-id"); err != nil {
				return fmt.Errorf("failed to get net-id flag: %w", err)
			}
			if ev.Transports, err = cmd.Flags().GetUint64("transports"); err != nil {
				return fmt.Errorf("failed to get transports flag: %w", err)
			}
			if ev.IfName, err = cmd.Flags().GetString("ifname"); err != nil {
				return fmt.Errorf("failed to get ifname flag: %w", err)
			}
			if ev.Subtype, err = cmd.Flags().GetInt32("subtype"); err != nil {
				return fmt.Errorf("failed to get subtype flag: %w", err)
			}
			if ev.ReturnCode, err = cmd.Flags().GetInt32("return-code"); err != nil {
				return fmt.Errorf("failed to get return-code flag: %w", err)
			}
			if ev.LatencyMs, err = cmd.Flags().GetInt32("latency-ms"); err != nil {
				return fmt.Errorf("failed to get latency-ms flag: %w", err)
			}
			if ev.IPAddr, err = cmd.Flags().GetString("ip"); err != nil {
				return fmt.Errorf("failed to get ip flag: %w", err)
			}

			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			results, err := client.LogEvents(cmd.Context(), []types.Event{ev})
			if err != nil {
				return err
			}
			if len(results) != 1 {
				return fmt.Errorf("unexpected number of results: %d", len(results))
			}
			if results[0] < 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "rate limited")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "remaining capacity: %d\n", results[0])
			return nil
		},
	}
	cmd.Flags().String("kind", "", "event kind (dns, connect, apf_program, ip_reachability, validation_probe, dhcp, network_event)")
	cmd.Flags().Int32("net-id", 0, "id of the network owning the event")
	cmd.Flags().Uint64("transports", 0, "transports bitmask of the network")
	cmd.Flags().String("ifname", "", "interface the event was observed on")
	cmd.Flags().Int32("subtype", 0, "kind specific event type")
	cmd.Flags().Int32("return-code", 0, "return code, the errno for connect events")
	cmd.Flags().Int32("latency-ms", 0, "latency in milliseconds")
	cmd.Flags().String("ip", "", "destination address of connect events")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

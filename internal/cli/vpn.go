package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/vpn"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type VPNCmd struct{}

func NewVPNCmd() *VPNCmd {
	return &VPNCmd{}
}

func (c *VPNCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vpn",
		Short: "Pull the vpn connection metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			conns, err := client.VPNMetrics(cmd.Context())
			if err != nil {
				return err
			}
			printVPNConnections(cmd.OutOrStdout(), conns)
			return nil
		},
	}
	return cmd
}

func printVPNConnections(w io.Writer, conns []vpn.Connection) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"User", "Connected (s)", "Validated (s)", "Validations", "Underlying", "Errors"})
	for _, c := range conns {
		underlying := make([]string, 0, len(c.UnderlyingTransports))
		for _, t := range c.UnderlyingTransports {
			underlying = append(underlying, t.String())
		}
		codes := make([]string, 0, len(c.ErrorCodes))
		for _, code := range c.ErrorCodes {
			codes = append(codes, fmt.Sprintf("%d", code))
		}
		table.Append([]string{
			fmt.Sprintf("%d", c.UserID),
			fmt.Sprintf("%d", c.ConnectedPeriodSeconds),
			fmt.Sprintf("%d", c.ValidatedPeriodSeconds),
			fmt.Sprintf("%d/%d", c.ValidationAttemptsSuccess, c.ValidationAttempts),
			strings.Join(underlying, ","),
			strings.Join(codes, ","),
		})
	}
	table.Render()
}

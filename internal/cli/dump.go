package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/codec"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type DumpCmd struct{}

func NewDumpCmd() *DumpCmd {
	return &DumpCmd{}
}

func (c *DumpCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump [flush | list [proto] | stats]",
		Short: "Run a dump command on the daemon",
		Long: "Run a dump command on the daemon. With no command the buffer stats are printed. " +
			"flush empties the event buffer and prints it as a base64 encoded connectivity log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			decode, err := cmd.Flags().GetBool("decode")
			if err != nil {
				return fmt.Errorf("failed to get decode flag: %w", err)
			}
			client, err := newClient(cmd)
			if err != nil {
				return err
			}

			out, err := client.Dump(cmd.Context(), args)
			if err != nil {
				return err
			}
			if decode && len(args) > 0 && args[0] == "flush" {
				return printConnectivityLog(cmd.OutOrStdout(), out)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().Bool("decode", false, "decode the output of flush into a table")
	// Arguments after the command are passed through to the daemon; "dump -- -a" sends -a.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// printConnectivityLog decodes a base64 encoded connectivity log and renders its events.
func printConnectivityLog(w io.Writer, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("failed to decode base64 output: %w", err)
	}
	log, err := codec.Deserialize(data)
	if err != nil {
		return fmt.Errorf("failed to decode connectivity log: %w", err)
	}

	fmt.Fprintf(w, "Version: %d\n", log.Version)
	fmt.Fprintf(w, "Dropped events: %d\n", log.Dropped)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Time", "Kind", "Net ID", "Link Layer", "Interface", "Subtype", "Return Code", "Latency (ms)", "IP"})
	for i, ev := range log.Events {
		ts := ""
		if !ev.Timestamp.IsZero() {
			ts = ev.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		table.Append([]string{
			ts,
			ev.Kind.String(),
			fmt.Sprintf("%d", ev.NetID),
			log.LinkLayers[i].String(),
			ev.IfName,
			fmt.Sprintf("%d", ev.Subtype),
			fmt.Sprintf("%d", ev.ReturnCode),
			fmt.Sprintf("%d", ev.LatencyMs),
			ev.IPAddr,
		})
	}
	table.Render()
	return nil
}

package ipconnectivity

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/malbeclabs/connectivity-metrics/internal/codec"
	"github.com/malbeclabs/connectivity-metrics/internal/metrics"
	"github.com/olekukonko/tablewriter"
)

// Dump commands.
const (
	CmdFlush   = "flush"
	CmdList    = "list"
	CmdStats   = "stats"
	CmdDumpAll = "-a" // bug report dumps list the buffer
	CmdDefault = CmdStats

	listFormatProto = "proto"
)

// Flush empties the event buffer and returns its events and drop count encoded as a base64
// connectivity log. It returns an empty string if the events cannot be encoded; they are
// lost in that case.
func (s *Service) Flush() string {
	events, dropped := s.buffer.FlushAndReset()

	data, err := s.serialize(dropped, events, codec.WithLinkLayers(s.registry.LinkLayer))
	if err != nil {
		metrics.Errors.WithLabelValues(metrics.ErrorTypeFlushSerialize).Inc()
		s.log.Error("failed to serialize events", "events", len(events), "dropped", dropped, "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// Dump runs the dump command in args and writes its output to w. No args runs stats.
func (s *Service) Dump(w io.Writer, args []string) {
	cmd := CmdDefault
	if len(args) > 0 {
		cmd = args[0]
	}
	s.log.Debug("dump", "args", strings.Join(args, " "))

	switch cmd {
	case CmdFlush:
		fmt.Fprint(w, s.Flush())
	case CmdDumpAll, CmdList:
		s.cmdList(w, args)
	case CmdStats:
		s.cmdStats(w)
	default:
		fmt.Fprintf(w, "Unknown command %s\n", strings.Join(args, " "))
	}
}

func (s *Service) cmdList(w io.Writer, args []string) {
	events := s.buffer.Snapshot()

	if len(args) > 1 && args[1] == listFormatProto {
		out, err := codec.MarshalText(events, codec.WithLinkLayers(s.registry.LinkLayer))
		if err != nil {
			metrics.Errors.WithLabelValues(metrics.ErrorTypeListProto).Inc()
			s.log.Error("failed to render events", "events", len(events), "error", err)
			return
		}
		fmt.Fprint(w, out)
		return
	}

	for _, ev := range events {
		fmt.Fprintln(w, ev.String())
	}
}

func (s *Service) cmdStats(w io.Writer) {
	st := s.buffer.Stats()

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetHeader([]string{"Buffered events", "Buffer capacity", "Dropped events"})
	table.Append([]string{strconv.Itoa(st.Buffered), strconv.Itoa(st.Capacity), strconv.Itoa(st.Dropped)})
	table.Render()

	for _, d := range s.dispatcher.Dumpers() {
		d.Dump(w)
	}
	s.registry.Dump(w)
	s.vpn.Dump(w)
}

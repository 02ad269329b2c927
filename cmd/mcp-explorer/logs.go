package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-explorer-go/pkg/oplog"
)

var (
	logsFile   string
	logsServer string
	logsKind   string
	logsSearch string
	logsLimit  int
	logsStats  bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the recorded proxy operations",
	Long: `Reads the operation log sink written by "serve" and renders the recorded
tool calls, resource reads, prompt fetches, and lifecycle events. Use
--stats for aggregate counters instead of individual entries.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsFile, "file", "", "Log sink to read (default: operations.jsonl next to the config file)")
	logsCmd.Flags().StringVar(&logsServer, "server", "", "Only entries for this server")
	logsCmd.Flags().StringVar(&logsKind, "kind", "", "Only entries of this kind (tool_call, resource_read, ...)")
	logsCmd.Flags().StringVar(&logsSearch, "search", "", "Case-insensitive substring match over operations and payloads")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 50, "Show at most the last N matching entries (0 for all)")
	logsCmd.Flags().BoolVar(&logsStats, "stats", false, "Print aggregate counters instead of entries")
}

func runLogs(cmd *cobra.Command, args []string) error {
	path := logsFile
	if path == "" {
		path = defaultLogFile()
	}
	entries, err := oplog.ReadSink(path)
	if err != nil {
		return err
	}

	filter := oplog.Filter{
		Server: logsServer,
		Kind:   oplog.EntryKind(logsKind),
		Search: logsSearch,
	}
	var matched []oplog.Entry
	for _, e := range entries {
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}

	if logsStats {
		renderStats(oplog.Summarize(matched))
		return nil
	}

	if logsLimit > 0 && len(matched) > logsLimit {
		matched = matched[len(matched)-logsLimit:]
	}
	if len(matched) == 0 {
		fmt.Println("No matching entries.")
		return nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"TIME", "KIND", "SERVER", "OPERATION", "DURATION", "STATUS"})
	for _, e := range matched {
		t.AppendRow(table.Row{
			e.Timestamp.Local().Format(time.TimeOnly),
			string(e.Kind),
			e.ServerName,
			e.Operation,
			durationCell(e),
			outcomeCell(e),
		})
	}
	t.Render()
	return nil
}

func durationCell(e oplog.Entry) string {
	if e.DurationMS <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1fms", e.DurationMS)
}

func outcomeCell(e oplog.Entry) string {
	switch {
	case e.Failed():
		return text.FgRed.Sprint(e.Error)
	case e.Succeeded():
		return text.FgGreen.Sprint("ok")
	default:
		return ""
	}
}

func renderStats(st oplog.Stats) {
	t := newTable()
	t.AppendHeader(table.Row{"METRIC", "VALUE"})
	t.AppendRow(table.Row{"total", st.Total})
	t.AppendRow(table.Row{"success", st.Success})
	t.AppendRow(table.Row{"errors", st.Errors})
	t.AppendRow(table.Row{"connected clients", st.ConnectedClients})
	t.Render()

	if len(st.ByServer) > 0 {
		fmt.Printf("\n%s\n", text.Bold.Sprint("By server"))
		t := newTable()
		t.AppendHeader(table.Row{"SERVER", "ENTRIES"})
		for _, name := range sortedStatKeys(st.ByServer) {
			t.AppendRow(table.Row{name, st.ByServer[name]})
		}
		t.Render()
	}
	if len(st.ByKind) > 0 {
		fmt.Printf("\n%s\n", text.Bold.Sprint("By kind"))
		t := newTable()
		t.AppendHeader(table.Row{"KIND", "ENTRIES"})
		kinds := make([]string, 0, len(st.ByKind))
		for kind := range st.ByKind {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			t.AppendRow(table.Row{kind, st.ByKind[oplog.EntryKind(kind)]})
		}
		t.Render()
	}
}

func sortedStatKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

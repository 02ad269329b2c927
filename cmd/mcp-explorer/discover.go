package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
	"github.com/vikashloomba/mcp-explorer-go/pkg/mcpmgr"
)

// discoverFlat renders the collision-renamed flat view instead of the
// per-source hierarchy.
var discoverFlat bool

// discoverDetail additionally lists each server's tools, resources, and
// prompts with their enablement state.
var discoverDetail bool

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan configuration sources and probe every declared MCP server",
	Long: `Loads the MCP configuration sources, validates each server entry, and
connects to the valid ones to enumerate their tools, resources, and
prompts. Invalid or unreachable servers are listed with their error
instead of being dropped.

The default view groups servers by configuration source. With --flat,
servers from all sources are merged into one list; name collisions
across sources are renamed ("github", "github#2") so every row stays
addressable.`,
	Args: cobra.NoArgs,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().BoolVar(&discoverFlat, "flat", false, "Merge all sources into one renamed list")
	discoverCmd.Flags().BoolVar(&discoverDetail, "detail", false, "List every capability with its enablement state")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := openStore(logger)

	mgr := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		DefaultClientName: "mcp-explorer",
		Logger:            logger,
	})
	defer func() { _ = mgr.DisconnectAllServers(cmd.Context()) }()

	paths := sourcePaths
	if len(paths) == 0 {
		paths = discovery.DefaultSourcePaths()
	}
	engine := discovery.NewEngine(mgr, &discovery.Options{SourcePaths: paths, Logger: logger})

	sources, errs := engine.DiscoverHierarchical(cmd.Context())
	for _, se := range errs {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", text.FgYellow.Sprint("skipped"), se.Path, se.Reason)
	}

	if discoverFlat {
		renderFlat(discovery.Flatten(sources), store)
	} else {
		renderHierarchy(sources, store)
	}
	return nil
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderHierarchy(sources []discovery.ConfigSource, store *enablement.Store) {
	if len(sources) == 0 {
		fmt.Println("No configuration sources found.")
		return
	}
	for _, src := range sources {
		fmt.Printf("\n%s\n", text.Bold.Sprint(src.Path))
		t := newTable()
		t.AppendHeader(table.Row{"SERVER", "KIND", "STATUS", "TOOLS", "RESOURCES", "PROMPTS", "DETAIL"})
		for _, desc := range src.Servers {
			t.AppendRow(serverRow(desc))
		}
		t.Render()
		if discoverDetail {
			for _, desc := range src.Servers {
				renderCapabilities(desc, enablement.ServerKey(src.Path, desc.Name), store)
			}
		}
	}
}

func renderFlat(flat []*discovery.ServerDescriptor, store *enablement.Store) {
	if len(flat) == 0 {
		fmt.Println("No servers discovered.")
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"SERVER", "SOURCE", "KIND", "STATUS", "TOOLS", "RESOURCES", "PROMPTS", "DETAIL"})
	for _, desc := range flat {
		row := serverRow(desc)
		row = append(table.Row{row[0], desc.SourcePath}, row[1:]...)
		t.AppendRow(row)
	}
	t.Render()
	if discoverDetail {
		for _, desc := range flat {
			name := desc.Name
			if desc.OriginalName != "" {
				name = desc.OriginalName
			}
			renderCapabilities(desc, enablement.ServerKey(desc.SourcePath, name), store)
		}
	}
}

func serverRow(desc *discovery.ServerDescriptor) table.Row {
	detail := desc.ErrorMessage
	if detail == "" && desc.Description != "" {
		detail = desc.Description
	}
	return table.Row{
		desc.Name,
		string(desc.Kind),
		statusCell(desc.Status),
		len(desc.Tools),
		len(desc.Resources),
		len(desc.Prompts),
		detail,
	}
}

func statusCell(status discovery.ServerStatus) string {
	switch status {
	case discovery.StatusConnected:
		return text.FgGreen.Sprint(status)
	case discovery.StatusError:
		return text.FgRed.Sprint(status)
	default:
		return string(status)
	}
}

func renderCapabilities(desc *discovery.ServerDescriptor, key string, store *enablement.Store) {
	if len(desc.Tools) == 0 && len(desc.Resources) == 0 && len(desc.Prompts) == 0 {
		return
	}
	fmt.Printf("\n%s\n", text.Bold.Sprint(desc.Name))
	t := newTable()
	t.AppendHeader(table.Row{"TYPE", "NAME", "ENABLED", "DESCRIPTION"})
	for _, tool := range desc.Tools {
		t.AppendRow(table.Row{"tool", tool.Name, enabledCell(store.IsToolEnabled(key, tool.Name)), tool.Description})
	}
	for _, res := range desc.Resources {
		t.AppendRow(table.Row{"resource", res.URI, enabledCell(store.IsResourceEnabled(key, res.URI)), res.Description})
	}
	for _, prompt := range desc.Prompts {
		t.AppendRow(table.Row{"prompt", prompt.Name, enabledCell(store.IsPromptEnabled(key, prompt.Name)), prompt.Description})
	}
	t.Render()
}

func enabledCell(enabled bool) string {
	if enabled {
		return text.FgGreen.Sprint("yes")
	}
	return "no"
}

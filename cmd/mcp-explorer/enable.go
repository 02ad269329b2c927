package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
	"github.com/vikashloomba/mcp-explorer-go/pkg/mcpmgr"
)

var (
	enableTools     []string
	enableResources []string
	enablePrompts   []string
	enableAll       bool

	disableTools     []string
	disableResources []string
	disablePrompts   []string
)

var enableCmd = &cobra.Command{
	Use:   "enable <source-path> <server-name>",
	Short: "Grant a server or individual capabilities for forwarding",
	Long: `Updates the enablement file. Without capability flags the server itself
is added to the allow-list; note that enabling the first server switches
the proxy from "forward every connected server" to "forward only listed
servers".

Tools, resources, and prompts are never forwarded implicitly: grant them
with --tool, --resource, and --prompt, or use --all to probe the server
and grant everything it currently exposes.`,
	Args: cobra.ExactArgs(2),
	RunE: runEnable,
}

var disableCmd = &cobra.Command{
	Use:   "disable <source-path> <server-name>",
	Short: "Revoke a server or individual capabilities",
	Long: `Updates the enablement file. Without capability flags the server is
removed from the allow-list; its individual capability grants are kept
so re-enabling the server restores the previous surface.`,
	Args: cobra.ExactArgs(2),
	RunE: runDisable,
}

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)

	enableCmd.Flags().StringSliceVar(&enableTools, "tool", nil, "Tool name to grant; repeatable")
	enableCmd.Flags().StringSliceVar(&enableResources, "resource", nil, "Resource URI to grant; repeatable")
	enableCmd.Flags().StringSliceVar(&enablePrompts, "prompt", nil, "Prompt name to grant; repeatable")
	enableCmd.Flags().BoolVar(&enableAll, "all", false, "Probe the server and grant every discovered capability")

	disableCmd.Flags().StringSliceVar(&disableTools, "tool", nil, "Tool name to revoke; repeatable")
	disableCmd.Flags().StringSliceVar(&disableResources, "resource", nil, "Resource URI to revoke; repeatable")
	disableCmd.Flags().StringSliceVar(&disablePrompts, "prompt", nil, "Prompt name to revoke; repeatable")
}

func runEnable(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := openStore(logger)
	sourcePath, serverName := args[0], args[1]
	key := enablement.ServerKey(sourcePath, serverName)

	switch {
	case enableAll:
		desc, err := probeServer(cmd, sourcePath, serverName)
		if err != nil {
			return err
		}
		store.EnableServer(key)
		for _, tool := range desc.Tools {
			store.EnableTool(key, tool.Name)
		}
		for _, res := range desc.Resources {
			store.EnableResource(key, res.URI)
		}
		for _, prompt := range desc.Prompts {
			store.EnablePrompt(key, prompt.Name)
		}
		fmt.Printf("Enabled %s with %d tools, %d resources, %d prompts\n",
			serverName, len(desc.Tools), len(desc.Resources), len(desc.Prompts))
	case len(enableTools) == 0 && len(enableResources) == 0 && len(enablePrompts) == 0:
		store.EnableServer(key)
		fmt.Printf("Enabled server %s\n", serverName)
	default:
		for _, tool := range enableTools {
			store.EnableTool(key, tool)
		}
		for _, res := range enableResources {
			store.EnableResource(key, res)
		}
		for _, prompt := range enablePrompts {
			store.EnablePrompt(key, prompt)
		}
		fmt.Printf("Granted %d capabilities on %s\n",
			len(enableTools)+len(enableResources)+len(enablePrompts), serverName)
	}
	return store.Save()
}

func runDisable(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := openStore(logger)
	key := enablement.ServerKey(args[0], args[1])

	if len(disableTools) == 0 && len(disableResources) == 0 && len(disablePrompts) == 0 {
		store.DisableServer(key)
		fmt.Printf("Disabled server %s\n", args[1])
	} else {
		for _, tool := range disableTools {
			store.DisableTool(key, tool)
		}
		for _, res := range disableResources {
			store.DisableResource(key, res)
		}
		for _, prompt := range disablePrompts {
			store.DisablePrompt(key, prompt)
		}
		fmt.Printf("Revoked %d capabilities on %s\n",
			len(disableTools)+len(disableResources)+len(disablePrompts), args[1])
	}
	return store.Save()
}

// probeServer discovers a single source and returns the named server's
// probed descriptor.
func probeServer(cmd *cobra.Command, sourcePath, serverName string) (*discovery.ServerDescriptor, error) {
	logger := newLogger()
	mgr := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		DefaultClientName: "mcp-explorer",
		Logger:            logger,
	})
	defer func() { _ = mgr.DisconnectAllServers(cmd.Context()) }()

	engine := discovery.NewEngine(mgr, &discovery.Options{
		SourcePaths: []string{sourcePath},
		Logger:      logger,
	})
	sources, errs := engine.DiscoverHierarchical(cmd.Context())
	for _, se := range errs {
		return nil, fmt.Errorf("source %s: %s", se.Path, se.Reason)
	}
	for _, src := range sources {
		if desc := src.ServerByName(serverName); desc != nil {
			if desc.Status != discovery.StatusConnected {
				return nil, fmt.Errorf("server %s is %s: %s", serverName, desc.Status, desc.ErrorMessage)
			}
			return desc, nil
		}
	}
	return nil, fmt.Errorf("server %s not found in %s", serverName, sourcePath)
}

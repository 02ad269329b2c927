package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
)

// configPath points at the proxy configuration file holding settings and
// the enablement state. Defaults to ~/.config/mcp-explorer/proxy-config.yaml.
var configPath string

// sourcePaths overrides the MCP configuration locations to scan. When empty
// the standard candidate paths are used.
var sourcePaths []string

// debug switches the log level to debug for all subsystems.
var debug bool

var rootCmd = &cobra.Command{
	Use:   "mcp-explorer",
	Short: "Discover MCP servers and re-expose them through a single proxy endpoint",
	Long: `mcp-explorer scans the well-known MCP configuration files on this machine,
probes every declared server for its tools, resources, and prompts, and
serves the enabled subset through one Streamable HTTP endpoint.

Which capabilities are forwarded is controlled by an enablement file:
servers are exposed permissively until the first explicit server grant,
while individual tools, resources, and prompts must always be granted
before they are forwarded.`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-explorer version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Proxy configuration file (default ~/.config/mcp-explorer/proxy-config.yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&sourcePaths, "source", nil,
		"MCP configuration file to scan; repeatable (default: well-known locations)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openStore loads the enablement store, tolerating a missing file. A corrupt
// file is reported but the command continues on defaults, matching the
// store's reset behavior.
func openStore(logger *slog.Logger) *enablement.Store {
	path := configPath
	if path == "" {
		path = enablement.DefaultPath()
	}
	store := enablement.NewStore(&enablement.Options{Path: path, Logger: logger})
	if err := store.Load(); err != nil {
		logger.Warn("configuration not loaded, using defaults", "path", path, "error", err)
	}
	return store
}

// defaultLogFile is the operation log sink next to the configuration file.
func defaultLogFile() string {
	path := configPath
	if path == "" {
		path = enablement.DefaultPath()
	}
	return filepath.Join(filepath.Dir(path), "operations.jsonl")
}

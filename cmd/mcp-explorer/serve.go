package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
	"github.com/vikashloomba/mcp-explorer-go/pkg/elicit"
	"github.com/vikashloomba/mcp-explorer-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-explorer-go/pkg/oplog"
	"github.com/vikashloomba/mcp-explorer-go/pkg/proxy"
)

// serveAddr overrides the listen address. When empty the port from the
// configuration file is used.
var serveAddr string

// servePath mounts the Streamable endpoint under a custom HTTP path.
var servePath string

// serveLogFile overrides the operation log sink location.
var serveLogFile string

// serveOrigins restricts the CORS allowed origins. Empty allows any origin.
var serveOrigins []string

// serveNoWatch disables the configuration file watcher.
var serveNoWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run discovery and serve the enabled capabilities over one MCP endpoint",
	Long: `Discovers every configured MCP server, connects to the reachable ones,
and serves the enabled tools, resources, and prompts through a single
Streamable HTTP endpoint. Names are prefixed with the originating server
("time__get_current_time") so downstream clients see one flat catalog.

The configuration sources are watched; editing one triggers a fresh
discovery run and an atomic swap of the forwarded capability set.

When a backend asks for user input mid-operation, the request is printed
on this terminal and answered interactively. Type "decline" or "cancel"
at any field to resolve the request without completing it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: port from config file)")
	serveCmd.Flags().StringVar(&servePath, "path", "/mcp", "HTTP path of the Streamable endpoint")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Operation log sink (default: operations.jsonl next to the config file)")
	serveCmd.Flags().StringSliceVar(&serveOrigins, "origin", nil, "Allowed CORS origin; repeatable (default: any)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch configuration sources for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := openStore(logger)
	settings := store.Settings()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinkPath := serveLogFile
	if sinkPath == "" {
		sinkPath = defaultLogFile()
	}
	log := oplog.New(&oplog.Options{
		MaxEntries: settings.MaxLogEntries,
		SinkPath:   sinkPath,
		Logger:     logger,
	})
	defer log.Close()

	mgr := mcpmgr.NewManager(nil, &mcpmgr.ManagerOptions{
		DefaultClientName: "mcp-explorer",
		Logger:            logger,
	})
	defer func() { _ = mgr.DisconnectAllServers(context.Background()) }()

	paths := sourcePaths
	if len(paths) == 0 {
		paths = discovery.DefaultSourcePaths()
	}
	engine := discovery.NewEngine(mgr, &discovery.Options{SourcePaths: paths, Logger: logger})

	coordinator := elicit.NewCoordinator(&elicit.Options{
		OnRequest: stdinPrompter(),
		Logger:    logger,
	})

	addr := serveAddr
	if addr == "" {
		addr = fmt.Sprintf(":%d", settings.Port)
	}
	srv, err := proxy.NewServer(mgr, store, log, coordinator, &proxy.Options{
		Addr:           addr,
		Path:           servePath,
		AllowedOrigins: serveOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	resync := func() {
		sources, errs := engine.DiscoverHierarchical(ctx)
		for _, se := range errs {
			logger.Warn("source skipped", "path", se.Path, "reason", se.Reason)
		}
		srv.Sync(ctx, sources)
	}
	resync()

	if !serveNoWatch {
		changed := make(chan struct{}, 1)
		watcher, err := discovery.NewWatcher(paths, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}, logger)
		if err != nil {
			logger.Warn("configuration watcher unavailable", "error", err)
		} else {
			defer watcher.Close()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-changed:
						logger.Info("configuration changed, rediscovering")
						resync()
					}
				}
			}()
		}
	}

	logger.Info("proxy starting", "addr", addr, "path", servePath)
	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stdinPrompter answers elicitation requests interactively on the terminal.
// Requests are serialized so concurrent backends cannot interleave prompts.
func stdinPrompter() elicit.RequestCallback {
	var mu sync.Mutex
	reader := bufio.NewReader(os.Stdin)
	return func(requestID string, session *elicit.Session) {
		go func() {
			mu.Lock()
			defer mu.Unlock()

			fmt.Printf("\nInput requested: %s\n", session.Message())
			for session.State() == elicit.StateCollecting {
				if field, ok := session.CurrentField(); ok {
					label := field.Name
					if field.Type != "" {
						label += " (" + field.Type + ")"
					}
					if !field.Required {
						label += " [optional]"
					}
					fmt.Printf("%s: ", label)
				} else {
					fmt.Print("> ")
				}
				line, err := reader.ReadString('\n')
				if err != nil {
					_ = session.Submit("cancel")
					return
				}
				if err := session.Submit(strings.TrimRight(line, "\r\n")); err != nil {
					fmt.Println(err)
				}
			}
		}()
	}
}

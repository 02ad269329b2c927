package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
)

var (
	cfgEnabled    bool
	cfgPort       int
	cfgLogging    bool
	cfgMaxEntries int
	cfgRateLimit  float64
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the proxy settings",
	Long: `Without flags, prints the current settings. Each flag updates one
setting and persists the configuration file; the running proxy picks
changed settings up on its next start.

A rate limit of 0 removes the limit.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().BoolVar(&cfgEnabled, "enabled", true, "Whether the proxy may serve at all")
	configCmd.Flags().IntVar(&cfgPort, "port", enablement.DefaultPort, "Default listen port")
	configCmd.Flags().BoolVar(&cfgLogging, "logging", true, "Record forwarded operations in the log")
	configCmd.Flags().IntVar(&cfgMaxEntries, "max-log-entries", enablement.DefaultMaxLogEntries, "In-memory operation log capacity")
	configCmd.Flags().Float64Var(&cfgRateLimit, "rate-limit", 0, "Forwarded requests per second (0 disables)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	store := openStore(logger)

	changed := false
	store.UpdateSettings(func(s *enablement.Settings) {
		if cmd.Flags().Changed("enabled") {
			s.Enabled = cfgEnabled
			changed = true
		}
		if cmd.Flags().Changed("port") {
			s.Port = cfgPort
			changed = true
		}
		if cmd.Flags().Changed("logging") {
			s.LoggingOn = cfgLogging
			changed = true
		}
		if cmd.Flags().Changed("max-log-entries") {
			s.MaxLogEntries = cfgMaxEntries
			changed = true
		}
		if cmd.Flags().Changed("rate-limit") {
			if cfgRateLimit > 0 {
				limit := cfgRateLimit
				s.RateLimit = &limit
			} else {
				s.RateLimit = nil
			}
			changed = true
		}
	})
	if changed {
		if err := store.Save(); err != nil {
			return err
		}
	}

	settings := store.Settings()
	t := newTable()
	t.AppendHeader(table.Row{"SETTING", "VALUE"})
	t.AppendRow(table.Row{"enabled", settings.Enabled})
	t.AppendRow(table.Row{"port", settings.Port})
	t.AppendRow(table.Row{"logging", settings.LoggingOn})
	t.AppendRow(table.Row{"max log entries", settings.MaxLogEntries})
	rate := "off"
	if settings.RateLimit != nil {
		rate = fmt.Sprintf("%.2f req/s", *settings.RateLimit)
	}
	t.AppendRow(table.Row{"rate limit", rate})
	t.Render()
	return nil
}

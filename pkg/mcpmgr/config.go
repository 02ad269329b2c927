package mcpmgr

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	ClientOptions mcp.ClientOptions
	Timeout       time.Duration
	Version       string
	OnError       func(error)
}

// StdioServerConfig describes an MCP server launched via stdio.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over HTTP transports.
// The streamable transport is tried first unless the endpoint looks like an
// SSE one or PreferSSE forces the choice.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint   string
	HTTPClient *http.Client
	MaxRetries int
	Headers    http.Header
	SessionID  string
	PreferSSE  *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ConfigFromDescriptor translates a discovered server into the transport
// configuration the manager dials with.
func ConfigFromDescriptor(desc *discovery.ServerDescriptor) (ServerConfig, error) {
	if desc == nil {
		return nil, fmt.Errorf("mcpmgr: nil descriptor")
	}
	switch desc.Kind {
	case discovery.KindStdio:
		if desc.Command == "" {
			return nil, fmt.Errorf("mcpmgr: descriptor %q has no command", desc.Name)
		}
		return &StdioServerConfig{
			Command: desc.Command,
			Args:    append([]string(nil), desc.Args...),
			Env:     desc.Env,
		}, nil
	case discovery.KindHTTP, discovery.KindSSE:
		if desc.URL == "" {
			return nil, fmt.Errorf("mcpmgr: descriptor %q has no url", desc.Name)
		}
		cfg := &HTTPServerConfig{Endpoint: desc.URL}
		if len(desc.Headers) > 0 {
			cfg.Headers = make(http.Header, len(desc.Headers))
			for k, v := range desc.Headers {
				cfg.Headers.Set(k, v)
			}
		}
		if desc.Kind == discovery.KindSSE {
			preferSSE := true
			cfg.PreferSSE = &preferSSE
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("mcpmgr: descriptor %q has unsupported kind %q", desc.Name, desc.Kind)
	}
}

// ManagerOptions configures a Manager instance.
type ManagerOptions struct {
	// DefaultClientName overrides the client name advertised during
	// initialization. When empty, the server ID is used.
	DefaultClientName string
	// DefaultClientVersion controls the semantic version reported to servers.
	DefaultClientVersion string
	// DefaultTimeout is applied whenever a server configuration omits an
	// explicit timeout.
	DefaultTimeout time.Duration
	// DefaultClientOptions are merged into each server's BaseServerConfig
	// options prior to connection.
	DefaultClientOptions mcp.ClientOptions
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *ManagerOptions) normalized() ManagerOptions {
	var opts ManagerOptions
	if o != nil {
		opts = *o
	}
	if opts.DefaultClientVersion == "" {
		opts.DefaultClientVersion = "1.0.0"
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

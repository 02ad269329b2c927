package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
	"github.com/vikashloomba/mcp-explorer-go/pkg/elicit"
	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
	"github.com/vikashloomba/mcp-explorer-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-explorer-go/pkg/oplog"
)

// Server exposes the enabled slice of every discovered backend under a
// single Streamable MCP endpoint. It owns the forwarding set, the connected
// client registry, and the recording of every forwarded call.
type Server struct {
	manager     *mcpmgr.Manager
	store       *enablement.Store
	log         *oplog.Log
	coordinator *elicit.Coordinator
	opts        Options

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler
	clients       *clientRegistry
	limiter       *rate.Limiter

	serverMu   sync.Mutex
	registered map[string]registeredNames

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

type registeredNames struct {
	tools     []string
	prompts   []string
	resources []string
}

// NewServer builds a proxy Server. The manager's elicitation handler is
// pointed at the coordinator so backend input requests pause in front of
// the operator instead of failing.
func NewServer(mgr *mcpmgr.Manager, store *enablement.Store, log *oplog.Log, coordinator *elicit.Coordinator, opts *Options) (*Server, error) {
	if mgr == nil {
		return nil, fmt.Errorf("proxy: manager is required")
	}
	if store == nil {
		return nil, fmt.Errorf("proxy: enablement store is required")
	}
	if log == nil {
		return nil, fmt.Errorf("proxy: operation log is required")
	}
	options := opts.withDefaults()
	s := &Server{
		manager:     mgr,
		store:       store,
		log:         log,
		coordinator: coordinator,
		opts:        options,
		registered:  make(map[string]registeredNames),
		clients:     newClientRegistry(log),
	}

	s.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasPrompts:   true,
		HasResources: true,
	})
	s.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &options.Streamable)
	s.httpHandler = s.mountHandler()

	if coordinator != nil {
		mgr.SetElicitationHandler(coordinator.Handle)
	}
	s.configureRateLimit(store.Settings())
	return s, nil
}

// configureRateLimit installs or removes the request limiter from the
// persisted settings.
func (s *Server) configureRateLimit(settings enablement.Settings) {
	if settings.RateLimit != nil && *settings.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(*settings.RateLimit), 1)
	} else {
		s.limiter = nil
	}
}

// Sync replaces the forwarding set with the intersection of the discovery
// snapshot and the current enablement state. Capabilities registered from a
// previous snapshot that are no longer forwarded are removed.
func (s *Server) Sync(ctx context.Context, sources []discovery.ConfigSource) {
	set := BuildForwardingSet(sources, s.store)

	s.serverMu.Lock()
	defer s.serverMu.Unlock()

	current := make(map[string]struct{}, len(set))
	for _, fwd := range set {
		current[fwd.Key] = struct{}{}
	}
	for key, names := range s.registered {
		if _, still := current[key]; !still {
			s.removeLocked(names)
			delete(s.registered, key)
		}
	}

	for _, fwd := range set {
		if prev, ok := s.registered[fwd.Key]; ok {
			s.removeLocked(prev)
		}
		s.registered[fwd.Key] = s.registerLocked(fwd)
	}
	s.opts.Logger.Info("forwarding set synchronized", "servers", len(set))
}

func (s *Server) removeLocked(names registeredNames) {
	if len(names.tools) > 0 {
		s.server.RemoveTools(names.tools...)
	}
	if len(names.prompts) > 0 {
		s.server.RemovePrompts(names.prompts...)
	}
	if len(names.resources) > 0 {
		s.server.RemoveResources(names.resources...)
	}
}

func (s *Server) registerLocked(fwd ForwardedServer) registeredNames {
	var names registeredNames
	ns := s.opts.Namespace

	for _, td := range fwd.Tools {
		proxyName := ns.ToolName(fwd.Name, td.Name)
		schema := td.InputSchema
		if schema == nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		tool := &mcp.Tool{
			Name:        proxyName,
			Description: td.Description,
			InputSchema: schema,
		}
		s.server.AddTool(tool, s.makeToolHandler(fwd, td.Name))
		names.tools = append(names.tools, proxyName)
	}

	for _, pd := range fwd.Prompts {
		proxyName := ns.PromptName(fwd.Name, pd.Name)
		prompt := &mcp.Prompt{Name: proxyName, Description: pd.Description}
		for _, arg := range pd.Arguments {
			prompt.Arguments = append(prompt.Arguments, &mcp.PromptArgument{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		s.server.AddPrompt(prompt, s.makePromptHandler(fwd, pd.Name))
		names.prompts = append(names.prompts, proxyName)
	}

	for _, rd := range fwd.Resources {
		proxyURI := ns.ResourceURI(fwd.Name, rd.URI)
		resource := &mcp.Resource{
			URI:         proxyURI,
			Name:        rd.Name,
			Description: rd.Description,
			MIMEType:    rd.MIMEType,
		}
		s.server.AddResource(resource, s.makeResourceHandler(fwd, rd.URI))
		names.resources = append(names.resources, proxyURI)
	}
	return names
}

func (s *Server) makeToolHandler(fwd ForwardedServer, nativeName string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.waitForSlot(ctx); err != nil {
			return nil, err
		}
		args := any(nil)
		if req.Params != nil {
			args = req.Params.Arguments
		}

		callCtx, audit := elicit.WithAudit(ctx)
		start := time.Now()
		res, err := s.manager.CallTool(callCtx, fwd.Key, nativeName, args)
		duration := time.Since(start)

		if s.store.Settings().LoggingOn {
			s.log.RecordToolCall(fwd.Name, nativeName, paramsMap(args), resultValue(res, err), err, duration, audit.Records())
		}
		return res, err
	}
}

func (s *Server) makePromptHandler(fwd ForwardedServer, nativeName string) mcp.PromptHandler {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		if err := s.waitForSlot(ctx); err != nil {
			return nil, err
		}
		var args map[string]string
		if req.Params != nil {
			args = req.Params.Arguments
		}

		start := time.Now()
		res, err := s.manager.GetPrompt(ctx, fwd.Key, nativeName, args)
		duration := time.Since(start)

		if s.store.Settings().LoggingOn {
			promptArgs := make(map[string]any, len(args))
			for k, v := range args {
				promptArgs[k] = v
			}
			s.log.RecordPromptGet(fwd.Name, nativeName, promptArgs, resultValue(res, err), err, duration)
		}
		return res, err
	}
}

func (s *Server) makeResourceHandler(fwd ForwardedServer, nativeURI string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if err := s.waitForSlot(ctx); err != nil {
			return nil, err
		}
		uri := nativeURI
		if req != nil && req.Params != nil {
			if native, ok := s.opts.Namespace.NativeResourceURI(fwd.Name, req.Params.URI); ok {
				uri = native
			}
		}

		start := time.Now()
		res, err := s.manager.ReadResource(ctx, fwd.Key, uri)
		duration := time.Since(start)

		if s.store.Settings().LoggingOn {
			s.log.RecordResourceRead(fwd.Name, uri, resultValue(res, err), err, duration)
		}
		return res, err
	}
}

func (s *Server) waitForSlot(ctx context.Context) error {
	s.serverMu.Lock()
	limiter := s.limiter
	s.serverMu.Unlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpHandler
}

// ListenAndServe runs the proxy until the provided context is cancelled or
// the server stops. It refuses to serve while the proxy is disabled in
// settings.
func (s *Server) ListenAndServe(ctx context.Context) error {
	settings := s.store.Settings()
	if !settings.Enabled {
		return fmt.Errorf("proxy: disabled in settings")
	}

	s.httpServerMu.Lock()
	if s.httpServer != nil {
		srv := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("proxy: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.Handler()}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	s.log.RecordServerStarted(listenPort(s.opts.Addr, settings.Port), s.store.EnabledServerKeys(),
		fmt.Sprintf("proxy listening on %s%s", s.opts.Addr, s.opts.Path))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.SyncTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.log.RecordServerStopped("proxy stopped")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			s.log.RecordServerStopped("proxy stopped")
			return nil
		}
		s.log.RecordServerError("", err)
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpServerMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (s *Server) mountHandler() http.Handler {
	path := s.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	tracked := s.clients.middleware(s.streamHandler)

	mux := http.NewServeMux()
	mux.Handle(path, tracked)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", tracked)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
	})
	return c.Handler(mux)
}

func listenPort(addr string, fallback int) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fallback
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fallback
	}
	return port
}

// paramsMap renders tool arguments into the log's parameter shape,
// tolerating both raw JSON from downstream clients and already-decoded
// maps.
func paramsMap(args any) map[string]any {
	switch v := args.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	case json.RawMessage:
		var out map[string]any
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
		return map[string]any{"raw": string(v)}
	case []byte:
		var out map[string]any
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
		return map[string]any{"raw": string(v)}
	default:
		return map[string]any{"value": v}
	}
}

// resultValue reduces a call outcome to the log's response field: errors
// leave the response empty so pending/success/error tallies stay distinct.
func resultValue(res any, err error) any {
	if err != nil {
		return nil
	}
	if res == nil {
		return nil
	}
	return res
}

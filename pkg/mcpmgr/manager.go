package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionStatus represents the lifecycle of a managed connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

const sessionIDHeaderName = "Mcp-Session-Id"

// ServerSummary aggregates status information for a managed server.
type ServerSummary struct {
	ID     string
	Status ConnectionStatus
	Config ServerConfig
}

// ElicitationHandler mirrors the MCP client elicitation handler signature.
// A single handler serves every managed server; requests arriving while no
// handler is registered are rejected.
type ElicitationHandler func(context.Context, *mcp.ElicitRequest) (*mcp.ElicitResult, error)

// Manager orchestrates multiple MCP client sessions.
type Manager struct {
	mu sync.RWMutex

	options ManagerOptions

	states map[string]*managedState

	elicitation ElicitationHandler
}

type managedState struct {
	config ServerConfig

	timeout time.Duration

	client         *mcp.Client
	session        *mcp.ClientSession
	sessionTracker *sessionIDTracker

	connecting bool
	connectCh  chan struct{}
}

// NewManager constructs a Manager with optional initial server
// configurations keyed by server ID.
func NewManager(cfg map[string]ServerConfig, opts *ManagerOptions) *Manager {
	m := &Manager{
		options: opts.normalized(),
		states:  make(map[string]*managedState),
	}
	for id, sc := range cfg {
		m.states[id] = &managedState{
			config:         sc,
			sessionTracker: newSessionIDTracker(""),
		}
	}
	return m
}

// SetElicitationHandler installs the handler invoked when any managed
// server requests operator input mid-call.
func (m *Manager) SetElicitationHandler(handler ElicitationHandler) {
	m.mu.Lock()
	m.elicitation = handler
	m.mu.Unlock()
}

func (m *Manager) elicitationHandler() ElicitationHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.elicitation
}

// ListServers returns known server identifiers.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetServerConfig returns the configuration registered for the server, or
// nil when the server is unknown.
func (m *Manager) GetServerConfig(serverID string) ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[serverID]; ok {
		return state.config
	}
	return nil
}

// HasServer reports whether the manager knows about the server ID.
func (m *Manager) HasServer(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.states[serverID]
	return ok
}

// GetServerSummaries lists connection status for each managed server.
func (m *Manager) GetServerSummaries() []ServerSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]ServerSummary, 0, len(m.states))
	for id, state := range m.states {
		status := StatusDisconnected
		if state.session != nil {
			status = StatusConnected
		} else if state.connecting {
			status = StatusConnecting
		}
		summaries = append(summaries, ServerSummary{ID: id, Status: status, Config: state.config})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// ConnectToServer establishes (or reuses) a session for the server. Passing
// a non-nil cfg registers or replaces the server's configuration. Connect
// attempts are single-flight: concurrent callers wait for the in-progress
// attempt instead of dialing again.
func (m *Manager) ConnectToServer(ctx context.Context, serverID string, cfg ServerConfig) (*mcp.ClientSession, error) {
	for {
		m.mu.Lock()
		state, ok := m.states[serverID]
		if !ok {
			if cfg == nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("mcpmgr: unknown server %q", serverID)
			}
			state = &managedState{sessionTracker: newSessionIDTracker("")}
			m.states[serverID] = state
		}
		if cfg != nil {
			state.config = cfg
		}
		if state.config == nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("mcpmgr: missing configuration for %q", serverID)
		}
		if state.session != nil {
			session := state.session
			m.mu.Unlock()
			return session, nil
		}
		if state.connecting {
			ch := state.connectCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ch:
				continue
			}
		}
		state.connecting = true
		state.connectCh = make(chan struct{})
		base := state.config.base()
		timeout := base.Timeout
		if timeout <= 0 {
			timeout = m.options.DefaultTimeout
		}
		state.timeout = timeout
		m.mu.Unlock()

		session, err := m.establishSession(ctx, serverID, state)
		m.mu.Lock()
		state.connecting = false
		close(state.connectCh)
		if err != nil {
			if state.session == nil {
				state.client = nil
			}
			m.mu.Unlock()
			return nil, err
		}
		state.session = session
		m.mu.Unlock()
		return session, nil
	}
}

func (m *Manager) establishSession(ctx context.Context, serverID string, state *managedState) (*mcp.ClientSession, error) {
	base := state.config.base()
	impl := &mcp.Implementation{
		Name:    m.effectiveClientName(serverID),
		Version: m.effectiveClientVersion(base),
	}
	clientOpts := m.composeClientOptions(base)

	attempt := func(ctx context.Context, transport mcp.Transport) (*mcp.ClientSession, *mcp.Client, error) {
		client := mcp.NewClient(impl, &clientOpts)
		session, err := client.Connect(ctx, transport, nil)
		if err != nil {
			return nil, nil, err
		}
		return session, client, nil
	}

	connectCtx := ctx
	if state.timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, state.timeout)
		defer cancel()
	}

	switch cfg := state.config.(type) {
	case *StdioServerConfig:
		transport, err := m.buildStdioTransport(serverID, cfg)
		if err != nil {
			return nil, err
		}
		session, client, err := attempt(connectCtx, transport)
		if err != nil {
			return nil, err
		}
		state.client = client
		go m.monitorSession(serverID, session, base)
		return session, nil
	case *HTTPServerConfig:
		return m.establishHTTPSession(connectCtx, serverID, state, base, cfg, attempt)
	default:
		return nil, fmt.Errorf("mcpmgr: unsupported config for %q", serverID)
	}
}

func (m *Manager) establishHTTPSession(
	ctx context.Context,
	serverID string,
	state *managedState,
	base *BaseServerConfig,
	cfg *HTTPServerConfig,
	attempt func(context.Context, mcp.Transport) (*mcp.ClientSession, *mcp.Client, error),
) (*mcp.ClientSession, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mcpmgr: endpoint missing for %q", serverID)
	}
	tracker := state.sessionTracker
	if tracker == nil {
		tracker = newSessionIDTracker(cfg.SessionID)
		state.sessionTracker = tracker
	} else {
		tracker.Reset(cfg.SessionID)
	}

	preferSSE := m.shouldPreferSSE(cfg)
	httpClient := m.decorateHTTPClient(cfg.HTTPClient, cfg.Headers, tracker)

	streamableTransport := &mcp.StreamableClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: httpClient,
		MaxRetries: cfg.MaxRetries,
	}
	sseTransport := &mcp.SSEClientTransport{Endpoint: cfg.Endpoint, HTTPClient: httpClient}

	var streamErr error
	if !preferSSE {
		session, clientInst, err := attempt(ctx, streamableTransport)
		if err == nil {
			if session != nil {
				tracker.Set(session.ID())
			}
			state.client = clientInst
			go m.monitorSession(serverID, session, base)
			return session, nil
		}
		streamErr = err
	}
	session, clientInst, err := attempt(ctx, sseTransport)
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	if session != nil {
		tracker.Set(session.ID())
	}
	state.client = clientInst
	go m.monitorSession(serverID, session, base)
	return session, nil
}

func (m *Manager) buildStdioTransport(serverID string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", serverID)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (m *Manager) monitorSession(serverID string, session *mcp.ClientSession, base *BaseServerConfig) {
	if err := session.Wait(); err != nil {
		m.options.Logger.Warn("session ended", "server", serverID, "error", err)
		if base.OnError != nil {
			base.OnError(err)
		}
	}
	m.mu.Lock()
	if st, ok := m.states[serverID]; ok {
		st.session = nil
		st.client = nil
	}
	m.mu.Unlock()
}

func (m *Manager) effectiveClientName(serverID string) string {
	if m.options.DefaultClientName != "" {
		return m.options.DefaultClientName
	}
	return serverID
}

func (m *Manager) effectiveClientVersion(base *BaseServerConfig) string {
	if base.Version != "" {
		return base.Version
	}
	return m.options.DefaultClientVersion
}

func (m *Manager) composeClientOptions(base *BaseServerConfig) mcp.ClientOptions {
	opts := m.options.DefaultClientOptions
	mergeClientOptions(&opts, &base.ClientOptions)
	wrapped := opts

	originalElicit := wrapped.ElicitationHandler
	wrapped.ElicitationHandler = func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
		if handler := m.elicitationHandler(); handler != nil {
			return handler(ctx, req)
		}
		if originalElicit != nil {
			return originalElicit(ctx, req)
		}
		return nil, fmt.Errorf("elicitation not supported")
	}
	return wrapped
}

func mergeClientOptions(dst, src *mcp.ClientOptions) {
	if src.ElicitationHandler != nil {
		dst.ElicitationHandler = src.ElicitationHandler
	}
	if src.CreateMessageHandler != nil {
		dst.CreateMessageHandler = src.CreateMessageHandler
	}
	if src.ToolListChangedHandler != nil {
		dst.ToolListChangedHandler = src.ToolListChangedHandler
	}
	if src.PromptListChangedHandler != nil {
		dst.PromptListChangedHandler = src.PromptListChangedHandler
	}
	if src.ResourceListChangedHandler != nil {
		dst.ResourceListChangedHandler = src.ResourceListChangedHandler
	}
	if src.ResourceUpdatedHandler != nil {
		dst.ResourceUpdatedHandler = src.ResourceUpdatedHandler
	}
	if src.LoggingMessageHandler != nil {
		dst.LoggingMessageHandler = src.LoggingMessageHandler
	}
	if src.ProgressNotificationHandler != nil {
		dst.ProgressNotificationHandler = src.ProgressNotificationHandler
	}
	if src.KeepAlive != 0 {
		dst.KeepAlive = src.KeepAlive
	}
}

// DisconnectServer closes the active session for a server, if any.
func (m *Manager) DisconnectServer(ctx context.Context, serverID string) error {
	m.mu.Lock()
	state, ok := m.states[serverID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	session := state.session
	m.mu.Unlock()
	if session == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	var closeErr error
	go func() {
		closeErr = session.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return closeErr
	}
}

// DisconnectAllServers closes sessions for all servers.
func (m *Manager) DisconnectAllServers(ctx context.Context) error {
	ids := m.ListServers()
	var errs []error
	for _, id := range ids {
		if err := m.DisconnectServer(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveServer removes a server configuration and closes any active session.
func (m *Manager) RemoveServer(ctx context.Context, serverID string) error {
	if err := m.DisconnectServer(ctx, serverID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.states, serverID)
	m.mu.Unlock()
	return nil
}

// PingServer sends a protocol-level ping to the MCP server, establishing a
// connection if needed and respecting the manager's timeout configuration.
func (m *Manager) PingServer(ctx context.Context, serverID string, params *mcp.PingParams) error {
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	return session.Ping(ctx, params)
}

// ListTools retrieves the server's tools, coercing "method not found" style
// errors into an empty list.
func (m *Manager) ListTools(ctx context.Context, serverID string, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.ListTools(ctx, params)
	if err != nil && isMethodUnavailableError(err, "tools/list") {
		return &mcp.ListToolsResult{Tools: []*mcp.Tool{}}, nil
	}
	return res, err
}

// CallTool invokes a tool on the specified server after ensuring a session
// is connected and applying the appropriate timeout.
func (m *Manager) CallTool(ctx context.Context, serverID, toolName string, args any) (*mcp.CallToolResult, error) {
	if toolName == "" {
		return nil, fmt.Errorf("mcpmgr: tool name is required for %q", serverID)
	}
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	return session.CallTool(ctx, &mcp.CallToolParams{Name: toolName, Arguments: args})
}

// ListResources proxies the resources/list request, coercing "method not
// found" style errors into an empty list for convenience.
func (m *Manager) ListResources(ctx context.Context, serverID string, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.ListResources(ctx, params)
	if err != nil && isMethodUnavailableError(err, "resources/list") {
		return &mcp.ListResourcesResult{Resources: []*mcp.Resource{}}, nil
	}
	return res, err
}

// ReadResource proxies the resources/read request and honors the server's
// configured timeout.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	return session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
}

// ListPrompts retrieves server prompts, normalizing unsupported servers to
// an empty prompt slice.
func (m *Manager) ListPrompts(ctx context.Context, serverID string, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	res, err := session.ListPrompts(ctx, params)
	if err != nil && isMethodUnavailableError(err, "prompts/list") {
		return &mcp.ListPromptsResult{Prompts: []*mcp.Prompt{}}, nil
	}
	return res, err
}

// GetPrompt retrieves a single prompt rendering from the target server.
func (m *Manager) GetPrompt(ctx context.Context, serverID, promptName string, args map[string]string) (*mcp.GetPromptResult, error) {
	session, _, timeout, err := m.ensureSession(ctx, serverID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.withTimeout(ctx, timeout)
	defer cancel()
	return session.GetPrompt(ctx, &mcp.GetPromptParams{Name: promptName, Arguments: args})
}

// hasLiveSession reports whether a connected session is currently cached
// for the server.
func (m *Manager) hasLiveSession(serverID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[serverID]
	return ok && state.session != nil
}

// ensureSession resolves a live session for the server, joining an
// in-flight connect attempt when one exists.
func (m *Manager) ensureSession(ctx context.Context, serverID string) (*mcp.ClientSession, *managedState, time.Duration, error) {
	for {
		m.mu.RLock()
		state, ok := m.states[serverID]
		if !ok {
			m.mu.RUnlock()
			return nil, nil, 0, fmt.Errorf("mcpmgr: unknown server %q", serverID)
		}
		if state.session != nil {
			session := state.session
			timeout := state.timeout
			m.mu.RUnlock()
			return session, state, timeout, nil
		}
		connectCh := state.connectCh
		connecting := state.connecting
		m.mu.RUnlock()
		if !connecting {
			if _, err := m.ConnectToServer(ctx, serverID, nil); err != nil {
				return nil, nil, 0, err
			}
			continue
		}
		if connectCh == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, nil, 0, ctx.Err()
		case <-connectCh:
		}
	}
}

func (m *Manager) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	method = strings.ToLower(method)
	if strings.Contains(lower, method) {
		return true
	}
	for _, part := range strings.FieldsFunc(method, func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '_' || r == '-'
	}) {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return true
}

type sessionIDTracker struct {
	mu    sync.RWMutex
	value string
}

func newSessionIDTracker(initial string) *sessionIDTracker {
	return &sessionIDTracker{value: initial}
}

func (s *sessionIDTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *sessionIDTracker) Reset(value string) { s.Set(value) }

func (s *sessionIDTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (m *Manager) shouldPreferSSE(cfg *HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.Endpoint), "/sse")
}

func (m *Manager) decorateHTTPClient(base *http.Client, headers http.Header, tracker *sessionIDTracker) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneHeader(headers),
		tracker: tracker,
	}
	return &clone
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
	tracker *sessionIDTracker
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if len(d.headers) > 0 {
		for k, values := range d.headers {
			req.Header.Del(k)
			for _, v := range values {
				req.Header.Add(k, v)
			}
		}
	}
	if d.tracker != nil {
		if sessionID := d.tracker.Value(); sessionID != "" {
			req.Header.Set(sessionIDHeaderName, sessionID)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

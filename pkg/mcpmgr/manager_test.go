package mcpmgr

import (
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
)

func TestManagerInitialServersAndSummaries(t *testing.T) {
	t.Parallel()

	stdioID := "stdio-example"
	streamID := "streamable-example"

	cfg := map[string]ServerConfig{
		stdioID: &StdioServerConfig{
			BaseServerConfig: BaseServerConfig{Timeout: 5 * time.Second},
			Command:          "npx",
			Args:             []string{"@modelcontextprotocol/server-everything"},
		},
		streamID: &HTTPServerConfig{
			BaseServerConfig: BaseServerConfig{Timeout: 5 * time.Second},
			Endpoint:         "https://gitmcp.io/modelcontextprotocol/go-sdk",
		},
	}

	manager := NewManager(cfg, &ManagerOptions{DefaultClientName: "manager-tests"})

	servers := manager.ListServers()
	expectedIDs := []string{stdioID, streamID}
	if !reflect.DeepEqual(servers, expectedIDs) {
		t.Fatalf("ListServers() = %v, expected %v", servers, expectedIDs)
	}

	if !manager.HasServer(stdioID) || !manager.HasServer(streamID) {
		t.Fatalf("manager should know both configured servers")
	}

	stdioCfg, ok := manager.GetServerConfig(stdioID).(*StdioServerConfig)
	if !ok {
		t.Fatalf("expected stdio config for %s", stdioID)
	}
	if stdioCfg.Command != "npx" || len(stdioCfg.Args) != 1 || stdioCfg.Args[0] != "@modelcontextprotocol/server-everything" {
		t.Fatalf("stdio config not preserved: %#v", stdioCfg)
	}

	httpCfg, ok := manager.GetServerConfig(streamID).(*HTTPServerConfig)
	if !ok {
		t.Fatalf("expected http config for %s", streamID)
	}
	if httpCfg.Endpoint != "https://gitmcp.io/modelcontextprotocol/go-sdk" {
		t.Fatalf("http endpoint mismatch: %s", httpCfg.Endpoint)
	}

	summaries := manager.GetServerSummaries()
	if len(summaries) != 2 {
		t.Fatalf("expected two summaries, got %d", len(summaries))
	}
	for _, summary := range summaries {
		if summary.Status != StatusDisconnected {
			t.Fatalf("expected disconnected status for %s, got %s", summary.ID, summary.Status)
		}
	}
}

func TestManagerBuildStdioTransport(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, nil)
	cfg := &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Timeout: 5 * time.Second},
		Command:          "npx",
		Args:             []string{"@modelcontextprotocol/server-everything"},
		Env:              map[string]string{"MCP_SERVER_MODE": "stdio"},
	}

	transport, err := manager.buildStdioTransport("stdio-example", cfg)
	if err != nil {
		t.Fatalf("buildStdioTransport error: %v", err)
	}

	cmdTransport, ok := transport.(*mcp.CommandTransport)
	if !ok {
		t.Fatalf("expected CommandTransport, got %T", transport)
	}

	expectedArgs := append([]string{cfg.Command}, cfg.Args...)
	if !reflect.DeepEqual(cmdTransport.Command.Args, expectedArgs) {
		t.Fatalf("command args = %v, expected %v", cmdTransport.Command.Args, expectedArgs)
	}

	if !envContains(cmdTransport.Command.Env, "MCP_SERVER_MODE", "stdio") {
		t.Fatalf("env missing MCP_SERVER_MODE from stdio config")
	}
}

func TestManagerDecorateHTTPClientAddsHeadersAndSession(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, nil)
	tracker := newSessionIDTracker("session-stdio-http")
	headers := http.Header{"X-MCP-Source": []string{"manager-tests"}}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-MCP-Source"); got != "manager-tests" {
			t.Fatalf("decorated header missing, got %q", got)
		}
		if got := req.Header.Get(sessionIDHeaderName); got != "session-stdio-http" {
			t.Fatalf("session header missing, got %q", got)
		}
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	baseClient := &http.Client{Transport: rt}
	decorated := manager.decorateHTTPClient(baseClient, headers, tracker)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://gitmcp.io/modelcontextprotocol/go-sdk", nil)
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	resp, err := decorated.Do(req)
	if err != nil {
		t.Fatalf("decorated client Do error: %v", err)
	}
	_ = resp.Body.Close()
}

func TestManagerShouldPreferSSEHeuristic(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, nil)

	httpCfg := &HTTPServerConfig{Endpoint: "https://gitmcp.io/modelcontextprotocol/go-sdk"}
	if manager.shouldPreferSSE(httpCfg) {
		t.Fatalf("did not expect SSE preference for non-sse endpoint")
	}

	sseCfg := &HTTPServerConfig{Endpoint: "https://gitmcp.io/modelcontextprotocol/go-sdk/sse"}
	if !manager.shouldPreferSSE(sseCfg) {
		t.Fatalf("expected SSE preference for /sse endpoint")
	}

	override := true
	overrideCfg := &HTTPServerConfig{Endpoint: "https://gitmcp.io/modelcontextprotocol/go-sdk", PreferSSE: &override}
	if !manager.shouldPreferSSE(overrideCfg) {
		t.Fatalf("explicit PreferSSE=true should win")
	}
}

func TestConfigFromDescriptor(t *testing.T) {
	t.Parallel()

	stdioDesc := &discovery.ServerDescriptor{
		Name:    "files",
		Kind:    discovery.KindStdio,
		Command: "npx",
		Args:    []string{"@modelcontextprotocol/server-filesystem", "/tmp"},
		Env:     map[string]string{"DEBUG": "1"},
	}
	cfg, err := ConfigFromDescriptor(stdioDesc)
	if err != nil {
		t.Fatalf("ConfigFromDescriptor(stdio): %v", err)
	}
	stdioCfg, ok := cfg.(*StdioServerConfig)
	if !ok {
		t.Fatalf("expected stdio config, got %T", cfg)
	}
	if stdioCfg.Command != "npx" || len(stdioCfg.Args) != 2 {
		t.Fatalf("stdio config mismatch: %#v", stdioCfg)
	}

	sseDesc := &discovery.ServerDescriptor{
		Name:    "remote",
		Kind:    discovery.KindSSE,
		URL:     "https://example.com/sse",
		Headers: map[string]string{"Authorization": "Bearer token"},
	}
	cfg, err = ConfigFromDescriptor(sseDesc)
	if err != nil {
		t.Fatalf("ConfigFromDescriptor(sse): %v", err)
	}
	httpCfg, ok := cfg.(*HTTPServerConfig)
	if !ok {
		t.Fatalf("expected http config, got %T", cfg)
	}
	if httpCfg.PreferSSE == nil || !*httpCfg.PreferSSE {
		t.Fatalf("sse descriptor should force SSE transport")
	}
	if got := httpCfg.Headers.Get("Authorization"); got != "Bearer token" {
		t.Fatalf("headers not carried: %q", got)
	}

	if _, err := ConfigFromDescriptor(&discovery.ServerDescriptor{Name: "x", Kind: discovery.KindStdio}); err == nil {
		t.Fatalf("expected error for stdio descriptor without command")
	}
	if _, err := ConfigFromDescriptor(&discovery.ServerDescriptor{Name: "x", Kind: discovery.KindHTTP}); err == nil {
		t.Fatalf("expected error for http descriptor without url")
	}
}

func TestProbeMarksConnectFailure(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, &ManagerOptions{DefaultTimeout: 2 * time.Second})
	desc := &discovery.ServerDescriptor{
		Name:       "bad",
		Kind:       discovery.KindStdio,
		Command:    "/nonexistent/mcp-server-binary",
		SourcePath: "/tmp/mcp.json",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	probed := manager.Probe(ctx, desc)
	if probed.Status != discovery.StatusError {
		t.Fatalf("expected error status, got %s", probed.Status)
	}
	if probed.ErrorMessage == "" {
		t.Fatalf("expected error message on failed probe")
	}
}

func TestProbeRejectsInvalidDescriptor(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil, nil)
	desc := &discovery.ServerDescriptor{Name: "no-url", Kind: discovery.KindHTTP, SourcePath: "/a.json"}
	probed := manager.Probe(context.Background(), desc)
	if probed.Status != discovery.StatusError {
		t.Fatalf("expected error status, got %s", probed.Status)
	}
}

func TestToolDescriptorsHandleWireTypedSchemas(t *testing.T) {
	t.Parallel()

	typed := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"zone": {Type: "string", Description: "IANA timezone"},
			"fmt":  {Type: "string"},
		},
		Required: []string{"zone"},
	}
	tools := []*mcp.Tool{
		{Name: "typed", InputSchema: typed},
		{Name: "decoded", InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer"},
			},
			"required": []any{"count"},
		}},
		{Name: "opaque", InputSchema: 42},
		{Name: "bare"},
	}

	descs := toolDescriptors(tools)
	if len(descs) != 4 {
		t.Fatalf("expected 4 descriptors, got %d", len(descs))
	}

	if descs[0].InputSchema != typed {
		t.Fatalf("typed schema should be carried through unchanged")
	}
	if len(descs[0].Parameters) != 2 {
		t.Fatalf("typed parameters = %v", descs[0].Parameters)
	}
	if descs[0].Parameters[0].Name != "fmt" || descs[0].Parameters[1].Name != "zone" {
		t.Fatalf("parameters not sorted: %v", descs[0].Parameters)
	}
	if !descs[0].Parameters[1].Required || descs[0].Parameters[0].Required {
		t.Fatalf("required flags wrong: %v", descs[0].Parameters)
	}

	if descs[1].InputSchema == nil || len(descs[1].Parameters) != 1 {
		t.Fatalf("wire-shaped schema not decoded: %#v", descs[1])
	}
	if p := descs[1].Parameters[0]; p.Name != "count" || p.Type != "integer" || !p.Required {
		t.Fatalf("decoded parameter wrong: %#v", p)
	}

	if descs[2].InputSchema != nil || len(descs[2].Parameters) != 0 {
		t.Fatalf("uncoercible schema should yield no parameters: %#v", descs[2])
	}
	if descs[3].InputSchema != nil || len(descs[3].Parameters) != 0 {
		t.Fatalf("missing schema should yield no parameters: %#v", descs[3])
	}
}

func TestConfigsEqualDetectsParameterChanges(t *testing.T) {
	t.Parallel()

	a := &StdioServerConfig{Command: "npx", Args: []string{"server", "/tmp"}, Env: map[string]string{"DEBUG": "1"}}
	same := &StdioServerConfig{Command: "npx", Args: []string{"server", "/tmp"}, Env: map[string]string{"DEBUG": "1"}}
	if !configsEqual(a, same) {
		t.Fatalf("identical stdio configs should compare equal")
	}
	if configsEqual(a, &StdioServerConfig{Command: "npx", Args: []string{"server", "/var"}, Env: map[string]string{"DEBUG": "1"}}) {
		t.Fatalf("changed args must compare unequal")
	}
	if configsEqual(a, &StdioServerConfig{Command: "node", Args: []string{"server", "/tmp"}, Env: map[string]string{"DEBUG": "1"}}) {
		t.Fatalf("changed command must compare unequal")
	}

	h := &HTTPServerConfig{Endpoint: "https://example.com/mcp"}
	if !configsEqual(h, &HTTPServerConfig{Endpoint: "https://example.com/mcp"}) {
		t.Fatalf("identical http configs should compare equal")
	}
	if configsEqual(h, &HTTPServerConfig{Endpoint: "https://example.com/other"}) {
		t.Fatalf("changed endpoint must compare unequal")
	}
	if configsEqual(a, h) {
		t.Fatalf("different transport kinds must compare unequal")
	}
}

func TestProbeRedialsWithChangedParameters(t *testing.T) {
	t.Parallel()

	sourcePath := "/tmp/mcp.json"
	desc := &discovery.ServerDescriptor{
		Name:       "files",
		Kind:       discovery.KindStdio,
		Command:    "/nonexistent/mcp-server-old",
		SourcePath: sourcePath,
	}
	serverID := ServerID(desc)
	oldCfg, err := ConfigFromDescriptor(desc)
	if err != nil {
		t.Fatalf("ConfigFromDescriptor: %v", err)
	}
	manager := NewManager(map[string]ServerConfig{serverID: oldCfg}, &ManagerOptions{DefaultTimeout: 2 * time.Second})

	// Rediscovery after the source file was edited: same server key, new
	// command line.
	edited := &discovery.ServerDescriptor{
		Name:       "files",
		Kind:       discovery.KindStdio,
		Command:    "/nonexistent/mcp-server-new",
		Args:       []string{"--fast"},
		SourcePath: sourcePath,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	probed := manager.Probe(ctx, edited)

	if probed.Status != discovery.StatusError {
		t.Fatalf("expected error status for unreachable binary, got %s", probed.Status)
	}
	current, ok := manager.GetServerConfig(serverID).(*StdioServerConfig)
	if !ok {
		t.Fatalf("expected stdio config after re-probe, got %T", manager.GetServerConfig(serverID))
	}
	if current.Command != "/nonexistent/mcp-server-new" || len(current.Args) != 1 {
		t.Fatalf("probe dialed with stale parameters: %#v", current)
	}
}

func TestServerIDDistinguishesSources(t *testing.T) {
	t.Parallel()

	a := ServerID(&discovery.ServerDescriptor{Name: "foo", SourcePath: "/a.json"})
	b := ServerID(&discovery.ServerDescriptor{Name: "foo", SourcePath: "/b.json"})
	if a == b {
		t.Fatalf("identical names from different sources must map to distinct IDs")
	}
}

func TestIsMethodUnavailableError(t *testing.T) {
	t.Parallel()

	if isMethodUnavailableError(nil, "tools/list") {
		t.Fatalf("nil error should not match")
	}
	if !isMethodUnavailableError(errors.New("jsonrpc: method not found: tools/list"), "tools/list") {
		t.Fatalf("method-not-found should match")
	}
	if !isMethodUnavailableError(errors.New("server does not support prompts"), "prompts/list") {
		t.Fatalf("unsupported wording should match")
	}
	if isMethodUnavailableError(errors.New("connection reset by peer"), "tools/list") {
		t.Fatalf("transport errors should not match")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func envContains(env []string, key, value string) bool {
	target := key + "=" + value
	for _, item := range env {
		if item == target {
			return true
		}
	}
	return false
}

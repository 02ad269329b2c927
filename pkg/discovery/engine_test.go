package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func connectingProber() Prober {
	return ProberFunc(func(_ context.Context, s *ServerDescriptor) *ServerDescriptor {
		s.MarkConnected()
		return s
	})
}

func TestLoadSourcesSkipsUnparseable(t *testing.T) {
	dir := t.TempDir()
	good := writeSource(t, dir, "good.json", `{"mcpServers": {"echo": {"command": "echo"}}}`)
	bad := writeSource(t, dir, "bad.json", `{"mcpServers": {`)

	sources, skipped := LoadSources([]string{good, bad, filepath.Join(dir, "missing.json")})

	require.Len(t, sources, 1)
	assert.Equal(t, good, sources[0].Path)
	require.Len(t, sources[0].Servers, 1)
	assert.Equal(t, "echo", sources[0].Servers[0].Name)

	require.Len(t, skipped, 2)
	assert.Equal(t, bad, skipped[0].Path)
	assert.Contains(t, skipped[0].Reason, "invalid JSON")
}

func TestLoadSourcesAcceptsAllShapes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"mcpServers", `{"mcpServers": {"a": {"command": "a"}}}`},
		{"servers", `{"servers": {"a": {"command": "a"}}}`},
		{"bare", `{"a": {"command": "a"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSource(t, dir, tt.name+".json", tt.content)
			sources, skipped := LoadSources([]string{path})
			require.Empty(t, skipped)
			require.Len(t, sources, 1)
			require.Len(t, sources[0].Servers, 1)
			assert.Equal(t, "a", sources[0].Servers[0].Name)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr string
	}{
		{"stdio ok", map[string]any{"command": "npx"}, ""},
		{"stdio missing command", map[string]any{"type": "stdio"}, "must have 'command'"},
		{"stdio bad args", map[string]any{"command": "npx", "args": "not-a-list"}, "'args' must be a list"},
		{"stdio bad env", map[string]any{"command": "npx", "env": []any{"x"}}, "'env' must be an object"},
		{"http ok", map[string]any{"type": "http", "url": "https://example.com/mcp"}, ""},
		{"http missing url", map[string]any{"type": "http"}, "must have 'url'"},
		{"sse missing url", map[string]any{"type": "sse"}, "must have 'url'"},
		{"sse bad headers", map[string]any{"type": "sse", "url": "https://example.com/sse", "headers": "x"}, "'headers' must be an object"},
		{"unknown type", map[string]any{"type": "grpc"}, "invalid server type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("s", tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDiscoverHierarchicalRetainsInvalidEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "mcp.json", `{"mcpServers": {
		"ok": {"command": "echo"},
		"broken": {"type": "http"}
	}}`)

	probed := 0
	engine := NewEngine(ProberFunc(func(_ context.Context, s *ServerDescriptor) *ServerDescriptor {
		probed++
		s.MarkConnected()
		return s
	}), &Options{SourcePaths: []string{path}})

	sources, skipped := engine.DiscoverHierarchical(context.Background())
	require.Empty(t, skipped)
	require.Len(t, sources, 1)
	require.Len(t, sources[0].Servers, 2)

	broken := sources[0].ServerByName("broken")
	require.NotNil(t, broken)
	assert.Equal(t, StatusError, broken.Status)
	assert.Contains(t, broken.ErrorMessage, "must have 'url'")

	ok := sources[0].ServerByName("ok")
	require.NotNil(t, ok)
	assert.Equal(t, StatusConnected, ok.Status)
	assert.Equal(t, 1, probed, "invalid entries must not be probed")
}

func TestDiscoverHierarchicalIsolatesProbeFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "mcp.json", `{"mcpServers": {
		"alpha": {"command": "a"},
		"beta": {"command": "b"},
		"gamma": {"command": "c"}
	}}`)

	engine := NewEngine(ProberFunc(func(_ context.Context, s *ServerDescriptor) *ServerDescriptor {
		if s.Name == "beta" {
			s.MarkError("connection refused")
			return s
		}
		s.MarkConnected()
		return s
	}), &Options{SourcePaths: []string{path}})

	sources, _ := engine.DiscoverHierarchical(context.Background())
	require.Len(t, sources, 1)
	require.Len(t, sources[0].Servers, 3)

	assert.Equal(t, StatusConnected, sources[0].ServerByName("alpha").Status)
	assert.Equal(t, StatusError, sources[0].ServerByName("beta").Status)
	assert.Equal(t, "connection refused", sources[0].ServerByName("beta").ErrorMessage)
	assert.Equal(t, StatusConnected, sources[0].ServerByName("gamma").Status)
}

func TestDiscoverHierarchicalContainsProbePanic(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "mcp.json", `{"mcpServers": {
		"alpha": {"command": "a"},
		"beta": {"command": "b"}
	}}`)

	engine := NewEngine(ProberFunc(func(_ context.Context, s *ServerDescriptor) *ServerDescriptor {
		if s.Name == "beta" {
			panic("prober bug")
		}
		s.MarkConnected()
		return s
	}), &Options{SourcePaths: []string{path}})

	sources, _ := engine.DiscoverHierarchical(context.Background())
	require.Len(t, sources, 1)

	beta := sources[0].ServerByName("beta")
	require.NotNil(t, beta)
	assert.Equal(t, StatusError, beta.Status)
	assert.Contains(t, beta.ErrorMessage, "initialization failed")
	assert.Equal(t, StatusConnected, sources[0].ServerByName("alpha").Status)
}

func TestCrossSourceCollisionKeptInHierarchy(t *testing.T) {
	dir := t.TempDir()
	a := writeSource(t, dir, "a.json", `{"mcpServers": {"foo": {"command": "a"}}}`)
	b := writeSource(t, dir, "b.json", `{"mcpServers": {"foo": {"type": "sse", "url": "https://example.com/sse"}}}`)

	engine := NewEngine(connectingProber(), &Options{SourcePaths: []string{a, b}})
	sources, _ := engine.DiscoverHierarchical(context.Background())

	require.Len(t, sources, 2)
	require.Len(t, sources[0].Servers, 1)
	require.Len(t, sources[1].Servers, 1)
	// Hierarchical form never renames: both keep their declared name and are
	// disambiguated by source path.
	assert.Equal(t, "foo", sources[0].Servers[0].Name)
	assert.Equal(t, "foo", sources[1].Servers[0].Name)
	assert.NotEqual(t, sources[0].Servers[0].SourcePath, sources[1].Servers[0].SourcePath)
}

func TestFlattenRenamesCrossSourceCollisions(t *testing.T) {
	sources := []ConfigSource{
		{Path: "/a.json", Servers: []*ServerDescriptor{{Name: "x", SourcePath: "/a.json"}}},
		{Path: "/b.json", Servers: []*ServerDescriptor{{Name: "x", SourcePath: "/b.json"}}},
		{Path: "/c.json", Servers: []*ServerDescriptor{{Name: "x", SourcePath: "/c.json"}}},
	}

	flat := Flatten(sources)
	require.Len(t, flat, 3)
	assert.Equal(t, "x", flat[0].Name)
	assert.Equal(t, "x#2", flat[1].Name)
	assert.Equal(t, "x", flat[1].OriginalName)
	assert.Equal(t, "/b.json", flat[1].SourcePath)
	assert.Equal(t, "x#3", flat[2].Name)

	// Renaming operates on clones; the hierarchical snapshot is untouched.
	assert.Equal(t, "x", sources[1].Servers[0].Name)
}

func TestFlattenSameSourceLastWriteWins(t *testing.T) {
	first := &ServerDescriptor{Name: "x", SourcePath: "/a.json", Command: "old"}
	second := &ServerDescriptor{Name: "x", SourcePath: "/a.json", Command: "new"}
	flat := Flatten([]ConfigSource{
		{Path: "/a.json", Servers: []*ServerDescriptor{first}},
		{Path: "/a.json", Servers: []*ServerDescriptor{second}},
	})
	require.Len(t, flat, 1)
	assert.Equal(t, "new", flat[0].Command)
}

func TestMergeSupplementalNeverOverrides(t *testing.T) {
	flat := []*ServerDescriptor{{Name: "configured", Command: "explicit"}}
	merged := MergeSupplemental(flat, []*ServerDescriptor{
		{Name: "configured", Command: "detected"},
		{Name: "extra", Command: "detected"},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, "explicit", merged[0].Command)
	assert.Equal(t, "extra", merged[1].Name)
}

func TestFlattenManyCollisionsStayDeterministic(t *testing.T) {
	var sources []ConfigSource
	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/cfg-%d.json", i)
		sources = append(sources, ConfigSource{
			Path:    path,
			Servers: []*ServerDescriptor{{Name: "dup", SourcePath: path}},
		})
	}
	flat := Flatten(sources)
	require.Len(t, flat, 5)
	want := []string{"dup", "dup#2", "dup#3", "dup#4", "dup#5"}
	for i, desc := range flat {
		assert.Equal(t, want[i], desc.Name)
	}
}

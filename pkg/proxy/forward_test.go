package proxy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
)

func testStore(t *testing.T) *enablement.Store {
	t.Helper()
	return enablement.NewStore(&enablement.Options{Path: filepath.Join(t.TempDir(), "proxy-config.yaml")})
}

func connectedServer(sourcePath, name string) *discovery.ServerDescriptor {
	desc := &discovery.ServerDescriptor{
		Name:       name,
		Kind:       discovery.KindStdio,
		Command:    "echo",
		SourcePath: sourcePath,
		Tools: []discovery.ToolDescriptor{
			{Name: "search", Description: "search things"},
			{Name: "delete", Description: "delete things"},
		},
		Resources: []discovery.ResourceDescriptor{{URI: "file:///readme", Name: "readme"}},
		Prompts:   []discovery.PromptDescriptor{{Name: "summarize"}},
	}
	desc.MarkConnected()
	return desc
}

func TestForwardingSetRequiresExplicitCapabilityGrants(t *testing.T) {
	store := testStore(t)
	sources := []discovery.ConfigSource{
		{Path: "/a.json", Servers: []*discovery.ServerDescriptor{connectedServer("/a.json", "alpha")}},
	}

	// Every server is enabled by default, but no capability is granted, so
	// nothing is forwarded.
	assert.Empty(t, BuildForwardingSet(sources, store))

	key := enablement.ServerKey("/a.json", "alpha")
	store.EnableTool(key, "search")
	set := BuildForwardingSet(sources, store)
	require.Len(t, set, 1)
	require.Len(t, set[0].Tools, 1)
	assert.Equal(t, "search", set[0].Tools[0].Name)
	assert.Empty(t, set[0].Resources)
	assert.Empty(t, set[0].Prompts)
}

func TestForwardingSetHonorsServerAllowList(t *testing.T) {
	store := testStore(t)
	sources := []discovery.ConfigSource{
		{Path: "/a.json", Servers: []*discovery.ServerDescriptor{connectedServer("/a.json", "alpha")}},
		{Path: "/b.json", Servers: []*discovery.ServerDescriptor{connectedServer("/b.json", "beta")}},
	}
	alphaKey := enablement.ServerKey("/a.json", "alpha")
	betaKey := enablement.ServerKey("/b.json", "beta")
	store.EnableTool(alphaKey, "search")
	store.EnableTool(betaKey, "search")

	// Both forwarded while the server list is empty.
	assert.Len(t, BuildForwardingSet(sources, store), 2)

	// Enabling one server switches the model to allow-list.
	store.EnableServer(alphaKey)
	set := BuildForwardingSet(sources, store)
	require.Len(t, set, 1)
	assert.Equal(t, "alpha", set[0].Name)
}

func TestForwardingSetSkipsFailedServers(t *testing.T) {
	store := testStore(t)
	failed := &discovery.ServerDescriptor{Name: "broken", SourcePath: "/a.json"}
	failed.MarkError("connection refused")
	sources := []discovery.ConfigSource{
		{Path: "/a.json", Servers: []*discovery.ServerDescriptor{failed}},
	}
	store.EnableTool(enablement.ServerKey("/a.json", "broken"), "search")

	assert.Empty(t, BuildForwardingSet(sources, store))
}

func TestForwardingSetExposesCollisionRenamedView(t *testing.T) {
	store := testStore(t)
	sources := []discovery.ConfigSource{
		{Path: "/a.json", Servers: []*discovery.ServerDescriptor{connectedServer("/a.json", "foo")}},
		{Path: "/b.json", Servers: []*discovery.ServerDescriptor{connectedServer("/b.json", "foo")}},
	}
	// Grants address the declared name regardless of display renaming.
	store.EnableTool(enablement.ServerKey("/a.json", "foo"), "search")
	store.EnableTool(enablement.ServerKey("/b.json", "foo"), "search")

	set := BuildForwardingSet(sources, store)
	require.Len(t, set, 2)
	assert.Equal(t, "foo", set[0].Name)
	assert.Equal(t, "foo#2", set[1].Name)
	assert.Equal(t, enablement.ServerKey("/b.json", "foo"), set[1].Key)
}

func TestNamespaceRoundTrip(t *testing.T) {
	ns := ServerPrefixNamespace{}

	assert.Equal(t, "alpha__search", ns.ToolName("alpha", "search"))
	assert.Equal(t, "foo-2__search", ns.ToolName("foo#2", "search"), "renamed servers stay within the MCP name charset")

	uri := ns.ResourceURI("alpha", "file:///readme")
	native, ok := ns.NativeResourceURI("alpha", uri)
	require.True(t, ok)
	assert.Equal(t, "file:///readme", native)

	_, ok = ns.NativeResourceURI("beta", uri)
	assert.False(t, ok)
}

package proxy

import (
	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
	"github.com/vikashloomba/mcp-explorer-go/pkg/enablement"
)

// ForwardedServer is one backend whose capabilities the proxy exposes. Name
// is the flattened display name (collision-renamed when two sources declare
// the same server name); Key is the enablement identity, which always uses
// the declared name.
type ForwardedServer struct {
	Key        string
	Name       string
	Descriptor *discovery.ServerDescriptor
	Tools      []discovery.ToolDescriptor
	Resources  []discovery.ResourceDescriptor
	Prompts    []discovery.PromptDescriptor
}

// serverKeyFor derives the enablement key for a descriptor. Collision
// renaming changes only the display name, never the identity.
func serverKeyFor(desc *discovery.ServerDescriptor) string {
	name := desc.Name
	if desc.OriginalName != "" {
		name = desc.OriginalName
	}
	return enablement.ServerKey(desc.SourcePath, name)
}

// BuildForwardingSet intersects a discovery snapshot with the enablement
// state: a capability is forwarded only when its server is enabled and the
// capability itself is granted. Servers that failed discovery contribute
// nothing regardless of enablement.
func BuildForwardingSet(sources []discovery.ConfigSource, store *enablement.Store) []ForwardedServer {
	var set []ForwardedServer
	for _, desc := range discovery.Flatten(sources) {
		if desc.Status != discovery.StatusConnected {
			continue
		}
		key := serverKeyFor(desc)
		if !store.IsServerEnabled(key) {
			continue
		}
		fwd := ForwardedServer{Key: key, Name: desc.Name, Descriptor: desc}
		for _, tool := range desc.Tools {
			if store.IsToolEnabled(key, tool.Name) {
				fwd.Tools = append(fwd.Tools, tool)
			}
		}
		for _, res := range desc.Resources {
			if store.IsResourceEnabled(key, res.URI) {
				fwd.Resources = append(fwd.Resources, res)
			}
		}
		for _, prompt := range desc.Prompts {
			if store.IsPromptEnabled(key, prompt.Name) {
				fwd.Prompts = append(fwd.Prompts, prompt)
			}
		}
		if len(fwd.Tools) == 0 && len(fwd.Resources) == 0 && len(fwd.Prompts) == 0 {
			continue
		}
		set = append(set, fwd)
	}
	return set
}

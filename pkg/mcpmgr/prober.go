package mcpmgr

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-explorer-go/pkg/discovery"
)

// Probe implements discovery.Prober: it dials the descriptor's server,
// enumerates its capabilities, and returns the descriptor marked Connected
// or Error. Ordinary failures never escape as errors; they are carried in
// the descriptor's status.
func (m *Manager) Probe(ctx context.Context, desc *discovery.ServerDescriptor) *discovery.ServerDescriptor {
	if desc == nil {
		return nil
	}
	cfg, err := ConfigFromDescriptor(desc)
	if err != nil {
		desc.MarkError(err.Error())
		return desc
	}

	serverID := ServerID(desc)
	prev := m.GetServerConfig(serverID)
	switch {
	case prev == nil:
	case !configsEqual(prev, cfg):
		// Connection parameters changed since the last run; drop the stale
		// session so the redial below uses the new ones.
		if err := m.RemoveServer(ctx, serverID); err != nil {
			m.options.Logger.Warn("stale session close failed", "server", serverID, "error", err)
		}
	case m.hasLiveSession(serverID):
		// Unchanged parameters: verify the cached session still responds
		// before listing capabilities from it.
		if err := m.PingServer(ctx, serverID, nil); err != nil {
			m.options.Logger.Warn("cached session unresponsive, redialing", "server", serverID, "error", err)
			if err := m.RemoveServer(ctx, serverID); err != nil {
				m.options.Logger.Warn("stale session close failed", "server", serverID, "error", err)
			}
		}
	}
	if _, err := m.ConnectToServer(ctx, serverID, cfg); err != nil {
		desc.MarkError(err.Error())
		return desc
	}

	tools, err := m.ListTools(ctx, serverID, nil)
	if err != nil {
		desc.MarkError(err.Error())
		return desc
	}
	resources, err := m.ListResources(ctx, serverID, nil)
	if err != nil {
		desc.MarkError(err.Error())
		return desc
	}
	prompts, err := m.ListPrompts(ctx, serverID, nil)
	if err != nil {
		desc.MarkError(err.Error())
		return desc
	}

	desc.Tools = toolDescriptors(tools.Tools)
	desc.Resources = resourceDescriptors(resources.Resources)
	desc.Prompts = promptDescriptors(prompts.Prompts)
	desc.MarkConnected()
	return desc
}

// ServerID derives the manager's key for a discovered server. Identically
// named servers from different sources get distinct sessions.
func ServerID(desc *discovery.ServerDescriptor) string {
	return desc.SourcePath + ":" + desc.Name
}

// configsEqual reports whether two transport configurations would dial the
// same way. Descriptor-built configs carry only data (no handlers), so a
// deep comparison is exact.
func configsEqual(a, b ServerConfig) bool {
	return reflect.DeepEqual(a, b)
}

func toolDescriptors(tools []*mcp.Tool) []discovery.ToolDescriptor {
	out := make([]discovery.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		schema := inputSchemaOf(t.InputSchema)
		td := discovery.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
		if schema != nil {
			required := make(map[string]struct{}, len(schema.Required))
			for _, name := range schema.Required {
				required[name] = struct{}{}
			}
			names := make([]string, 0, len(schema.Properties))
			for name := range schema.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				prop := schema.Properties[name]
				if prop == nil {
					continue
				}
				_, req := required[name]
				td.Parameters = append(td.Parameters, discovery.ParameterDescriptor{
					Name:        name,
					Type:        prop.Type,
					Description: prop.Description,
					Required:    req,
				})
			}
		}
		out = append(out, td)
	}
	return out
}

// inputSchemaOf narrows the wire-typed tool schema. Servers built on the
// same SDK hand back *jsonschema.Schema; schemas decoded from raw JSON are
// round-tripped. A shape that cannot be coerced yields no parameters rather
// than failing the probe.
func inputSchemaOf(v any) *jsonschema.Schema {
	switch s := v.(type) {
	case nil:
		return nil
	case *jsonschema.Schema:
		return s
	case jsonschema.Schema:
		return &s
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var schema jsonschema.Schema
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil
		}
		return &schema
	}
}

func resourceDescriptors(resources []*mcp.Resource) []discovery.ResourceDescriptor {
	out := make([]discovery.ResourceDescriptor, 0, len(resources))
	for _, r := range resources {
		if r == nil {
			continue
		}
		out = append(out, discovery.ResourceDescriptor{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		})
	}
	return out
}

func promptDescriptors(prompts []*mcp.Prompt) []discovery.PromptDescriptor {
	out := make([]discovery.PromptDescriptor, 0, len(prompts))
	for _, p := range prompts {
		if p == nil {
			continue
		}
		pd := discovery.PromptDescriptor{Name: p.Name, Description: p.Description}
		for _, arg := range p.Arguments {
			if arg == nil {
				continue
			}
			pd.Arguments = append(pd.Arguments, discovery.PromptArgumentDescriptor{
				Name:        arg.Name,
				Description: arg.Description,
				Required:    arg.Required,
			})
		}
		out = append(out, pd)
	}
	return out
}

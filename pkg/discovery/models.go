package discovery

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// ServerKind identifies the transport family declared for a server entry.
type ServerKind string

const (
	KindStdio ServerKind = "stdio"
	KindHTTP  ServerKind = "http"
	KindSSE   ServerKind = "sse"
)

// ServerStatus represents the lifecycle of a discovered server descriptor.
// A descriptor is created Disconnected and is moved exactly once by the
// prober to either Connected or Error; a fresh discovery run replaces the
// descriptor rather than transitioning it back.
type ServerStatus string

const (
	StatusDisconnected ServerStatus = "disconnected"
	StatusConnected    ServerStatus = "connected"
	StatusError        ServerStatus = "error"
)

// ParameterDescriptor summarizes one property of a tool's input schema.
type ParameterDescriptor struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// ToolDescriptor describes a tool exposed by a backend server.
type ToolDescriptor struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Parameters  []ParameterDescriptor `json:"parameters,omitempty"`
	InputSchema *jsonschema.Schema    `json:"inputSchema,omitempty"`
}

// ResourceDescriptor describes a resource exposed by a backend server.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// PromptArgumentDescriptor describes one argument of a prompt template.
type PromptArgumentDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// PromptDescriptor describes a prompt template exposed by a backend server.
type PromptDescriptor struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Arguments   []PromptArgumentDescriptor `json:"arguments,omitempty"`
}

// ServerDescriptor is the discovery engine's view of one configured MCP
// server. Servers are namespaced by (SourcePath, Name): the same Name may
// legitimately appear in several configuration sources and the entries are
// treated as distinct servers, never merged.
type ServerDescriptor struct {
	Name string     `json:"name"`
	Kind ServerKind `json:"kind"`

	// Stdio connection parameters.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP / SSE connection parameters.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Description  string       `json:"description,omitempty"`
	Status       ServerStatus `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	SourcePath   string       `json:"sourcePath,omitempty"`

	// OriginalName preserves the declared name when the flattened view had
	// to rename this descriptor to resolve a cross-source collision.
	OriginalName string `json:"originalName,omitempty"`

	Tools     []ToolDescriptor     `json:"tools,omitempty"`
	Resources []ResourceDescriptor `json:"resources,omitempty"`
	Prompts   []PromptDescriptor   `json:"prompts,omitempty"`
}

// MarkConnected records a successful probe.
func (s *ServerDescriptor) MarkConnected() {
	s.Status = StatusConnected
	s.ErrorMessage = ""
}

// MarkError records a failed validation or probe without dropping the entry,
// so operators can see why a server is absent from the proxy surface.
func (s *ServerDescriptor) MarkError(msg string) {
	s.Status = StatusError
	s.ErrorMessage = msg
}

// Clone returns a deep copy of the descriptor. The flattened view renames
// copies so the hierarchical snapshot stays untouched.
func (s *ServerDescriptor) Clone() *ServerDescriptor {
	clone := *s
	clone.Args = append([]string(nil), s.Args...)
	if s.Env != nil {
		clone.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			clone.Env[k] = v
		}
	}
	if s.Headers != nil {
		clone.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			clone.Headers[k] = v
		}
	}
	clone.Tools = append([]ToolDescriptor(nil), s.Tools...)
	clone.Resources = append([]ResourceDescriptor(nil), s.Resources...)
	clone.Prompts = append([]PromptDescriptor(nil), s.Prompts...)
	return &clone
}

// ConfigSource is the result of discovering one configuration location.
// It is immutable once built; a new discovery run produces a fresh sequence
// that replaces the previous one for observers.
type ConfigSource struct {
	Path    string              `json:"path"`
	Servers []*ServerDescriptor `json:"servers"`
}

// ServerByName returns the descriptor with the given name, or nil.
func (c *ConfigSource) ServerByName(name string) *ServerDescriptor {
	for _, s := range c.Servers {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SourceError records a configuration location that could not be loaded.
// Source-level failures exclude that source from the run but never abort it.
type SourceError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// RawServer is one parsed-but-unvalidated server entry from a source.
type RawServer struct {
	Name   string
	Config map[string]any
}

// RawSource is one successfully parsed configuration location.
type RawSource struct {
	Path    string
	Servers []RawServer
}

// DefaultSourcePaths returns the well-known MCP configuration locations that
// exist on this machine, in lookup order.
func DefaultSourcePaths() []string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, "mcp.json"),
			filepath.Join(home, ".mcp.json"),
			filepath.Join(home, ".config", "mcp", "config.json"),
			filepath.Join(home, ".mcp", "config.json"),
		)
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(cwd, "mcp.json"),
			filepath.Join(cwd, ".mcp.json"),
		)
	}
	var paths []string
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			paths = append(paths, p)
		}
	}
	return paths
}

// LoadSources reads and parses every configured location. A location that
// cannot be read or parsed is skipped with a recorded reason; it never fails
// the run.
func LoadSources(paths []string) ([]RawSource, []SourceError) {
	var sources []RawSource
	var skipped []SourceError
	for _, path := range paths {
		src, err := loadSource(path)
		if err != nil {
			skipped = append(skipped, SourceError{Path: path, Reason: err.Error()})
			continue
		}
		if len(src.Servers) == 0 {
			continue
		}
		sources = append(sources, src)
	}
	return sources, skipped
}

func loadSource(path string) (RawSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RawSource{}, fmt.Errorf("cannot read file: %v", err)
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return RawSource{}, fmt.Errorf("invalid JSON: %v", err)
	}

	// Sources come in three shapes: {"mcpServers": {...}}, {"servers": {...}},
	// or a bare map of name -> entry.
	serverBlock := data
	if raw, ok := root["mcpServers"]; ok {
		serverBlock = raw
	} else if raw, ok := root["servers"]; ok {
		serverBlock = raw
	}

	var entries map[string]map[string]any
	if err := json.Unmarshal(serverBlock, &entries); err != nil {
		return RawSource{}, fmt.Errorf("invalid servers format: %v", err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	src := RawSource{Path: path}
	for _, name := range names {
		src.Servers = append(src.Servers, RawServer{Name: name, Config: entries[name]})
	}
	return src, nil
}

// Validate checks the structural requirements for a raw server entry by its
// declared kind. The returned error carries the reason a descriptor will be
// surfaced in Error status; valid entries return nil.
func Validate(name string, config map[string]any) error {
	kind, err := kindOf(config)
	if err != nil {
		return err
	}

	switch kind {
	case KindStdio:
		if _, ok := config["command"].(string); !ok || config["command"] == "" {
			return fmt.Errorf("stdio server must have 'command' field")
		}
		if raw, ok := config["args"]; ok {
			if _, ok := raw.([]any); !ok {
				return fmt.Errorf("'args' must be a list")
			}
		}
		if raw, ok := config["env"]; ok {
			if _, ok := raw.(map[string]any); !ok {
				return fmt.Errorf("'env' must be an object")
			}
		}
	case KindHTTP, KindSSE:
		if _, ok := config["url"].(string); !ok || config["url"] == "" {
			return fmt.Errorf("%s server must have 'url' field", kind)
		}
		if raw, ok := config["headers"]; ok {
			if _, ok := raw.(map[string]any); !ok {
				return fmt.Errorf("'headers' must be an object")
			}
		}
	}
	return nil
}

func kindOf(config map[string]any) (ServerKind, error) {
	raw, ok := config["type"]
	if !ok {
		return KindStdio, nil
	}
	str, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("invalid server type: %v", raw)
	}
	switch ServerKind(str) {
	case KindStdio, KindHTTP, KindSSE:
		return ServerKind(str), nil
	default:
		return "", fmt.Errorf("invalid server type: %s", str)
	}
}

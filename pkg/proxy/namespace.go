package proxy

import (
	"fmt"
	"net/url"
	"strings"
)

// NamespaceStrategy generates the downstream identifiers for forwarded
// capabilities. Implementations must be deterministic and collision-free
// for a given server/name pair.
type NamespaceStrategy interface {
	ToolName(serverName, toolName string) string
	PromptName(serverName, promptName string) string
	ResourceURI(serverName, resourceURI string) string
	NativeResourceURI(serverName, proxyURI string) (string, bool)
}

// ServerPrefixNamespace prefixes every identifier with the originating
// server's display name, separating fields with a configurable delimiter
// (defaults to "__" to stay within the MCP spec's character guidance).
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(serverName, toolName string) string {
	return s.decorate(serverName, toolName)
}

func (s ServerPrefixNamespace) PromptName(serverName, promptName string) string {
	return s.decorate(serverName, promptName)
}

func (s ServerPrefixNamespace) ResourceURI(serverName, resourceURI string) string {
	return fmt.Sprintf("mcp-explorer+%s/resources::%s", url.PathEscape(serverName), resourceURI)
}

func (s ServerPrefixNamespace) NativeResourceURI(serverName, proxyURI string) (string, bool) {
	prefix := fmt.Sprintf("mcp-explorer+%s/resources::", url.PathEscape(serverName))
	if !strings.HasPrefix(proxyURI, prefix) {
		return "", false
	}
	return strings.TrimPrefix(proxyURI, prefix), true
}

func (s ServerPrefixNamespace) decorate(serverName, value string) string {
	return fmt.Sprintf("%s%s%s", sanitize(serverName), s.separator(), value)
}

// sanitize keeps prefixed names within the MCP tool-name character set;
// collision-renamed servers carry a "#" that must not leak downstream.
func sanitize(serverName string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, serverName)
}

// Package mcpmgr manages the proxy's upstream Model Context Protocol (MCP)
// sessions on top of the modelcontextprotocol/go-sdk client. It layers
// connection lifecycle tracking (connect-once with single-flight dialing),
// per-server timeouts, and transport setup for stdio, streamable HTTP, and
// SSE servers, so the rest of the control plane can focus on deciding what
// to expose rather than on MCP plumbing.
//
// # Core entry points
//
//   - Manager is the long-lived orchestration type. Construct it with
//     NewManager, then call ConnectToServer / DisconnectServer, or let the
//     convenience helpers dial lazily on first use.
//   - ServerConfig (and the HTTPServerConfig / StdioServerConfig variants)
//     declare how each MCP server should be launched or contacted;
//     ConfigFromDescriptor builds one from a discovered server entry.
//   - Manager.Probe implements the capability prober that discovery fans
//     out over: it connects, enumerates tools, resources, and prompts, and
//     marks the descriptor Connected or Error.
//
// After a server is connected, use ListTools, CallTool, ListPrompts,
// GetPrompt, ListResources, and ReadResource to interrogate and invoke its
// declared capabilities. Backends that request operator input mid-call are
// routed through the handler installed with SetElicitationHandler.
package mcpmgr

// Package proxy is the control plane that decides which discovered
// capabilities are exposed to downstream MCP clients. It intersects
// discovery snapshots with the enablement allow-list to build a forwarding
// set, serves that set from an aggregating Streamable MCP server under
// server-prefixed names, records every forwarded call in the operation
// log, and tracks attached clients by session.
package proxy

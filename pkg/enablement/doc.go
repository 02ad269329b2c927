// Package enablement holds the proxy's allow-list: which backend servers and
// which of their tools, resources, and prompts may be exposed to clients.
// Servers are permissive by default only while the server list is empty;
// capabilities are always deny-by-default and must be granted explicitly.
package enablement

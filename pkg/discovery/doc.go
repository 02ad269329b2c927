// Package discovery loads MCP server declarations from multiple
// configuration sources, validates them, probes the valid entries for their
// capabilities, and reconciles naming collisions across sources. One bad
// source or one failing server never aborts a discovery run: source-level
// parse failures are recorded and skipped, and server-level failures are
// retained as Error-status descriptors.
package discovery

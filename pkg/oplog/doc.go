// Package oplog records proxied operations in a bounded in-memory buffer
// with an optional JSONL file sink and a subscriber fan-out. The log is an
// observability aid: sink and subscriber failures are absorbed and never
// propagate into the operation path.
package oplog

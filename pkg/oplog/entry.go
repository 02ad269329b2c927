package oplog

import "time"

// EntryKind classifies a log entry.
type EntryKind string

const (
	KindToolCall           EntryKind = "tool_call"
	KindResourceRead       EntryKind = "resource_read"
	KindPromptGet          EntryKind = "prompt_get"
	KindServerStarted      EntryKind = "server_started"
	KindServerStopped      EntryKind = "server_stopped"
	KindServerError        EntryKind = "server_error"
	KindClientConnected    EntryKind = "client_connected"
	KindClientDisconnected EntryKind = "client_disconnected"
)

// ElicitationRecord is the audit trail of one elicitation round-trip that
// happened while an operation was in flight.
type ElicitationRecord struct {
	Message   string         `json:"message"`
	Fields    []string       `json:"fields,omitempty"`
	Values    map[string]any `json:"values,omitempty"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
}

// Entry is one recorded event. Operation entries carry parameters and
// either a response or an error; lifecycle entries reuse the same shape
// with kind-specific parameters.
type Entry struct {
	ID           string              `json:"id"`
	Timestamp    time.Time           `json:"timestamp"`
	Kind         EntryKind           `json:"kind"`
	ServerName   string              `json:"serverName,omitempty"`
	Operation    string              `json:"operation,omitempty"`
	Parameters   map[string]any      `json:"parameters,omitempty"`
	Response     any                 `json:"response,omitempty"`
	Error        string              `json:"error,omitempty"`
	DurationMS   float64             `json:"durationMs,omitempty"`
	Elicitations []ElicitationRecord `json:"elicitations,omitempty"`
}

// Succeeded reports whether the entry represents a completed, successful
// operation. Entries with neither a response nor an error are pending and
// count as neither success nor failure.
func (e *Entry) Succeeded() bool {
	return e.Response != nil && e.Error == ""
}

// Failed reports whether the entry carries an error.
func (e *Entry) Failed() bool {
	return e.Error != ""
}

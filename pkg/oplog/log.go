package oplog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries bounds the in-memory buffer when Options leaves it zero.
const DefaultMaxEntries = 1000

// Subscriber receives a copy of every entry appended to the log. Callbacks
// run synchronously on the recording goroutine and must be quick; a
// panicking subscriber is isolated and does not affect the append or its
// siblings.
type Subscriber func(Entry)

// Options configure a Log.
type Options struct {
	// MaxEntries bounds the in-memory buffer; the oldest entry is evicted
	// when the bound is reached. Defaults to DefaultMaxEntries.
	MaxEntries int
	// SinkPath, when non-empty, appends each entry as one JSON line to the
	// given file. Sink failures are logged and otherwise ignored.
	SinkPath string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Log is a bounded, subscribable operation log.
type Log struct {
	mu      sync.RWMutex
	opts    Options
	entries []Entry
	subs    map[int]Subscriber
	nextSub int
	sink    *os.File
}

// New builds a Log. When a sink path is configured, the file is opened
// lazily on first append so a missing directory at construction time does
// not fail the caller.
func New(opts *Options) *Log {
	return &Log{
		opts: opts.withDefaults(),
		subs: make(map[int]Subscriber),
	}
}

// Subscribe registers a callback for subsequent appends and returns an id
// for Unsubscribe.
func (l *Log) Subscribe(fn Subscriber) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return id
}

// Unsubscribe removes a previously registered callback.
func (l *Log) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
}

// append stores the entry, evicting the oldest when full, writes it to the
// sink, and fans it out. Subscribers observe the entry strictly after it is
// visible to Entries and Query.
func (l *Log) append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	if len(l.entries) >= l.opts.MaxEntries {
		over := len(l.entries) - l.opts.MaxEntries + 1
		l.entries = append(l.entries[:0], l.entries[over:]...)
	}
	l.entries = append(l.entries, e)
	l.writeSinkLocked(e)
	subs := make([]Subscriber, 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		l.notify(fn, e)
	}
	return e
}

func (l *Log) notify(fn Subscriber, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.opts.Logger.Error("log subscriber panicked", "panic", r)
		}
	}()
	fn(e)
}

// writeSinkLocked appends one JSON line to the sink file. Best effort: any
// failure is logged and the sink is left for the next attempt.
func (l *Log) writeSinkLocked(e Entry) {
	if l.opts.SinkPath == "" {
		return
	}
	if l.sink == nil {
		if err := os.MkdirAll(filepath.Dir(l.opts.SinkPath), 0o755); err != nil {
			l.opts.Logger.Warn("cannot create log sink directory", "path", l.opts.SinkPath, "error", err)
			return
		}
		f, err := os.OpenFile(l.opts.SinkPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.opts.Logger.Warn("cannot open log sink", "path", l.opts.SinkPath, "error", err)
			return
		}
		l.sink = f
	}
	line, err := json.Marshal(e)
	if err != nil {
		l.opts.Logger.Warn("cannot encode log entry", "id", e.ID, "error", err)
		return
	}
	if _, err := l.sink.Write(append(line, '\n')); err != nil {
		l.opts.Logger.Warn("cannot write log sink", "path", l.opts.SinkPath, "error", err)
	}
}

// Close releases the sink file, if open.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	err := l.sink.Close()
	l.sink = nil
	return err
}

// RecordToolCall logs a completed tool invocation, including any
// elicitation round-trips that happened during it.
func (l *Log) RecordToolCall(server, tool string, params map[string]any, response any, opErr error, duration time.Duration, elicitations []ElicitationRecord) Entry {
	return l.append(Entry{
		Kind:         KindToolCall,
		ServerName:   server,
		Operation:    tool,
		Parameters:   params,
		Response:     response,
		Error:        errString(opErr),
		DurationMS:   durationMS(duration),
		Elicitations: elicitations,
	})
}

// RecordResourceRead logs a completed resource read.
func (l *Log) RecordResourceRead(server, uri string, response any, opErr error, duration time.Duration) Entry {
	return l.append(Entry{
		Kind:       KindResourceRead,
		ServerName: server,
		Operation:  uri,
		Response:   response,
		Error:      errString(opErr),
		DurationMS: durationMS(duration),
	})
}

// RecordPromptGet logs a completed prompt retrieval.
func (l *Log) RecordPromptGet(server, prompt string, args map[string]any, response any, opErr error, duration time.Duration) Entry {
	params := make(map[string]any, len(args))
	for k, v := range args {
		params[k] = v
	}
	return l.append(Entry{
		Kind:       KindPromptGet,
		ServerName: server,
		Operation:  prompt,
		Parameters: params,
		Response:   response,
		Error:      errString(opErr),
		DurationMS: durationMS(duration),
	})
}

// RecordServerStarted logs a proxy start with its listen port and the
// exposed server keys.
func (l *Log) RecordServerStarted(port int, enabledServers []string, message string) Entry {
	return l.append(Entry{
		Kind:      KindServerStarted,
		Operation: message,
		Parameters: map[string]any{
			"port":           port,
			"enabledServers": enabledServers,
		},
	})
}

// RecordServerStopped logs a proxy shutdown.
func (l *Log) RecordServerStopped(message string) Entry {
	return l.append(Entry{Kind: KindServerStopped, Operation: message})
}

// RecordServerError logs a proxy-level failure.
func (l *Log) RecordServerError(server string, opErr error) Entry {
	return l.append(Entry{
		Kind:       KindServerError,
		ServerName: server,
		Error:      errString(opErr),
	})
}

// RecordClientConnected logs a client attaching to the proxy endpoint.
func (l *Log) RecordClientConnected(clientID, remoteAddr string) Entry {
	return l.append(Entry{
		Kind:      KindClientConnected,
		Operation: clientID,
		Parameters: map[string]any{
			"remoteAddr": remoteAddr,
		},
	})
}

// RecordClientDisconnected logs a client detaching.
func (l *Log) RecordClientDisconnected(clientID, reason string) Entry {
	params := map[string]any{}
	if reason != "" {
		params["reason"] = reason
	}
	return l.append(Entry{
		Kind:       KindClientDisconnected,
		Operation:  clientID,
		Parameters: params,
	})
}

// Filter selects entries for Query. Zero values match everything.
type Filter struct {
	// Server matches the entry's server name exactly.
	Server string
	// Kind matches the entry kind exactly.
	Kind EntryKind
	// Search is a case-insensitive substring match over the operation name
	// and the serialized parameters and response.
	Search string
}

// Entries returns a copy of the buffer, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Query returns the entries matching the filter, oldest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Match reports whether the entry passes the filter.
func (f Filter) Match(e Entry) bool {
	if f.Server != "" && e.ServerName != f.Server {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Search == "" {
		return true
	}
	needle := strings.ToLower(f.Search)
	if strings.Contains(strings.ToLower(e.Operation), needle) {
		return true
	}
	if e.Parameters != nil {
		if raw, err := json.Marshal(e.Parameters); err == nil &&
			strings.Contains(strings.ToLower(string(raw)), needle) {
			return true
		}
	}
	if e.Response != nil {
		if raw, err := json.Marshal(e.Response); err == nil &&
			strings.Contains(strings.ToLower(string(raw)), needle) {
			return true
		}
	}
	return false
}

// Stats summarizes the current buffer contents.
type Stats struct {
	Total    int               `json:"total"`
	Success  int               `json:"success"`
	Errors   int               `json:"errors"`
	ByServer map[string]int    `json:"byServer"`
	ByKind   map[EntryKind]int `json:"byKind"`
	// ConnectedClients is derived by replaying connect and disconnect
	// events still present in the buffer; it can undercount after eviction.
	ConnectedClients int `json:"connectedClients"`
}

// Stats computes summary counters over the buffer. Success and error counts
// are independent tallies: an entry with neither a response nor an error
// contributes to neither.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Summarize(l.entries)
}

// Summarize computes Stats over any entry slice, such as entries replayed
// from a sink file.
func Summarize(entries []Entry) Stats {
	st := Stats{
		ByServer: make(map[string]int),
		ByKind:   make(map[EntryKind]int),
	}
	connected := make(map[string]struct{})
	for _, e := range entries {
		st.Total++
		if e.Succeeded() {
			st.Success++
		}
		if e.Failed() {
			st.Errors++
		}
		if e.ServerName != "" {
			st.ByServer[e.ServerName]++
		}
		st.ByKind[e.Kind]++
		switch e.Kind {
		case KindClientConnected:
			connected[e.Operation] = struct{}{}
		case KindClientDisconnected:
			delete(connected, e.Operation)
		}
	}
	st.ConnectedClients = len(connected)
	return st
}

// Clear empties the buffer. The sink file is left untouched.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

package proxy

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/vikashloomba/mcp-explorer-go/pkg/oplog"
)

const sessionIDHeaderName = "Mcp-Session-Id"

// clientRegistry tracks the MCP clients attached to the proxy endpoint.
// Entries are keyed by the negotiated session ID and removed on the same
// control path that tears the session down, so the registry and the log's
// derived connection count stay in step.
type clientRegistry struct {
	mu      sync.Mutex
	log     *oplog.Log
	clients map[string]string
}

func newClientRegistry(log *oplog.Log) *clientRegistry {
	return &clientRegistry{log: log, clients: make(map[string]string)}
}

// middleware observes the Streamable HTTP session lifecycle: an
// initialization request (POST without a session header) registers the
// client once the response carries the negotiated session ID, and an
// explicit DELETE deregisters it.
func (r *clientRegistry) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodPost && req.Header.Get(sessionIDHeaderName) == "":
			recorder := &sessionCapturingWriter{ResponseWriter: w}
			next.ServeHTTP(recorder, req)
			if sessionID := recorder.Header().Get(sessionIDHeaderName); sessionID != "" {
				r.add(sessionID, req.RemoteAddr)
			}
		case req.Method == http.MethodDelete:
			sessionID := req.Header.Get(sessionIDHeaderName)
			next.ServeHTTP(w, req)
			if sessionID != "" {
				r.remove(sessionID, "session closed")
			}
		default:
			next.ServeHTTP(w, req)
		}
	})
}

func (r *clientRegistry) add(sessionID, remoteAddr string) {
	r.mu.Lock()
	_, known := r.clients[sessionID]
	if !known {
		r.clients[sessionID] = remoteAddr
	}
	r.mu.Unlock()
	if !known {
		r.log.RecordClientConnected(clientID(sessionID), remoteAddr)
	}
}

func (r *clientRegistry) remove(sessionID, reason string) {
	r.mu.Lock()
	_, known := r.clients[sessionID]
	delete(r.clients, sessionID)
	r.mu.Unlock()
	if known {
		r.log.RecordClientDisconnected(clientID(sessionID), reason)
	}
}

// Count returns the number of currently attached clients.
func (r *clientRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// clientID derives a stable public identifier from the transport session
// ID so log entries do not leak the raw session token.
func clientID(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID)).String()
}

type sessionCapturingWriter struct {
	http.ResponseWriter
}

func (w *sessionCapturingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

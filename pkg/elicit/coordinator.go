package elicit

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-explorer-go/pkg/oplog"
)

// RequestCallback is invoked when a new handshake opens, so a front end
// can prompt the operator. It runs on the requesting goroutine; front ends
// that collect input interactively should hand the session to their own
// loop and return.
type RequestCallback func(requestID string, session *Session)

// Options configure a Coordinator.
type Options struct {
	// OnRequest is notified for every new handshake.
	OnRequest RequestCallback
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Coordinator owns the table of in-flight handshakes so a front end can
// enumerate and answer them. Each handshake suspends exactly one backend
// call; everything else keeps running.
type Coordinator struct {
	mu      sync.Mutex
	opts    Options
	pending map[string]*Session
}

// NewCoordinator builds an empty coordinator.
func NewCoordinator(opts *Options) *Coordinator {
	return &Coordinator{
		opts:    opts.withDefaults(),
		pending: make(map[string]*Session),
	}
}

// PendingInfo describes one open handshake.
type PendingInfo struct {
	RequestID string
	Message   string
	CreatedAt time.Time
}

// Pending lists the open handshakes, oldest first.
func (c *Coordinator) Pending() []PendingInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingInfo, 0, len(c.pending))
	for id, s := range c.pending {
		out = append(out, PendingInfo{RequestID: id, Message: s.Message(), CreatedAt: s.CreatedAt()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the session for an open handshake.
func (c *Coordinator) Get(requestID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.pending[requestID]
	return s, ok
}

// Handle services one backend elicitation request end to end: it opens a
// session, notifies the front end, blocks until the operator resolves it
// (or ctx expires), removes it from the table, and appends the audit
// record to the collector bound to ctx, if any.
func (c *Coordinator) Handle(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
	message := ""
	var fields []Field
	if req != nil && req.Params != nil {
		message = req.Params.Message
		fields = FieldsFromSchema(SchemaFrom(req.Params.RequestedSchema))
	}

	session := NewSession(message, fields)
	requestID := generateRequestID()

	c.mu.Lock()
	c.pending[requestID] = session
	c.mu.Unlock()
	defer c.remove(requestID)

	c.opts.Logger.Info("elicitation requested", "requestID", requestID, "message", message, "fields", len(fields))
	if c.opts.OnRequest != nil {
		c.opts.OnRequest(requestID, session)
	}

	res, err := session.Await(ctx)
	if err != nil {
		return nil, err
	}
	if audit := auditFromContext(ctx); audit != nil {
		audit.add(session.Record())
	}
	return res, nil
}

func (c *Coordinator) remove(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}

func generateRequestID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, 8)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return fmt.Sprintf("elicit_%d", time.Now().UnixNano())
		}
		buf[i] = alphabet[n.Int64()]
	}
	return fmt.Sprintf("elicit_%d_%s", time.Now().UnixNano(), string(buf))
}

// Audit accumulates the elicitation records produced while one operation
// is in flight, so they can be attached to the operation's log entry.
type Audit struct {
	mu      sync.Mutex
	records []oplog.ElicitationRecord
}

func (a *Audit) add(rec oplog.ElicitationRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// Records returns the accumulated audit trail in resolution order.
func (a *Audit) Records() []oplog.ElicitationRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]oplog.ElicitationRecord, len(a.records))
	copy(out, a.records)
	return out
}

type auditContextKey struct{}

// WithAudit binds a fresh collector to ctx and returns both. Handshakes
// handled under the returned context append their records to it.
func WithAudit(ctx context.Context) (context.Context, *Audit) {
	audit := &Audit{}
	return context.WithValue(ctx, auditContextKey{}, audit), audit
}

func auditFromContext(ctx context.Context) *Audit {
	audit, _ := ctx.Value(auditContextKey{}).(*Audit)
	return audit
}

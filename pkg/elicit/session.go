package elicit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-explorer-go/pkg/oplog"
)

// Action is the terminal outcome of a session, matching the MCP
// elicitation actions.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionCancel  Action = "cancel"
)

// Reserved input tokens: submitted at any point, they resolve the session
// immediately and abandon the remaining fields.
const (
	tokenDecline = "decline"
	tokenCancel  = "cancel"
)

// State describes where a session is in its lifecycle.
type State int

const (
	// StateCollecting means the session is waiting for operator input,
	// either for the current schema field or for a free-form value.
	StateCollecting State = iota
	// StateResolved means the session reached a terminal action and the
	// suspended backend call has been (or is about to be) resumed.
	StateResolved
)

// Session drives one elicitation handshake. The backend side blocks in
// Await while the operator side feeds values through Submit; resolution is
// a one-shot signal, so the backend resumes as soon as the final value
// lands.
type Session struct {
	mu      sync.Mutex
	message string
	fields  []Field
	index   int
	values  map[string]any
	state   State
	action  Action
	created time.Time
	result  chan *mcp.ElicitResult
}

// NewSession builds a session for the given prompt. Fields may be empty,
// in which case a single free-form value resolves the handshake.
func NewSession(message string, fields []Field) *Session {
	return &Session{
		message: message,
		fields:  fields,
		values:  make(map[string]any),
		created: time.Now().UTC(),
		result:  make(chan *mcp.ElicitResult, 1),
	}
}

// Message returns the backend's prompt.
func (s *Session) Message() string { return s.message }

// Fields returns the schema-derived field list, in collection order.
func (s *Session) Fields() []Field { return s.fields }

// CreatedAt returns when the handshake started.
func (s *Session) CreatedAt() time.Time { return s.created }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentField returns the field awaiting input. ok is false in free-form
// mode and after resolution.
func (s *Session) CurrentField() (Field, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateResolved || s.index >= len(s.fields) {
		return Field{}, false
	}
	return s.fields[s.index], true
}

// Values returns a copy of what has been collected so far.
func (s *Session) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Submit feeds one operator input to the session. A returned error means
// the input was rejected and the same field is prompted again; the session
// state does not change. A nil error means the input was consumed: either
// the session advanced to the next field or it resolved.
func (s *Session) Submit(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateResolved {
		return fmt.Errorf("elicit: session already resolved")
	}

	switch strings.ToLower(strings.TrimSpace(input)) {
	case tokenDecline:
		s.resolveLocked(ActionDecline)
		return nil
	case tokenCancel:
		s.resolveLocked(ActionCancel)
		return nil
	}

	// Free-form mode: any single value accepts the handshake.
	if len(s.fields) == 0 {
		if strings.TrimSpace(input) != "" {
			s.values["value"] = input
		}
		s.resolveLocked(ActionAccept)
		return nil
	}

	field := s.fields[s.index]
	if strings.TrimSpace(input) == "" {
		if field.Required {
			return fmt.Errorf("elicit: %s is required", field.Name)
		}
		if field.Default != nil {
			s.values[field.Name] = field.Default
		}
		s.advanceLocked()
		return nil
	}

	value, err := parseValue(field, input)
	if err != nil {
		return fmt.Errorf("elicit: %s: %w", field.Name, err)
	}
	s.values[field.Name] = value
	s.advanceLocked()
	return nil
}

func (s *Session) advanceLocked() {
	s.index++
	if s.index >= len(s.fields) {
		s.resolveLocked(ActionAccept)
	}
}

func (s *Session) resolveLocked(action Action) {
	s.state = StateResolved
	s.action = action

	res := &mcp.ElicitResult{Action: string(action)}
	if action == ActionAccept {
		res.Content = s.contentLocked()
	}
	select {
	case s.result <- res:
	default:
	}
}

// contentLocked builds the typed response map. If construction trips over
// an unexpected value, the raw collected map is returned instead of
// failing the whole operation.
func (s *Session) contentLocked() (content map[string]any) {
	defer func() {
		if recover() != nil {
			content = s.values
		}
	}()
	content = make(map[string]any, len(s.values))
	for k, v := range s.values {
		content[k] = v
	}
	return content
}

// Await blocks the suspended backend call until the operator resolves the
// session or ctx expires.
func (s *Session) Await(ctx context.Context) (*mcp.ElicitResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-s.result:
		return res, nil
	}
}

// Record produces the audit trail entry for a resolved session. Values
// reflect exactly what was collected before resolution; a cancelled
// session carries only the fields gathered up to that point.
func (s *Session) Record() oplog.ElicitationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return oplog.ElicitationRecord{
		Message:   s.message,
		Fields:    names,
		Values:    values,
		Action:    string(s.action),
		Timestamp: time.Now().UTC(),
	}
}

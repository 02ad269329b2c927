package elicit

import (
	"context"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func elicitRequest(message string, schema *jsonschema.Schema) *mcp.ElicitRequest {
	return &mcp.ElicitRequest{Params: &mcp.ElicitParams{Message: message, RequestedSchema: schema}}
}

func TestHandleResolvesThroughOperator(t *testing.T) {
	answered := make(chan struct{})
	c := NewCoordinator(&Options{
		OnRequest: func(requestID string, session *Session) {
			go func() {
				defer close(answered)
				require.NoError(t, session.Submit("42"))
			}()
		},
	})

	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{"age": {Type: "integer"}},
		Required:   []string{"age"},
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := c.Handle(ctx, elicitRequest("how old?", schema))
	require.NoError(t, err)
	<-answered

	assert.Equal(t, string(ActionAccept), res.Action)
	assert.Equal(t, int64(42), res.Content["age"])
	assert.Empty(t, c.Pending(), "resolved handshake leaves the table")
}

func TestHandleAppendsAuditRecord(t *testing.T) {
	c := NewCoordinator(&Options{
		OnRequest: func(_ string, session *Session) {
			go session.Submit("Paris")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ctx, audit := WithAudit(ctx)

	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: map[string]*jsonschema.Schema{"city": {Type: "string"}},
	}
	_, err := c.Handle(ctx, elicitRequest("where?", schema))
	require.NoError(t, err)

	records := audit.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "where?", records[0].Message)
	assert.Equal(t, string(ActionAccept), records[0].Action)
	assert.Equal(t, map[string]any{"city": "Paris"}, records[0].Values)
}

func TestHandleHonorsContextCancellation(t *testing.T) {
	c := NewCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Handle(ctx, elicitRequest("never answered", nil))
		done <- err
	}()

	// Wait until the handshake is registered, then abandon it.
	require.Eventually(t, func() bool { return len(c.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Pending())
}

func TestPendingEnumeration(t *testing.T) {
	c := NewCoordinator(nil)

	release := make(chan struct{})
	c.opts.OnRequest = func(requestID string, session *Session) {
		go func() {
			<-release
			session.Submit("done")
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Handle(ctx, elicitRequest("first", nil))
	}()

	require.Eventually(t, func() bool { return len(c.Pending()) == 1 }, time.Second, 5*time.Millisecond)
	pending := c.Pending()
	assert.Equal(t, "first", pending[0].Message)

	session, ok := c.Get(pending[0].RequestID)
	require.True(t, ok)
	assert.Equal(t, StateCollecting, session.State())

	close(release)
	<-done
}

func TestHandleDecodesWireShapedSchema(t *testing.T) {
	// Schemas arriving over the wire decode as generic JSON values, not the
	// SDK's schema type.
	wireSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"age": map[string]any{"type": "integer"},
		},
		"required": []any{"age"},
	}
	c := NewCoordinator(&Options{
		OnRequest: func(_ string, session *Session) {
			go func() {
				require.Len(t, session.Fields(), 1)
				require.NoError(t, session.Submit("42"))
			}()
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := c.Handle(ctx, &mcp.ElicitRequest{
		Params: &mcp.ElicitParams{Message: "how old?", RequestedSchema: wireSchema},
	})
	require.NoError(t, err)
	assert.Equal(t, string(ActionAccept), res.Action)
	assert.Equal(t, int64(42), res.Content["age"])
}

func TestSchemaFromShapes(t *testing.T) {
	direct := &jsonschema.Schema{Type: "object"}
	assert.Same(t, direct, SchemaFrom(direct))
	assert.Nil(t, SchemaFrom(nil))

	byValue := SchemaFrom(jsonschema.Schema{Type: "object"})
	require.NotNil(t, byValue)
	assert.Equal(t, "object", byValue.Type)

	decoded := SchemaFrom(map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
	})
	require.NotNil(t, decoded)
	require.Contains(t, decoded.Properties, "name")
	assert.Equal(t, "string", decoded.Properties["name"].Type)

	// Unusable values degrade to free-form instead of failing the handshake.
	assert.Nil(t, SchemaFrom(make(chan int)))
}

func TestHandleNilRequestFreeForm(t *testing.T) {
	c := NewCoordinator(&Options{
		OnRequest: func(_ string, session *Session) {
			go session.Submit("ack")
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := c.Handle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, string(ActionAccept), res.Action)
	assert.Equal(t, "ack", res.Content["value"])
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"northwind/internal/llm"
	"northwind/internal/session"
)

type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.Response
	err       error
	requests  []llm.Request
}

func (c *scriptedClient) Create(_ context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)

	if c.err != nil {
		return llm.Response{}, c.err
	}

	if len(c.responses) == 0 {
		return llm.Response{Content: "out of script"}, nil
	}

	next := c.responses[0]
	c.responses = c.responses[1:]

	return next, nil
}

type fakeSession struct {
	tools   []session.ToolInfo
	results map[string]session.Result
	calls   []string

	// failListCalls makes the first N ListTools calls come back empty, the
	// way the adapter reports discovery failures.
	failListCalls int
	listCalls     int
}

func (s *fakeSession) ListTools(context.Context) []session.ToolInfo {
	s.listCalls++

	if s.listCalls <= s.failListCalls {
		return []session.ToolInfo{}
	}

	return s.tools
}

func (s *fakeSession) CallTool(_ context.Context, name string, _ map[string]any) session.Result {
	s.calls = append(s.calls, name)

	if res, ok := s.results[name]; ok {
		return res
	}

	return session.Result{Status: session.StatusError, Err: "no result scripted"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func northwindTools() []session.ToolInfo {
	return []session.ToolInfo{
		{Name: "get_tables", Description: "List tables", InputSchema: map[string]any{"type": "object", "properties": map[string]any{}}},
		{Name: "query", Description: "Run a SELECT", InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"sql": map[string]any{"type": "string"}},
			"required":   []any{"sql"},
		}},
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func TestAskAnswersWithoutToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Content: "There are 91 customers."}}}
	sess := &fakeSession{tools: northwindTools()}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini", MaxSteps: 4})

	result, err := a.Ask(context.Background(), "How many customers are there?")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "There are 91 customers.", result.Answer)
	assert.Equal(t, 1, result.StepsUsed)
	assert.Empty(t, result.ToolCalls)
	assert.NotEmpty(t, result.RunID)
}

func TestAskExecutesToolCalls(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "get_tables", "{}")}},
		{Content: "The database has a customer table."},
	}}
	sess := &fakeSession{
		tools: northwindTools(),
		results: map[string]session.Result{
			"get_tables": {Status: session.StatusSuccess, Payload: map[string]any{
				"status": "success",
				"tables": []any{"customer", "salesorder"},
			}},
		},
	}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini", MaxSteps: 4})

	result, err := a.Ask(context.Background(), "What tables exist?")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 2, result.StepsUsed)
	assert.Equal(t, []string{"get_tables"}, sess.calls)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "get_tables", result.ToolCalls[0].ToolName)
	assert.Equal(t, "success", result.ToolCalls[0].Status)
}

func TestAskPassesToolDefinitions(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{{Content: "ok"}}}
	sess := &fakeSession{tools: northwindTools()}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini"})

	_, err := a.Ask(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	require.Len(t, client.requests[0].Tools, 2)
	assert.Equal(t, "get_tables", client.requests[0].Tools[0].OfFunction.Function.Name)
	assert.Equal(t, "query", client.requests[0].Tools[1].OfFunction.Function.Name)
}

func TestAskUnknownToolReportedToModel(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "drop_tables", "{}")}},
		{Content: "I cannot do that."},
	}}
	sess := &fakeSession{tools: northwindTools()}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini", MaxSteps: 4})

	result, err := a.Ask(context.Background(), "Drop everything")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Empty(t, sess.calls)

	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "error", result.ToolCalls[0].Status)
}

func TestAskToolErrorDoesNotAbortRun(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "query", `{"sql":"DROP TABLE customer"}`)}},
		{Content: "That query is not allowed."},
	}}
	sess := &fakeSession{
		tools: northwindTools(),
		results: map[string]session.Result{
			"query": {Status: session.StatusError, Err: "only SELECT queries are allowed"},
		},
	}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini", MaxSteps: 4})

	result, err := a.Ask(context.Background(), "Delete the customers")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "error", result.ToolCalls[0].Status)

	output, ok := result.ToolCalls[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, output["error"], "SELECT queries are allowed")
}

func TestAskMaxStepsReached(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("call_1", "get_tables", "{}")}},
		{ToolCalls: []llm.ToolCall{toolCall("call_2", "get_tables", "{}")}},
		{ToolCalls: []llm.ToolCall{toolCall("call_3", "get_tables", "{}")}},
	}}
	sess := &fakeSession{
		tools: northwindTools(),
		results: map[string]session.Result{
			"get_tables": {Status: session.StatusSuccess, Payload: map[string]any{"tables": []any{"customer"}}},
		},
	}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini", MaxSteps: 2})

	result, err := a.Ask(context.Background(), "loop forever")
	require.Error(t, err)

	assert.Equal(t, "partial", result.Status)
	assert.Equal(t, 2, result.StepsUsed)
	assert.Contains(t, result.Answer, "Max steps")
}

func TestAskModelFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	sess := &fakeSession{tools: northwindTools()}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini"})

	result, err := a.Ask(context.Background(), "anything")
	require.Error(t, err)
	assert.Equal(t, "failure", result.Status)
}

func TestConversationHistoryPersistsAcrossAsks(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Content: "First answer."},
		{Content: "Second answer."},
	}}
	sess := &fakeSession{tools: northwindTools()}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini"})

	_, err := a.Ask(context.Background(), "first question")
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "second question")
	require.NoError(t, err)

	require.Len(t, client.requests, 2)
	// system + q1 + a1 + q2
	assert.Len(t, client.requests[1].Messages, 4)

	a.Reset()

	_, err = a.Ask(context.Background(), "third question")
	require.NoError(t, err)

	require.Len(t, client.requests, 3)
	// system + q3
	assert.Len(t, client.requests[2].Messages, 2)
}

func TestToolDiscoveryRetriesAfterFailure(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Content: "No tools yet."},
		{Content: "Now with tools."},
	}}
	sess := &fakeSession{tools: northwindTools(), failListCalls: 1}

	a := New(client, sess, testLogger(), Config{Model: "gpt-4.1-mini"})

	_, err := a.Ask(context.Background(), "first question")
	require.NoError(t, err)
	assert.Empty(t, client.requests[0].Tools)

	_, err = a.Ask(context.Background(), "second question")
	require.NoError(t, err)

	assert.Equal(t, 2, sess.listCalls)
	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[1].Tools, 2)

	// A successful discovery is cached.
	_, err = a.Ask(context.Background(), "third question")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.listCalls)
}

func TestAskWithMockClient(t *testing.T) {
	sess := &fakeSession{
		tools: northwindTools(),
		results: map[string]session.Result{
			"get_tables": {Status: session.StatusSuccess, Payload: map[string]any{"tables": []any{"customer"}}},
			"query":      {Status: session.StatusSuccess, Payload: map[string]any{"rows": []any{}, "row_count": float64(0)}},
		},
	}

	a := New(llm.NewMockClient(), sess, testLogger(), Config{Model: "mock", MaxSteps: 5})

	result, err := a.Ask(context.Background(), "Show me the customers")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, []string{"get_tables", "query"}, sess.calls)
	assert.NotEmpty(t, result.Answer)
}

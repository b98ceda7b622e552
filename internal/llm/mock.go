package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockClient is a deterministic client for tests and demos: first call asks
// for the tool list, second call queries, third call answers.
type MockClient struct {
	mu    sync.Mutex
	calls int
}

// NewMockClient returns a simple mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Create(ctx context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	switch m.calls {
	case 1:
		return Response{ToolCalls: []ToolCall{{ID: "call_1", Name: "get_tables", Arguments: json.RawMessage(`{}`)}}}, nil
	case 2:
		args, _ := json.Marshal(map[string]any{"sql": "SELECT custid, companyname FROM customer"})

		return Response{ToolCalls: []ToolCall{{ID: "call_2", Name: "query", Arguments: args}}}, nil
	default:
		return Response{Content: "The customer table holds the requested rows; see the query output above."}, nil
	}
}

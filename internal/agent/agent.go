// Package agent runs the question-answering loop: it hands the Tool Host's
// tools to the model, executes the tool calls the model asks for, and feeds
// the results back until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/openai/openai-go/v3/shared/constant"

	"northwind/internal/llm"
	"northwind/internal/session"
)

// ToolSession is the slice of the session adapter the agent depends on.
type ToolSession interface {
	ListTools(ctx context.Context) []session.ToolInfo
	CallTool(ctx context.Context, name string, arguments map[string]any) session.Result
}

// ToolCallRecord records one executed tool call.
type ToolCallRecord struct {
	ToolName   string `json:"tool_name"`
	Input      any    `json:"input"`
	Output     any    `json:"output"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// RunResult captures the outcome of one question.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Question   string           `json:"question"`
	Answer     string           `json:"answer"`
	Status     string           `json:"status"`
	StepsUsed  int              `json:"steps_used"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Config controls the agent loop.
type Config struct {
	Model    string
	MaxSteps int
}

// Agent drives the model and tool session for a conversation. It keeps the
// message history across Ask calls so follow-up questions see prior turns;
// Reset starts a fresh conversation.
type Agent struct {
	client  llm.Client
	session ToolSession
	log     *slog.Logger
	cfg     Config

	messages  []openai.ChatCompletionMessageParamUnion
	toolDefs  []openai.ChatCompletionToolUnionParam
	toolNames map[string]bool
}

// New constructs an agent. Tool discovery happens on the first Ask.
func New(client llm.Client, ts ToolSession, log *slog.Logger, cfg Config) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 8
	}

	a := &Agent{
		client:  client,
		session: ts,
		log:     log.With("component", "agent"),
		cfg:     cfg,
	}
	a.Reset()

	return a
}

// Reset clears the conversation history.
func (a *Agent) Reset() {
	a.messages = []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt()),
	}
}

// Ask answers one question, running tool calls as the model requests them.
// The returned RunResult is populated even when err is non-nil.
func (a *Agent) Ask(ctx context.Context, question string) (RunResult, error) {
	started := time.Now()
	result := RunResult{
		RunID:     ulid.Make().String(),
		Question:  question,
		Status:    "failure",
		StartedAt: started,
	}

	a.discoverTools(ctx)

	a.messages = append(a.messages, openai.UserMessage(question))

	toolChoice := openai.ChatCompletionToolChoiceOptionUnionParam{}
	if len(a.toolDefs) > 0 {
		toolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("auto")}
	}

	steps := 0
	for steps < a.cfg.MaxSteps {
		steps++

		response, err := a.client.Create(ctx, llm.Request{
			Model:      a.cfg.Model,
			Messages:   a.messages,
			Tools:      a.toolDefs,
			ToolChoice: toolChoice,
		})
		if err != nil {
			a.log.Error("Model request failed", "error", err)
			result.StepsUsed = steps
			result.FinishedAt = time.Now()

			return result, fmt.Errorf("model request: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			answer := strings.TrimSpace(response.Content)
			a.messages = append(a.messages, openai.AssistantMessage(answer))

			result.Answer = answer
			result.Status = "success"
			result.StepsUsed = steps
			result.FinishedAt = time.Now()

			return result, nil
		}

		a.messages = append(a.messages, assistantToolCallMessage(response.ToolCalls))

		for _, call := range response.ToolCalls {
			record := a.executeToolCall(ctx, call)
			result.ToolCalls = append(result.ToolCalls, record)
		}
	}

	result.Answer = "Max steps reached; unable to complete the request."
	result.Status = "partial"
	result.StepsUsed = steps
	result.FinishedAt = time.Now()
	a.messages = append(a.messages, openai.AssistantMessage(result.Answer))

	return result, fmt.Errorf("max steps (%d) reached", a.cfg.MaxSteps)
}

// discoverTools fetches the tool list and converts it to OpenAI tool
// definitions. A successful discovery is cached for the life of the agent;
// until then the model answers without tools.
func (a *Agent) discoverTools(ctx context.Context) {
	if a.toolNames != nil {
		return
	}

	tools := a.session.ListTools(ctx)
	if len(tools) == 0 {
		// ListTools also yields an empty slice on transient failures, so an
		// empty result is not cached; the next Ask retries discovery.
		a.log.Warn("No tools discovered")

		return
	}

	a.toolNames = make(map[string]bool, len(tools))

	for _, tool := range tools {
		a.toolNames[tool.Name] = true

		parameters := tool.InputSchema
		if parameters == nil {
			parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		a.toolDefs = append(a.toolDefs, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: param.NewOpt(tool.Description),
					Parameters:  shared.FunctionParameters(parameters),
				},
			},
		})
	}

	a.log.Debug("Discovered tools", "count", len(tools))
}

// executeToolCall runs one tool call through the session adapter and appends
// the tool message to the history. Failures become error payloads for the
// model rather than aborting the run.
func (a *Agent) executeToolCall(ctx context.Context, call llm.ToolCall) ToolCallRecord {
	start := time.Now()
	record := ToolCallRecord{ToolName: call.Name, Input: decodeInput(call.Arguments), Status: "error"}

	fail := func(msg string) ToolCallRecord {
		record.Output = map[string]any{"status": "error", "error": msg}
		record.DurationMs = time.Since(start).Milliseconds()
		a.appendToolMessage(call.ID, record.Output)

		return record
	}

	if !a.toolNames[call.Name] {
		a.log.Warn("Model requested unknown tool", "tool", call.Name)

		return fail(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	var arguments map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &arguments); err != nil {
			return fail(fmt.Sprintf("invalid tool arguments: %v", err))
		}
	}

	a.log.Debug("Calling tool", "tool", call.Name)

	res := a.session.CallTool(ctx, call.Name, arguments)
	record.DurationMs = time.Since(start).Milliseconds()

	if !res.OK() {
		a.log.Warn("Tool call failed", "tool", call.Name, "error", res.Err)
		record.Output = map[string]any{"status": "error", "error": res.Err}
		a.appendToolMessage(call.ID, record.Output)

		return record
	}

	record.Status = "success"
	record.Output = res.Payload
	a.appendToolMessage(call.ID, res.Payload)

	return record
}

func (a *Agent) appendToolMessage(callID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"status":"error","error":"unencodable tool result"}`)
	}

	a.messages = append(a.messages, openai.ToolMessage(string(data), callID))
}

func assistantToolCallMessage(calls []llm.ToolCall) openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, call := range calls {
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
				Type: constant.Function("function"),
			},
		})
	}

	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: params}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func decodeInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return string(raw)
	}

	return data
}

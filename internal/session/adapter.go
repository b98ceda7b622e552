// Package session implements the client-side Session Adapter: each logical
// tool invocation spawns the Tool Host as a fresh subprocess, performs the
// initialize handshake, exchanges exactly one request and response as
// line-delimited JSON-RPC, and tears the subprocess down on every exit path.
//
// No failure escapes as a Go error from CallTool or ListTools; every failure
// class (process, transport, parse, protocol) is normalized into the
// discriminated Result, and callers branch on its status.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	nwerrors "northwind/internal/errors"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "northwind-session-adapter"
	clientVersion   = "1.0.0"

	// JSON-RPC ids within one subprocess lifetime. The subprocess never
	// outlives a single request, so fixed ids are unambiguous.
	initializeID = 1
	requestID    = 2
)

const (
	// StatusSuccess marks a Result carrying a payload.
	StatusSuccess = "success"
	// StatusError marks a Result carrying an error message.
	StatusError = "error"
)

// Result is the discriminated outcome of one tool invocation. Callers must
// branch on Status; Payload is set only on success, Err only on error.
type Result struct {
	Status  string         `json:"status"`
	Payload map[string]any `json:"payload,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// OK reports whether the result carries a success payload.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Decode re-marshals the payload into dst for typed access.
func (r Result) Decode(dst any) error {
	if !r.OK() {
		return fmt.Errorf("cannot decode error result: %s", r.Err)
	}

	data, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	return nil
}

func success(payload map[string]any) Result {
	return Result{Status: StatusSuccess, Payload: payload}
}

func failure(err error) Result {
	return Result{Status: StatusError, Err: err.Error()}
}

// ToolInfo describes one tool discovered from the server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Config controls how the adapter launches and talks to the Tool Host.
type Config struct {
	// Command is the server executable; Args are passed through.
	Command string
	Args    []string
	// Dir is the subprocess working directory. Empty means the directory
	// containing Command.
	Dir string
	// Env overrides the subprocess environment when non-empty.
	Env []string
	// RequestTimeout bounds one full round trip including the handshake.
	RequestTimeout time.Duration
	// ShutdownGrace bounds the wait between the termination signal and a
	// forced kill.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dir == "" && c.Command != "" {
		if dir := filepath.Dir(c.Command); dir != "." {
			c.Dir = dir
		}
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}

	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 2 * time.Second
	}

	return c
}

// Adapter turns one logical tool invocation into a subprocess lifecycle plus
// a fixed line-delimited message exchange. A single request is in flight at
// a time; the subprocess is never reused across requests.
type Adapter struct {
	log *slog.Logger
	cfg Config

	mu     sync.Mutex
	closed bool
}

// New creates an adapter for the given server command.
func New(log *slog.Logger, cfg Config) *Adapter {
	return &Adapter{
		log: log.With("component", "session_adapter"),
		cfg: cfg.withDefaults(),
	}
}

// Close marks the adapter unusable. There is no persistent connection to
// release; Close only prevents further spawns.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true

	return nil
}

// CallTool invokes a named tool with arguments and returns the tool's
// operation payload as a Result. Tool-level errors (is_error results) and
// every transport failure come back as an error Result.
func (a *Adapter) CallTool(ctx context.Context, name string, arguments map[string]any) Result {
	if arguments == nil {
		arguments = map[string]any{}
	}

	res := a.roundTrip(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if !res.OK() {
		a.log.Error("Tool call failed", "tool", name, "error", res.Err)

		return res
	}

	return unwrapToolResult(res.Payload)
}

// ListTools discovers the server's tools. Discovery failures yield an empty
// slice rather than an error, so callers can always range over the result.
func (a *Adapter) ListTools(ctx context.Context) []ToolInfo {
	res := a.roundTrip(ctx, "tools/list", nil)
	if !res.OK() {
		a.log.Error("Tool discovery failed", "error", res.Err)

		return []ToolInfo{}
	}

	rawTools, ok := res.Payload["tools"].([]any)
	if !ok {
		return []ToolInfo{}
	}

	data, err := json.Marshal(rawTools)
	if err != nil {
		return []ToolInfo{}
	}

	var tools []ToolInfo
	if err := json.Unmarshal(data, &tools); err != nil {
		a.log.Error("Failed to decode tool list", "error", err)

		return []ToolInfo{}
	}

	return tools
}

// roundTrip performs the full session: spawn, handshake, one request, one
// response, teardown. Steps are blocking in order; the context deadline
// bounds the whole exchange, and the subprocess is terminated on every exit
// path.
func (a *Adapter) roundTrip(ctx context.Context, method string, params map[string]any) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return failure(nwerrors.ErrSessionClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	a.log.Debug("Starting tool host", "command", a.cfg.Command, "method", method)

	proc, err := spawn(a.log, a.cfg)
	if err != nil {
		return failure(&nwerrors.ConnectionError{Stage: "spawn", Err: err})
	}

	defer proc.shutdown(a.cfg.ShutdownGrace)

	// Step 1: initialize request. The blocking read of its response doubles
	// as the readiness check; there is no startup sleep.
	initialize := rpcRequest(initializeID, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	})

	if res, ok := a.exchange(ctx, proc, "initialize", initialize); !ok {
		return res
	}

	// Step 2: initialized notification, no response expected.
	initialized := map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	}

	if err := a.send(proc, "initialized", initialized); err != nil {
		return failure(err)
	}

	// Step 3: the actual request.
	request := rpcRequest(requestID, method, params)

	res, _ := a.exchange(ctx, proc, "request", request)

	return res
}

// send serializes one message as a single line and writes it to the server.
// Write failures are wrapped with any stderr the server produced.
func (a *Adapter) send(proc *process, stage string, msg map[string]any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &nwerrors.ConnectionError{Stage: stage, Err: err}
	}

	if err := proc.writeLine(data); err != nil {
		if stderr := proc.stderrOutput(); stderr != "" {
			err = fmt.Errorf("%w; server stderr: %s", err, stderr)
		}

		return &nwerrors.ConnectionError{Stage: stage, Err: err}
	}

	return nil
}

// exchange writes a request line and reads exactly one response line,
// normalizing every failure into an error Result. ok is false when the
// returned Result is terminal.
func (a *Adapter) exchange(ctx context.Context, proc *process, stage string, msg map[string]any) (Result, bool) {
	if err := a.send(proc, stage, msg); err != nil {
		return failure(err), false
	}

	line, err := proc.readLine(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w during %s", nwerrors.ErrRequestTimeout, stage)
		}

		return failure(err), false
	}

	var response struct {
		Result map[string]any `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return failure(&nwerrors.JSONDecodeError{RawLine: line, Err: err}), false
	}

	if response.Error != nil {
		return failure(&nwerrors.RPCError{
			Code:    response.Error.Code,
			Message: response.Error.Message,
		}), false
	}

	return success(response.Result), true
}

func rpcRequest(id int, method string, params map[string]any) map[string]any {
	msg := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}

	if params != nil {
		msg["params"] = params
	}

	return msg
}

// unwrapToolResult converts a tools/call result into the operation payload.
// Servers report tool failures inside the result (is_error plus a message)
// rather than as JSON-RPC errors; both spellings of the flag are accepted.
func unwrapToolResult(result map[string]any) Result {
	payload := extractPayload(result)

	if isError, _ := result["isError"].(bool); isError {
		return Result{Status: StatusError, Err: toolErrorMessage(result, payload)}
	}

	if isError, _ := result["is_error"].(bool); isError {
		return Result{Status: StatusError, Err: toolErrorMessage(result, payload)}
	}

	if payload != nil {
		return success(payload)
	}

	// No structured payload; return the raw result so callers still see
	// what came back.
	return success(result)
}

// extractPayload prefers structuredContent, falling back to the first text
// content block parsed as JSON.
func extractPayload(result map[string]any) map[string]any {
	if structured, ok := result["structuredContent"].(map[string]any); ok {
		return structured
	}

	content, ok := result["content"].([]any)
	if !ok {
		return nil
	}

	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}

		text, ok := block["text"].(string)
		if !ok {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(text), &payload); err == nil {
			return payload
		}

		return nil
	}

	return nil
}

func toolErrorMessage(result, payload map[string]any) string {
	if payload != nil {
		if msg, ok := payload["error"].(string); ok && msg != "" {
			return msg
		}
	}

	if content, ok := result["content"].([]any); ok {
		for _, item := range content {
			if block, ok := item.(map[string]any); ok {
				if text, ok := block["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}

	return "tool execution failed"
}

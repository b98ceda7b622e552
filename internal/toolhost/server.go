// Package toolhost assembles the Northwind MCP server: it maps the fixed
// tool set (schema introspection, guarded ad-hoc SELECT, canned reports)
// onto store operations and serves them over stdio.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"northwind/internal/sqlguard"
	"northwind/internal/store"
)

const (
	serverName    = "northwind-database-server"
	serverVersion = "1.0.0"
)

// Host owns the data source and dispatches tool calls against it.
type Host struct {
	log   *slog.Logger
	store *store.Store
}

// New creates a Host over an open store.
func New(log *slog.Logger, st *store.Store) *Host {
	return &Host{
		log:   log.With("component", "toolhost"),
		store: st,
	}
}

// Server builds the MCP server with all tools registered.
func (h *Host) Server() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, &mcp.ServerOptions{
		Instructions: "Tools for querying the Northwind database: schema introspection, read-only SQL, and canned business reports.",
	})

	server.AddTool(&mcp.Tool{
		Name:        "get_tables",
		Description: "Get the list of all tables in the Northwind database.",
		InputSchema: &jsonschema.Schema{Type: "object"},
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.handleGetTables)

	server.AddTool(&mcp.Tool{
		Name:        "get_columns",
		Description: "Get column names, types, nullability and defaults for a specific table.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"table_name": {Type: "string", Description: "Name of the table to inspect"},
		}, "table_name"),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.handleGetColumns)

	server.AddTool(&mcp.Tool{
		Name:        "query",
		Description: "Execute a read-only SQL SELECT query against the Northwind database.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"sql":    {Type: "string", Description: "The SQL SELECT query to execute"},
			"params": {Type: "array", Description: "Optional bind parameters for ? placeholders"},
		}, "sql"),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.handleQuery)

	server.AddTool(&mcp.Tool{
		Name:        "sales_report",
		Description: "Generate a per-order sales report, optionally filtered by an inclusive date range (YYYY-MM-DD).",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"start_date": {Type: "string", Description: "Start date, YYYY-MM-DD"},
			"end_date":   {Type: "string", Description: "End date, YYYY-MM-DD"},
		}),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.handleSalesReport)

	server.AddTool(&mcp.Tool{
		Name:        "customer_orders",
		Description: "Generate a customer orders report, optionally filtered to a single customer id.",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"customer_id": {Type: "string", Description: "Customer id to filter by"},
		}),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.handleCustomerOrders)

	return server
}

// Run serves the tool host over stdio until the context is cancelled or the
// client closes the connection.
func (h *Host) Run(ctx context.Context) error {
	h.log.Info("Starting Northwind tool host", "name", serverName, "version", serverVersion)

	return h.Server().Run(ctx, &mcp.StdioTransport{})
}

func (h *Host) handleGetTables(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tables, err := h.store.Tables(ctx)
	if err != nil {
		h.log.Error("Failed to list tables", "error", err)

		return errorResult(err.Error())
	}

	return successResult(TablesPayload{
		Status: statusSuccess,
		Tables: tables,
		Count:  len(tables),
	})
}

func (h *Host) handleGetColumns(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		TableName string `json:"table_name"`
	}

	if err := parseArguments(req, &args); err != nil {
		return errorResult(err.Error())
	}

	if args.TableName == "" {
		return errorResult("table_name is required")
	}

	columns, err := h.store.TableColumns(ctx, args.TableName)
	if err != nil {
		h.log.Error("Failed to describe table", "table", args.TableName, "error", err)

		return errorResult(err.Error())
	}

	return successResult(ColumnsPayload{
		Status:  statusSuccess,
		Table:   args.TableName,
		Columns: columns,
		Count:   len(columns),
	})
}

func (h *Host) handleQuery(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		SQL    string `json:"sql"`
		Params []any  `json:"params"`
	}

	if err := parseArguments(req, &args); err != nil {
		return errorResult(err.Error())
	}

	// Validation happens before the store is touched.
	if err := sqlguard.Validate(args.SQL, args.Params); err != nil {
		h.log.Warn("Query rejected", "error", err)

		return errorResult(err.Error())
	}

	h.log.Info("Executing query", "sql", args.SQL)

	result, err := h.store.Query(ctx, args.SQL, args.Params)
	if err != nil {
		h.log.Error("Query failed", "error", err)

		return errorResult(err.Error())
	}

	return successResult(QueryPayload{
		Status:   statusSuccess,
		Columns:  result.Columns,
		Rows:     result.Rows,
		RowCount: len(result.Rows),
	})
}

func (h *Host) handleSalesReport(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}

	if err := parseArguments(req, &args); err != nil {
		return errorResult(err.Error())
	}

	h.log.Info("Generating sales report", "start_date", args.StartDate, "end_date", args.EndDate)

	data, err := h.store.SalesReport(ctx, args.StartDate, args.EndDate)
	if err != nil {
		h.log.Error("Sales report failed", "error", err)

		return errorResult(err.Error())
	}

	return successResult(SalesReportPayload{
		Status:     statusSuccess,
		ReportType: "sales_report",
		DateRange: DateRange{
			StartDate: optional(args.StartDate),
			EndDate:   optional(args.EndDate),
		},
		Data:        data,
		RecordCount: len(data),
	})
}

func (h *Host) handleCustomerOrders(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		CustomerID string `json:"customer_id"`
	}

	if err := parseArguments(req, &args); err != nil {
		return errorResult(err.Error())
	}

	h.log.Info("Generating customer orders report", "customer_id", args.CustomerID)

	data, err := h.store.CustomerOrders(ctx, args.CustomerID)
	if err != nil {
		h.log.Error("Customer orders report failed", "error", err)

		return errorResult(err.Error())
	}

	return successResult(CustomerOrdersPayload{
		Status:         statusSuccess,
		ReportType:     "customer_orders",
		CustomerFilter: optional(args.CustomerID),
		Data:           data,
		RecordCount:    len(data),
	})
}

// parseArguments unmarshals the raw tool arguments into dst. Missing
// arguments decode to zero values.
func parseArguments(req *mcp.CallToolRequest, dst any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}

	if err := json.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}

// successResult wraps a payload as both text content and structured content,
// so line-protocol clients can parse either representation.
func successResult(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: payload,
	}, nil
}

// errorResult wraps a message in the uniform error payload. The error is
// encoded in the result, never returned as a Go error, so the wire response
// is a tool result rather than a JSON-RPC failure.
func errorResult(message string) (*mcp.CallToolResult, error) {
	payload := ErrorPayload{Status: statusError, Error: message}

	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"status":"error","error":"encode failure"}`)
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(data)}},
		StructuredContent: payload,
		IsError:           true,
	}, nil
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

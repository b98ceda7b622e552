package toolhost

import "northwind/internal/store"

// Wire payloads returned by the tools. Every payload carries a status
// discriminator so clients branch on a field, never on transport errors.

const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrorPayload is the uniform failure shape for all tools.
type ErrorPayload struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// TablesPayload is the get_tables result.
type TablesPayload struct {
	Status string   `json:"status"`
	Tables []string `json:"tables"`
	Count  int      `json:"count"`
}

// ColumnsPayload is the get_columns result.
type ColumnsPayload struct {
	Status  string         `json:"status"`
	Table   string         `json:"table"`
	Columns []store.Column `json:"columns"`
	Count   int            `json:"count"`
}

// QueryPayload is the query result.
type QueryPayload struct {
	Status   string   `json:"status"`
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// DateRange echoes the filter a report was generated with.
type DateRange struct {
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

// SalesReportPayload is the sales_report result.
type SalesReportPayload struct {
	Status      string           `json:"status"`
	ReportType  string           `json:"report_type"`
	DateRange   DateRange        `json:"date_range"`
	Data        []store.SalesRow `json:"data"`
	RecordCount int              `json:"record_count"`
}

// CustomerOrdersPayload is the customer_orders result.
type CustomerOrdersPayload struct {
	Status         string                   `json:"status"`
	ReportType     string                   `json:"report_type"`
	CustomerFilter *string                  `json:"customer_filter"`
	Data           []store.CustomerOrderRow `json:"data"`
	RecordCount    int                      `json:"record_count"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

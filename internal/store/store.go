// Package store provides read-only access to a Northwind database over
// database/sql. It supports the lowercase Northwind port on PostgreSQL
// (the production engine) and SQLite (demo databases and tests), selecting
// the driver from the connection string.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL dialect behind a Store.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}

	return "sqlite"
}

// Column describes one column of a table.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable string  `json:"nullable"`
	Default  *string `json:"default"`
}

// ResultSet holds the outcome of an ad-hoc query.
type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// SalesRow is one line of the sales report.
type SalesRow struct {
	OrderID     int64   `json:"order_id"`
	OrderDate   string  `json:"order_date"`
	CompanyName string  `json:"company_name"`
	TotalAmount float64 `json:"total_amount"`
}

// CustomerOrderRow is one line of the customer orders report.
type CustomerOrderRow struct {
	CompanyName string  `json:"company_name"`
	OrderID     int64   `json:"order_id"`
	OrderDate   string  `json:"order_date"`
	OrderTotal  float64 `json:"order_total"`
}

// Store wraps a database handle with Northwind-specific operations.
type Store struct {
	log     *slog.Logger
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database identified by url.
//
// postgres:// and postgresql:// URLs use the pgx driver; anything else is
// treated as a SQLite path or DSN (including ":memory:").
func Open(log *slog.Logger, url string) (*Store, error) {
	driver := "sqlite"
	dialect := DialectSQLite

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		driver = "pgx"
		dialect = DialectPostgres
	}

	db, err := sql.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{
		log:     log.With("component", "store", "dialect", dialect.String()),
		db:      db,
		dialect: dialect,
	}, nil
}

// NewWithDB wraps an existing handle. Used by tests and callers that manage
// their own connection.
func NewWithDB(log *slog.Logger, db *sql.DB, dialect Dialect) *Store {
	return &Store{
		log:     log.With("component", "store", "dialect", dialect.String()),
		db:      db,
		dialect: dialect,
	}
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Check verifies connectivity by running SELECT 1.
func (s *Store) Check(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("connection check: %w", err)
	}

	if one != 1 {
		return fmt.Errorf("connection check: unexpected result %d", one)
	}

	return nil
}

// Tables lists user table names in the schema, sorted by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	if s.dialect == DialectPostgres {
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}

		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	s.log.Debug("Listed tables", "count", len(tables))

	return tables, nil
}

// TableColumns returns column metadata for the named table. The table name
// is validated against the live table list; unknown tables are an error
// rather than an empty result.
func (s *Store) TableColumns(ctx context.Context, table string) ([]Column, error) {
	tables, err := s.Tables(ctx)
	if err != nil {
		return nil, err
	}

	known := false

	for _, name := range tables {
		if name == table {
			known = true

			break
		}
	}

	if !known {
		return nil, fmt.Errorf("table %q does not exist", table)
	}

	if s.dialect == DialectPostgres {
		return s.postgresColumns(ctx, table)
	}

	return s.sqliteColumns(ctx, table)
}

func (s *Store) postgresColumns(ctx context.Context, table string) ([]Column, error) {
	query := `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := s.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column

	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (s *Store) sqliteColumns(ctx context.Context, table string) ([]Column, error) {
	// Table name was validated against sqlite_master above, so string
	// interpolation here cannot reach an arbitrary identifier.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column

	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			dfltVal  *string
			primaryK int
		)

		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltVal, &primaryK); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}

		nullable := "YES"
		if notNull == 1 {
			nullable = "NO"
		}

		columns = append(columns, Column{
			Name:     name,
			Type:     colType,
			Nullable: nullable,
			Default:  dfltVal,
		})
	}

	return columns, rows.Err()
}

// Query executes an ad-hoc statement with bound parameters and returns the
// full result set. Statement validation is the caller's responsibility; the
// store only binds and executes.
func (s *Store) Query(ctx context.Context, query string, params []any) (*ResultSet, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &ResultSet{Columns: cols, Rows: [][]any{}}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		for i, v := range values {
			values[i] = normalizeValue(v)
		}

		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}

	s.log.Debug("Query executed", "rows", len(result.Rows))

	return result, nil
}

// SalesReport aggregates order totals per order, optionally bounded by
// inclusive start/end dates (YYYY-MM-DD). Rows are ordered newest first.
func (s *Store) SalesReport(ctx context.Context, startDate, endDate string) ([]SalesRow, error) {
	var (
		conditions []string
		params     []any
	)

	if startDate != "" {
		conditions = append(conditions, "o.orderdate >= ?")
		params = append(params, startDate)
	}

	if endDate != "" {
		conditions = append(conditions, "o.orderdate <= ?")
		params = append(params, endDate)
	}

	query := `SELECT o.orderid, o.orderdate, c.companyname,
			SUM(od.unitprice * od.qty * (1 - od.discount)) AS total_amount
		FROM salesorder o
		JOIN customer c ON o.custid = c.custid
		JOIN orderdetail od ON o.orderid = od.orderid`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += ` GROUP BY o.orderid, o.orderdate, c.companyname
		ORDER BY o.orderdate DESC, o.orderid DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return nil, fmt.Errorf("sales report: %w", err)
	}
	defer rows.Close()

	report := []SalesRow{}

	for rows.Next() {
		var (
			row  SalesRow
			date any
		)

		if err := rows.Scan(&row.OrderID, &date, &row.CompanyName, &row.TotalAmount); err != nil {
			return nil, fmt.Errorf("scan sales row: %w", err)
		}

		row.OrderDate = formatDate(date)
		report = append(report, row)
	}

	return report, rows.Err()
}

// CustomerOrders aggregates order totals per order for one customer, or for
// all customers when customerID is empty. Rows are ordered newest first.
func (s *Store) CustomerOrders(ctx context.Context, customerID string) ([]CustomerOrderRow, error) {
	query := `SELECT c.companyname, o.orderid, o.orderdate,
			SUM(od.unitprice * od.qty * (1 - od.discount)) AS order_total
		FROM customer c
		JOIN salesorder o ON c.custid = o.custid
		JOIN orderdetail od ON o.orderid = od.orderid`

	var params []any

	if customerID != "" {
		query += " WHERE c.custid = ?"
		params = append(params, customerParam(customerID))
	}

	query += ` GROUP BY c.companyname, o.orderid, o.orderdate
		ORDER BY o.orderdate DESC, o.orderid DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), params...)
	if err != nil {
		return nil, fmt.Errorf("customer orders: %w", err)
	}
	defer rows.Close()

	report := []CustomerOrderRow{}

	for rows.Next() {
		var (
			row  CustomerOrderRow
			date any
		)

		if err := rows.Scan(&row.CompanyName, &row.OrderID, &date, &row.OrderTotal); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}

		row.OrderDate = formatDate(date)
		report = append(report, row)
	}

	return report, rows.Err()
}

// rebind converts ? placeholders to $N for PostgreSQL. Question marks inside
// single-quoted literals are left alone.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder

	n := 0
	inQuote := false

	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteString("$" + strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// customerParam binds numeric customer ids as integers so PostgreSQL does
// not reject an integer = text comparison. Callers pass ids as strings.
func customerParam(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}

	return id
}

// normalizeValue converts driver-specific scan results into JSON-friendly
// values: []byte becomes string, time.Time becomes RFC 3339 date text.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

// formatDate renders an orderdate scan result as YYYY-MM-DD regardless of
// whether the driver produced text or a time.Time.
func formatDate(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.Format("2006-01-02")
	case []byte:
		return trimDate(string(val))
	case string:
		return trimDate(val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func trimDate(s string) string {
	if len(s) >= 10 {
		return s[:10]
	}

	return s
}

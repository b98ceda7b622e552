package sqlguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsPlainSelect(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"simple", "SELECT 1 as test_column"},
		{"lowercase", "select custid, companyname from customer"},
		{"leading whitespace", "  \n\tSELECT orderid FROM salesorder"},
		{"subquery within limit", "SELECT * FROM (SELECT custid FROM customer) c WHERE custid IN (SELECT custid FROM salesorder)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, Validate(tt.sql, nil))
		})
	}
}

func TestValidateRejectsNonSelect(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"insert", "INSERT INTO customer (custid) VALUES (999)"},
		{"update", "UPDATE customer SET companyname = 'test'"},
		{"delete", "DELETE FROM customer"},
		{"ddl", "DROP TABLE customer"},
		{"empty", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sql, nil)
			require.Error(t, err)
		})
	}
}

func TestValidateNonSelectMessage(t *testing.T) {
	err := Validate("INSERT INTO customer (custid) VALUES (999)", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELECT queries are allowed")
}

func TestValidateRejectsDeniedKeywords(t *testing.T) {
	tests := []struct {
		name  string
		sql   string
		token string
	}{
		{"embedded drop", "SELECT * FROM customer; DROP TABLE customer", "DROP"},
		{"union", "SELECT custid FROM customer UNION SELECT orderid FROM salesorder", "UNION"},
		{"line comment", "SELECT custid FROM customer -- hidden", "--"},
		{"block comment", "SELECT /* sneaky */ custid FROM customer", "/*"},
		{"exec", "SELECT custid FROM customer WHERE x = EXEC('x')", "EXEC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.sql, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.token)
		})
	}
}

func TestValidateRejectsExcessiveNesting(t *testing.T) {
	sql := "SELECT * FROM (SELECT * FROM (SELECT * FROM (SELECT 1) a) b) c"
	err := Validate(sql, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELECT statements")
}

func TestValidateRejectsOversizedStatement(t *testing.T) {
	sql := "SELECT '" + strings.Repeat("x", MaxStatementLength) + "'"
	err := Validate(sql, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum length")
}

func TestValidateParameterLimits(t *testing.T) {
	params := make([]any, MaxParameters+1)
	for i := range params {
		params[i] = i
	}

	err := Validate("SELECT custid FROM customer WHERE custid = ?", params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many parameters")
}

func TestValidateRejectsDeniedTokenInParameter(t *testing.T) {
	err := Validate("SELECT custid FROM customer WHERE companyname = ?", []any{"x'; DROP TABLE customer"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameter 1")

	// Non-string parameters are not subject to token matching.
	assert.NoError(t, Validate("SELECT custid FROM customer WHERE custid = ?", []any{42}))
}

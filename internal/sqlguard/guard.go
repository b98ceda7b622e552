// Package sqlguard validates ad-hoc SQL before it reaches the database.
//
// The policy is lexical pattern matching, not parsing: it rejects anything
// that is not a plain SELECT and anything containing a denylisted token.
// Known bypasses exist (keyword splitting, encoding tricks); the guard is a
// coarse gate in front of a read-only tool, not a security boundary.
package sqlguard

import (
	"fmt"
	"strings"
)

const (
	// MaxStatementLength is the maximum accepted statement size in bytes.
	MaxStatementLength = 5000

	// MaxSelectCount caps nested subqueries: more than this many SELECT
	// tokens in one statement is rejected.
	MaxSelectCount = 3

	// MaxParameters is the maximum number of bind parameters accepted.
	MaxParameters = 20
)

// deniedTokens are matched as substrings of the uppercased statement.
// This over-blocks identifiers that happen to contain a keyword and
// under-blocks obfuscated keywords; both are accepted trade-offs.
var deniedTokens = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "CREATE", "ALTER",
	"TRUNCATE", "EXEC", "EXECUTE", "UNION", "--", "/*", "*/",
	"DECLARE", "GRANT", "REVOKE", "BACKUP", "RESTORE",
}

// Validate checks a statement and its parameters against the guard policy.
// It returns nil only for statements safe to hand to the database; the
// returned error message identifies the rejection for the caller.
func Validate(sql string, params []any) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	if len(trimmed) > MaxStatementLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", MaxStatementLength)
	}

	upper := strings.ToUpper(trimmed)

	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	for _, token := range deniedTokens {
		if strings.Contains(upper, token) {
			return fmt.Errorf("query contains disallowed keyword: %s", token)
		}
	}

	if strings.Count(upper, "SELECT") > MaxSelectCount {
		return fmt.Errorf("query exceeds maximum of %d SELECT statements", MaxSelectCount)
	}

	if len(params) > MaxParameters {
		return fmt.Errorf("too many parameters: %d exceeds maximum of %d", len(params), MaxParameters)
	}

	for i, param := range params {
		s, ok := param.(string)
		if !ok {
			continue
		}

		upperParam := strings.ToUpper(s)
		for _, token := range deniedTokens {
			if strings.Contains(upperParam, token) {
				return fmt.Errorf("parameter %d contains disallowed keyword: %s", i+1, token)
			}
		}
	}

	return nil
}

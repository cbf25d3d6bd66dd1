// Package sql provides conservative validation for candidate SQL
// statements before they reach the warehouse. Validation rejects rather
// than rewrites: anything that is not a single read-only SELECT/WITH
// statement is refused.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyQuery indicates the candidate SQL is empty or whitespace.
	ErrEmptyQuery = errors.New("SQL query is empty")

	// ErrMultipleStatements indicates the query contains more than one
	// SQL statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrNotSelect indicates the statement is not a SELECT or WITH query.
	ErrNotSelect = errors.New("only SELECT queries are allowed")
)

// ForbiddenKeywordError indicates a DDL/DML keyword used in statement
// position, not as part of an identifier.
type ForbiddenKeywordError struct {
	Keyword string
}

func (e *ForbiddenKeywordError) Error() string {
	return fmt.Sprintf("forbidden SQL keyword detected: %s; only SELECT queries are allowed", e.Keyword)
}

// dangerousKeywords are rejected when they appear as genuine DDL/DML
// tokens. They are harmless inside identifiers like created_at or
// deleted_flag, which never tokenize to a bare keyword.
var dangerousKeywords = map[string]bool{
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"CREATE":   true,
	"ALTER":    true,
	"TRUNCATE": true,
	"GRANT":    true,
	"REVOKE":   true,
	"EXEC":     true,
	"EXECUTE":  true,
}

// ddlObjectWords follow a dangerous keyword when it is used as a real
// statement rather than, say, a CTE named "update_log" referenced in a
// SELECT list.
var ddlObjectWords = map[string]bool{
	"TABLE":     true,
	"INTO":      true,
	"FROM":      true,
	"SET":       true,
	"DATABASE":  true,
	"SCHEMA":    true,
	"INDEX":     true,
	"VIEW":      true,
	"TRIGGER":   true,
	"FUNCTION":  true,
	"PROCEDURE": true,
}

// Validate checks that a candidate statement is a single read-only
// SELECT/WITH query. It is the guard's own layer and does not trust any
// validation the synthesizer already performed.
func Validate(sqlQuery string) error {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ErrEmptyQuery
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if normalized == "" {
		return ErrEmptyQuery
	}

	if hasSemicolonOutsideStrings(normalized) {
		return ErrMultipleStatements
	}

	tokens := tokenize(normalized)
	if len(tokens) == 0 {
		return ErrEmptyQuery
	}

	if !IsSelectStatement(normalized) {
		return ErrNotSelect
	}

	if kw, found := scanForbiddenKeywords(tokens); found {
		return &ForbiddenKeywordError{Keyword: kw}
	}

	return nil
}

// IsSelectStatement reports whether the statement's first meaningful
// token is SELECT or WITH.
func IsSelectStatement(sqlQuery string) bool {
	tokens := tokenize(sqlQuery)
	if len(tokens) == 0 {
		return false
	}
	first := strings.ToUpper(tokens[0])
	return first == "SELECT" || first == "WITH"
}

// ContainsDangerousKeyword reports the first DDL/DML keyword used in
// statement position, if any. Exposed so the synthesizer can run the
// same contextual rule on extracted SQL.
func ContainsDangerousKeyword(sqlQuery string) (string, bool) {
	return scanForbiddenKeywords(tokenize(sqlQuery))
}

// scanForbiddenKeywords applies the contextual rule: a dangerous keyword
// is rejected only when the statement starts with it, or when it is
// immediately followed by a DDL/DML object word or an opening paren.
// This avoids false positives on column names like created_at.
func scanForbiddenKeywords(tokens []string) (string, bool) {
	for i, tok := range tokens {
		upper := strings.ToUpper(tok)
		if !dangerousKeywords[upper] {
			continue
		}
		if i == 0 {
			return upper, true
		}
		if i+1 < len(tokens) {
			next := strings.ToUpper(tokens[i+1])
			if ddlObjectWords[next] || next == "(" {
				return upper, true
			}
		}
	}
	return "", false
}

// tokenize splits SQL into word and punctuation tokens, skipping string
// literals, quoted identifiers and comments. Identifier characters are
// letters, digits, underscore and dollar, so keyword matches are always
// whole-word.
func tokenize(sqlQuery string) []string {
	var tokens []string
	runes := []rune(sqlQuery)
	i := 0
	n := len(runes)

	isWord := func(r rune) bool {
		return r == '_' || r == '$' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	}

	for i < n {
		r := runes[i]
		switch {
		case r == '\'':
			// Single-quoted literal; '' escapes a quote.
			i++
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case r == '"':
			// Quoted identifier.
			i++
			for i < n && runes[i] != '"' {
				i++
			}
			i++
		case r == '-' && i+1 < n && runes[i+1] == '-':
			// Line comment.
			for i < n && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			// Block comment.
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		case isWord(r):
			start := i
			for i < n && isWord(runes[i]) {
				i++
			}
			tokens = append(tokens, string(runes[start:i]))
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			i++
		default:
			tokens = append(tokens, string(r))
			i++
		}
	}

	return tokens
}

// hasSemicolonOutsideStrings returns true if the SQL contains any
// semicolon outside of string literals. The trailing semicolon is
// stripped before this check, so any remaining one means a second
// statement.
func hasSemicolonOutsideStrings(sqlQuery string) bool {
	for _, tok := range tokenize(sqlQuery) {
		if tok == ";" {
			return true
		}
	}
	return false
}

// stripTrailingSemicolon removes a trailing semicolon and surrounding
// whitespace.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimRight(strings.TrimSuffix(sqlQuery, ";"), " \t\n\r")
	}
	return sqlQuery
}

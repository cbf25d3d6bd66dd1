package sql

import (
	"fmt"

	"github.com/corazawaf/libinjection-go"
)

// InjectionError indicates a string literal inside the candidate SQL
// matched a known injection fingerprint.
type InjectionError struct {
	Literal     string
	Fingerprint string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("string literal matches SQL injection fingerprint %s", e.Fingerprint)
}

// CheckLiteralsForInjection scans every single-quoted literal in the
// statement with libinjection. Generated SQL carries user phrasing into
// literals, so a literal that itself fingerprints as an injection means
// the model was steered into smuggling a payload.
func CheckLiteralsForInjection(sqlQuery string) error {
	for _, lit := range extractStringLiterals(sqlQuery) {
		if lit == "" {
			continue
		}
		if found, fingerprint := libinjection.IsSQLi(lit); found {
			return &InjectionError{Literal: lit, Fingerprint: fingerprint}
		}
	}
	return nil
}

// extractStringLiterals returns the contents of single-quoted literals,
// with '' unescaped, skipping comments and quoted identifiers.
func extractStringLiterals(sqlQuery string) []string {
	var literals []string
	runes := []rune(sqlQuery)
	i := 0
	n := len(runes)

	for i < n {
		r := runes[i]
		switch {
		case r == '\'':
			i++
			var buf []rune
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' {
						buf = append(buf, '\'')
						i += 2
						continue
					}
					i++
					break
				}
				buf = append(buf, runes[i])
				i++
			}
			literals = append(literals, string(buf))
		case r == '"':
			i++
			for i < n && runes[i] != '"' {
				i++
			}
			i++
		case r == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i += 2
		default:
			i++
		}
	}

	return literals
}

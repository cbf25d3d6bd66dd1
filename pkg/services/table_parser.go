package services

import (
	"fmt"
	"strings"
)

// ParseTableNames extracts table names from a stage 1 LLM response and
// validates them against the catalog. The model is asked for a plain
// comma-separated list but responses arrive in all sorts of shapes, so
// parsing strips noise, tries several delimiters and keeps only names
// that actually exist. Order is preserved and duplicates collapse to the
// first occurrence.
func ParseTableNames(response string, validTableNames []string) ([]string, error) {
	cleaned := strings.TrimSpace(response)

	// Strip markdown fences and SQL noise the model sometimes adds.
	for _, noise := range []string{"```", "sql", "SELECT", "FROM"} {
		cleaned = strings.ReplaceAll(cleaned, noise, "")
	}

	var candidates []string
	for _, delimiter := range []string{",", "\n", ";", " "} {
		if strings.Contains(cleaned, delimiter) {
			for _, part := range strings.Split(cleaned, delimiter) {
				part = strings.TrimSpace(part)
				if part != "" {
					candidates = append(candidates, part)
				}
			}
			break
		}
	}
	if len(candidates) == 0 {
		candidates = []string{strings.TrimSpace(cleaned)}
	}

	// Validate case-insensitively but return canonical names.
	canonical := make(map[string]string, len(validTableNames))
	for _, name := range validTableNames {
		canonical[strings.ToLower(name)] = name
	}

	seen := make(map[string]bool)
	var validated []string
	for _, candidate := range candidates {
		candidate = stripListMarker(strings.Trim(candidate, `"'`))
		name, ok := canonical[strings.ToLower(candidate)]
		if !ok {
			continue
		}
		if !seen[name] {
			seen[name] = true
			validated = append(validated, name)
		}
	}

	if len(validated) == 0 {
		return nil, fmt.Errorf("no valid table names in response %q", truncateForError(response))
	}

	return validated, nil
}

// stripListMarker removes a leading bullet or numbering ("- ", "* ",
// "1. ", "2) ") the model sometimes formats its list with.
func stripListMarker(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*•")

	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		digits++
	}
	if digits > 0 && digits < len(s) && (s[digits] == '.' || s[digits] == ')') {
		s = s[digits+1:]
	}

	return strings.TrimSpace(s)
}

func truncateForError(s string) string {
	const max = 120
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

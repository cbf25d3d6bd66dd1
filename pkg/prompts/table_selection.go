// Package prompts builds the LLM prompts used by the generation
// pipeline. Prompt text lives here so services stay free of string
// assembly and the exact wording is testable.
package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// TableSelectionSystemMessage primes the model for stage 1.
const TableSelectionSystemMessage = "You are a database expert. Your task is to select only the most relevant database tables needed to answer a given question."

// BuildTableSelectionPrompt creates the stage 1 prompt that narrows the
// full table list down to the tables relevant to the question. Table
// names are sorted so the prompt is deterministic for a given catalog.
// history carries prior turns when the question retries an earlier
// attempt; pass nil for a fresh question.
func BuildTableSelectionPrompt(tableNames []string, question string, maxTables int, history []ConversationTurn) string {
	sorted := make([]string, len(tableNames))
	copy(sorted, tableNames)
	sort.Strings(sorted)

	var prompt strings.Builder

	prompt.WriteString("You are analyzing a PostgreSQL database to answer a question.\n\n")

	if transcript := FormatTranscript(history); transcript != "" {
		prompt.WriteString(transcript)
		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("DATABASE TABLES (%d total):\n", len(sorted)))
	for _, name := range sorted {
		prompt.WriteString(fmt.Sprintf("- %s\n", name))
	}

	prompt.WriteString("\nUSER QUESTION:\n")
	prompt.WriteString(fmt.Sprintf("%q\n\n", question))

	prompt.WriteString("TASK:\n")
	prompt.WriteString(fmt.Sprintf("Select the %d most relevant tables needed to answer this question.\n", maxTables))
	prompt.WriteString("Consider:\n")
	prompt.WriteString("1. Tables directly mentioned or implied by the question\n")
	prompt.WriteString("2. Junction tables that connect the main tables\n")
	prompt.WriteString("3. Tables containing foreign keys to the main entities\n\n")

	prompt.WriteString("RESPONSE FORMAT:\n")
	prompt.WriteString("Return ONLY a comma-separated list of table names, nothing else.\n")
	prompt.WriteString("Example: \"vehicles, trips, drivers\"\n\n")
	prompt.WriteString("Your response:")

	return prompt.String()
}

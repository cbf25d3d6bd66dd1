package prompts

import (
	"fmt"
	"strings"
)

// SQLGenerationSystemMessage primes the model for stage 2.
const SQLGenerationSystemMessage = "You are an expert PostgreSQL developer. Generate correct, efficient SQL queries based on the provided schema and examples."

// maxPromptExamples caps how many knowledge base examples are included
// in the stage 2 prompt.
const maxPromptExamples = 3

// BuildSQLGenerationPrompt creates the stage 2 prompt from the filtered
// schema, the retrieved examples and the user's question. The examples
// section is omitted entirely when there are none, as is the transcript
// block when the question has no prior turns.
func BuildSQLGenerationPrompt(question, schemaText string, examples []string, history []ConversationTurn) string {
	var prompt strings.Builder

	prompt.WriteString("You are generating a PostgreSQL SELECT query to answer a user's question.\n\n")

	if transcript := FormatTranscript(history); transcript != "" {
		prompt.WriteString(transcript)
		prompt.WriteString("\n")
	}

	prompt.WriteString("DATABASE SCHEMA:\n")
	prompt.WriteString(schemaText)
	prompt.WriteString("\n")

	if len(examples) > 0 {
		capped := examples
		if len(capped) > maxPromptExamples {
			capped = capped[:maxPromptExamples]
		}
		prompt.WriteString("\nSIMILAR EXAMPLES FROM KNOWLEDGE BASE:\n")
		for i, example := range capped {
			if i > 0 {
				prompt.WriteString("\n\n")
			}
			prompt.WriteString(fmt.Sprintf("Example %d:\n%s", i+1, example))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("\nUSER QUESTION:\n")
	prompt.WriteString(fmt.Sprintf("%q\n\n", question))

	prompt.WriteString("REQUIREMENTS:\n")
	prompt.WriteString("1. Generate a valid PostgreSQL SELECT query\n")
	prompt.WriteString("2. Use only tables and columns from the schema above\n")
	prompt.WriteString("3. Follow best practices (proper JOINs, WHERE clauses, etc.)\n")
	prompt.WriteString("4. Use descriptive column aliases where helpful\n")
	prompt.WriteString("5. Return ONLY the SQL query, no explanations\n")
	prompt.WriteString("6. Do NOT use INSERT, UPDATE, DELETE, DROP, or other modification commands\n")
	prompt.WriteString("7. Format the query for readability (line breaks and indentation)\n\n")

	prompt.WriteString("RESPONSE FORMAT:\n")
	prompt.WriteString("Return ONLY the SQL query, starting with SELECT or WITH and ending with a semicolon.\n")
	prompt.WriteString("Do not include markdown code blocks (```sql) or any explanation.\n\n")
	prompt.WriteString("Your SQL query:")

	return prompt.String()
}

package prompts

import (
	"fmt"
	"strings"
)

// ClarificationSystemMessage primes the model for generating a
// clarifying question instead of SQL.
const ClarificationSystemMessage = "You are a helpful data analyst. When a question is too ambiguous to translate into SQL, you ask one short, specific clarifying question."

// BuildClarificationPrompt creates the fallback prompt used when SQL
// generation produced an unusable response. entityHints are candidate
// entity types inferred from the selected tables and help the model
// ask about the right domain objects.
func BuildClarificationPrompt(question string, entityHints []string, failureReason string) string {
	var prompt strings.Builder

	prompt.WriteString("A user asked a question about a database, but it could not be translated into a SQL query.\n\n")

	prompt.WriteString("USER QUESTION:\n")
	prompt.WriteString(fmt.Sprintf("%q\n\n", question))

	if failureReason != "" {
		prompt.WriteString("WHY GENERATION FAILED:\n")
		prompt.WriteString(failureReason)
		prompt.WriteString("\n\n")
	}

	if len(entityHints) > 0 {
		prompt.WriteString("THE DATABASE CONTAINS THESE KINDS OF RECORDS:\n")
		for _, hint := range entityHints {
			prompt.WriteString(fmt.Sprintf("- %s\n", hint))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("TASK:\n")
	prompt.WriteString("Write ONE short clarifying question that would let the user rephrase their request precisely enough to answer with SQL.\n")
	prompt.WriteString("Do not apologize, do not explain, do not generate SQL. Return only the question.\n\n")
	prompt.WriteString("Your clarifying question:")

	return prompt.String()
}

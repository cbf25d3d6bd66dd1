package prompts

import (
	"fmt"
	"strings"
)

// ConversationTurn is one prior exchange included as prompt context when
// a question retries an earlier attempt.
type ConversationTurn struct {
	Question string
	// Response is what the engine answered: a clarifying question, an
	// error explanation or the SQL it produced. May be empty.
	Response string
}

// FormatTranscript renders prior turns as a transcript block, oldest
// first. Returns an empty string when there is no history.
func FormatTranscript(history []ConversationTurn) string {
	if len(history) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("CONVERSATION SO FAR:\n")
	for _, turn := range history {
		b.WriteString(fmt.Sprintf("User: %s\n", turn.Question))
		if turn.Response != "" {
			b.WriteString(fmt.Sprintf("Assistant: %s\n", turn.Response))
		}
	}
	return b.String()
}

package models

// Example is a curated question/SQL pair from the knowledge base.
// Filename is the unique key; the embedding side-store is aligned to
// examples by filename.
type Example struct {
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	SQL         string    `json:"sql"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// ScoredExample pairs an example with its similarity to a question.
type ScoredExample struct {
	Example    *Example
	Similarity float64
}

package engine

// Message is one turn sent to the local model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema constrains the local model's JSON output. The decision classifier
// and the search reranker both ask for structured replies.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress reports progress while `twin setup` pulls a local model.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

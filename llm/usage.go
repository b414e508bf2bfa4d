package llm

// Usage contains token usage information for a generation response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Copy returns a deep copy of the usage data.
func (u *Usage) Copy() *Usage {
	return &Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
}

// Add incremental usage to this usage object.
func (u *Usage) Add(other *Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

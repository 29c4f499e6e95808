package domain

// AttributeUpdate is a value extracted for a gap named in the question context.
type AttributeUpdate struct {
	GapID string  `json:"gap_id"`
	Value *string `json:"value"`
}

// Interpretation is the normalized result of interpreting one answer.
type Interpretation struct {
	Classification Classification    `json:"classification"`
	Updates        []AttributeUpdate `json:"updates,omitempty"`
	// Raw is the capability output as received, kept for audit export.
	Raw map[string]any `json:"raw,omitempty"`
	// Degraded is set when the capability failed and a fallback was used.
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

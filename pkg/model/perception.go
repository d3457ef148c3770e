package model

// Perception is the structured reading of one loop input
type Perception struct {
	UserInput string   `json:"user_input"`
	Intent    string   `json:"intent"`
	Entities  []string `json:"entities"`
	ToolHint  string   `json:"tool_hint,omitempty"`
}

package model

// Tool is a catalog entry exposed by a tool host
type Tool struct {
	Name        string
	Description string
	InputSchema any
}

// ToolInvocationResult is produced once per successful tool call
type ToolInvocationResult struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

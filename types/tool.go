package types

// ToolDescriptor describes one callable tool as advertised by a server.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// RequiredParams returns the schema's "required" list in declared order.
func (d ToolDescriptor) RequiredParams() []string {
	raw, ok := d.InputSchema["required"]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// InvocationRequest is one low-level tool call. Arguments are opaque to the
// runtime and validated, if at all, only by the remote tool.
type InvocationRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

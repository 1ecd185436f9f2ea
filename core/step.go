package core

// ToolResult is the outcome of one tool call within a step.
type ToolResult struct {
	CallID    string
	Name      string
	Output    any
	Err       error
	ForceStop bool
}

// StepRecord is what the stop decision sees after each agent loop step.
type StepRecord struct {
	Index       int
	Text        string
	ToolCalls   []FunctionCall
	ToolResults []ToolResult // same order as ToolCalls
}

// LastResult returns the result of the last call in call order.
func (s StepRecord) LastResult() (ToolResult, bool) {
	if len(s.ToolResults) == 0 {
		return ToolResult{}, false
	}
	return s.ToolResults[len(s.ToolResults)-1], true
}

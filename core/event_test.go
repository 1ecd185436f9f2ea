package core

import "testing"

func TestEvent_Constructors(t *testing.T) {
	e := NewEvent("turn-1", "assistant")
	if e.Author != "assistant" || e.TurnID != "turn-1" || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields: %+v", e)
	}

	user := NewUserMessageEvent("turn-1", "hello")
	if user.Content == nil || user.Content.Role != "user" || user.Content.Text() != "hello" {
		t.Fatalf("NewUserMessageEvent malformed: %+v", user)
	}

	calls := NewFunctionCallsEvent("turn-1", "assistant", "checking", []FunctionCall{
		{ID: "c1", Name: "getAccounts", Arguments: `{}`},
		{ID: "c2", Name: "getTransactions", Arguments: `{"pageSize":5}`},
	})
	got := calls.GetFunctionCalls()
	if len(got) != 2 || got[0].Name != "getAccounts" || got[1].ID != "c2" {
		t.Fatalf("GetFunctionCalls order broken: %+v", got)
	}
	if calls.Content.Text() != "checking" {
		t.Errorf("leading text lost: %q", calls.Content.Text())
	}

	responses := NewFunctionResponsesEvent("turn-1", "assistant", []FunctionResponse{
		{ID: "c1", Name: "getAccounts", Response: 42},
		{ID: "c2", Name: "getTransactions", Error: "boom"},
	})
	rs := responses.GetFunctionResponses()
	if len(rs) != 2 || rs[0].Response.(int) != 42 || rs[1].Error != "boom" {
		t.Fatalf("GetFunctionResponses malformed: %+v", rs)
	}
	if responses.Content.Role != "tool" {
		t.Errorf("responses role = %q", responses.Content.Role)
	}
}

func TestEvent_IsFinalResponse(t *testing.T) {
	if !NewMessageEvent("t", "assistant", "done").IsFinalResponse() {
		t.Error("plain message should be final")
	}
	partial := true
	p := NewMessageEvent("t", "assistant", "part")
	p.Partial = &partial
	if p.IsFinalResponse() {
		t.Error("partial message should not be final")
	}
	if NewFunctionCallsEvent("t", "assistant", "", []FunctionCall{{Name: "f"}}).IsFinalResponse() {
		t.Error("function calls are not final")
	}
}

func TestStepRecord_LastResult(t *testing.T) {
	if _, ok := (StepRecord{}).LastResult(); ok {
		t.Error("empty step has no last result")
	}
	s := StepRecord{ToolResults: []ToolResult{{Name: "a", ForceStop: true}, {Name: "b"}}}
	last, ok := s.LastResult()
	if !ok || last.Name != "b" || last.ForceStop {
		t.Errorf("unexpected last result: %+v", last)
	}
}

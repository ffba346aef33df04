package agentexec

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/tools"
)

// scriptedLLM replays a fixed sequence of turns.
type scriptedLLM struct {
	turns []scriptedTurn
	calls int

	// seen records the message slice of every Generate call.
	seen [][]llms.Message
}

type scriptedTurn struct {
	text      string
	toolCalls []llms.ToolCall
	err       error
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llms.Message, _ []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	copied := make([]llms.Message, len(messages))
	copy(copied, messages)
	s.seen = append(s.seen, copied)

	if s.calls >= len(s.turns) {
		return "fallback answer", nil, 1, nil
	}
	turn := s.turns[s.calls]
	s.calls++
	return turn.text, turn.toolCalls, 1, turn.err
}

func (s *scriptedLLM) ModelName() string { return "scripted" }
func (s *scriptedLLM) Close() error      { return nil }

type pingArgs struct {
	Target string `json:"target" jsonschema:"required,description=What to ping"`
}

func newTestRegistry(t *testing.T) (*tools.Registry, *[]string) {
	t.Helper()
	reg := tools.NewRegistry()
	executed := &[]string{}

	ping, err := tools.New("ping", "Ping a target.", tools.CategoryTeam, false,
		func(_ context.Context, _ tools.AuthContext, args pingArgs) tools.Result {
			*executed = append(*executed, "ping:"+args.Target)
			return tools.Result{Success: true, Data: "pong", EntityID: args.Target}
		})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTool(ping))

	boom, err := tools.New("boom", "Always fails.", tools.CategoryTeam, false,
		func(context.Context, tools.AuthContext, struct{}) tools.Result {
			*executed = append(*executed, "boom")
			return tools.Result{Error: "it broke"}
		})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTool(boom))

	return reg, executed
}

func userTurn(text string) []llms.Message {
	return []llms.Message{
		{Role: llms.RoleSystem, Content: "You are a test assistant."},
		{Role: llms.RoleUser, Content: text},
	}
}

func TestRunPlainAnswerTerminatesImmediately(t *testing.T) {
	reg, executed := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "final answer"}}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("hi"), reg.List())
	require.NoError(t, err)

	assert.Equal(t, "final answer", out.Answer)
	assert.Equal(t, 1, out.Iterations)
	assert.False(t, out.Aborted)
	assert.Empty(t, *executed)
}

func TestRunExecutesToolsThenAnswers(t *testing.T) {
	reg, executed := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "ping", Arguments: map[string]any{"target": "db"}}}},
		{text: "db is up"},
	}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("check db"), reg.List())
	require.NoError(t, err)

	assert.Equal(t, "db is up", out.Answer)
	assert.Equal(t, 2, out.Iterations)
	assert.Equal(t, []string{"ping"}, out.ToolsUsed)
	assert.Equal(t, []string{"ping:db"}, *executed)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Success)

	// The second model call must have seen the tool result.
	require.Len(t, llm.seen, 2)
	last := llm.seen[1][len(llm.seen[1])-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, last.Content, "pong")
}

func TestRunSequentialToolOrder(t *testing.T) {
	reg, executed := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []llms.ToolCall{
			{ID: "c1", Name: "ping", Arguments: map[string]any{"target": "one"}},
			{ID: "c2", Name: "ping", Arguments: map[string]any{"target": "two"}},
			{ID: "c3", Name: "ping", Arguments: map[string]any{"target": "three"}},
		}},
		{text: "done"},
	}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("ping all"), reg.List())
	require.NoError(t, err)

	assert.Equal(t, []string{"ping:one", "ping:two", "ping:three"}, *executed)
	assert.Equal(t, []string{"ping", "ping", "ping"}, out.ToolsUsed)
}

func TestRunValidationFailureFedBackToModel(t *testing.T) {
	reg, executed := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "ping", Arguments: map[string]any{}}}},
		{text: "could not ping"},
	}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("ping"), reg.List())
	require.NoError(t, err)

	// The handler never ran; the failure came from validation.
	assert.Empty(t, *executed)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Contains(t, out.Results[0].Error, "target")

	last := llm.seen[1][len(llm.seen[1])-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Contains(t, last.Content, "target")
}

func TestRunUnknownToolBecomesFailedResult(t *testing.T) {
	reg, _ := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "no_such_tool", Arguments: map[string]any{}}}},
		{text: "sorry"},
	}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("x"), reg.List())
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Contains(t, out.Results[0].Error, "no_such_tool")
}

func TestRunLoopLimit(t *testing.T) {
	reg, _ := newTestRegistry(t)
	// Model requests a tool on every turn, forever.
	llm := &scriptedLLM{}
	for i := 0; i < 10; i++ {
		llm.turns = append(llm.turns, scriptedTurn{
			toolCalls: []llms.ToolCall{{ID: "c", Name: "ping", Arguments: map[string]any{"target": "x"}}},
		})
	}
	exec := New(llm, reg, 3, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("loop"), reg.List())
	require.ErrorIs(t, err, ErrLoopLimit)
	assert.True(t, out.Aborted)
	assert.Equal(t, 3, out.Iterations)
	assert.Len(t, out.Results, 3)
}

func TestRunToolCallCapPerTurn(t *testing.T) {
	reg, executed := newTestRegistry(t)
	calls := make([]llms.ToolCall, 6)
	for i := range calls {
		calls[i] = llms.ToolCall{ID: "c", Name: "ping", Arguments: map[string]any{"target": "x"}}
	}
	llm := &scriptedLLM{turns: []scriptedTurn{{toolCalls: calls}, {text: "done"}}}
	exec := New(llm, reg, 5, 2)

	_, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("burst"), reg.List())
	require.NoError(t, err)
	assert.Len(t, *executed, 2)
}

func TestRunAbortsOnCancelledContext(t *testing.T) {
	reg, _ := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "never reached"}}}
	exec := New(llm, reg, 5, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := exec.Run(ctx, tools.AuthContext{OrganizationID: "o1"}, userTurn("x"), reg.List())
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, out.Aborted)
	assert.Zero(t, out.Iterations)
}

func TestRunModelErrorAborts(t *testing.T) {
	reg, _ := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{{err: errors.New("provider down")}}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("x"), reg.List())
	require.Error(t, err)
	assert.True(t, out.Aborted)
}

func TestRunFailedToolStillFedBack(t *testing.T) {
	reg, executed := newTestRegistry(t)
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "boom", Arguments: map[string]any{}}}},
		{text: "the tool failed"},
	}}
	exec := New(llm, reg, 5, 5)

	out, err := exec.Run(context.Background(), tools.AuthContext{OrganizationID: "o1"}, userTurn("x"), reg.List())
	require.NoError(t, err)

	assert.Equal(t, []string{"boom"}, *executed)
	assert.Equal(t, "the tool failed", out.Answer)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Success)
	assert.Equal(t, "it broke", out.Results[0].Error)
}

package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAnthropicMessagesLiftsSystem(t *testing.T) {
	system, msgs := toAnthropicMessages([]Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hi"},
	})

	assert.Equal(t, "be helpful", system)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content[0].Text)
}

func TestToAnthropicMessagesToolRoundTrip(t *testing.T) {
	_, msgs := toAnthropicMessages([]Message{
		{Role: RoleUser, Content: "create it"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "tu_1", Name: "create_task", Arguments: map[string]any{"title": "x"}},
		}},
		{Role: RoleTool, ToolCallID: "tu_1", Content: `{"success":true}`},
	})

	require.Len(t, msgs, 3)

	assistant := msgs[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 1)
	assert.Equal(t, "tool_use", assistant.Content[0].Type)
	assert.Equal(t, "tu_1", assistant.Content[0].ID)
	assert.Equal(t, "create_task", assistant.Content[0].Name)

	result := msgs[2]
	assert.Equal(t, "user", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "tu_1", result.Content[0].ToolUseID)
}

func TestToAnthropicMessagesMergesConsecutiveToolResults(t *testing.T) {
	_, msgs := toAnthropicMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Name: "t1", Arguments: map[string]any{}},
			{ID: "b", Name: "t2", Arguments: map[string]any{}},
		}},
		{Role: RoleTool, ToolCallID: "a", Content: "r1"},
		{Role: RoleTool, ToolCallID: "b", Content: "r2"},
	})

	require.Len(t, msgs, 2, "consecutive tool results share one user turn")
	assert.Len(t, msgs[1].Content, 2)
}

func TestFromOpenAIToolCalls(t *testing.T) {
	call := openAIToolCall{ID: "c1", Type: "function"}
	call.Function.Name = "create_task"
	call.Function.Arguments = `{"title":"Fix login","priority":"high"}`

	parsed, err := fromOpenAIToolCalls([]openAIToolCall{call})
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "c1", parsed[0].ID)
	assert.Equal(t, "create_task", parsed[0].Name)
	assert.Equal(t, "Fix login", parsed[0].Arguments["title"])
}

func TestFromOpenAIToolCallsBadJSON(t *testing.T) {
	call := openAIToolCall{ID: "c1"}
	call.Function.Name = "broken"
	call.Function.Arguments = `{not json`

	_, err := fromOpenAIToolCalls([]openAIToolCall{call})
	assert.Error(t, err)
}

func TestToOpenAIMessagesMarshalsArguments(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Name: "ping", Arguments: map[string]any{"target": "db"}},
		}},
	})

	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "function", msgs[0].ToolCalls[0].Type)
	assert.JSONEq(t, `{"target":"db"}`, msgs[0].ToolCalls[0].Function.Arguments)
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(nil)
	assert.Error(t, err)
}

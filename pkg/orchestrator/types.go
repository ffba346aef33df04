package orchestrator

import (
	"github.com/planhub/ai-engine/pkg/session"
	"github.com/planhub/ai-engine/pkg/tools"
)

// QueryRequest is one conversational turn from a user.
type QueryRequest struct {
	OrganizationID   string `json:"organization_id"`
	OrganizationName string `json:"organization_name,omitempty"`
	UserID           string `json:"user_id"`
	UserName         string `json:"user_name,omitempty"`
	SessionID        string `json:"session_id,omitempty"`
	Query            string `json:"query"`

	// TopK overrides the retrieval depth for this turn. Zero uses the
	// configured default.
	TopK int `json:"top_k,omitempty"`

	// EnableAgent forces the handling mode. nil defers to the
	// classifier; true or false overrides it in either direction.
	EnableAgent *bool `json:"enable_agent,omitempty"`

	// EnabledToolCategories restricts which tool categories an agent
	// turn may use. Empty means no restriction.
	EnabledToolCategories []tools.Category `json:"enabled_tool_categories,omitempty"`
}

// Source identifies one retrieved chunk that grounded the answer.
type Source struct {
	SourceType string  `json:"source_type"`
	EntityID   string  `json:"entity_id"`
	Title      string  `json:"title,omitempty"`
	Score      float32 `json:"score"`
}

// QueryResponse is the answer to one turn.
type QueryResponse struct {
	Answer      string                   `json:"answer"`
	Mode        string                   `json:"mode"`
	SessionID   string                   `json:"session_id"`
	ContextUsed bool                     `json:"context_used"`
	OutOfScope  bool                     `json:"out_of_scope,omitempty"`
	Aborted     bool                     `json:"aborted,omitempty"`
	Sources     []Source                 `json:"sources,omitempty"`
	ToolCalls   []session.ToolCallRecord `json:"tool_calls,omitempty"`
	Iterations  int                      `json:"iterations,omitempty"`
	TokensUsed  int                      `json:"tokens_used,omitempty"`
}

// ActionRequest invokes one tool directly, bypassing the model.
type ActionRequest struct {
	OrganizationID   string         `json:"organization_id"`
	OrganizationName string         `json:"organization_name,omitempty"`
	UserID           string         `json:"user_id"`
	UserName         string         `json:"user_name,omitempty"`
	ToolName         string         `json:"tool_name"`
	Arguments        map[string]any `json:"arguments,omitempty"`
}

// ActionResponse carries the tool result of a direct invocation.
type ActionResponse struct {
	Result tools.Result `json:"result"`
}

// ToolCapability describes one tool in the capability listing.
type ToolCapability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    tools.Category `json:"category"`
	Mutating    bool           `json:"mutating"`
	Parameters  map[string]any `json:"parameters"`
}

// Capabilities is the advertised tool surface grouped by category.
type Capabilities struct {
	Categories map[tools.Category][]ToolCapability `json:"categories"`
}

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/httpclient"
	"github.com/planhub/ai-engine/pkg/observability"
)

const (
	defaultAnthropicHost    = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
	defaultAnthropicMaxToks = 4096
)

// AnthropicProvider implements Provider against the Anthropic messages
// API. Tool calls arrive as tool_use content blocks and results are
// sent back as tool_result blocks inside user turns.
type AnthropicProvider struct {
	config *config.LLMProviderConfig
	client *httpclient.Client
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for anthropic provider")
	}
	if cfg.Host == "" {
		cfg.Host = defaultAnthropicHost
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultAnthropicMaxToks
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2
	}

	client := httpclient.New(
		httpclient.WithTimeout(time.Duration(cfg.Timeout)*time.Second),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
	)

	return &AnthropicProvider{config: cfg, client: client}, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`

	// type == "text"
	Text string `json:"text,omitempty"`

	// type == "tool_use"
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// type == "tool_result"
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	tracer := observability.GetTracer("llms")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(attribute.String(observability.AttrLLMModel, p.config.Model)))
	defer span.End()

	system, converted := toAnthropicMessages(messages)

	reqBody := anthropicRequest{
		Model:     p.config.Model,
		System:    system,
		Messages:  converted,
		MaxTokens: p.config.MaxTokens,
	}
	for _, t := range tools {
		reqBody.Tools = append(reqBody.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, 0, newLLMError("anthropic", "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", nil, 0, newLLMError("anthropic", "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	// Non-2xx responses come back with both a response and an error;
	// prefer the API error body when there is one.
	resp, err := p.client.Do(httpReq)
	if err != nil && resp == nil {
		return "", nil, 0, newLLMError("anthropic", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, 0, newLLMError("anthropic", "failed to read response", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, 0, newLLMError("anthropic", "failed to decode response", err)
	}
	if parsed.Error != nil {
		return "", nil, 0, newLLMError("anthropic", fmt.Sprintf("api error (%s): %s", parsed.Error.Type, parsed.Error.Message), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, 0, newLLMError("anthropic", fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var text string
	var toolCalls []ToolCall
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	total := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	return text, toolCalls, total, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

// toAnthropicMessages converts the neutral message form. System turns
// are lifted into the top-level system field, assistant tool calls
// become tool_use blocks, and tool results become tool_result blocks
// carried in user turns.
func toAnthropicMessages(messages []Message) (string, []anthropicMessage) {
	var system string
	var out []anthropicMessage

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content

		case RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			}

		case RoleTool:
			block := anthropicBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}
			// Consecutive tool results must share one user turn.
			if n := len(out); n > 0 && out[n-1].Role == "user" && out[n-1].Content[0].Type == "tool_result" {
				out[n-1].Content = append(out[n-1].Content, block)
			} else {
				out = append(out, anthropicMessage{Role: "user", Content: []anthropicBlock{block}})
			}

		default:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}

	return system, out
}

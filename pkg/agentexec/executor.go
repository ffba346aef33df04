// Package agentexec runs the bounded tool-calling loop: the model is
// asked for a turn, requested tools are executed sequentially, results
// are fed back, and the loop repeats until the model answers in plain
// text or a limit trips.
package agentexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/tools"
)

// ErrLoopLimit reports that the model kept requesting tools past the
// iteration budget without producing a final answer.
var ErrLoopLimit = errors.New("agent loop exceeded iteration limit")

// Output is the outcome of one agent run. Results lists every tool
// execution in order, including validation failures, so callers can
// audit exactly what happened even on partial runs.
type Output struct {
	Answer     string
	ToolsUsed  []string
	Results    []tools.Result
	Iterations int
	TokensUsed int
	Aborted    bool
}

// Executor drives the loop against one chat provider and one tool
// registry.
type Executor struct {
	llm                 llms.Provider
	registry            *tools.Registry
	maxIterations       int
	maxToolCallsPerTurn int
}

func New(llm llms.Provider, registry *tools.Registry, maxIterations, maxToolCallsPerTurn int) *Executor {
	return &Executor{
		llm:                 llm,
		registry:            registry,
		maxIterations:       maxIterations,
		maxToolCallsPerTurn: maxToolCallsPerTurn,
	}
}

// Run executes the loop. The messages slice is the full prompt
// (system, history, user turn); defs is the tool subset advertised for
// this run. A cancelled context aborts between steps, never mid-tool,
// and the partial output is still returned alongside the error.
func (e *Executor) Run(ctx context.Context, auth tools.AuthContext, messages []llms.Message, defs []*tools.Definition) (*Output, error) {
	output := &Output{}
	llmTools := tools.LLMDefinitions(defs)

	// Text the model emitted alongside tool calls; kept as the best
	// partial answer if the loop never finishes.
	var lastText string

	for output.Iterations < e.maxIterations {
		if err := ctx.Err(); err != nil {
			output.Answer = lastText
			output.Aborted = true
			return output, err
		}
		output.Iterations++

		text, toolCalls, tokens, err := e.llm.Generate(ctx, messages, llmTools)
		if err != nil {
			output.Aborted = true
			return output, fmt.Errorf("model call failed: %w", err)
		}
		output.TokensUsed += tokens

		if len(toolCalls) == 0 {
			output.Answer = text
			return output, nil
		}
		if text != "" {
			lastText = text
		}

		if len(toolCalls) > e.maxToolCallsPerTurn {
			slog.Warn("truncating tool calls to per-turn limit",
				"requested", len(toolCalls),
				"limit", e.maxToolCallsPerTurn)
			toolCalls = toolCalls[:e.maxToolCallsPerTurn]
		}

		messages = append(messages, llms.Message{
			Role:      llms.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})

		for _, call := range toolCalls {
			if err := ctx.Err(); err != nil {
				output.Answer = lastText
				output.Aborted = true
				return output, err
			}

			result := e.executeCall(ctx, auth, call)
			output.Results = append(output.Results, result)
			output.ToolsUsed = append(output.ToolsUsed, call.Name)

			messages = append(messages, llms.Message{
				Role:       llms.RoleTool,
				Content:    result.Content(),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	output.Answer = lastText
	output.Aborted = true
	return output, ErrLoopLimit
}

// executeCall runs one tool call. Every failure mode becomes a failed
// Result handed back to the model; only the registry lookup can make
// one, and even that is converted rather than propagated.
func (e *Executor) executeCall(ctx context.Context, auth tools.AuthContext, call llms.ToolCall) tools.Result {
	result, err := e.registry.Execute(ctx, call.Name, auth, call.Arguments)
	if err != nil {
		return tools.Result{
			ToolName: call.Name,
			Error:    err.Error(),
			Args:     call.Arguments,
		}
	}
	return result
}

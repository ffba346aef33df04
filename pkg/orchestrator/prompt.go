package orchestrator

import (
	"fmt"
	"strings"

	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/session"
)

// buildSystemPrompt assembles the system turn: assistant identity,
// caller scope, and the retrieved context block when there is one.
func buildSystemPrompt(req QueryRequest, contextBlock string, agentMode bool) string {
	var b strings.Builder

	b.WriteString("You are the workspace assistant for a project management platform.\n")
	if req.OrganizationName != "" {
		fmt.Fprintf(&b, "You are acting within the organization %q.\n", req.OrganizationName)
	}
	if req.UserName != "" {
		fmt.Fprintf(&b, "You are assisting %s.\n", req.UserName)
	}

	if agentMode {
		b.WriteString("\nYou can call tools to read and change workspace state. " +
			"Use a tool when the user asks for an action; answer directly when they ask a question. " +
			"Never invent project, task or member ids: look them up first.\n")
	} else {
		b.WriteString("\nAnswer from the provided workspace context. " +
			"If the context does not contain the answer, say so instead of guessing.\n")
	}

	if contextBlock != "" {
		b.WriteString("\n")
		b.WriteString(contextBlock)
	}

	return b.String()
}

// buildMessages turns the system prompt, stored history and the new
// user query into the provider message sequence.
func buildMessages(system string, history []session.Message, query string) []llms.Message {
	messages := make([]llms.Message, 0, len(history)+2)
	messages = append(messages, llms.Message{Role: llms.RoleSystem, Content: system})

	for _, m := range history {
		role := llms.RoleUser
		if m.Role == session.RoleAssistant {
			role = llms.RoleAssistant
		}
		messages = append(messages, llms.Message{Role: role, Content: m.Content})
	}

	messages = append(messages, llms.Message{Role: llms.RoleUser, Content: query})
	return messages
}

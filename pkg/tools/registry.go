package tools

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/observability"
	"github.com/planhub/ai-engine/pkg/registry"
)

// Registry holds the registered tools and executes calls against them.
type Registry struct {
	*registry.BaseRegistry[*Definition]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[*Definition]()}
}

// RegisterTool adds a tool under its own name.
func (r *Registry) RegisterTool(def *Definition) error {
	if def == nil {
		return fmt.Errorf("tool definition is nil")
	}
	return r.Register(def.Name(), def)
}

// ByCategories returns tools matching any of the given categories,
// in registry order. An empty category set returns all tools.
func (r *Registry) ByCategories(categories []Category) []*Definition {
	all := r.List()
	if len(categories) == 0 {
		return all
	}

	allowed := make(map[Category]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	var out []*Definition
	for _, def := range all {
		if allowed[def.Category()] {
			out = append(out, def)
		}
	}
	return out
}

// LLMDefinitions converts tools to the provider wire form.
func LLMDefinitions(defs []*Definition) []llms.ToolDefinition {
	out := make([]llms.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.LLMDefinition())
	}
	return out
}

// Execute runs one tool call. Unknown tools return a Go error;
// argument validation failures and handler failures come back as a
// failed Result so the caller can surface them to the model.
func (r *Registry) Execute(ctx context.Context, name string, auth AuthContext, args map[string]any) (Result, error) {
	def, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("tool not found: %s", name)
	}

	tracer := observability.GetTracer("tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, name),
			attribute.String(observability.AttrOrganizationID, auth.OrganizationID),
		))
	defer span.End()

	if err := def.ValidateArgs(args); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{ToolName: name, Error: err.Error(), Args: args}, nil
	}

	result := def.handler(ctx, auth, args)
	result.Args = args
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
		slog.Warn("tool execution failed",
			"tool", name,
			"organization_id", auth.OrganizationID,
			"error", result.Error)
	} else {
		slog.Debug("tool executed",
			"tool", name,
			"organization_id", auth.OrganizationID,
			"entity_id", result.EntityID)
	}

	return result, nil
}

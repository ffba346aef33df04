// Package tools defines the executable tool surface the agent can
// invoke. Tools are declared with typed argument structs; JSON schemas
// are generated from the struct tags so the advertised contract never
// drifts from the decoding logic.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/invopop/jsonschema"

	"github.com/planhub/ai-engine/pkg/llms"
)

// Category groups tools for capability discovery and classifier
// routing.
type Category string

const (
	CategoryProjectManagement Category = "projectManagement"
	CategoryTaskManagement    Category = "taskManagement"
	CategoryCommunication     Category = "communication"
	CategoryTeam              Category = "team"
)

// AuthContext carries the caller identity every tool execution is
// scoped to. Tools must never act outside AuthContext.OrganizationID.
type AuthContext struct {
	OrganizationID   string
	OrganizationName string
	UserID           string
	UserName         string
}

// Result is the uniform outcome of a tool execution. A failed
// execution is a Result with Success false, not a Go error: failures
// are fed back to the model so it can react.
type Result struct {
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`

	// EntityID identifies the record a mutating tool created or
	// changed, when there is one.
	EntityID string `json:"entity_id,omitempty"`

	// Args echoes the invocation arguments for the session audit
	// trail. Excluded from Content so the model never sees its own
	// arguments repeated back.
	Args map[string]any `json:"-"`
}

// Content renders the result as the string handed back to the model.
func (r Result) Content() string {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"tool_name":%q,"success":false,"error":"unserializable result"}`, r.ToolName)
	}
	return string(raw)
}

// Handler executes one tool call with already decoded arguments.
type Handler func(ctx context.Context, auth AuthContext, args map[string]any) Result

// Definition is a registered tool: its advertised schema plus the
// handler that runs it.
type Definition struct {
	name        string
	description string
	category    Category
	mutating    bool
	parameters  map[string]any
	required    []string
	handler     Handler
}

func (d *Definition) Name() string        { return d.name }
func (d *Definition) Description() string { return d.description }
func (d *Definition) Category() Category  { return d.category }
func (d *Definition) Mutating() bool      { return d.mutating }
func (d *Definition) Required() []string  { return d.required }

// Parameters returns the JSON schema of the tool's arguments.
func (d *Definition) Parameters() map[string]any {
	return d.parameters
}

// LLMDefinition converts the tool into the form advertised to chat
// providers.
func (d *Definition) LLMDefinition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        d.name,
		Description: d.description,
		Parameters:  d.parameters,
	}
}

// ValidateArgs checks that every required argument is present and
// non-empty. Extra arguments are tolerated; the typed decode drops
// them.
func (d *Definition) ValidateArgs(args map[string]any) error {
	for _, field := range d.required {
		v, ok := args[field]
		if !ok || v == nil {
			return fmt.Errorf("missing required argument %q", field)
		}
		if s, isString := v.(string); isString && s == "" {
			return fmt.Errorf("required argument %q is empty", field)
		}
	}
	return nil
}

// New builds a Definition from a typed handler. The argument schema is
// reflected from Args; jsonschema tags on the struct control the
// descriptions and required set.
func New[Args any](name, description string, category Category, mutating bool, fn func(ctx context.Context, auth AuthContext, args Args) Result) (*Definition, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool handler is required")
	}

	var zero Args
	schema, required, err := reflectSchema(zero)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect schema for tool %s: %w", name, err)
	}

	handler := func(ctx context.Context, auth AuthContext, raw map[string]any) Result {
		var args Args
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &args,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return Result{ToolName: name, Error: fmt.Sprintf("decoder setup failed: %v", err)}
		}
		if err := decoder.Decode(raw); err != nil {
			return Result{ToolName: name, Error: fmt.Sprintf("invalid arguments: %v", err)}
		}
		result := fn(ctx, auth, args)
		result.ToolName = name
		return result
	}

	return &Definition{
		name:        name,
		description: description,
		category:    category,
		mutating:    mutating,
		parameters:  schema,
		required:    required,
		handler:     handler,
	}, nil
}

// reflectSchema generates an inline JSON schema for the argument
// struct and extracts its required field names.
func reflectSchema(v any) (map[string]any, []string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}

	schema := reflector.Reflect(v)
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")

	var required []string
	if list, ok := out["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				required = append(required, s)
			}
		}
	}

	return out, required, nil
}

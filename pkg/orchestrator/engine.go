// Package orchestrator ties the engine together: it classifies each
// query, grounds it with retrieved context, routes it to either a plain
// model answer or the tool-calling agent, and maintains session state
// across turns.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planhub/ai-engine/pkg/agentexec"
	"github.com/planhub/ai-engine/pkg/classifier"
	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/retrieval"
	"github.com/planhub/ai-engine/pkg/session"
	"github.com/planhub/ai-engine/pkg/syncer"
	"github.com/planhub/ai-engine/pkg/tools"
)

// Engine is the orchestration entry point the transport layer calls.
type Engine struct {
	classifier *classifier.Classifier
	pipeline   *retrieval.Pipeline
	executor   *agentexec.Executor
	llm        llms.Provider
	registry   *tools.Registry
	sessions   *session.Store
	syncer     *syncer.Syncer
	config     config.AgentConfig
}

func NewEngine(
	cls *classifier.Classifier,
	pipeline *retrieval.Pipeline,
	executor *agentexec.Executor,
	llm llms.Provider,
	registry *tools.Registry,
	sessions *session.Store,
	sync *syncer.Syncer,
	cfg config.AgentConfig,
) *Engine {
	return &Engine{
		classifier: cls,
		pipeline:   pipeline,
		executor:   executor,
		llm:        llm,
		registry:   registry,
		sessions:   sessions,
		syncer:     sync,
		config:     cfg,
	}
}

// Query handles one conversational turn.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if err := validateQuery(req); err != nil {
		return nil, err
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	// Turns against the same session serialize; the session key is
	// scoped to the organization so ids cannot collide across tenants.
	sessionKey := req.OrganizationID + ":" + req.SessionID
	unlock := e.sessions.Acquire(sessionKey)
	defer unlock()

	contextBlock, sources, err := e.retrieveContext(ctx, req)
	if err != nil {
		return nil, err
	}

	cls := e.classifier.Classify(req.Query)
	mode := cls.Mode
	if req.EnableAgent != nil {
		if *req.EnableAgent {
			mode = classifier.ModeAgent
		} else {
			mode = classifier.ModeInformational
		}
	}

	history := e.sessions.History(sessionKey)

	var resp *QueryResponse
	switch mode {
	case classifier.ModeAgent:
		resp, err = e.runAgent(ctx, req, cls, contextBlock, history)
	default:
		resp, err = e.runInformational(ctx, req, contextBlock, history)
	}
	if err != nil {
		return nil, err
	}

	resp.SessionID = req.SessionID
	resp.ContextUsed = contextBlock != ""
	resp.Sources = sources
	if mode == classifier.ModeInformational && !resp.ContextUsed {
		resp.OutOfScope = true
	}

	now := time.Now()
	e.sessions.Append(sessionKey,
		session.Message{Role: session.RoleUser, Content: req.Query, CreatedAt: now},
		session.Message{
			Role:      session.RoleAssistant,
			Content:   resp.Answer,
			ToolCalls: resp.ToolCalls,
			CreatedAt: now,
		},
	)

	return resp, nil
}

func validateQuery(req QueryRequest) error {
	if req.OrganizationID == "" {
		return newError(KindValidation, "organization_id is required", nil)
	}
	if req.UserID == "" {
		return newError(KindValidation, "user_id is required", nil)
	}
	if strings.TrimSpace(req.Query) == "" {
		return newError(KindValidation, "query is required", nil)
	}
	return nil
}

// retrieveContext fetches grounding context. A retrieval failure is
// terminal for the turn; an answer generated without the index would
// be fabricated, not grounded. An empty index is not a failure and
// comes back as empty context.
func (e *Engine) retrieveContext(ctx context.Context, req QueryRequest) (string, []Source, error) {
	matches, err := e.pipeline.Retrieve(ctx, req.OrganizationID, req.Query, req.TopK)
	if err != nil {
		slog.Error("retrieval failed",
			"organization_id", req.OrganizationID,
			"error", err)
		return "", nil, newError(KindUpstreamUnavailable, "retrieval failed", err)
	}

	// Matches arrive score-descending; keep one source per entity.
	var sources []Source
	seen := map[string]bool{}
	for _, m := range matches {
		key := m.SourceType + "/" + m.EntityID
		if seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, Source{
			SourceType: m.SourceType,
			EntityID:   m.EntityID,
			Title:      m.Title,
			Score:      m.Score,
		})
	}
	return e.pipeline.FormatContext(matches), sources, nil
}

func (e *Engine) runInformational(ctx context.Context, req QueryRequest, contextBlock string, history []session.Message) (*QueryResponse, error) {
	system := buildSystemPrompt(req, contextBlock, false)
	messages := buildMessages(system, history, req.Query)

	answer, _, tokens, err := e.llm.Generate(ctx, messages, nil)
	if err != nil {
		return nil, mapLLMError(err)
	}

	return &QueryResponse{
		Answer:     answer,
		Mode:       string(classifier.ModeInformational),
		TokensUsed: tokens,
	}, nil
}

func (e *Engine) runAgent(ctx context.Context, req QueryRequest, cls classifier.Classification, contextBlock string, history []session.Message) (*QueryResponse, error) {
	if !e.config.GroundWithContext {
		contextBlock = ""
	}

	system := buildSystemPrompt(req, contextBlock, true)
	messages := buildMessages(system, history, req.Query)

	// A forced agent turn has no classifier categories; advertise the
	// full tool set in that case. A caller-supplied category list
	// restricts the surface either way.
	defs := e.registry.ByCategories(effectiveCategories(cls.Categories, req.EnabledToolCategories))
	auth := tools.AuthContext{
		OrganizationID:   req.OrganizationID,
		OrganizationName: req.OrganizationName,
		UserID:           req.UserID,
		UserName:         req.UserName,
	}

	output, err := e.executor.Run(ctx, auth, messages, defs)
	if err != nil &&
		!errors.Is(err, agentexec.ErrLoopLimit) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) {
		return nil, mapLLMError(err)
	}

	// A tripped iteration limit or caller cancellation still returns
	// the partial answer and the tool audit trail; the Aborted flag
	// tells the caller the loop was cut short.
	return &QueryResponse{
		Answer:     output.Answer,
		Mode:       string(classifier.ModeAgent),
		Aborted:    output.Aborted,
		ToolCalls:  toolCallRecords(output.Results),
		Iterations: output.Iterations,
		TokensUsed: output.TokensUsed,
	}, nil
}

// effectiveCategories applies the caller's category restriction to the
// classifier's output. With no classifier categories the restriction
// becomes the whole surface.
func effectiveCategories(classified, enabled []tools.Category) []tools.Category {
	if len(enabled) == 0 {
		return classified
	}
	if len(classified) == 0 {
		return enabled
	}
	allowed := map[tools.Category]bool{}
	for _, c := range enabled {
		allowed[c] = true
	}
	var out []tools.Category
	for _, c := range classified {
		if allowed[c] {
			out = append(out, c)
		}
	}
	if out == nil {
		// Disjoint sets: honor the caller's restriction.
		return enabled
	}
	return out
}

func toolCallRecords(results []tools.Result) []session.ToolCallRecord {
	records := make([]session.ToolCallRecord, 0, len(results))
	for _, r := range results {
		records = append(records, session.ToolCallRecord{
			Name:     r.ToolName,
			Args:     r.Args,
			Success:  r.Success,
			Error:    r.Error,
			EntityID: r.EntityID,
		})
	}
	return records
}

func mapLLMError(err error) error {
	var llmErr *llms.LLMError
	if errors.As(err, &llmErr) {
		return newError(KindUpstreamUnavailable, "model provider unavailable", err)
	}
	return newError(KindInternal, "query failed", err)
}

// ExecuteAction invokes one tool directly, without the model in the
// loop. Validation failures inside the tool come back as a failed
// Result, exactly as they would to the model.
func (e *Engine) ExecuteAction(ctx context.Context, req ActionRequest) (*ActionResponse, error) {
	if req.OrganizationID == "" {
		return nil, newError(KindValidation, "organization_id is required", nil)
	}
	if req.UserID == "" {
		return nil, newError(KindValidation, "user_id is required", nil)
	}
	if req.ToolName == "" {
		return nil, newError(KindValidation, "tool_name is required", nil)
	}

	auth := tools.AuthContext{
		OrganizationID:   req.OrganizationID,
		OrganizationName: req.OrganizationName,
		UserID:           req.UserID,
		UserName:         req.UserName,
	}

	args := req.Arguments
	if args == nil {
		args = map[string]any{}
	}

	result, err := e.registry.Execute(ctx, req.ToolName, auth, args)
	if err != nil {
		return nil, newError(KindNotFound, "unknown tool "+req.ToolName, err)
	}

	return &ActionResponse{Result: result}, nil
}

// Capabilities lists the registered tool surface grouped by category.
func (e *Engine) Capabilities() Capabilities {
	caps := Capabilities{Categories: map[tools.Category][]ToolCapability{}}
	for _, def := range e.registry.List() {
		caps.Categories[def.Category()] = append(caps.Categories[def.Category()], ToolCapability{
			Name:        def.Name(),
			Description: def.Description(),
			Category:    def.Category(),
			Mutating:    def.Mutating(),
			Parameters:  def.Parameters(),
		})
	}
	return caps
}

// Tool returns one tool's capability entry.
func (e *Engine) Tool(name string) (*ToolCapability, error) {
	def, ok := e.registry.Get(name)
	if !ok {
		return nil, newError(KindNotFound, "unknown tool "+name, nil)
	}
	return &ToolCapability{
		Name:        def.Name(),
		Description: def.Description(),
		Category:    def.Category(),
		Mutating:    def.Mutating(),
		Parameters:  def.Parameters(),
	}, nil
}

// Sync refreshes the organization's index. An empty sourceType syncs
// every source; a sourceType alone syncs that source; sourceType plus
// entityID replaces a single entity's chunks.
func (e *Engine) Sync(ctx context.Context, organizationID, sourceType, entityID string) (*syncer.Report, error) {
	if organizationID == "" {
		return nil, newError(KindValidation, "organization_id is required", nil)
	}
	if entityID != "" && sourceType == "" {
		return nil, newError(KindValidation, "source_type is required when entity_id is set", nil)
	}

	if sourceType == "" {
		report := e.syncer.SyncAll(ctx, organizationID)
		return &report, nil
	}

	var (
		sr  syncer.SourceReport
		err error
	)
	if entityID != "" {
		sr, err = e.syncer.SyncEntity(ctx, organizationID, sourceType, entityID)
	} else {
		sr, err = e.syncer.SyncSourceType(ctx, organizationID, sourceType)
	}
	if err != nil {
		var syncErr *syncer.SyncError
		if errors.As(err, &syncErr) && syncErr.Message == "unknown source type" {
			return nil, newError(KindNotFound, "unknown source type "+sourceType, err)
		}
		sr.Error = err.Error()
	}

	return &syncer.Report{
		OrganizationID: organizationID,
		Sources:        []syncer.SourceReport{sr},
	}, nil
}

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planhub/ai-engine/pkg/agentexec"
	"github.com/planhub/ai-engine/pkg/chunking"
	"github.com/planhub/ai-engine/pkg/classifier"
	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/embedders"
	"github.com/planhub/ai-engine/pkg/llms"
	"github.com/planhub/ai-engine/pkg/retrieval"
	"github.com/planhub/ai-engine/pkg/session"
	"github.com/planhub/ai-engine/pkg/syncer"
	"github.com/planhub/ai-engine/pkg/tools"
	"github.com/planhub/ai-engine/pkg/vectordb"
)

// scriptedLLM replays canned turns and records what it was asked.
type scriptedLLM struct {
	turns []scriptedTurn
	calls int

	// onGenerate, when set, runs at the start of each call with the
	// 1-based call number.
	onGenerate func(call int)

	seenMessages [][]llms.Message
	seenTools    [][]llms.ToolDefinition
}

type scriptedTurn struct {
	text      string
	toolCalls []llms.ToolCall
	err       error
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llms.Message, defs []llms.ToolDefinition) (string, []llms.ToolCall, int, error) {
	if s.onGenerate != nil {
		s.onGenerate(s.calls + 1)
	}
	copied := make([]llms.Message, len(messages))
	copy(copied, messages)
	s.seenMessages = append(s.seenMessages, copied)
	s.seenTools = append(s.seenTools, defs)

	if s.calls >= len(s.turns) {
		return "default answer", nil, 1, nil
	}
	turn := s.turns[s.calls]
	s.calls++
	return turn.text, turn.toolCalls, 1, turn.err
}

func (s *scriptedLLM) ModelName() string { return "scripted" }
func (s *scriptedLLM) Close() error      { return nil }

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int    { return 3 }
func (stubEmbedder) ModelName() string { return "stub" }
func (stubEmbedder) Close() error      { return nil }

// failingEmbedder simulates an unreachable embedding backend.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func (failingEmbedder) Dimension() int    { return 3 }
func (failingEmbedder) ModelName() string { return "failing" }
func (failingEmbedder) Close() error      { return nil }

type createTaskArgs struct {
	ProjectID string `json:"project_id" jsonschema:"required,description=Project id"`
	Title     string `json:"title" jsonschema:"required,description=Task title"`
}

type testHarness struct {
	engine   *Engine
	llm      *scriptedLLM
	store    vectordb.Store
	sessions *session.Store
	created  *[]createTaskArgs
}

func newHarness(t *testing.T, llm *scriptedLLM) *testHarness {
	t.Helper()
	return newHarnessWithEmbedder(t, llm, stubEmbedder{})
}

func newHarnessWithEmbedder(t *testing.T, llm *scriptedLLM, emb embedders.Provider) *testHarness {
	t.Helper()

	store, err := vectordb.NewStore(&config.VectorStoreConfig{Type: "chromem"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pipeline := retrieval.NewPipeline(emb, store,
		config.RetrievalConfig{TopK: 10, MaxTopK: 100, MaxContextChars: 8000})

	created := &[]createTaskArgs{}
	reg := tools.NewRegistry()
	createTask, err := tools.New("create_task", "Create a task.", tools.CategoryTaskManagement, true,
		func(_ context.Context, _ tools.AuthContext, args createTaskArgs) tools.Result {
			*created = append(*created, args)
			return tools.Result{Success: true, EntityID: "task-1", Data: args}
		})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTool(createTask))

	listMembers, err := tools.New("list_team_members", "List members.", tools.CategoryTeam, false,
		func(context.Context, tools.AuthContext, struct{}) tools.Result {
			return tools.Result{Success: true, Data: []string{"dana", "lee"}}
		})
	require.NoError(t, err)
	require.NoError(t, reg.RegisterTool(listMembers))

	sessions := session.NewStore(time.Hour, 20)
	executor := agentexec.New(llm, reg, 5, 5)
	agentCfg := config.AgentConfig{MaxIterations: 5, MaxToolCallsPerTurn: 5, GroundWithContext: true}

	splitter, err := chunking.NewSplitter(chunking.Config{MaxTokens: 50, OverlapTokens: 5})
	require.NoError(t, err)
	sync := syncer.New(nil, splitter, stubEmbedder{}, store)

	engine := NewEngine(classifier.New(), pipeline, executor, llm, reg, sessions, sync, agentCfg)
	return &testHarness{engine: engine, llm: llm, store: store, sessions: sessions, created: created}
}

func TestQueryValidation(t *testing.T) {
	h := newHarness(t, &scriptedLLM{})

	cases := []QueryRequest{
		{UserID: "u1", Query: "hi"},
		{OrganizationID: "o1", Query: "hi"},
		{OrganizationID: "o1", UserID: "u1", Query: "   "},
	}
	for _, req := range cases {
		_, err := h.engine.Query(context.Background(), req)
		var engErr *EngineError
		require.ErrorAs(t, err, &engErr)
		assert.Equal(t, KindValidation, engErr.Kind)
	}
}

func TestQueryInformational(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "The redesign is on track."}}}
	h := newHarness(t, llm)

	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1",
		UserID:         "u1",
		Query:          "What is the status of the redesign?",
	})
	require.NoError(t, err)

	assert.Equal(t, "The redesign is on track.", resp.Answer)
	assert.Equal(t, string(classifier.ModeInformational), resp.Mode)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, resp.ToolCalls)

	// Informational turns never advertise tools.
	require.Len(t, llm.seenTools, 1)
	assert.Empty(t, llm.seenTools[0])
}

func TestQueryAgentExecutesTool(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{toolCalls: []llms.ToolCall{{ID: "c1", Name: "create_task", Arguments: map[string]any{
			"project_id": "p1", "title": "Fix login",
		}}}},
		{text: "Created the task."},
	}}
	h := newHarness(t, llm)

	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1",
		UserID:         "u1",
		Query:          "Create a task called Fix login",
	})
	require.NoError(t, err)

	assert.Equal(t, string(classifier.ModeAgent), resp.Mode)
	assert.Equal(t, "Created the task.", resp.Answer)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "create_task", resp.ToolCalls[0].Name)
	assert.True(t, resp.ToolCalls[0].Success)
	assert.Equal(t, "task-1", resp.ToolCalls[0].EntityID)
	assert.Equal(t, "Fix login", resp.ToolCalls[0].Args["title"])
	assert.Equal(t, "p1", resp.ToolCalls[0].Args["project_id"])

	require.Len(t, *h.created, 1)
	assert.Equal(t, "Fix login", (*h.created)[0].Title)

	// Agent turns advertise only the classified categories.
	require.NotEmpty(t, llm.seenTools[0])
	for _, def := range llm.seenTools[0] {
		assert.Equal(t, "create_task", def.Name)
	}
}

func TestQueryEnableAgentOverridesToInformational(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "I cannot do that right now."}}}
	h := newHarness(t, llm)

	off := false
	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1",
		UserID:         "u1",
		Query:          "Create a task called Fix login",
		EnableAgent:    &off,
	})
	require.NoError(t, err)

	assert.Equal(t, string(classifier.ModeInformational), resp.Mode)
	assert.Empty(t, llm.seenTools[0])
	assert.Empty(t, *h.created)
}

func TestQueryEnableAgentForcesAgentWithAllTools(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "Nothing to do."}}}
	h := newHarness(t, llm)

	on := true
	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1",
		UserID:         "u1",
		Query:          "hello there",
		EnableAgent:    &on,
	})
	require.NoError(t, err)

	assert.Equal(t, string(classifier.ModeAgent), resp.Mode)
	// No classifier categories, so the full tool surface is advertised.
	assert.Len(t, llm.seenTools[0], 2)
}

func TestQuerySessionContinuity(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{
		{text: "first answer"},
		{text: "second answer"},
	}}
	h := newHarness(t, llm)

	first, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1", UserID: "u1", Query: "first question?",
	})
	require.NoError(t, err)

	_, err = h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1", UserID: "u1", SessionID: first.SessionID,
		Query: "second question?",
	})
	require.NoError(t, err)

	// The second model call must include the first exchange.
	require.Len(t, llm.seenMessages, 2)
	second := llm.seenMessages[1]
	var contents []string
	for _, m := range second {
		contents = append(contents, m.Content)
	}
	assert.Contains(t, contents, "first question?")
	assert.Contains(t, contents, "first answer")
}

func TestQueryLoopLimitReturnsPartialAnswer(t *testing.T) {
	llm := &scriptedLLM{}
	for i := 0; i < 10; i++ {
		llm.turns = append(llm.turns, scriptedTurn{
			text:      "still gathering data",
			toolCalls: []llms.ToolCall{{ID: "c", Name: "list_team_members", Arguments: map[string]any{}}},
		})
	}
	h := newHarness(t, llm)

	on := true
	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1", UserID: "u1", Query: "loop forever", EnableAgent: &on,
	})
	require.NoError(t, err)

	assert.True(t, resp.Aborted)
	assert.Equal(t, "still gathering data", resp.Answer)
	assert.Equal(t, 5, resp.Iterations)
	assert.NotEmpty(t, resp.ToolCalls)
}

func TestQueryRetrievalFailureIsTerminal(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "made up answer"}}}
	h := newHarnessWithEmbedder(t, llm, failingEmbedder{})

	_, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1",
		UserID:         "u1",
		Query:          "What is the status of the redesign?",
	})

	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, KindUpstreamUnavailable, engErr.Kind)

	// Without retrieved context the model must never be asked at all.
	assert.Empty(t, llm.seenMessages)
}

func TestQueryCancellationReturnsPartialTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	llm := &scriptedLLM{
		turns: []scriptedTurn{
			{text: "checking the roster", toolCalls: []llms.ToolCall{
				{ID: "c1", Name: "list_team_members", Arguments: map[string]any{}},
			}},
			{toolCalls: []llms.ToolCall{
				{ID: "c2", Name: "list_team_members", Arguments: map[string]any{}},
			}},
		},
	}
	llm.onGenerate = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	h := newHarness(t, llm)

	on := true
	resp, err := h.engine.Query(ctx, QueryRequest{
		OrganizationID: "o1", UserID: "u1", Query: "who is on the team?", EnableAgent: &on,
	})
	require.NoError(t, err)

	// The interrupted turn still surfaces the last model text and the
	// tool executions that completed before the cut.
	assert.True(t, resp.Aborted)
	assert.Equal(t, "checking the roster", resp.Answer)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "list_team_members", resp.ToolCalls[0].Name)
}

func TestQueryEnabledToolCategoriesRestrictSurface(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "done"}}}
	h := newHarness(t, llm)

	on := true
	_, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID:        "o1",
		UserID:                "u1",
		Query:                 "hello there",
		EnableAgent:           &on,
		EnabledToolCategories: []tools.Category{tools.CategoryTeam},
	})
	require.NoError(t, err)

	require.Len(t, llm.seenTools[0], 1)
	assert.Equal(t, "list_team_members", llm.seenTools[0][0].Name)
}

func TestQueryOutOfScopeOnEmptyIndex(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "I do not have data on that."}}}
	h := newHarness(t, llm)

	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1", UserID: "u1", Query: "What is the status of the redesign?",
	})
	require.NoError(t, err)

	assert.True(t, resp.OutOfScope)
	assert.False(t, resp.ContextUsed)
	assert.Empty(t, resp.Sources)
}

func TestQuerySourcesListRetrievedEntities(t *testing.T) {
	llm := &scriptedLLM{turns: []scriptedTurn{{text: "The redesign ships next month."}}}
	h := newHarness(t, llm)

	require.NoError(t, h.store.Upsert(context.Background(), retrieval.NamespaceFor("o1"), []vectordb.Record{{
		ID:      "r1",
		Vector:  []float32{1, 0, 0},
		Content: "Project: Website redesign. Ships next month.",
		Metadata: map[string]any{
			retrieval.MetaOrganizationID: "o1",
			retrieval.MetaSourceType:     "project",
			retrieval.MetaEntityID:       "p1",
			retrieval.MetaChunkIndex:     "0",
			retrieval.MetaTitle:          "Website redesign",
		},
	}}))

	resp, err := h.engine.Query(context.Background(), QueryRequest{
		OrganizationID: "o1", UserID: "u1", Query: "When does the redesign ship?",
	})
	require.NoError(t, err)

	assert.True(t, resp.ContextUsed)
	assert.False(t, resp.OutOfScope)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "project", resp.Sources[0].SourceType)
	assert.Equal(t, "p1", resp.Sources[0].EntityID)
	assert.Equal(t, "Website redesign", resp.Sources[0].Title)
}

func TestExecuteActionDirect(t *testing.T) {
	h := newHarness(t, &scriptedLLM{})

	resp, err := h.engine.ExecuteAction(context.Background(), ActionRequest{
		OrganizationID: "o1",
		UserID:         "u1",
		ToolName:       "create_task",
		Arguments:      map[string]any{"project_id": "p1", "title": "Direct task"},
	})
	require.NoError(t, err)

	assert.True(t, resp.Result.Success)
	assert.Equal(t, "task-1", resp.Result.EntityID)
	require.Len(t, *h.created, 1)
	assert.Equal(t, "Direct task", (*h.created)[0].Title)
}

func TestExecuteActionUnknownTool(t *testing.T) {
	h := newHarness(t, &scriptedLLM{})

	_, err := h.engine.ExecuteAction(context.Background(), ActionRequest{
		OrganizationID: "o1", UserID: "u1", ToolName: "nope",
	})
	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, KindNotFound, engErr.Kind)
}

func TestExecuteActionValidationFailureIsResult(t *testing.T) {
	h := newHarness(t, &scriptedLLM{})

	resp, err := h.engine.ExecuteAction(context.Background(), ActionRequest{
		OrganizationID: "o1", UserID: "u1", ToolName: "create_task",
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	assert.False(t, resp.Result.Success)
	assert.NotEmpty(t, resp.Result.Error)
}

func TestCapabilities(t *testing.T) {
	h := newHarness(t, &scriptedLLM{})

	caps := h.engine.Capabilities()
	require.Contains(t, caps.Categories, tools.CategoryTaskManagement)
	require.Contains(t, caps.Categories, tools.CategoryTeam)

	taskTools := caps.Categories[tools.CategoryTaskManagement]
	require.Len(t, taskTools, 1)
	assert.Equal(t, "create_task", taskTools[0].Name)
	assert.True(t, taskTools[0].Mutating)
	assert.NotEmpty(t, taskTools[0].Parameters)
}

func TestToolLookup(t *testing.T) {
	h := newHarness(t, &scriptedLLM{})

	tool, err := h.engine.Tool("create_task")
	require.NoError(t, err)
	assert.Equal(t, "create_task", tool.Name)

	_, err = h.engine.Tool("ghost")
	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, KindNotFound, engErr.Kind)
}

package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/vectordb"
)

// fakeEmbedder returns fixed vectors for known texts and a neutral
// vector otherwise.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 3 }
func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Close() error      { return nil }

func newTestStore(t *testing.T) vectordb.Store {
	t.Helper()
	store, err := vectordb.NewStore(&config.VectorStoreConfig{Type: "chromem"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{TopK: 10, MaxTopK: 100, MaxContextChars: 8000}
}

func seed(t *testing.T, store vectordb.Store, organizationID string, records []vectordb.Record) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnsureNamespace(ctx, NamespaceFor(organizationID), 3))
	require.NoError(t, store.Upsert(ctx, NamespaceFor(organizationID), records))
}

func record(id, organizationID, content string, vector []float32, chunkIndex int) vectordb.Record {
	return vectordb.Record{
		ID:      id,
		Vector:  vector,
		Content: content,
		Metadata: map[string]any{
			MetaOrganizationID: organizationID,
			MetaSourceType:     "task",
			MetaEntityID:       "entity-" + id,
			MetaChunkIndex:     "0",
		},
	}
}

// stalledEmbedder blocks until its context is cancelled.
type stalledEmbedder struct{}

func (stalledEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledEmbedder) Dimension() int    { return 3 }
func (stalledEmbedder) ModelName() string { return "stalled" }
func (stalledEmbedder) Close() error      { return nil }

func TestRetrieveEmptyIndexReturnsNoMatches(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(&fakeEmbedder{}, store, testConfig())

	matches, err := p.Retrieve(context.Background(), "org-empty", "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieveRequiresOrganization(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(&fakeEmbedder{}, store, testConfig())

	_, err := p.Retrieve(context.Background(), "", "query", 0)
	assert.Error(t, err)
}

func TestRetrieveBlankQueryIsEmpty(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(&fakeEmbedder{}, store, testConfig())

	matches, err := p.Retrieve(context.Background(), "org-1", "   ", 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieveFindsRelevantContent(t *testing.T) {
	store := newTestStore(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"deploy status": {1, 0, 0},
	}}
	p := NewPipeline(emb, store, testConfig())

	seed(t, store, "org-1", []vectordb.Record{
		record("r1", "org-1", "Task: Fix deploy pipeline", []float32{1, 0, 0}, 0),
		record("r2", "org-1", "Task: Refresh branding assets", []float32{0, 1, 0}, 0),
	})

	matches, err := p.Retrieve(context.Background(), "org-1", "deploy status", 0)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "Task: Fix deploy pipeline", matches[0].Content)
	assert.Equal(t, "entity-r1", matches[0].EntityID)
}

func TestRetrieveTenantIsolation(t *testing.T) {
	store := newTestStore(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"secret plans": {1, 0, 0},
	}}
	p := NewPipeline(emb, store, testConfig())

	seed(t, store, "org-a", []vectordb.Record{
		record("a1", "org-a", "Org A confidential roadmap", []float32{1, 0, 0}, 0),
	})
	seed(t, store, "org-b", []vectordb.Record{
		record("b1", "org-b", "Org B confidential roadmap", []float32{1, 0, 0}, 0),
	})

	matches, err := p.Retrieve(context.Background(), "org-a", "secret plans", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Org A confidential roadmap", matches[0].Content)

	for _, m := range matches {
		assert.NotContains(t, m.Content, "Org B")
	}
}

func TestRetrieveDropsMislabeledRecords(t *testing.T) {
	store := newTestStore(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	p := NewPipeline(emb, store, testConfig())

	// A record written into org-a's namespace but carrying another
	// organization's id must never be returned.
	seed(t, store, "org-a", []vectordb.Record{
		record("good", "org-a", "legitimate", []float32{1, 0, 0}, 0),
		record("bad", "org-z", "misrouted", []float32{1, 0, 0}, 0),
	})

	matches, err := p.Retrieve(context.Background(), "org-a", "q", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "legitimate", matches[0].Content)
}

func TestRetrieveAppliesThreshold(t *testing.T) {
	store := newTestStore(t)
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	cfg := testConfig()
	cfg.Threshold = 0.9
	p := NewPipeline(emb, store, cfg)

	seed(t, store, "org-1", []vectordb.Record{
		record("near", "org-1", "close match", []float32{1, 0, 0}, 0),
		record("far", "org-1", "weak match", []float32{0, 1, 0}, 0),
	})

	matches, err := p.Retrieve(context.Background(), "org-1", "q", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "close match", matches[0].Content)
}

func TestRetrieveTimeoutCutsOffSlowEmbedder(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig()
	cfg.Timeout = 1
	p := NewPipeline(stalledEmbedder{}, store, cfg)

	start := time.Now()
	_, err := p.Retrieve(context.Background(), "org-1", "query", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetrieveClampsTopK(t *testing.T) {
	store := newTestStore(t)
	cfg := testConfig()
	cfg.MaxTopK = 2
	p := NewPipeline(&fakeEmbedder{}, store, cfg)

	seed(t, store, "org-1", []vectordb.Record{
		record("r1", "org-1", "one", []float32{1, 0, 0}, 0),
		record("r2", "org-1", "two", []float32{1, 0, 0}, 0),
		record("r3", "org-1", "three", []float32{1, 0, 0}, 0),
	})

	matches, err := p.Retrieve(context.Background(), "org-1", "q", 500)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(matches), 2)
}

func TestFormatContextEmpty(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{}, newTestStore(t), testConfig())
	assert.Equal(t, "", p.FormatContext(nil))
}

func TestFormatContextIncludesProvenance(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{}, newTestStore(t), testConfig())

	block := p.FormatContext([]Match{
		{Content: "Ship the beta.", SourceType: "task", Title: "Beta launch", Score: 0.9},
	})
	assert.Contains(t, block, "Ship the beta.")
	assert.Contains(t, block, "task")
	assert.Contains(t, block, "Beta launch")
}

func TestFormatContextDropsWholeLowestScoredChunks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContextChars = 120
	p := NewPipeline(&fakeEmbedder{}, newTestStore(t), cfg)

	big := strings.Repeat("filler ", 30)
	matches := []Match{
		{Content: "top chunk", Score: 0.9},
		{Content: big, Score: 0.5},
		{Content: big, Score: 0.1},
	}

	block := p.FormatContext(matches)
	assert.LessOrEqual(t, len(block), 120)
	assert.Contains(t, block, "top chunk")
	assert.NotContains(t, block, "filler")
}

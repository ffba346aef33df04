// Package retrieval turns a user query into grounded context: embed
// the query, search the organization's namespace, and format the best
// matches under a character budget.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/embedders"
	"github.com/planhub/ai-engine/pkg/observability"
	"github.com/planhub/ai-engine/pkg/vectordb"
)

// Metadata keys written by the sync service and read back here.
const (
	MetaOrganizationID = "organization_id"
	MetaSourceType     = "source_type"
	MetaEntityID       = "entity_id"
	MetaChunkIndex     = "chunk_index"
	MetaTitle          = "title"
)

// NamespaceFor returns the vector namespace of an organization.
func NamespaceFor(organizationID string) string {
	return "org_" + organizationID
}

// Match is one retrieved chunk with its provenance.
type Match struct {
	ID         string
	Score      float32
	Content    string
	SourceType string
	EntityID   string
	ChunkIndex int
	Title      string
}

// RetrievalError wraps pipeline failures.
type RetrievalError struct {
	Operation string
	Message   string
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retrieval %s: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("retrieval %s: %s", e.Operation, e.Message)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Pipeline performs embed-and-search over the organization namespaces.
type Pipeline struct {
	embedder embedders.Provider
	store    vectordb.Store
	config   config.RetrievalConfig
}

func NewPipeline(embedder embedders.Provider, store vectordb.Store, cfg config.RetrievalConfig) *Pipeline {
	return &Pipeline{embedder: embedder, store: store, config: cfg}
}

// Retrieve returns the top matches for query within the organization's
// namespace. topK <= 0 falls back to the configured default; values
// above the configured ceiling are clamped. An empty or missing index
// yields an empty result, not an error.
func (p *Pipeline) Retrieve(ctx context.Context, organizationID, query string, topK int) ([]Match, error) {
	if organizationID == "" {
		return nil, &RetrievalError{Operation: "retrieve", Message: "organization id is required"}
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.config.Timeout)*time.Second)
		defer cancel()
	}

	tracer := observability.GetTracer("retrieval")
	ctx, span := tracer.Start(ctx, observability.SpanRetrieval,
		trace.WithAttributes(attribute.String(observability.AttrOrganizationID, organizationID)))
	defer span.End()

	if topK <= 0 {
		topK = p.config.TopK
	}
	if topK > p.config.MaxTopK {
		topK = p.config.MaxTopK
	}

	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Operation: "retrieve", Message: "failed to embed query", Err: err}
	}

	// The namespace already isolates the tenant; the filter repeats the
	// organization id so a misrouted write can never leak across.
	filter := map[string]any{MetaOrganizationID: organizationID}
	results, err := p.store.Query(ctx, NamespaceFor(organizationID), vector, topK, filter)
	if err != nil {
		return nil, &RetrievalError{Operation: "retrieve", Message: "vector search failed", Err: err}
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Score < p.config.Threshold {
			continue
		}
		if metaString(r.Metadata, MetaOrganizationID) != organizationID {
			slog.Warn("dropping cross-tenant match",
				"expected_org", organizationID,
				"actual_org", metaString(r.Metadata, MetaOrganizationID),
				"id", r.ID)
			continue
		}
		matches = append(matches, toMatch(r))
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].EntityID != matches[j].EntityID {
			return matches[i].EntityID < matches[j].EntityID
		}
		return matches[i].ChunkIndex < matches[j].ChunkIndex
	})

	slog.Debug("retrieval complete",
		"organization_id", organizationID,
		"matches", len(matches),
		"top_k", topK)

	return matches, nil
}

func toMatch(r vectordb.Result) Match {
	chunkIndex := 0
	if raw := metaString(r.Metadata, MetaChunkIndex); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			chunkIndex = n
		}
	}
	return Match{
		ID:         r.ID,
		Score:      r.Score,
		Content:    r.Content,
		SourceType: metaString(r.Metadata, MetaSourceType),
		EntityID:   metaString(r.Metadata, MetaEntityID),
		ChunkIndex: chunkIndex,
		Title:      metaString(r.Metadata, MetaTitle),
	}
}

// metaString reads a metadata value as a string. Backends may return
// numbers for values written as ints.
func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// FormatContext renders matches into a prompt block under the
// configured character budget. Chunks are dropped whole, lowest score
// first, until the block fits; a chunk is never truncated mid-text.
func (p *Pipeline) FormatContext(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}

	kept := make([]Match, len(matches))
	copy(kept, matches)

	for len(kept) > 0 {
		block := renderContext(kept)
		if len(block) <= p.config.MaxContextChars {
			return block
		}
		// kept is sorted best first, so the last entry is the one to
		// sacrifice.
		kept = kept[:len(kept)-1]
	}
	return ""
}

func renderContext(matches []Match) string {
	var b strings.Builder
	b.WriteString("Relevant workspace context:\n")
	for _, m := range matches {
		b.WriteString("\n---\n")
		if m.Title != "" {
			fmt.Fprintf(&b, "[%s: %s]\n", m.SourceType, m.Title)
		} else if m.SourceType != "" {
			fmt.Fprintf(&b, "[%s]\n", m.SourceType)
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

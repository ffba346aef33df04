package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/planhub/ai-engine/pkg/chunking"
	"github.com/planhub/ai-engine/pkg/embedders"
	"github.com/planhub/ai-engine/pkg/observability"
	"github.com/planhub/ai-engine/pkg/retrieval"
	"github.com/planhub/ai-engine/pkg/vectordb"
)

// SyncError wraps a failure in one source's sync pass.
type SyncError struct {
	SourceType string
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync %s: %s: %v", e.SourceType, e.Message, e.Err)
	}
	return fmt.Sprintf("sync %s: %s", e.SourceType, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// SourceReport summarizes one source's sync pass.
type SourceReport struct {
	SourceType string `json:"source_type"`
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes a full sync pass for one organization.
type Report struct {
	OrganizationID string         `json:"organization_id"`
	Sources        []SourceReport `json:"sources"`
}

// Failed reports whether any source errored.
func (r Report) Failed() bool {
	for _, s := range r.Sources {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Syncer runs fetch-chunk-embed-replace passes against the vector
// store.
type Syncer struct {
	fetchers []Fetcher
	splitter *chunking.Splitter
	embedder embedders.Provider
	store    vectordb.Store
}

func New(fetchers []Fetcher, splitter *chunking.Splitter, embedder embedders.Provider, store vectordb.Store) *Syncer {
	return &Syncer{
		fetchers: fetchers,
		splitter: splitter,
		embedder: embedder,
		store:    store,
	}
}

// SyncSource refreshes one source for one organization. A fetch
// failure aborts before anything is deleted, so the previous index
// survives the outage.
func (s *Syncer) SyncSource(ctx context.Context, organizationID string, fetcher Fetcher) (SourceReport, error) {
	sourceType := fetcher.SourceType()

	tracer := observability.GetTracer("syncer")
	ctx, span := tracer.Start(ctx, observability.SpanSyncEntity,
		trace.WithAttributes(
			attribute.String(observability.AttrOrganizationID, organizationID),
			attribute.String(observability.AttrSourceType, sourceType),
		))
	defer span.End()

	report := SourceReport{SourceType: sourceType}

	docs, err := fetcher.Fetch(ctx, organizationID)
	if err != nil {
		return report, &SyncError{SourceType: sourceType, Message: "fetch failed, keeping existing index", Err: err}
	}
	report.Documents = len(docs)

	records, err := s.buildRecords(ctx, organizationID, docs)
	if err != nil {
		return report, err
	}
	report.Chunks = len(records)

	namespace := retrieval.NamespaceFor(organizationID)
	if err := s.store.EnsureNamespace(ctx, namespace, s.embedder.Dimension()); err != nil {
		return report, &SyncError{SourceType: sourceType, Message: "failed to ensure namespace", Err: err}
	}

	// Replace the whole source in two steps. Delete first so entities
	// removed upstream disappear from the index too.
	filter := map[string]any{
		retrieval.MetaOrganizationID: organizationID,
		retrieval.MetaSourceType:     sourceType,
	}
	if err := s.store.DeleteByFilter(ctx, namespace, filter); err != nil {
		return report, &SyncError{SourceType: sourceType, Message: "failed to delete stale chunks", Err: err}
	}

	if len(records) > 0 {
		if err := s.store.Upsert(ctx, namespace, records); err != nil {
			return report, &SyncError{SourceType: sourceType, Message: "failed to upsert chunks", Err: err}
		}
	}

	slog.Info("source synced",
		"organization_id", organizationID,
		"source_type", sourceType,
		"documents", report.Documents,
		"chunks", report.Chunks)

	return report, nil
}

// buildRecords chunks and embeds all documents. Texts are embedded in
// one batch per source to amortize provider round trips.
func (s *Syncer) buildRecords(ctx context.Context, organizationID string, docs []Document) ([]vectordb.Record, error) {
	type pending struct {
		doc        Document
		chunkIndex int
		text       string
	}

	var items []pending
	for _, doc := range docs {
		chunks := s.splitter.Split(doc.Body)
		for _, chunk := range chunks {
			items = append(items, pending{doc: doc, chunkIndex: chunk.Index, text: chunk.Text})
		}
	}
	if len(items) == 0 {
		return nil, nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, &SyncError{SourceType: items[0].doc.SourceType, Message: "failed to embed chunks", Err: err}
	}
	if len(vectors) != len(items) {
		return nil, &SyncError{
			SourceType: items[0].doc.SourceType,
			Message:    fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(items)),
		}
	}

	records := make([]vectordb.Record, len(items))
	for i, item := range items {
		metadata := map[string]any{
			retrieval.MetaOrganizationID: organizationID,
			retrieval.MetaSourceType:     item.doc.SourceType,
			retrieval.MetaEntityID:       item.doc.EntityID,
			retrieval.MetaChunkIndex:     fmt.Sprintf("%d", item.chunkIndex),
		}
		if item.doc.Title != "" {
			metadata[retrieval.MetaTitle] = item.doc.Title
		}
		for k, v := range item.doc.Metadata {
			metadata[k] = v
		}

		records[i] = vectordb.Record{
			ID:       ChunkID(organizationID, item.doc.SourceType, item.doc.EntityID, item.chunkIndex),
			Vector:   vectors[i],
			Content:  item.text,
			Metadata: metadata,
		}
	}

	return records, nil
}

// fetcherFor returns the fetcher registered for a source type.
func (s *Syncer) fetcherFor(sourceType string) (Fetcher, bool) {
	for _, f := range s.fetchers {
		if f.SourceType() == sourceType {
			return f, true
		}
	}
	return nil, false
}

// SyncSourceType refreshes one source type by name.
func (s *Syncer) SyncSourceType(ctx context.Context, organizationID, sourceType string) (SourceReport, error) {
	fetcher, ok := s.fetcherFor(sourceType)
	if !ok {
		return SourceReport{SourceType: sourceType}, &SyncError{SourceType: sourceType, Message: "unknown source type"}
	}
	return s.SyncSource(ctx, organizationID, fetcher)
}

// SyncEntity refreshes a single entity's chunks. The replace is scoped
// to that entity; a successful fetch that no longer contains the
// entity clears its chunks, since upstream removed it.
func (s *Syncer) SyncEntity(ctx context.Context, organizationID, sourceType, entityID string) (SourceReport, error) {
	fetcher, ok := s.fetcherFor(sourceType)
	if !ok {
		return SourceReport{SourceType: sourceType}, &SyncError{SourceType: sourceType, Message: "unknown source type"}
	}

	tracer := observability.GetTracer("syncer")
	ctx, span := tracer.Start(ctx, observability.SpanSyncEntity,
		trace.WithAttributes(
			attribute.String(observability.AttrOrganizationID, organizationID),
			attribute.String(observability.AttrSourceType, sourceType),
		))
	defer span.End()

	report := SourceReport{SourceType: sourceType}

	docs, err := fetcher.Fetch(ctx, organizationID)
	if err != nil {
		return report, &SyncError{SourceType: sourceType, Message: "fetch failed, keeping existing index", Err: err}
	}

	var matched []Document
	for _, doc := range docs {
		if doc.EntityID == entityID {
			matched = append(matched, doc)
		}
	}
	report.Documents = len(matched)

	records, err := s.buildRecords(ctx, organizationID, matched)
	if err != nil {
		return report, err
	}
	report.Chunks = len(records)

	namespace := retrieval.NamespaceFor(organizationID)
	if err := s.store.EnsureNamespace(ctx, namespace, s.embedder.Dimension()); err != nil {
		return report, &SyncError{SourceType: sourceType, Message: "failed to ensure namespace", Err: err}
	}

	filter := map[string]any{
		retrieval.MetaOrganizationID: organizationID,
		retrieval.MetaSourceType:     sourceType,
		retrieval.MetaEntityID:       entityID,
	}
	if err := s.store.DeleteByFilter(ctx, namespace, filter); err != nil {
		return report, &SyncError{SourceType: sourceType, Message: "failed to delete stale chunks", Err: err}
	}

	if len(records) > 0 {
		if err := s.store.Upsert(ctx, namespace, records); err != nil {
			return report, &SyncError{SourceType: sourceType, Message: "failed to upsert chunks", Err: err}
		}
	}

	slog.Info("entity synced",
		"organization_id", organizationID,
		"source_type", sourceType,
		"entity_id", entityID,
		"chunks", report.Chunks)

	return report, nil
}

// SyncAll refreshes every source for one organization. Sources run
// concurrently; one source failing does not stop the others. The
// returned report always covers every source.
func (s *Syncer) SyncAll(ctx context.Context, organizationID string) Report {
	report := Report{
		OrganizationID: organizationID,
		Sources:        make([]SourceReport, len(s.fetchers)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for i, fetcher := range s.fetchers {
		g.Go(func() error {
			sr, err := s.SyncSource(gctx, organizationID, fetcher)
			if err != nil {
				sr.Error = err.Error()
				slog.Error("source sync failed",
					"organization_id", organizationID,
					"source_type", fetcher.SourceType(),
					"error", err)
			}
			mu.Lock()
			report.Sources[i] = sr
			mu.Unlock()
			// Errors are recorded in the report, not propagated, so a
			// failing source never cancels its siblings.
			return nil
		})
	}

	g.Wait()
	return report
}

package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/planhub/ai-engine/pkg/config"
)

// ChromemStore implements Store over chromem-go, an embedded pure-Go
// vector database. It needs no external services, which makes it the
// default for local runs and tests. All vectors live in RAM; optional
// file persistence writes a gob export on mutation.
type ChromemStore struct {
	db          *chromem.DB
	persistPath string
	compress    bool

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemStore(cfg *config.VectorStoreConfig) (*ChromemStore, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, &StoreError{Backend: "chromem", Operation: "open", Message: "failed to create persist directory", Err: err}
		}

		dbPath := persistFile(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			loaded, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
			if err != nil {
				slog.Warn("failed to load existing vector database, creating new", "path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{
		db:          db,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func persistFile(dir string, compress bool) string {
	path := dir + "/vectors.gob"
	if compress {
		path += ".gz"
	}
	return path
}

// Vectors are pre-computed by the embedder; the collection-level
// embedding function must never be reached.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, rejectEmbedding)
	if err != nil {
		return nil, &StoreError{Backend: "chromem", Operation: "getCollection", Message: "failed to get/create collection " + name, Err: err}
	}

	s.collections[name] = col
	return col, nil
}

func (s *ChromemStore) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	_, err := s.getCollection(namespace)
	return err
}

func (s *ChromemStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	col, err := s.getCollection(namespace)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, record := range records {
		strMetadata := make(map[string]string, len(record.Metadata))
		for k, v := range record.Metadata {
			strMetadata[k] = fmt.Sprint(v)
		}

		docs = append(docs, chromem.Document{
			ID:        record.ID,
			Content:   record.Content,
			Metadata:  strMetadata,
			Embedding: record.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return &StoreError{Backend: "chromem", Operation: "Upsert", Message: "failed to add documents", Err: err}
	}

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after upsert", "error", err)
	}

	return nil
}

func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := s.getCollection(namespace)
	if err != nil {
		return nil, err
	}

	// chromem rejects queries asking for more results than documents.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var whereFilter map[string]string
	if len(filter) > 0 {
		whereFilter = make(map[string]string, len(filter))
		for k, v := range filter {
			whereFilter[k] = fmt.Sprint(v)
		}
	}

	matches, err := col.QueryEmbedding(ctx, vector, topK, whereFilter, nil)
	if err != nil {
		return nil, &StoreError{Backend: "chromem", Operation: "Query", Message: "query failed", Err: err}
	}

	results := make([]Result, 0, len(matches))
	for _, match := range matches {
		metadata := make(map[string]any, len(match.Metadata))
		for k, v := range match.Metadata {
			metadata[k] = v
		}

		results = append(results, Result{
			ID:       match.ID,
			Score:    match.Similarity,
			Content:  match.Content,
			Metadata: metadata,
		})
	}

	return results, nil
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error {
	col, err := s.getCollection(namespace)
	if err != nil {
		return err
	}

	if col.Count() == 0 {
		return nil
	}

	whereFilter := make(map[string]string, len(filter))
	for k, v := range filter {
		whereFilter[k] = fmt.Sprint(v)
	}

	if err := col.Delete(ctx, whereFilter, nil); err != nil {
		return &StoreError{Backend: "chromem", Operation: "DeleteByFilter", Message: "delete failed", Err: err}
	}

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector database after delete", "error", err)
	}

	return nil
}

func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}

	//nolint:staticcheck // Export is deprecated but stable; ExportToFile needs a newer chromem.
	if err := s.db.Export(persistFile(s.persistPath, s.compress), s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist vector database: %w", err)
	}
	return nil
}

var _ Store = (*ChromemStore)(nil)

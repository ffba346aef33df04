// Package vectordb abstracts the vector index. A namespace is one
// organization's partition; every call is scoped by it and adapters
// must never let results cross namespaces.
package vectordb

import (
	"context"
	"fmt"

	"github.com/planhub/ai-engine/pkg/config"
)

// Record is a chunk ready for indexing: a pre-computed vector plus the
// source text and scalar metadata.
type Record struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Result is a similarity match returned by Query, ordered by descending
// score.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Store is the vector index interface. Implementations are safe for
// concurrent use; Query never mutates the index.
type Store interface {
	// EnsureNamespace prepares the partition for the given vector dimension.
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error

	// Upsert inserts or replaces records in a namespace.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns up to topK similarity matches restricted to the
	// namespace and optional metadata filter.
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// DeleteByFilter removes all records matching the metadata filter.
	DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error

	Close() error
}

// StoreError wraps a vector backend failure.
type StoreError struct {
	Backend   string
	Operation string
	Message   string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[vectordb:%s:%s] %s: %v", e.Backend, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[vectordb:%s:%s] %s", e.Backend, e.Operation, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStore builds a vector store from configuration.
func NewStore(cfg *config.VectorStoreConfig) (Store, error) {
	switch cfg.Type {
	case "qdrant":
		return NewQdrantStore(cfg)
	case "chromem":
		return NewChromemStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %q", cfg.Type)
	}
}

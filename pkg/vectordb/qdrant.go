package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/planhub/ai-engine/pkg/config"
)

// QdrantStore implements Store over a Qdrant server (gRPC).
type QdrantStore struct {
	client *qdrant.Client
}

func NewQdrantStore(cfg *config.VectorStoreConfig) (*QdrantStore, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, &StoreError{
			Backend:   "qdrant",
			Operation: "connect",
			Message:   fmt.Sprintf("failed to create client for %s:%d", host, port),
			Err:       err,
		}
	}

	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return &StoreError{Backend: "qdrant", Operation: "EnsureNamespace", Message: "failed to check collection", Err: err}
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: namespace,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return &StoreError{Backend: "qdrant", Operation: "EnsureNamespace", Message: "failed to create collection", Err: err}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := s.EnsureNamespace(ctx, namespace, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, record := range records {
		payload := make(map[string]*qdrant.Value, len(record.Metadata)+1)
		for key, value := range record.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return &StoreError{
					Backend:   "qdrant",
					Operation: "Upsert",
					Message:   fmt.Sprintf("failed to convert metadata value for key %s", key),
					Err:       err,
				}
			}
			payload[key] = val
		}
		contentVal, err := qdrant.NewValue(record.Content)
		if err != nil {
			return &StoreError{Backend: "qdrant", Operation: "Upsert", Message: "failed to convert content", Err: err}
		}
		payload["content"] = contentVal

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(record.ID),
			Vectors: qdrant.NewVectors(record.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         points,
	})
	if err != nil {
		return &StoreError{Backend: "qdrant", Operation: "Upsert", Message: "failed to upsert points", Err: err}
	}

	return nil
}

func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return nil, &StoreError{Backend: "qdrant", Operation: "Query", Message: "failed to check collection", Err: err}
	}
	if !exists {
		// An organization with no indexed data gets an empty result, not an error.
		return nil, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: namespace,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if len(filter) > 0 {
		searchRequest.Filter = buildQdrantFilter(filter)
	}

	searchResult, err := s.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, &StoreError{Backend: "qdrant", Operation: "Query", Message: "search failed", Err: err}
	}

	return convertQdrantResults(searchResult.Result), nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, namespace string, filter map[string]any) error {
	exists, err := s.client.CollectionExists(ctx, namespace)
	if err != nil {
		return &StoreError{Backend: "qdrant", Operation: "DeleteByFilter", Message: "failed to check collection", Err: err}
	}
	if !exists {
		return nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildQdrantFilter(filter),
			},
		},
	})
	if err != nil {
		return &StoreError{Backend: "qdrant", Operation: "DeleteByFilter", Message: "delete failed", Err: err}
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))

	for key, value := range filter {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}

		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: val.GetStringValue(),
						},
					},
				},
			},
		})
	}

	return &qdrant.Filter{Must: conditions}
}

func convertQdrantResults(points []*qdrant.ScoredPoint) []Result {
	results := make([]Result, 0, len(points))

	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", idType.Num)
			}
		}

		metadata := make(map[string]any)
		for key, value := range point.Payload {
			switch v := value.Kind.(type) {
			case *qdrant.Value_StringValue:
				metadata[key] = v.StringValue
			case *qdrant.Value_IntegerValue:
				metadata[key] = v.IntegerValue
			case *qdrant.Value_DoubleValue:
				metadata[key] = v.DoubleValue
			case *qdrant.Value_BoolValue:
				metadata[key] = v.BoolValue
			default:
				metadata[key] = value
			}
		}

		content := ""
		if contentValue, ok := metadata["content"].(string); ok {
			content = contentValue
			delete(metadata, "content")
		}

		results = append(results, Result{
			ID:       id,
			Score:    point.Score,
			Content:  content,
			Metadata: metadata,
		})
	}

	return results
}

var _ Store = (*QdrantStore)(nil)

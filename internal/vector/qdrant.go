package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures a Qdrant-backed store.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Collection the store is bound to.
	Collection string

	// VectorSize is the embedding dimension used when the collection has
	// to be created.
	VectorSize int
}

// QdrantStore implements Store over a Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// NewQdrantStore connects to Qdrant and ensures the configured collection
// exists with cosine distance.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		vectorSize: uint64(cfg.VectorSize),
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("vector: check collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// Another process may have created it between the check and the create.
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("vector: create collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload := make(map[string]*qdrant.Value, len(doc.Payload))
		for key, value := range doc.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("vector: convert payload field %s: %w", key, err)
			}
			payload[key] = val
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Vector...),
			Payload: payload,
		})
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("vector: upsert %d points: %w", len(points), err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vec []float32, limit int, filter Filter) ([]SearchResult, error) {
	req := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
		Filter:         buildFilter(filter),
	}

	res, err := s.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}

	results := make([]SearchResult, 0, len(res.Result))
	for _, point := range res.Result {
		results = append(results, SearchResult{
			Document: Document{
				ID:      pointID(point.Id),
				Vector:  pointVector(point.Vectors),
				Payload: decodePayload(point.Payload),
			},
			Score: point.Score,
		})
	}
	return results, nil
}

func (s *QdrantStore) Get(ctx context.Context, id string) (*Document, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: get %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	p := points[0]
	return &Document{
		ID:      pointID(p.Id),
		Vector:  pointVector(p.Vectors),
		Payload: decodePayload(p.Payload),
	}, nil
}

func (s *QdrantStore) Scroll(ctx context.Context, filter Filter, limit int) ([]Document, error) {
	var docs []Document
	var offset *qdrant.PointId
	for len(docs) < limit {
		page := uint32(limit - len(docs))
		if page > 256 {
			page = 256
		}
		res, err := s.client.GetPointsClient().Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         buildFilter(filter),
			Limit:          &page,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, fmt.Errorf("vector: scroll: %w", err)
		}
		for _, p := range res.Result {
			docs = append(docs, Document{
				ID:      pointID(p.Id),
				Vector:  pointVector(p.Vectors),
				Payload: decodePayload(p.Payload),
			})
		}
		offset = res.NextPageOffset
		if offset == nil || len(res.Result) == 0 {
			break
		}
	}
	return docs, nil
}

func (s *QdrantStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete %d points: %w", len(ids), err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for field, value := range filter {
		switch v := value.(type) {
		case string:
			conditions = append(conditions, qdrant.NewMatch(field, v))
		case bool:
			conditions = append(conditions, qdrant.NewMatchBool(field, v))
		case int:
			conditions = append(conditions, qdrant.NewMatchInt(field, int64(v)))
		case int64:
			conditions = append(conditions, qdrant.NewMatchInt(field, v))
		case float64:
			conditions = append(conditions, qdrant.NewMatchInt(field, int64(v)))
		default:
			conditions = append(conditions, qdrant.NewMatch(field, fmt.Sprintf("%v", v)))
		}
	}
	return &qdrant.Filter{Must: conditions}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func pointVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if dense := vectors.GetVector(); dense != nil {
		if d, ok := dense.Vector.(*qdrant.VectorOutput_Dense); ok && d.Dense != nil {
			return d.Dense.Data
		}
	}
	return nil
}

func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = decodeValue(value)
	}
	return out
}

func decodeValue(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = decodeValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		m := make(map[string]any, len(v.StructValue.Fields))
		for k, item := range v.StructValue.Fields {
			m[k] = decodeValue(item)
		}
		return m
	}
	return nil
}

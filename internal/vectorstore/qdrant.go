package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Payload field names.
const (
	payloadContent     = "content"
	payloadSource      = "source"
	payloadOrdinal     = "ordinal"
	payloadFingerprint = "fingerprint"
)

// QdrantStore implements Store using Qdrant.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore creates a new Qdrant-backed fragment store.
// url should be in format "host:port" (e.g., "localhost:6334").
func NewQdrantStore(ctx context.Context, url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection if it does not exist.
// The dimension is retained for the zero-vector fingerprint marker.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	s.dimension = dimension

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// Upsert inserts or updates fragments.
func (s *QdrantStore) Upsert(ctx context.Context, fragments []Fragment) error {
	if len(fragments) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(fragments))
	for i, f := range fragments {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(f.ID),
			Vectors: qdrant.NewVectors(f.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadContent: qdrant.NewValueString(f.Text),
				payloadSource:  qdrant.NewValueString(f.SourceFile),
				payloadOrdinal: qdrant.NewValueInt(int64(f.Ordinal)),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search returns the nearest neighbours of vector, best first.
// The fingerprint marker is filtered out server-side.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]SearchHit, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         excludeMarkerFilter(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]SearchHit, 0, len(response))
	for _, point := range response {
		if point.Id.GetUuid() == MarkerPointID {
			continue
		}
		hit := SearchHit{PointID: pointIDString(point.Id)}
		if payload := point.Payload; payload != nil {
			if content, ok := payload[payloadContent]; ok {
				hit.Content = content.GetStringValue()
			}
		}
		// Cosine score is a similarity; retrieval works in distances.
		hit.Distance = qdrant.PtrOf(1 - point.Score)
		hits = append(hits, hit)
	}

	return hits, nil
}

// All returns up to limit fragment texts in storage order.
func (s *QdrantStore) All(ctx context.Context, limit int) ([]string, error) {
	response, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         excludeMarkerFilter(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	texts := make([]string, 0, len(response))
	for _, point := range response {
		if point.Id.GetUuid() == MarkerPointID {
			continue
		}
		if payload := point.Payload; payload != nil {
			if content, ok := payload[payloadContent]; ok {
				texts = append(texts, content.GetStringValue())
			}
		}
	}

	return texts, nil
}

// Count returns the number of stored fragments, excluding the marker.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         excludeMarkerFilter(),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	return int(count), nil
}

// DeleteAll removes every point in the collection, marker included.
func (s *QdrantStore) DeleteAll(ctx context.Context) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}

	return nil
}

// Fingerprint returns the persisted corpus fingerprint, or "" if the
// marker point does not exist.
func (s *QdrantStore) Fingerprint(ctx context.Context) (string, error) {
	response, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(MarkerPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get fingerprint marker: %w", err)
	}
	if len(response) == 0 || response[0].Payload == nil {
		return "", nil
	}

	return response[0].Payload[payloadFingerprint].GetStringValue(), nil
}

// SetFingerprint persists the corpus fingerprint under the reserved
// marker point. The marker carries a zero vector so the engine accepts
// it, and the exclusion filters keep it out of every retrieval path.
func (s *QdrantStore) SetFingerprint(ctx context.Context, fingerprint string) error {
	if s.dimension == 0 {
		return fmt.Errorf("collection not initialised, call EnsureCollection first")
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(MarkerPointID),
			Vectors: qdrant.NewVectors(make([]float32, s.dimension)...),
			Payload: map[string]*qdrant.Value{
				payloadFingerprint: qdrant.NewValueString(fingerprint),
				payloadContent:     qdrant.NewValueString(MarkerKey),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint marker: %w", err)
	}

	return nil
}

func excludeMarkerFilter() *qdrant.Filter {
	return &qdrant.Filter{
		MustNot: []*qdrant.Condition{
			qdrant.NewHasID(qdrant.NewIDUUID(MarkerPointID)),
		},
	}
}

func pointIDString(id *qdrant.PointId) string {
	if uid := id.GetUuid(); uid != "" {
		return uid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// Ensure QdrantStore implements Store
var _ Store = (*QdrantStore)(nil)

package dense

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/lorekeep/retrieval/internal/embed"
	coreerrors "github.com/lorekeep/retrieval/internal/errors"
)

// QdrantStore is the remote dense retriever. Each tenant scope maps to
// its own qdrant collection (<prefix>_<scope>). All calls go through a
// circuit breaker so a flapping cluster degrades to sparse-only
// retrieval instead of stalling every request.
type QdrantStore struct {
	client     *qdrant.Client
	embedder   embed.Embedder
	prefix     string
	dimensions int
	breaker    *gobreaker.CircuitBreaker[[]Hit]
}

var (
	_ Retriever = (*QdrantStore)(nil)
	_ Indexer   = (*QdrantStore)(nil)
)

// NewQdrantStore connects to qdrant at addr ("host:port").
func NewQdrantStore(addr string, embedder embed.Embedder, prefix string, dimensions int) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant address %q: %w", addr, err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			// Surface dead connections quickly; the circuit breaker
			// needs failures, not hangs.
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:    30 * time.Second,
				Timeout: 10 * time.Second,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[[]Hit](gobreaker.Settings{
		Name:        "qdrant",
		MaxRequests: 3,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change",
				slog.String("collaborator", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &QdrantStore{
		client:     client,
		embedder:   embedder,
		prefix:     prefix,
		dimensions: dimensions,
		breaker:    breaker,
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) collectionName(scope string) string {
	return fmt.Sprintf("%s_%s", s.prefix, scope)
}

// Index replaces the scope's collection wholesale: the old collection
// is dropped and rebuilt, so passages removed from the corpus stop
// being searchable. An empty id set drops the collection outright.
func (s *QdrantStore) Index(ctx context.Context, scope string, ids []string, texts []string) error {
	if len(ids) != len(texts) {
		return fmt.Errorf("ids and texts length mismatch: %d vs %d", len(ids), len(texts))
	}

	name := s.collectionName(scope)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed corpus for scope %s: %w", scope, err)
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				"passage_id": qdrant.NewValueString(id),
			},
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName(scope),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points for scope %s: %w", scope, err)
	}
	return nil
}

// Search implements Retriever.
func (s *QdrantStore) Search(ctx context.Context, scope, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.breaker.Execute(func() ([]Hit, error) {
		return s.query(ctx, scope, vec, topK)
	})
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrCodeCollaboratorUnavailable, err)
	}
	return hits, nil
}

func (s *QdrantStore) query(ctx context.Context, scope string, vec []float32, topK int) ([]Hit, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName(scope),
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query scope %s: %w", scope, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		id := ""
		if payload := point.Payload; payload != nil {
			if v, ok := payload["passage_id"]; ok {
				id = v.GetStringValue()
			}
		}
		if id == "" {
			id = point.Id.GetUuid()
		}
		hits = append(hits, Hit{ID: id, Score: float64(point.Score)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

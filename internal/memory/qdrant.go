package memory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"agora/internal/domain"
)

const (
	payloadAgentID   = "agent_id"
	payloadContent   = "content"
	payloadEmotion   = "emotion"
	payloadTimestamp = "timestamp"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type OllamaEmbedder struct {
	client *api.Client
	model  string
}

func NewOllamaEmbedder(rawURL, model string) (*OllamaEmbedder, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url %q: %w", rawURL, err)
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return &OllamaEmbedder{client: api.NewClient(base, httpClient), model: model}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("ollama returned an empty embedding")
	}
	return toFloat32(resp.Embedding), nil
}

// QdrantIndex stores one point per memory, filtered by agent id on search.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections qdrantclient.CollectionsClient
	points      qdrantclient.PointsClient
	collection  string
	vectorSize  uint64
	embedder    Embedder
}

func DialQdrant(ctx context.Context, addr, collection string, vectorSize uint64, embedder Embedder) (*QdrantIndex, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant %s: %w", addr, err)
	}
	idx := &QdrantIndex{
		conn:        conn,
		collections: qdrantclient.NewCollectionsClient(conn),
		points:      qdrantclient.NewPointsClient(conn),
		collection:  collection,
		vectorSize:  vectorSize,
		embedder:    embedder,
	}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return idx, nil
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list qdrant collections: %w", err)
	}
	for _, col := range list.GetCollections() {
		if col.GetName() == q.collection {
			return nil
		}
	}
	_, err = q.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     q.vectorSize,
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection %s: %w", q.collection, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, memory domain.Memory) error {
	vector, err := q.embedder.Embed(ctx, memory.Content)
	if err != nil {
		return err
	}
	wait := true
	_, err = q.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         []*qdrantclient.PointStruct{pointFromMemory(memory, vector)},
	})
	if err != nil {
		return fmt.Errorf("upsert memory point: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, agentID, query string, limit int) ([]domain.Memory, error) {
	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	resp, err := q.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         agentFilter(agentID),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search memory points: %w", err)
	}
	out := make([]domain.Memory, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		out = append(out, memoryFromPayload(point.GetId().GetUuid(), point.GetPayload(), point.GetScore()))
	}
	return out, nil
}

func agentFilter(agentID string) *qdrantclient.Filter {
	return &qdrantclient.Filter{
		Must: []*qdrantclient.Condition{{
			ConditionOneOf: &qdrantclient.Condition_Field{
				Field: &qdrantclient.FieldCondition{
					Key: payloadAgentID,
					Match: &qdrantclient.Match{
						MatchValue: &qdrantclient.Match_Keyword{Keyword: agentID},
					},
				},
			},
		}},
	}
}

func pointFromMemory(memory domain.Memory, vector []float32) *qdrantclient.PointStruct {
	return &qdrantclient.PointStruct{
		Id: &qdrantclient.PointId{
			PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: memory.ID},
		},
		Vectors: &qdrantclient.Vectors{
			VectorsOptions: &qdrantclient.Vectors_Vector{
				Vector: &qdrantclient.Vector{Data: vector},
			},
		},
		Payload: map[string]*qdrantclient.Value{
			payloadAgentID:   stringValue(memory.AgentID),
			payloadContent:   stringValue(memory.Content),
			payloadEmotion:   stringValue(memory.Emotion),
			payloadTimestamp: {Kind: &qdrantclient.Value_IntegerValue{IntegerValue: memory.Timestamp.UnixMilli()}},
		},
	}
}

func memoryFromPayload(id string, payload map[string]*qdrantclient.Value, score float32) domain.Memory {
	return domain.Memory{
		ID:        id,
		AgentID:   payload[payloadAgentID].GetStringValue(),
		Content:   payload[payloadContent].GetStringValue(),
		Emotion:   payload[payloadEmotion].GetStringValue(),
		Timestamp: time.UnixMilli(payload[payloadTimestamp].GetIntegerValue()).UTC(),
		Score:     score,
	}
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

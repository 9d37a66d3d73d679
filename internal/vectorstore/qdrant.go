package vectorstore

import (
	"context"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// IndexedFields are the payload keys searches filter on. EnsureCollection
// builds a keyword index for each.
var IndexedFields = []string{"run", "owner"}

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Point is one stored vector. Payload values are kept as strings.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Query is a filtered nearest-neighbour search. Hits scoring below MinScore
// are dropped; zero keeps everything.
type Query struct {
	Vector   []float32
	Limit    uint64
	Filter   map[string]string
	MinScore float32
}

// Hit is a single search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint. The connection is lazy, so an
// unreachable server surfaces on the first call.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates a cosine collection of the given width with
// keyword indexes on IndexedFields. An existing collection is left alone.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	if _, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return nil
	}
	_, err := c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: dimension, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	wait := true
	keyword := pb.FieldType_FieldTypeKeyword
	for _, field := range IndexedFields {
		_, err := c.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      &keyword,
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("index %s.%s: %w", name, field, err)
		}
	}
	return nil
}

// Upsert writes points in one request and waits until they are searchable.
func (c *Client) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: toValues(p.Payload),
		}
	}
	wait := true
	if _, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

// Search returns up to q.Limit hits, best first.
func (c *Client) Search(ctx context.Context, collection string, q Query) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         q.Vector,
		Limit:          q.Limit,
		Filter:         keywordFilter(q.Filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if q.MinScore > 0 {
		req.ScoreThreshold = &q.MinScore
	}
	resp, err := c.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: fromValues(r.Payload),
		})
	}
	return hits, nil
}

func toValues(payload map[string]string) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return out
}

func fromValues(payload map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.GetKind().(*pb.Value_StringValue); ok {
			out[k] = s.StringValue
		}
	}
	return out
}

// keywordFilter requires every field to match exactly. Keys are sorted so
// the request is deterministic.
func keywordFilter(fields map[string]string) *pb.Filter {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fields[k]}},
				},
			},
		})
	}
	return &pb.Filter{Must: must}
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

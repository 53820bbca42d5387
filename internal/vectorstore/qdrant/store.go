// Package qdrant maps the vector store interface onto Qdrant collections over
// gRPC. One index is one collection.
//
// Qdrant only accepts unsigned integers or UUIDs as point ids, so every id is
// mapped to a name-based UUID (SHA-1 over index and id) and the original id is
// kept in the payload under IDField.
package qdrant

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"pyfin/internal/vectorstore"
)

// IDField is the payload key holding the caller's vector id.
const IDField = "_id"

func init() {
	vectorstore.Register("qdrant", func(ctx context.Context, cfg vectorstore.Config) (vectorstore.Store, error) {
		return New(cfg.Addr, cfg.APIKey)
	})
}

// PointsAPI is the subset of pb.PointsClient used here.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// CollectionsAPI is the subset of pb.CollectionsClient used here.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

type Store struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	apiKey      string
}

// New connects to Qdrant at the given gRPC address (host:6334).
func New(addr, apiKey string) (*Store, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("qdrant: missing address")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), apiKey)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a store on injected clients (used by tests).
func NewWithClients(points PointsAPI, collections CollectionsAPI, apiKey string) *Store {
	return &Store{points: points, collections: collections, apiKey: apiKey}
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) withAuth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	resp, err := s.collections.List(s.withAuth(ctx), &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	out := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		out = append(out, c.GetName())
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, index string, q vectorstore.Query) ([]vectorstore.Match, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	req := &pb.SearchPoints{
		CollectionName: index,
		Vector:         q.Vector,
		Limit:          uint64(topK),
		Filter:         buildFilter(q.Filter),
		// The original id lives in the payload, so it is always fetched.
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	resp, err := s.points.Search(s.withAuth(ctx), req)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s: %w", index, err)
	}

	out := make([]vectorstore.Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		md := payloadToMap(r.GetPayload())
		id, _ := md[IDField].(string)
		if id == "" {
			id = r.GetId().GetUuid()
		}
		delete(md, IDField)
		m := vectorstore.Match{ID: id, Score: r.GetScore()}
		if q.IncludeMetadata {
			m.Metadata = md
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, index string, vectors []vectorstore.Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	points := make([]*pb.PointStruct, len(vectors))
	for i, v := range vectors {
		payload := mapToPayload(v.Metadata)
		payload[IDField] = toValue(v.ID)
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(index, v.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: v.Values},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(s.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: index,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: upsert %d points into %s: %w", len(vectors), index, err)
	}
	return len(vectors), nil
}

func (s *Store) DescribeIndexStats(ctx context.Context, index string) (vectorstore.IndexStats, error) {
	resp, err := s.collections.Get(s.withAuth(ctx), &pb.GetCollectionInfoRequest{CollectionName: index})
	if err != nil {
		return vectorstore.IndexStats{}, fmt.Errorf("qdrant: get collection %s: %w", index, err)
	}
	info := resp.GetResult()
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return vectorstore.IndexStats{
		TotalVectorCount: int64(info.GetPointsCount()),
		Dimension:        int(size),
	}, nil
}

// PointID is the deterministic point UUID for a vector id within index.
func PointID(index, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(index+"/"+id)).String()
}

func buildFilter(eq map[string]any) *pb.Filter {
	if len(eq) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(eq))
	for k, v := range eq {
		must = append(must, fieldMatch(k, v))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key string, value any) *pb.Condition {
	m := &pb.Match{}
	switch tv := value.(type) {
	case bool:
		m.MatchValue = &pb.Match_Boolean{Boolean: tv}
	case int:
		m.MatchValue = &pb.Match_Integer{Integer: int64(tv)}
	case int64:
		m.MatchValue = &pb.Match_Integer{Integer: tv}
	case float64:
		if tv != math.Trunc(tv) {
			// Match has no double variant; an exact range stands in for equality.
			return &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{Key: key, Range: &pb.Range{Gte: &tv, Lte: &tv}},
				},
			}
		}
		m.MatchValue = &pb.Match_Integer{Integer: int64(tv)}
	case string:
		m.MatchValue = &pb.Match_Keyword{Keyword: tv}
	default:
		m.MatchValue = &pb.Match_Keyword{Keyword: fmt.Sprint(tv)}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: m},
		},
	}
}

func mapToPayload(md map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(md)+1)
	for k, v := range md {
		out[k] = toValue(v)
	}
	return out
}

// toValue stores integral floats as integers so integer match filters hit
// values that arrived through JSON.
func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		if tv == math.Trunc(tv) && math.Abs(tv) < 1<<53 {
			return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		}
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func payloadToMap(p map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		case *pb.Value_NullValue:
			out[k] = nil
		default:
			out[k] = v.String()
		}
	}
	return out
}

var _ vectorstore.Store = (*Store)(nil)

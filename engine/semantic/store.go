// Package semantic owns the Qdrant collection holding page multivectors.
package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Defaults for the page collection.
const (
	DefaultCollection = "test"
	DefaultVectorSize = 128
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Query(ctx context.Context, in *pb.QueryPoints, opts ...grpc.CallOption) (*pb.QueryResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Config describes how to reach Qdrant.
type Config struct {
	Addr       string // gRPC host:port, e.g. localhost:6334
	APIKey     string
	UseTLS     bool
	Collection string
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant over gRPC.
func New(cfg Config) (*VectorStore, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", cfg.Addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a store over existing clients (no owned connection).
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &VectorStore{points: points, collections: collections, collection: collection}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection, if the store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if no collection with that name
// exists. Vectors and payload live on disk; multivectors use max-sim.
func (v *VectorStore) EnsureCollection(ctx context.Context, size int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	if size <= 0 {
		size = DefaultVectorSize
	}
	onDisk := true
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		OnDiskPayload:  &onDisk,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(size),
					Distance: pb.Distance_Cosine,
					OnDisk:   &onDisk,
					MultivectorConfig: &pb.MultiVectorConfig{
						Comparator: pb.MultiVectorComparator_MaxSim,
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores page points in one request and waits for the write.
func (v *VectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		if len(p.Vector) == 0 {
			return fmt.Errorf("semantic: point %s has an empty vector", p.ID)
		}
		if p.ID == "" {
			return fmt.Errorf("semantic: point %d has no id", i)
		}
		structs[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: pb.NewVectorsMulti(p.Vector),
			Payload: payloadValues(p.Payload),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the topK points nearest to query, best first.
func (v *VectorStore) Search(ctx context.Context, query MultiVector, topK int) ([]SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("semantic: search with empty query vector")
	}
	if topK <= 0 {
		topK = 10
	}
	limit := uint64(topK)
	resp, err := v.points.Query(ctx, &pb.QueryPoints{
		CollectionName: v.collection,
		Query: &pb.Query{
			Variant: &pb.Query_Nearest{
				Nearest: &pb.VectorInput{
					Variant: &pb.VectorInput_MultiDense{MultiDense: multiDense(query)},
				},
			},
		},
		Limit:       &limit,
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		results = append(results, SearchResult{
			ID:      r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: payloadFromValues(r.GetPayload()),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count %s: %w", v.collection, err)
	}
	return resp.GetResult().GetCount(), nil
}

func multiDense(m MultiVector) *pb.MultiDenseVector {
	vecs := make([]*pb.DenseVector, len(m))
	for i, row := range m {
		vecs[i] = &pb.DenseVector{Data: row}
	}
	return &pb.MultiDenseVector{Vectors: vecs}
}

func payloadValues(p Payload) map[string]*pb.Value {
	return map[string]*pb.Value{
		"doc_id":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.DocID)}},
		"page_num": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.PageNum)}},
		"source":   {Kind: &pb.Value_StringValue{StringValue: p.Source}},
	}
}

func payloadFromValues(m map[string]*pb.Value) Payload {
	return Payload{
		DocID:   int(intValue(m["doc_id"])),
		PageNum: int(intValue(m["page_num"])),
		Source:  m["source"].GetStringValue(),
	}
}

// intValue accepts integers stored as either integer or double values.
func intValue(v *pb.Value) int64 {
	switch k := v.GetKind().(type) {
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return int64(k.DoubleValue)
	default:
		return 0
	}
}

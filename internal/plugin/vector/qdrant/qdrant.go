// Package qdrant provides the Qdrant-backed vector store plugin. Each
// namespace maps to its own Qdrant collection; the per-namespace
// directory is unused.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cola-ai/knowledge-service/internal/config"
	registryvector "github.com/cola-ai/knowledge-service/internal/registry/vector"
)

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

func init() {
	registryvector.Register(registryvector.Plugin{
		Name: "qdrant",
		Loader: func(ctx context.Context) (registryvector.Provider, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil {
				return nil, fmt.Errorf("qdrant: missing config in context")
			}
			conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
			if err != nil {
				return nil, fmt.Errorf("qdrant: connect: %w", err)
			}
			return &provider{
				conn:        conn,
				collections: pb.NewCollectionsClient(conn),
				points:      pb.NewPointsClient(conn),
			}, nil
		},
	})
}

type provider struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

func (p *provider) Name() string { return "qdrant" }

func (p *provider) Open(ctx context.Context, dir, collection string) (registryvector.KnowledgeStore, error) {
	return &qdrantStore{provider: p, collection: collection}, nil
}

func (p *provider) Destroy(ctx context.Context, dir, collection string) error {
	_, err := p.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil {
		return fmt.Errorf("qdrant: delete collection %s: %w", collection, err)
	}
	return nil
}

type qdrantStore struct {
	provider   *provider
	collection string

	ensureOnce sync.Once
	ensureErr  error
}

// pointID derives a stable Qdrant point UUID from a vector id string.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (s *qdrantStore) ensureCollection(ctx context.Context, dim int) error {
	s.ensureOnce.Do(func() {
		_, err := s.provider.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
		if err == nil {
			return
		}
		_, err = s.provider.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dim),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			s.ensureErr = fmt.Errorf("qdrant: create collection %s: %w", s.collection, err)
		}
	})
	return s.ensureErr
}

func (s *qdrantStore) Add(ctx context.Context, entries []registryvector.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(entries[0].Embedding)); err != nil {
		return err
	}
	points := make([]*pb.PointStruct, len(entries))
	for i, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("qdrant: marshal metadata for %s: %w", e.ID, err)
		}
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(e.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: e.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"vector_id": {Kind: &pb.Value_StringValue{StringValue: e.ID}},
				"document":  {Kind: &pb.Value_StringValue{StringValue: e.Document}},
				"metadata":  {Kind: &pb.Value_StringValue{StringValue: string(meta)}},
			},
		}
	}
	_, err := s.provider.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	return err
}

func (s *qdrantStore) Query(ctx context.Context, embedding []float32, topK int) ([]registryvector.Result, error) {
	if topK <= 0 {
		return nil, nil
	}
	resp, err := s.provider.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if isMissingCollection(err) {
			return nil, nil
		}
		return nil, err
	}
	var results []registryvector.Result
	for _, pt := range resp.GetResult() {
		payload := pt.GetPayload()
		r := registryvector.Result{
			// Qdrant reports cosine similarity; flip to a distance so
			// callers can rank ascending like the embedded backend.
			Distance: 1 - float64(pt.GetScore()),
		}
		if v, ok := payload["vector_id"]; ok {
			r.ID = v.GetStringValue()
		}
		if v, ok := payload["document"]; ok {
			r.Document = v.GetStringValue()
		}
		if v, ok := payload["metadata"]; ok {
			if err := json.Unmarshal([]byte(v.GetStringValue()), &r.Metadata); err != nil {
				return nil, fmt.Errorf("qdrant: unmarshal metadata for %s: %w", r.ID, err)
			}
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *qdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}}
	}
	_, err := s.provider.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil && !isMissingCollection(err) {
		return err
	}
	return nil
}

func (s *qdrantStore) Count(ctx context.Context) (int64, error) {
	resp, err := s.provider.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		if isMissingCollection(err) {
			return 0, nil
		}
		return 0, err
	}
	return int64(resp.GetResult().GetCount()), nil
}

// Close is a no-op; the gRPC connection belongs to the provider and is
// shared across namespaces.
func (s *qdrantStore) Close() error { return nil }

func isMissingCollection(err error) bool {
	return err != nil && strings.Contains(err.Error(), "doesn't exist")
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

// Package embedsem is the optional semantic-matching hook: a
// match.SemanticMatcher backed by vector similarity, grounded on the
// teacher's internal/search (Qdrant candidate search) and
// internal/conflicts/scorer.go (claimTopicSimFloor cosine-similarity
// gate). Two interface specs are embedded and compared; a similarity at
// or above the floor is reported as related. Wiring an embedding
// provider and a candidate index is the caller's responsibility —
// embedsem only consumes vectors, it never computes them.
package embedsem

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/qdrant/go-client/qdrant"

	"github.com/convergent-dev/convergent/internal/model"
)

// Embedder turns interface-spec text into a vector. Convergent does not
// bundle a model; embed the normalized name plus signature and tags.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// simFloor is the minimum cosine similarity for two interface specs to
// be considered "about the same surface." Grounded on the teacher's
// claimTopicSimFloor: tuned conservatively above the cluster of
// same-codebase-but-unrelated specs so the semantic hook only adds
// relations structural comparison plausibly missed, rather than
// flooding every match with false positives.
const simFloor = 0.60

// Matcher implements match.SemanticMatcher by embedding both specs and
// comparing them directly. A QdrantIndex is optional and is only held
// by the Matcher: Relate neither reads from nor writes to it.
type Matcher struct {
	embedder Embedder
	index    *QdrantIndex
	logger   *slog.Logger
}

// NewMatcher builds a Matcher. index may be nil to run embedding-only,
// with no persisted candidate index.
func NewMatcher(embedder Embedder, index *QdrantIndex, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{embedder: embedder, index: index, logger: logger}
}

// Relate embeds both specs and scores their cosine similarity.
func (m *Matcher) Relate(ctx context.Context, a, b model.InterfaceSpec) (bool, string, error) {
	va, err := m.embedder.Embed(ctx, specText(a))
	if err != nil {
		return false, "", fmt.Errorf("embedsem: embed a: %w", err)
	}
	vb, err := m.embedder.Embed(ctx, specText(b))
	if err != nil {
		return false, "", fmt.Errorf("embedsem: embed b: %w", err)
	}

	sim := cosineSimilarity(va, vb)
	if sim >= simFloor {
		return true, fmt.Sprintf("semantic similarity %.2f >= floor %.2f", sim, simFloor), nil
	}
	return false, "", nil
}

// specText renders an interface spec as embeddable text: name, kind,
// signature, and tags concatenated, mirroring the fields structural
// matching already compares so the two phases reason about the same
// surface.
func specText(s model.InterfaceSpec) string {
	text := fmt.Sprintf("%s (%s)", s.NormalizedName(), s.Kind)
	if s.Signature != "" {
		text += " " + s.Signature
	}
	for _, t := range s.SortedTags() {
		text += " #" + t
	}
	return text
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// QdrantIndex is a thin wrapper around a Qdrant collection used as a
// persisted cache of interface-spec embeddings, grounded directly on
// the teacher's search.QdrantIndex (EnsureCollection/Upsert/Search
// shape), generalized from decision points to interface-spec points.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dims       uint64
}

// NewQdrantIndex wraps an already-connected Qdrant client. Connection
// setup (URL parsing, TLS detection, gRPC port selection) is the
// caller's concern — Convergent takes a built client so it isn't
// coupled to one connection-string format.
func NewQdrantIndex(client *qdrant.Client, collection string, dims uint64) *QdrantIndex {
	return &QdrantIndex{client: client, collection: collection, dims: dims}
}

// EnsureCollection creates the collection if it doesn't already exist,
// with HNSW parameters tuned for cosine similarity over interface
// embeddings.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("embedsem: check collection exists: %w", err)
	}
	if exists {
		return nil
	}

	m := uint64(16)
	efConstruct := uint64(128)
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dims,
			Distance: qdrant.Distance_Cosine,
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &m,
				EfConstruct: &efConstruct,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("embedsem: create collection %q: %w", q.collection, err)
	}
	return nil
}

// Upsert stores an interface spec's embedding under pointID (typically
// the owning intent's ID), so later candidate search can retrieve it
// without re-embedding.
func (q *QdrantIndex) Upsert(ctx context.Context, pointID string, embedding []float32, payload map[string]any) error {
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID),
			Vectors: qdrant.NewVectorsDense(embedding),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("embedsem: upsert point %s: %w", pointID, err)
	}
	return nil
}

// SearchCandidates returns the nearest stored points to embedding,
// over-fetching limit*3 the way the teacher's QdrantIndex.Search does,
// so the caller can re-rank with cheaper signals before truncating.
func (q *QdrantIndex) SearchCandidates(ctx context.Context, embedding []float32, limit int) ([]CandidatePoint, error) {
	fetchLimit := uint64(limit) * 3
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(embedding),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("embedsem: query: %w", err)
	}

	out := make([]CandidatePoint, 0, len(scored))
	for _, sp := range scored {
		id := sp.Id.GetUuid()
		if id == "" {
			continue
		}
		out = append(out, CandidatePoint{ID: id, Score: sp.Score})
	}
	return out, nil
}

// CandidatePoint is one nearest-neighbor result.
type CandidatePoint struct {
	ID    string
	Score float32
}

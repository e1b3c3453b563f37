package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docflow/internal/embedding"
	"docflow/internal/metrics"
	"docflow/internal/vectorstore"
)

const (
	DefaultSearchCollection = "default_collection"
	DefaultTopK             = 3
	MaxTopK                 = 10
)

// ErrCollectionNotFound is returned when searching a collection that no
// job has written to.
var ErrCollectionNotFound = errors.New("collection not found")

// SearchRequest is the internal representation of a similarity search.
// TopK 0 means DefaultTopK.
type SearchRequest struct {
	Query          string
	CollectionName string
	TopK           int
}

type SearchHit struct {
	ID              string  `json:"id"`
	Content         string  `json:"content"`
	Source          string  `json:"source"`
	JobID           string  `json:"job_id"`
	ChunkIndex      int     `json:"chunk_index"`
	SimilarityScore float64 `json:"similarity_score"`
}

type SearchResult struct {
	Query          string      `json:"query"`
	CollectionName string      `json:"collection_name"`
	TotalResults   int         `json:"total_results"`
	Documents      []SearchHit `json:"documents"`
}

// SearchService embeds a query with the ingestion embedder and ranks the
// chunks of one collection against it.
type SearchService interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	Collections(ctx context.Context) ([]vectorstore.Collection, error)
}

type searchService struct {
	embedder embedding.Embedder
	vectors  vectorstore.Store
}

func NewSearchService(emb embedding.Embedder, vs vectorstore.Store) SearchService {
	return &searchService{embedder: emb, vectors: vs}
}

func (s *searchService) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, invalid("Query cannot be empty")
	}
	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, invalid("top_k must be between 1 and %d", MaxTopK)
	}
	collection := strings.TrimSpace(req.CollectionName)
	if collection == "" {
		collection = DefaultSearchCollection
	}

	vecs, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, embedding.ErrCountMismatch
	}

	matches, err := s.vectors.Query(ctx, collection, vecs[0], topK)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	out := &SearchResult{
		Query:          req.Query,
		CollectionName: collection,
		TotalResults:   len(matches),
		Documents:      make([]SearchHit, len(matches)),
	}
	for i, m := range matches {
		out.Documents[i] = SearchHit{
			ID:              m.ID,
			Content:         m.Content,
			Source:          m.Source,
			JobID:           m.JobID,
			ChunkIndex:      m.Index,
			SimilarityScore: m.Score,
		}
	}
	metrics.RecordSearch(collection, len(matches))
	return out, nil
}

func (s *searchService) Collections(ctx context.Context) ([]vectorstore.Collection, error) {
	return s.vectors.ListCollections(ctx)
}

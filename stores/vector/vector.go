// Package vector implements the semantic similarity store over chromem-go,
// a pure Go embedded vector database. Each user gets an isolated collection.
package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
)

// Store wraps chromem-go as a stores.Store.
type Store struct {
	db          *chromem.DB
	embedder    Embedder
	logger      *zap.Logger
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

var _ stores.Store = (*Store)(nil)

// New creates an in-memory vector store. If embedder is nil the
// deterministic local embedder is used.
func New(embedder Embedder, logger *zap.Logger) *Store {
	if embedder == nil {
		embedder = NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:          chromem.NewDB(),
		embedder:    embedder,
		logger:      logger.Named("vector"),
		collections: make(map[string]*chromem.Collection),
	}
}

func (s *Store) Name() string { return stores.NameVector }

// getOrCreateCollection returns the per-user collection, creating it on
// first use.
func (s *Store) getOrCreateCollection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	col, err := s.db.CreateCollection(fmt.Sprintf("user_%s", userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// Upsert embeds the memory's content and writes it to the user's collection.
func (s *Store) Upsert(ctx context.Context, mem core.Memory) error {
	col, err := s.getOrCreateCollection(mem.UserID)
	if err != nil {
		return err
	}

	embedding, err := s.embedder.Embed(ctx, mem.Content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}

	doc := chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: embedding,
		Metadata: map[string]string{
			"user_id":    mem.UserID,
			"created_at": mem.CreatedAt.Format(time.RFC3339),
			"tags":       strings.Join(mem.Tags, ","),
			"source":     mem.Source,
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest memories.
func (s *Store) Search(ctx context.Context, q stores.Query) ([]core.SearchResult, error) {
	col, err := s.getOrCreateCollection(q.UserID)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	embedding, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// chromem requires nResults <= collection size; shrink until it fits.
	var hits []chromem.Result
	for n := limit; n >= 1; n-- {
		hits, err = col.QueryEmbedding(ctx, embedding, n, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if n == 1 {
				return nil, nil // empty collection
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	results := make([]core.SearchResult, 0, len(hits))
	for _, hit := range hits {
		createdAt, _ := time.Parse(time.RFC3339, hit.Metadata["created_at"])
		results = append(results, core.SearchResult{
			MemoryID:    hit.ID,
			Content:     hit.Content,
			Score:       float64(hit.Similarity),
			SourceStore: stores.NameVector,
			CreatedAt:   createdAt,
			Metadata:    map[string]string{"tags": hit.Metadata["tags"]},
		})
	}
	return results, nil
}

// Get is not a natural vector-store operation; chromem has no direct
// fetch-by-ID, so we report it unsupported and callers use the relational
// store for point lookups.
func (s *Store) Get(ctx context.Context, userID, memoryID string) (core.Memory, error) {
	return core.Memory{}, fmt.Errorf("get by ID not supported by vector store")
}

// Delete removes the document from the user's collection.
func (s *Store) Delete(ctx context.Context, userID, memoryID string) error {
	col, err := s.getOrCreateCollection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Close releases nothing; chromem keeps everything in memory.
func (s *Store) Close() error { return nil }

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

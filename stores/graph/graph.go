// Package graph implements the relationship store: memories as nodes with
// typed edges, searched by seed matching plus bounded traversal. It is the
// slowest and least reliable of the three stores, which is why the router
// arms a circuit breaker around it by default.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
)

// Relation kinds an edge may carry.
const (
	RelRelatedTo  = "related_to"
	RelRefines    = "refines"
	RelPrecedes   = "precedes"
	RelContradict = "contradicts"
)

var validRels = map[string]bool{
	RelRelatedTo:  true,
	RelRefines:    true,
	RelPrecedes:   true,
	RelContradict: true,
}

// TraversalDepth bounds how many hops out from seed nodes a search walks.
const TraversalDepth = 2

// Store is the SQLite-backed graph adapter.
type Store struct {
	db *sql.DB
}

type gnode struct {
	content   string
	createdAt string
	depth     int
}

var _ stores.Store = (*Store)(nil)

// Open opens or creates the graph database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// OpenInMemory opens a private in-memory database, used by tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		canonical  TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_user ON nodes(user_id);

	CREATE TABLE IF NOT EXISTS edges (
		from_id    TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
		rel        TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Name() string { return stores.NameGraph }

// Upsert writes the memory as a node.
func (s *Store) Upsert(ctx context.Context, mem core.Memory) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, user_id, content, canonical, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET content = excluded.content, canonical = excluded.canonical`,
		mem.ID, mem.UserID, mem.Content, core.CanonicalizeContent(mem.Content),
		mem.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

// Link records a typed edge between two memories owned by the same user.
func (s *Store) Link(ctx context.Context, userID, fromID, toID, rel string) error {
	if !validRels[rel] {
		return fmt.Errorf("invalid relation %q", rel)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO edges (from_id, to_id, rel, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		fromID, toID, rel, userID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

// Search finds seed nodes matching the query terms, then walks edges out to
// TraversalDepth hops. Hits found by traversal score lower than seeds, one
// halving per hop.
func (s *Store) Search(ctx context.Context, q stores.Query) ([]core.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	terms := strings.Fields(core.CanonicalizeContent(q.Text))
	if len(terms) == 0 {
		return nil, nil
	}

	var likes []string
	args := []any{q.UserID}
	for _, term := range terms {
		if len(term) < 3 {
			continue
		}
		likes = append(likes, "canonical LIKE ?")
		args = append(args, "%"+term+"%")
	}
	if len(likes) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, content, created_at FROM nodes WHERE user_id = ? AND (%s) LIMIT ?`,
		strings.Join(likes, " OR ")), append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("seed query: %w", err)
	}

	found := make(map[string]gnode)
	var frontier []string

	for rows.Next() {
		var id, content, createdAt string
		if err := rows.Scan(&id, &content, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		found[id] = gnode{content: content, createdAt: createdAt, depth: 0}
		frontier = append(frontier, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// BFS over edges, both directions.
	for depth := 1; depth <= TraversalDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := s.neighbors(ctx, q.UserID, frontier)
		if err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		for id, n := range next {
			if _, seen := found[id]; seen {
				continue
			}
			n.depth = depth
			found[id] = n
			frontier = append(frontier, id)
		}
	}

	results := make([]core.SearchResult, 0, len(found))
	for id, n := range found {
		ts, _ := time.Parse(time.RFC3339Nano, n.createdAt)
		results = append(results, core.SearchResult{
			MemoryID:    id,
			Content:     n.content,
			Score:       1.0 / float64(uint(1)<<uint(n.depth)),
			SourceStore: stores.NameGraph,
			CreatedAt:   ts,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// neighbors returns nodes one hop from any of ids.
func (s *Store) neighbors(ctx context.Context, userID string, ids []string) (map[string]gnode, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, 2*len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, userID)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT n.id, n.content, n.created_at FROM nodes n
		 JOIN edges e ON (n.id = e.to_id AND e.from_id IN (%s))
		              OR (n.id = e.from_id AND e.to_id IN (%s))
		 WHERE n.user_id = ?`, placeholders, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("traverse: %w", err)
	}
	defer rows.Close()

	out := make(map[string]gnode)
	for rows.Next() {
		var id, content, createdAt string
		if err := rows.Scan(&id, &content, &createdAt); err != nil {
			return nil, err
		}
		out[id] = gnode{content: content, createdAt: createdAt}
	}
	return out, rows.Err()
}

// Get fetches one node as a memory.
func (s *Store) Get(ctx context.Context, userID, memoryID string) (core.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, content, created_at FROM nodes WHERE user_id = ? AND id = ?`,
		userID, memoryID)

	var mem core.Memory
	var createdAt string
	if err := row.Scan(&mem.ID, &mem.UserID, &mem.Content, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return core.Memory{}, fmt.Errorf("node %s not found", memoryID)
		}
		return core.Memory{}, err
	}
	mem.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return mem, nil
}

// Delete removes the node and cascades its edges.
func (s *Store) Delete(ctx context.Context, userID, memoryID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE user_id = ? AND id = ?`, userID, memoryID)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

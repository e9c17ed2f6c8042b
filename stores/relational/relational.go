// Package relational implements the exact-lookup store over SQLite. It is
// the source of truth for memory existence: a memory is durably accepted
// once the relational write succeeds. Vector and graph writes are
// best-effort copies.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
)

// Store is the SQLite-backed relational adapter.
type Store struct {
	db *sql.DB
}

var _ stores.Store = (*Store)(nil)

var memDBSeq uint64

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
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

// OpenInMemory opens a private in-memory database, used by tests. Each call
// gets its own database so parallel tests never see each other's rows.
func OpenInMemory() (*Store, error) {
	name := fmt.Sprintf("mem_%d", atomic.AddUint64(&memDBSeq, 1))
	db, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)")
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
	CREATE TABLE IF NOT EXISTS memories (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		content           TEXT NOT NULL,
		canonical_content TEXT NOT NULL,
		content_hash      TEXT NOT NULL,
		tags              TEXT,
		source            TEXT,
		created_at        TEXT NOT NULL,
		deleted_at        TEXT,
		last_accessed_at  TEXT,
		UNIQUE (user_id, content_hash)
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Name() string { return stores.NameRelational }

// Upsert inserts the memory. A second insert with the same canonical
// content for the same user returns core.ErrDuplicate and leaves the
// original untouched, which is what makes concurrent duplicate submissions
// collapse to one durable record.
func (s *Store) Upsert(ctx context.Context, mem core.Memory) error {
	var tagsJSON *string
	if len(mem.Tags) > 0 {
		b, _ := json.Marshal(mem.Tags)
		v := string(b)
		tagsJSON = &v
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, canonical_content, content_hash, tags, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, content_hash) DO NOTHING`,
		mem.ID, mem.UserID, mem.Content, mem.CanonicalContent, mem.ContentHash,
		tagsJSON, mem.Source, mem.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrDuplicate
	}
	return nil
}

// Search matches query terms against content with a keyword score. Exact
// lookups are the relational store's specialty; short stop-words are
// dropped before matching.
func (s *Store) Search(ctx context.Context, q stores.Query) ([]core.SearchResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	terms := searchTerms(q.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	where := []string{"user_id = ?", "deleted_at IS NULL"}
	args := []any{q.UserID}

	var likes []string
	for _, term := range terms {
		likes = append(likes, "canonical_content LIKE ?")
		args = append(args, "%"+term+"%")
	}
	where = append(where, "("+strings.Join(likes, " OR ")+")")

	if len(q.Tags) > 0 {
		var tagLikes []string
		for _, tag := range q.Tags {
			tagLikes = append(tagLikes, "tags LIKE ?")
			args = append(args, "%"+tag+"%")
		}
		where = append(where, "("+strings.Join(tagLikes, " OR ")+")")
	}

	// Overfetch, then score by term hits in Go.
	query := fmt.Sprintf(
		`SELECT id, content, canonical_content, created_at FROM memories
		 WHERE %s ORDER BY created_at DESC LIMIT ?`,
		strings.Join(where, " AND "))
	args = append(args, limit*3)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []core.SearchResult
	for rows.Next() {
		var id, content, canonical, createdAt string
		if err := rows.Scan(&id, &content, &canonical, &createdAt); err != nil {
			return nil, err
		}

		hits := 0
		for _, term := range terms {
			if strings.Contains(canonical, term) {
				hits++
			}
		}

		ts, _ := time.Parse(time.RFC3339Nano, createdAt)
		results = append(results, core.SearchResult{
			MemoryID:    id,
			Content:     content,
			Score:       float64(hits) / float64(len(terms)),
			SourceStore: stores.NameRelational,
			CreatedAt:   ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Get fetches one memory and bumps its last access time.
func (s *Store) Get(ctx context.Context, userID, memoryID string) (core.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, content, canonical_content, content_hash, tags, source, created_at, deleted_at
		 FROM memories WHERE user_id = ? AND id = ?`, userID, memoryID)

	var mem core.Memory
	var tagsJSON, source, deletedAt sql.NullString
	var createdAt string
	err := row.Scan(&mem.ID, &mem.UserID, &mem.Content, &mem.CanonicalContent,
		&mem.ContentHash, &tagsJSON, &source, &createdAt, &deletedAt)
	if err == sql.ErrNoRows {
		return core.Memory{}, fmt.Errorf("memory %s not found", memoryID)
	}
	if err != nil {
		return core.Memory{}, err
	}

	mem.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	mem.Source = source.String
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &mem.Tags)
	}
	if deletedAt.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, deletedAt.String); err == nil {
			mem.DeletedAt = &ts
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.db.ExecContext(ctx, `UPDATE memories SET last_accessed_at = ? WHERE id = ?`, now, memoryID)

	return mem, nil
}

// Delete soft-deletes; the row stays for audit but leaves every search.
func (s *Store) Delete(ctx context.Context, userID, memoryID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET deleted_at = ? WHERE user_id = ? AND id = ? AND deleted_at IS NULL`,
		now, userID, memoryID)
	return err
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "what": true, "whats": true,
	"who": true, "how": true, "why": true, "this": true, "that": true,
	"with": true, "have": true, "has": true, "are": true, "was": true,
	"you": true, "your": true, "about": true, "tell": true,
}

func searchTerms(text string) []string {
	fields := strings.Fields(core.CanonicalizeContent(text))
	var terms []string
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

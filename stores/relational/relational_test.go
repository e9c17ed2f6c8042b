package relational

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/recallio/recall-go/core"
	"github.com/recallio/recall-go/stores"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mem(userID, content string) core.Memory {
	canonical := core.CanonicalizeContent(content)
	return core.Memory{
		ID:               uuid.NewString(),
		UserID:           userID,
		Content:          content,
		CanonicalContent: canonical,
		ContentHash:      core.ContentHash(content),
		Source:           "conversation",
		CreatedAt:        time.Now().UTC(),
	}
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := mem("u1", "My dog's name is Rex")
	m.Tags = []string{"pet", "dog"}
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != m.Content {
		t.Errorf("content = %q, want %q", got.Content, m.Content)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "pet" {
		t.Errorf("tags = %v, want [pet dog]", got.Tags)
	}
	if got.DeletedAt != nil {
		t.Error("fresh memory must not be deleted")
	}
}

func TestUpsertDuplicateContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mem("u1", "I prefer oat milk in coffee")
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	// Same content, different punctuation and case, new ID.
	dup := mem("u1", "I prefer OAT MILK in coffee!")
	err := s.Upsert(ctx, dup)
	if !errors.Is(err, core.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Another user can store the same content.
	other := mem("u2", "I prefer oat milk in coffee")
	if err := s.Upsert(ctx, other); err != nil {
		t.Fatalf("cross-user Upsert: %v", err)
	}
}

func TestSearchScoresByTermHits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, mem("u1", "My dog's name is Rex")); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, mem("u1", "Rex hates thunderstorms")); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, mem("u1", "I work at a bakery")); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, stores.Query{UserID: "u1", Text: "What's my dog's name?", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one hit")
	}
	if results[0].Content != "My dog's name is Rex" {
		t.Errorf("best hit = %q, want the dog name memory", results[0].Content)
	}
	for _, r := range results {
		if r.Content == "I work at a bakery" {
			t.Error("bakery memory should not match a dog query")
		}
	}
}

func TestSearchIsUserScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, mem("u1", "allergic to peanuts")); err != nil {
		t.Fatal(err)
	}

	results, err := s.Search(ctx, stores.Query{UserID: "u2", Text: "peanut allergy", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("u2 must not see u1's memories, got %v", results)
	}
}

func TestSoftDeleteHidesFromSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := mem("u1", "favorite color is teal")
	if err := s.Upsert(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "u1", m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	results, err := s.Search(ctx, stores.Query{UserID: "u1", Text: "favorite color teal", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("soft-deleted memory must not match, got %v", results)
	}

	// The row survives for audit.
	got, err := s.Get(ctx, "u1", m.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got.DeletedAt == nil {
		t.Error("DeletedAt should be set")
	}
}

package memory

import (
	"context"
	"strings"
	"testing"

	"pulsebot/internal/perr"
	"pulsebot/internal/streamdb"
)

// fakeEmbedder maps text to a deterministic 3-dimensional vector so tests can
// control similarity without a real embedding backend: two texts sharing a
// keyword are assigned the same vector, "coffee" and "tea" are assigned
// near-parallel ones, and "deploy" and all other texts are orthogonal to those.
type fakeEmbedder struct{ unavailable bool }

func (f *fakeEmbedder) ProviderName() string { return "fake" }
func (f *fakeEmbedder) Model() string        { return "fake-model" }
func (f *fakeEmbedder) Dimensions() int      { return 3 }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.unavailable {
		return nil, perr.New(perr.MemoryUnavailable, "embedder unreachable")
	}
	switch {
	case strings.Contains(text, "coffee"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(text, "tea"):
		return []float32{0.99, 0.01, 0}, nil
	case strings.Contains(text, "deploy"):
		return []float32{0, 1, 0}, nil
	default:
		return []float32{0, 0, 1}, nil
	}
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestStoreDeduplicatesNearIdenticalContent(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := New(db, &fakeEmbedder{}, 0.95)
	ctx := context.Background()

	id1, err := mgr.Store(ctx, "user likes coffee", TypePreference, CategoryUserInfo, 0.5, "s1", true)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	id2, err := mgr.Store(ctx, "user also likes coffee", TypePreference, CategoryUserInfo, 0.5, "s1", true)
	if err != nil {
		t.Fatalf("store dup: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected duplicate to return existing id %q, got %q", id1, id2)
	}

	// A distinct topic must not be treated as a duplicate.
	id3, err := mgr.Store(ctx, "user wants to deploy on fridays", TypePreference, CategoryGeneral, 0.5, "s1", true)
	if err != nil {
		t.Fatalf("store distinct: %v", err)
	}
	if id3 == id1 {
		t.Fatalf("distinct content incorrectly deduplicated")
	}
}

func TestSearchRanksByHybridScore(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := New(db, &fakeEmbedder{}, 0.95)
	ctx := context.Background()

	if _, err := mgr.Store(ctx, "loves coffee", TypePreference, CategoryUserInfo, 0.9, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := mgr.Store(ctx, "likes tea too", TypePreference, CategoryUserInfo, 0.9, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := mgr.Store(ctx, "deploy process notes", TypeFact, CategoryProject, 0.9, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := mgr.Search(ctx, "coffee", 10, 0, nil, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !strings.Contains(results[0].Content, "coffee") {
		t.Fatalf("expected coffee memory to rank first, got %q", results[0].Content)
	}
}

func TestSearchFiltersByMinImportanceAndType(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := New(db, &fakeEmbedder{}, 0.95)
	ctx := context.Background()

	if _, err := mgr.Store(ctx, "low importance coffee note", TypeFact, CategoryGeneral, 0.1, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := mgr.Store(ctx, "high importance coffee note", TypePreference, CategoryUserInfo, 0.9, "s1", false); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := mgr.Search(ctx, "coffee", 10, 0.5, []Type{TypePreference}, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].MemoryType != TypePreference {
		t.Fatalf("expected only the preference memory to survive filtering, got %+v", results)
	}
}

func TestMarkDeletedHidesFromSearchAndRecent(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := New(db, &fakeEmbedder{}, 0.95)
	ctx := context.Background()

	id, err := mgr.Store(ctx, "temporary note about coffee", TypeFact, CategoryGeneral, 0.5, "s1", false)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := mgr.MarkDeleted(ctx, id); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	results, err := mgr.Search(ctx, "coffee", 10, 0, nil, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.ID == id {
			t.Fatalf("deleted memory %q still visible in Search", id)
		}
	}

	recent, err := mgr.GetRecent(ctx, 10, nil)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	for _, e := range recent {
		if e.ID == id {
			t.Fatalf("deleted memory %q still visible in GetRecent", id)
		}
	}
}

func TestIsAvailableReflectsEmbedderPresence(t *testing.T) {
	db := streamdb.NewMemClient()
	mgr := New(db, nil, 0.95)
	if mgr.IsAvailable() {
		t.Fatal("expected unavailable with nil embedder")
	}

	mgr2 := New(db, &fakeEmbedder{}, 0.95)
	if !mgr2.IsAvailable() {
		t.Fatal("expected available with embedder configured")
	}
}

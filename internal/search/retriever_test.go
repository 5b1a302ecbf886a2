package search

import (
	"context"
	"errors"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

func staticLoader(items []domain.CatalogItem) Loader {
	return func(_ context.Context, _ string, limit int) ([]domain.CatalogItem, error) {
		if limit > 0 && len(items) > limit {
			return items[:limit], nil
		}
		return items, nil
	}
}

func vec(text string) *pgvector.Vector {
	v := pgvector.NewVector(FallbackEmbed(text))
	return &v
}

func TestRank_LexicalThieboudienneRanksFirst(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "1", Name: "Yassa Poulet", Description: "poulet aux oignons", Price: 2500, Available: true},
		{ID: "2", Name: "Thieboudienne", Description: "riz au poisson", Price: 3000, Available: true},
		{ID: "3", Name: "Mafé", Description: "sauce arachide", Price: 3500, Available: true},
	}
	r := NewRetriever(nil)
	got := r.Rank(context.Background(), items, "thieboudienne", 3)
	if len(got) != 3 || got[0].Item.Name != "Thieboudienne" || got[0].Score != 1 {
		t.Fatalf("unexpected ranking: %+v", got)
	}
}

func TestRank_TiesPreserveCatalogOrder(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "a", Name: "A"}, {ID: "b", Name: "B"}, {ID: "c", Name: "C"},
	}
	got := NewRetriever(nil).Rank(context.Background(), items, "zzz", 3)
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Item.ID != want {
			t.Fatalf("position %d = %s, want %s", i, got[i].Item.ID, want)
		}
	}
}

func TestRank_TruncatesToK(t *testing.T) {
	items := []domain.CatalogItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	r := NewRetriever(nil)
	got := r.Rank(context.Background(), items, "x", 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got := r.Rank(context.Background(), items, "x", 0); got != nil {
		t.Fatalf("k=0 should return nil")
	}
	if got := r.Rank(context.Background(), items, "x", 10); len(got) != 3 {
		t.Fatalf("k beyond len should return all, got %d", len(got))
	}
}

func TestRank_EmbeddedItemsUseCosine(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "pastels", Name: "Pastels", Embedding: vec("pastels thon")},
		{ID: "yassa", Name: "Yassa", Embedding: vec("yassa poulet citron")},
	}
	r := NewRetriever(nil)
	got := r.Rank(context.Background(), items, "yassa poulet", 2)
	if got[0].Item.ID != "yassa" {
		t.Fatalf("expected yassa first, got %+v", got)
	}
	if got[0].Score <= 0 || got[0].Score > 1.000001 {
		t.Fatalf("cosine out of range: %v", got[0].Score)
	}
}

func TestRank_EmbedderFailureFallsBack(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "pastels", Embedding: vec("pastels thon")},
		{ID: "yassa", Embedding: vec("yassa poulet")},
	}
	var degraded error
	failing := EmbedderFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("provider down")
	})
	r := NewRetriever(nil, WithEmbedder(failing), WithDegradeHook(func(err error) { degraded = err }))
	got := r.Rank(context.Background(), items, "yassa poulet", 1)
	if got[0].Item.ID != "yassa" {
		t.Fatalf("expected fallback ranking, got %+v", got)
	}
	if degraded == nil {
		t.Fatalf("expected degrade hook to fire")
	}
}

func TestRank_EmbedderNotCalledWithoutEmbeddings(t *testing.T) {
	calls := 0
	e := EmbedderFunc(func(context.Context, string) ([]float32, error) {
		calls++
		return []float32{1}, nil
	})
	r := NewRetriever(nil, WithEmbedder(e))
	r.Rank(context.Background(), []domain.CatalogItem{{ID: "a", Name: "Mafé"}}, "mafé", 1)
	if calls != 0 {
		t.Fatalf("embedder called %d times, want 0", calls)
	}
}

func TestRetrieve_LoadsAndRanks(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "1", Name: "Yassa Poulet"},
		{ID: "2", Name: "Thieboudienne"},
	}
	got, err := NewRetriever(staticLoader(items)).Retrieve(context.Background(), "m1", "thieboudienne", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Item.ID != "2" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got, _ := NewRetriever(staticLoader(items)).Retrieve(context.Background(), "m1", "x", 0); got != nil {
		t.Fatalf("k=0 should return nil")
	}
}

func TestRetrieve_MaxItemsPassedToLoader(t *testing.T) {
	var seen int
	load := func(_ context.Context, _ string, limit int) ([]domain.CatalogItem, error) {
		seen = limit
		return nil, nil
	}
	_, _ = NewRetriever(load).Retrieve(context.Background(), "m1", "x", 1)
	if seen != DefaultMaxItems {
		t.Fatalf("limit = %d, want %d", seen, DefaultMaxItems)
	}
	_, _ = NewRetriever(load, WithMaxItems(5)).Retrieve(context.Background(), "m1", "x", 1)
	if seen != 5 {
		t.Fatalf("limit = %d, want 5", seen)
	}
}

func TestRetrieve_LoaderError(t *testing.T) {
	boom := errors.New("db down")
	load := func(context.Context, string, int) ([]domain.CatalogItem, error) { return nil, boom }
	if _, err := NewRetriever(load).Retrieve(context.Background(), "m1", "x", 1); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

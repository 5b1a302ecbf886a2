// Package search ranks a merchant's catalog against a free-text query.
//
// Items that carry a precomputed embedding are scored by cosine similarity
// against the query embedding; items without one are scored by lexical
// overlap. Ranking is deterministic: ties keep catalog order.
//
// The package does no logging; callers decide what to record.
package search

import (
	"context"
	"sort"

	"github.com/tbourn/go-wa-commerce/internal/domain"
)

// DefaultMaxItems is how many available items a single retrieval considers.
const DefaultMaxItems = 200

// RetrievedItem is a catalog item with its relevance score.
type RetrievedItem struct {
	Item  domain.CatalogItem
	Score float64
}

// Embedder produces a query embedding. Implementations may call a remote
// provider; errors make the retriever fall back to FallbackEmbed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Loader returns up to limit available items of a merchant in catalog order.
type Loader func(ctx context.Context, merchantID string, limit int) ([]domain.CatalogItem, error)

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	embedder  Embedder
	maxItems  int
	onDegrade func(error)
}

func defaultConfig() config {
	return config{maxItems: DefaultMaxItems}
}

// WithEmbedder sets the query embedder. Without one, FallbackEmbed is used.
func WithEmbedder(e Embedder) Option {
	return func(c *config) { c.embedder = e }
}

// WithMaxItems caps how many items are loaded per retrieval.
func WithMaxItems(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

// WithDegradeHook registers a callback invoked when the embedder fails and
// the fallback vector is used instead.
func WithDegradeHook(fn func(error)) Option {
	return func(c *config) { c.onDegrade = fn }
}

// ----------------------------------------------------------------------------
// Retriever

// Retriever ranks catalog items. It is safe for concurrent use.
type Retriever struct {
	load Loader
	cfg  config
}

// NewRetriever returns a Retriever reading items through load.
func NewRetriever(load Loader, opts ...Option) *Retriever {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Retriever{load: load, cfg: cfg}
}

// Retrieve returns at most k items of merchantID ranked against query.
// A non-positive k returns nil.
func (r *Retriever) Retrieve(ctx context.Context, merchantID, query string, k int) ([]RetrievedItem, error) {
	if k <= 0 {
		return nil, nil
	}
	items, err := r.load(ctx, merchantID, r.cfg.maxItems)
	if err != nil {
		return nil, err
	}
	return r.Rank(ctx, items, query, k), nil
}

// Rank scores items against query and returns the top k, highest first.
// Ties preserve the order of items.
func (r *Retriever) Rank(ctx context.Context, items []domain.CatalogItem, query string, k int) []RetrievedItem {
	if k <= 0 || len(items) == 0 {
		return nil
	}

	// The query embedding is only needed when some item has one.
	var qvec []float32
	for i := range items {
		if hasEmbedding(items[i]) {
			qvec = r.embedQuery(ctx, query)
			break
		}
	}
	terms := Terms(query)

	out := make([]RetrievedItem, len(items))
	for i, it := range items {
		var score float64
		if hasEmbedding(it) {
			score = CosineSim(qvec, it.Embedding.Slice())
		} else {
			score = float64(LexicalScore(terms, it.SearchText()))
		}
		out[i] = RetrievedItem{Item: it, Score: score}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })

	if k > len(out) {
		k = len(out)
	}
	return out[:k]
}

func (r *Retriever) embedQuery(ctx context.Context, query string) []float32 {
	if r.cfg.embedder == nil {
		return FallbackEmbed(query)
	}
	v, err := r.cfg.embedder.Embed(ctx, query)
	if err != nil || len(v) == 0 {
		if r.cfg.onDegrade != nil && err != nil {
			r.cfg.onDegrade(err)
		}
		return FallbackEmbed(query)
	}
	return v
}

func hasEmbedding(it domain.CatalogItem) bool {
	return it.Embedding != nil && len(it.Embedding.Slice()) > 0
}

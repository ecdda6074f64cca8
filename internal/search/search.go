// Package search implements hybrid retrieval: keyword and vector
// queries run concurrently and their rankings fuse into one result list.
package search

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

const (
	defaultTopK = 10
	maxTopK     = 100
)

// Embedder turns a query string into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds retrieval settings.
type Config struct {
	// TextWeight and VectorWeight weight the keyword and vector
	// contributions during fusion. Defaults: 0.4 and 0.6.
	TextWeight   float64
	VectorWeight float64

	// Overfetch multiplies TopK for the per-source queries so fusion
	// has enough candidates after merging. Default: 3.
	Overfetch int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TextWeight == 0 && c.VectorWeight == 0 {
		c.TextWeight = 0.4
		c.VectorWeight = 0.6
	}
	if c.Overfetch <= 0 {
		c.Overfetch = 3
	}
}

// Query is one retrieval request. Context, WorkItem, and Keyword are
// optional pre-filters applied inside the store before ranking.
type Query struct {
	Text     string
	TopK     int
	Context  string
	WorkItem string
	Keyword  string
}

// Hit is one fused search result.
type Hit struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Path      string   `json:"path"`
	Context   string   `json:"context"`
	Title     string   `json:"title"`
	Keywords  []string `json:"keywords,omitempty"`
	WorkItems []string `json:"work_items,omitempty"`
	Ordinal   int      `json:"ordinal"`

	// Score is the fused relevance score.
	Score float64 `json:"score"`

	// Sources names the rankings the hit appeared in: "text", "vector",
	// or both.
	Sources []string `json:"sources"`
}

// Retriever performs hybrid searches against one store.
type Retriever struct {
	config   Config
	embedder Embedder
	store    vectorstore.Store
	logger   *zap.Logger
}

// New creates a retriever.
func New(config Config, embedder Embedder, store vectorstore.Store, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Retriever{
		config:   config,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}, nil
}

// Search runs the keyword and vector queries concurrently and fuses
// their rankings.
//
// A chunk found by both sources outranks one found by a single source
// at comparable scores; ties break toward the better keyword rank so
// exact terminology wins over vague semantic neighborhood.
func (r *Retriever) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if q.TopK > maxTopK {
		q.TopK = maxTopK
	}

	filter := vectorstore.Filter{
		Context:  q.Context,
		WorkItem: q.WorkItem,
		Keyword:  q.Keyword,
	}
	fetch := q.TopK * r.config.Overfetch

	var textResults, vectorResults []vectorstore.Result

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		res, err := r.store.QueryText(gctx, q.Text, filter, fetch)
		if err != nil {
			return fmt.Errorf("keyword query: %w", err)
		}
		textResults = res
		return nil
	})
	group.Go(func() error {
		vector, err := r.embedder.EmbedQuery(gctx, q.Text)
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}
		res, err := r.store.QueryVector(gctx, vector, filter, fetch)
		if err != nil {
			return fmt.Errorf("vector query: %w", err)
		}
		vectorResults = res
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	hits := r.fuse(textResults, vectorResults, q.TopK)

	r.logger.Debug("hybrid search complete",
		zap.String("query", q.Text),
		zap.Int("text_results", len(textResults)),
		zap.Int("vector_results", len(vectorResults)),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

// fusedCandidate accumulates one chunk's evidence from both rankings.
type fusedCandidate struct {
	result      vectorstore.Result
	textScore   float64
	vectorScore float64
	textRank    int // 1-based, 0 = absent
	vectorRank  int
}

// fuse merges the two rankings with weighted normalized scores.
func (r *Retriever) fuse(textResults, vectorResults []vectorstore.Result, topK int) []Hit {
	candidates := make(map[string]*fusedCandidate)

	byID := func(res vectorstore.Result) *fusedCandidate {
		c, ok := candidates[res.ID]
		if !ok {
			c = &fusedCandidate{result: res}
			candidates[res.ID] = c
		}
		return c
	}

	textMax := maxScore(textResults)
	for i, res := range textResults {
		c := byID(res)
		c.textScore = normalize(float64(res.Score), textMax, i)
		c.textRank = i + 1
	}
	vectorMax := maxScore(vectorResults)
	for i, res := range vectorResults {
		c := byID(res)
		c.vectorScore = normalize(float64(res.Score), vectorMax, i)
		c.vectorRank = i + 1
	}

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		hit := Hit{
			ID:        c.result.ID,
			Text:      c.result.Text,
			Path:      c.result.Path,
			Context:   c.result.Context,
			Title:     c.result.Title,
			Keywords:  c.result.Keywords,
			WorkItems: c.result.WorkItems,
			Ordinal:   c.result.Ordinal,
			Score:     r.config.TextWeight*c.textScore + r.config.VectorWeight*c.vectorScore,
		}
		if c.textRank > 0 {
			hit.Sources = append(hit.Sources, "text")
		}
		if c.vectorRank > 0 {
			hit.Sources = append(hit.Sources, "vector")
		}
		hits = append(hits, hit)
	}

	ranks := func(h Hit) (int, int) {
		c := candidates[h.ID]
		text := c.textRank
		if text == 0 {
			text = len(textResults) + 1
		}
		vector := c.vectorRank
		if vector == 0 {
			vector = len(vectorResults) + 1
		}
		return text, vector
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		ti, vi := ranks(hits[i])
		tj, vj := ranks(hits[j])
		if ti != tj {
			return ti < tj
		}
		if vi != vj {
			return vi < vj
		}
		return hits[i].ID < hits[j].ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func maxScore(results []vectorstore.Result) float64 {
	var m float64
	for _, r := range results {
		if float64(r.Score) > m {
			m = float64(r.Score)
		}
	}
	return m
}

// normalize maps a raw score into (0, 1]. When a source produces no
// usable scores (all zero or negative), rank position substitutes so
// the source still contributes ordering information.
func normalize(score, max float64, rank int) float64 {
	if max > 0 && score > 0 {
		return score / max
	}
	return 1 / float64(rank+1)
}

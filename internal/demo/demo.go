// Package demo runs a canned competitor-selection pipeline through the
// tracing core, so a fresh deployment has a realistic execution to
// inspect in the dashboard.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/ashita-ai/xray"
)

// Filter thresholds for the ranking step.
const (
	priceBandLow  = 0.5 // multiples of the reference price
	priceBandHigh = 2.0
	minRating     = 3.8
	minReviews    = 100
)

// Result summarizes one demo run.
type Result struct {
	ExecutionID string
	Steps       int
	Selected    *Product
}

// Pipeline is the three-step competitor-selection flow: keyword
// generation, candidate search, filter and rank.
type Pipeline struct {
	store  xray.Store
	logger *slog.Logger
	opts   []xray.Option
}

// New creates a demo pipeline recording into the given store. Extra
// session options (hooks, middleware) are applied to every run.
func New(store xray.Store, logger *slog.Logger, opts ...xray.Option) *Pipeline {
	return &Pipeline{store: store, logger: logger, opts: opts}
}

// Run executes the pipeline once and completes the execution, even when
// a step fails partway so the partial trace survives.
func (p *Pipeline) Run(ctx context.Context, executionName string) (Result, error) {
	if executionName == "" {
		executionName = "competitor_selection"
	}

	opts := append([]xray.Option{
		xray.WithStore(p.store),
		xray.WithLogger(p.logger),
		xray.WithTags("demo"),
	}, p.opts...)

	session, err := xray.NewSession(ctx, executionName, opts...)
	if err != nil {
		return Result{}, fmt.Errorf("demo: create session: %w", err)
	}

	result, runErr := p.run(ctx, session)
	if err := session.Complete(ctx); err != nil && runErr == nil {
		runErr = err
	}

	result.ExecutionID = session.ID()
	result.Steps = len(session.Execution().Steps)
	return result, runErr
}

func (p *Pipeline) run(ctx context.Context, session *xray.Session) (Result, error) {
	keywords := generateKeywords(Reference)
	err := session.Step(ctx, "keyword_generation", func(b *xray.StepBuilder) error {
		b.Input(map[string]any{
			"product_title": Reference.Title,
			"category":      Reference.Category,
		})
		b.Output(map[string]any{"keywords": keywords})
		b.Reasoning(fmt.Sprintf("Extracted %d search terms from the reference title and category", len(keywords)))
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	candidates := searchCandidates(keywords)
	err = session.Step(ctx, "candidate_search", func(b *xray.StepBuilder) error {
		b.Input(map[string]any{"keywords": keywords, "limit": len(Catalog)})
		b.Output(map[string]any{
			"total_results":      len(Catalog),
			"candidates_fetched": len(candidates),
		})
		b.Reasoning(fmt.Sprintf("Fetched %d of %d catalog entries matching all keywords", len(candidates), len(Catalog)))
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	selected, ranked := filterAndRank(candidates)
	err = session.Step(ctx, "filter_and_rank", func(b *xray.StepBuilder) error {
		priceMin := Reference.Price * priceBandLow
		priceMax := Reference.Price * priceBandHigh

		b.Input(map[string]any{
			"candidates_count": len(candidates),
			"reference_asin":   Reference.ASIN,
		})
		b.Filters(map[string]any{
			"price_range": map[string]any{"min": priceMin, "max": priceMax, "rule": "0.5x - 2x of reference price"},
			"min_rating":  map[string]any{"value": minRating, "rule": "at least 3.8 stars"},
			"min_reviews": map[string]any{"value": minReviews, "rule": "at least 100 reviews"},
		})

		items := make([]any, len(candidates))
		for i, c := range candidates {
			items[i] = c
		}
		b.Evaluate(items, func(item any, _ int) map[string]xray.FilterResult {
			c := item.(Product)
			pricePassed := c.Price >= priceMin && c.Price <= priceMax
			ratingPassed := c.Rating >= minRating
			reviewsPassed := c.Reviews >= minReviews

			return map[string]xray.FilterResult{
				"price_range": {
					Passed: pricePassed,
					Detail: fmt.Sprintf("$%.2f against range $%.2f-$%.2f", c.Price, priceMin, priceMax),
				},
				"min_rating": {
					Passed: ratingPassed,
					Detail: fmt.Sprintf("%.1f against %.1f threshold", c.Rating, minRating),
				},
				"min_reviews": {
					Passed: reviewsPassed,
					Detail: fmt.Sprintf("%.0f against %d minimum", c.Reviews, minReviews),
				},
			}
		})

		b.Output(map[string]any{
			"total_evaluated": len(candidates),
			"qualified":       len(ranked),
		})

		if selected == nil {
			b.Reasoning("No candidates passed all filters")
			return nil
		}
		b.Select(selected.ASIN, fmt.Sprintf(
			"Highest weighted score %.3f (reviews 50%%, rating 30%%, price proximity 20%%)", ranked[0].score))
		b.Reasoning(fmt.Sprintf("%d of %d candidates qualified; %q ranked first", len(ranked), len(candidates), selected.Title))
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Selected: selected}, nil
}

func generateKeywords(p Product) []string {
	seen := map[string]bool{}
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(p.Title)) {
		if len(word) < 4 || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

// searchCandidates mimics a relevance search: every catalog entry whose
// title mentions the product kind, minus accessories.
func searchCandidates(keywords []string) []Product {
	var out []Product
	for _, p := range Catalog {
		title := strings.ToLower(p.Title)
		if !strings.Contains(title, "water") || !strings.Contains(title, "bottle") {
			continue
		}
		if strings.Contains(title, "brush") || strings.Contains(title, "carrier") {
			continue
		}
		out = append(out, p)
	}
	_ = keywords
	return out
}

type rankedProduct struct {
	Product
	score float64
}

// filterAndRank applies the thresholds, then scores qualifying
// candidates by review count, rating, and price proximity.
func filterAndRank(candidates []Product) (*Product, []rankedProduct) {
	priceMin := Reference.Price * priceBandLow
	priceMax := Reference.Price * priceBandHigh

	var qualified []Product
	for _, c := range candidates {
		if c.Price >= priceMin && c.Price <= priceMax && c.Rating >= minRating && c.Reviews >= minReviews {
			qualified = append(qualified, c)
		}
	}
	if len(qualified) == 0 {
		return nil, nil
	}

	var maxReviews, maxRating, maxPriceDiff float64
	for _, c := range qualified {
		maxReviews = math.Max(maxReviews, c.Reviews)
		maxRating = math.Max(maxRating, c.Rating)
		maxPriceDiff = math.Max(maxPriceDiff, math.Abs(c.Price-Reference.Price))
	}
	if maxPriceDiff == 0 {
		maxPriceDiff = 1
	}

	ranked := make([]rankedProduct, 0, len(qualified))
	for _, c := range qualified {
		reviewScore := c.Reviews / maxReviews
		ratingScore := c.Rating / maxRating
		proximityScore := 1 - math.Abs(c.Price-Reference.Price)/maxPriceDiff
		ranked = append(ranked, rankedProduct{
			Product: c,
			score:   reviewScore*0.5 + ratingScore*0.3 + proximityScore*0.2,
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	best := ranked[0].Product
	return &best, ranked
}

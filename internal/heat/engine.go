// Package heat maintains the per-cell demand snapshots. The engine
// recomputes each active cell's velocities, trending lists and price
// trend over a rolling window and folds them into the composite score.
package heat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/geo"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

// priceTrendThreshold is the fractional change below which the price
// trend reads stable.
const priceTrendThreshold = 0.05

// Store is the persistence surface the engine needs.
type Store interface {
	ActiveCellsSince(ctx context.Context, since time.Time) ([]string, error)
	CellActivityCounts(ctx context.Context, cell string, windowStart time.Time) (store.ActivityCounts, error)
	ActiveListings(ctx context.Context, cells []string) ([]*models.Listing, error)
	GetOrCreateHeatIndex(ctx context.Context, r9, r8, r7 string) (*models.NeighborhoodHeatIndex, error)
	SaveHeatIndex(ctx context.Context, h *models.NeighborhoodHeatIndex) error
}

// Engine recomputes heat snapshots.
type Engine struct {
	store       Store
	logger      *zap.Logger
	windowHours int
}

// NewEngine builds a heat engine with the default 24h window.
func NewEngine(s Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger, windowHours: 24}
}

// RunPass recomputes every cell with activity inside the window. Cell
// failures are logged and skipped; the pass fails only if any cell
// failed, so the job layer can retry (recomputation overwrites).
func (e *Engine) RunPass(ctx context.Context) error {
	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(e.windowHours) * time.Hour)

	cells, err := e.store.ActiveCellsSince(ctx, windowStart)
	if err != nil {
		return fmt.Errorf("failed to list active cells: %w", err)
	}

	failed := 0
	for _, cell := range cells {
		if err := e.RecomputeCell(ctx, cell, now); err != nil {
			failed++
			e.logger.Warn("heat recompute failed",
				zap.String("cell", cell),
				zap.Error(err))
		}
	}
	e.logger.Info("heat pass complete",
		zap.Int("cells", len(cells)),
		zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("heat pass: %d of %d cells failed", failed, len(cells))
	}
	return nil
}

// RecomputeCell rebuilds one cell's snapshot. The write is a single
// atomic overwrite, so a failure anywhere leaves the prior snapshot
// intact.
func (e *Engine) RecomputeCell(ctx context.Context, cell string, now time.Time) error {
	windowStart := now.Add(-time.Duration(e.windowHours) * time.Hour)

	r8, err := geo.Ancestor(cell, geo.ResNeighborhood)
	if err != nil {
		return fmt.Errorf("failed to resolve ancestors: %w", err)
	}
	r7, err := geo.Ancestor(cell, geo.ResDistrict)
	if err != nil {
		return fmt.Errorf("failed to resolve ancestors: %w", err)
	}

	counts, err := e.store.CellActivityCounts(ctx, cell, windowStart)
	if err != nil {
		return err
	}
	listings, err := e.store.ActiveListings(ctx, []string{cell})
	if err != nil {
		return err
	}
	h, err := e.store.GetOrCreateHeatIndex(ctx, cell, r8, r7)
	if err != nil {
		return err
	}

	hours := float64(e.windowHours)
	h.SaveVelocity = float64(counts.Saves) / hours
	h.DMVelocity = float64(counts.DMs) / hours
	h.TradeRequestVelocity = float64(counts.TradeRequests) / hours
	h.ListingVelocity = float64(counts.NewListings) / hours
	h.ViewVelocity = float64(counts.Views) / hours

	h.SearchVolume = counts.Searches
	h.ActiveListings = len(listings)
	h.ActiveUsers = counts.ActiveUsers
	h.HotSearches = counts.HotSearches

	h.TrendingBrands = trendingBrands(listings)
	h.TrendingSKUs = trendingSKUs(listings)
	h.TrendingSizes = trendingSizes(listings)

	priorAvg := h.AvgListingPrice
	avg := averagePrice(listings)
	h.AvgListingPrice = avg
	h.PriceTrend, h.PriceChangePercent = classifyPriceTrend(priorAvg, avg)

	h.WindowHours = e.windowHours
	h.WindowStart = &windowStart
	h.WindowEnd = &now
	h.ComputeHeatScore()

	return e.store.SaveHeatIndex(ctx, h)
}

type freq struct {
	key   string
	count int
}

// topFrequencies ranks keys by count descending, ties broken by key,
// capped at 5 entries.
func topFrequencies(counts map[string]int) []freq {
	out := make([]freq, 0, len(counts))
	for k, c := range counts {
		out = append(out, freq{key: k, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func trendingBrands(listings []*models.Listing) models.BrandList {
	counts := make(map[string]int)
	for _, l := range listings {
		if l.Brand != "" {
			counts[l.Brand]++
		}
	}
	var out models.BrandList
	for _, f := range topFrequencies(counts) {
		out = append(out, models.TrendingBrand{Brand: f.key, Score: f.count * 10})
	}
	return out
}

func trendingSKUs(listings []*models.Listing) models.SKUList {
	counts := make(map[string]int)
	names := make(map[string]string)
	for _, l := range listings {
		if l.SKU == "" {
			continue
		}
		counts[l.SKU]++
		if _, ok := names[l.SKU]; !ok {
			names[l.SKU] = l.Title
		}
	}
	var out models.SKUList
	for _, f := range topFrequencies(counts) {
		out = append(out, models.TrendingSKU{SKU: f.key, Name: names[f.key], Score: f.count * 10})
	}
	return out
}

func trendingSizes(listings []*models.Listing) models.SizeList {
	counts := make(map[string]int)
	total := 0
	for _, l := range listings {
		if l.Size != "" {
			counts[l.Size]++
			total++
		}
	}
	if total == 0 {
		return nil
	}
	var out models.SizeList
	for _, f := range topFrequencies(counts) {
		out = append(out, models.TrendingSize{
			Size:        f.key,
			DemandRatio: float64(f.count) / float64(total),
		})
	}
	return out
}

func averagePrice(listings []*models.Listing) *float64 {
	sum := 0.0
	n := 0
	for _, l := range listings {
		if l.Price == nil {
			continue
		}
		p, _ := l.Price.Float64()
		sum += p
		n++
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// classifyPriceTrend compares the new average to the stored prior one.
// Without both averages the trend reads stable with no change figure.
func classifyPriceTrend(prior, current *float64) (string, *float64) {
	if prior == nil || current == nil || *prior == 0 {
		return models.PriceStable, nil
	}
	change := (*current - *prior) / *prior
	pct := change * 100
	switch {
	case change > priceTrendThreshold:
		return models.PriceRising, &pct
	case change < -priceTrendThreshold:
		return models.PriceFalling, &pct
	default:
		return models.PriceStable, &pct
	}
}

// Package ranking assigns each active listing its feed score. The score
// folds engagement, area demand, freshness, authenticity and price-drop
// signals into one number; the pass is an idempotent overwrite, safe to
// re-run and safe to race with listing mutations.
package ranking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// freshnessWindowHours is the age at which the freshness term decays to
// zero.
const freshnessWindowHours = 168.0

// Store is the persistence surface the engine needs.
type Store interface {
	ActiveListings(ctx context.Context, cells []string) ([]*models.Listing, error)
	HeatScores(ctx context.Context, cells []string) (map[string]float64, error)
	UpdateListingScores(ctx context.Context, id uuid.UUID, rankScore, demandScore float64) error
}

// Engine recomputes listing scores in batches.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine builds a ranking engine.
func NewEngine(s Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

// BatchMaxima are the per-batch engagement ceilings used to normalize
// counters. Denominators are floored at 1.
type BatchMaxima struct {
	Saves    int
	Messages int
	Views    int
}

// maximaFor scans the batch once for its engagement ceilings.
func maximaFor(listings []*models.Listing) BatchMaxima {
	m := BatchMaxima{Saves: 1, Messages: 1, Views: 1}
	for _, l := range listings {
		if l.SaveCount > m.Saves {
			m.Saves = l.SaveCount
		}
		if l.MessageCount > m.Messages {
			m.Messages = l.MessageCount
		}
		if l.ViewCount > m.Views {
			m.Views = l.ViewCount
		}
	}
	return m
}

// Score computes (rank_score, demand_score) for one listing against its
// batch maxima and the heat score of its cell (0 when no snapshot
// exists).
func Score(l *models.Listing, maxima BatchMaxima, heatScore float64, now time.Time) (float64, float64) {
	engagement := 15*float64(l.SaveCount)/float64(maxima.Saves) +
		10*float64(l.MessageCount)/float64(maxima.Messages) +
		5*float64(l.ViewCount)/float64(maxima.Views)

	demand := heatScore / 100 * 20

	ageHours := now.Sub(l.CreatedAt).Hours()
	freshness := 10 * (1 - ageHours/freshnessWindowHours)
	if freshness < 0 {
		freshness = 0
	}
	if freshness > 10 {
		freshness = 10
	}

	authenticity := float64(l.AuthenticityScore) / 10

	verified := 0.0
	if l.IsVerified {
		verified = 5
	}

	priceDrop := 0.0
	if pct := l.PriceDropPercent(); pct > 10 {
		priceDrop = pct / 5
		if priceDrop > 5 {
			priceDrop = 5
		}
	}

	return engagement + demand + freshness + authenticity + verified + priceDrop, demand
}

// RunPass rescores active listings, optionally scoped to a set of R9
// cells (nil means all). Per-listing write failures are logged and
// skipped; the pass fails only when any write failed so the job layer
// retries the idempotent overwrite.
func (e *Engine) RunPass(ctx context.Context, cells []string) error {
	listings, err := e.store.ActiveListings(ctx, cells)
	if err != nil {
		return fmt.Errorf("failed to load listings for ranking: %w", err)
	}
	if len(listings) == 0 {
		return nil
	}

	cellSet := make(map[string]struct{})
	for _, l := range listings {
		cellSet[l.CellR9] = struct{}{}
	}
	heatCells := make([]string, 0, len(cellSet))
	for c := range cellSet {
		heatCells = append(heatCells, c)
	}
	heat, err := e.store.HeatScores(ctx, heatCells)
	if err != nil {
		return fmt.Errorf("failed to load heat scores: %w", err)
	}

	maxima := maximaFor(listings)
	now := time.Now().UTC()

	failed := 0
	for _, l := range listings {
		rank, demand := Score(l, maxima, heat[l.CellR9], now)
		if err := e.store.UpdateListingScores(ctx, l.ID, rank, demand); err != nil {
			failed++
			e.logger.Warn("rank update failed",
				zap.String("listing_id", l.ID.String()),
				zap.Error(err))
		}
	}
	e.logger.Info("ranking pass complete",
		zap.Int("listings", len(listings)),
		zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("ranking pass: %d of %d updates failed", failed, len(listings))
	}
	return nil
}

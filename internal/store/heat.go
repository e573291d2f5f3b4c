package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// ActivityCounts are the windowed engagement tallies for one cell.
type ActivityCounts struct {
	Saves         int
	DMs           int
	TradeRequests int
	Views         int
	Searches      int
	NewListings   int
	ActiveUsers   int
	HotSearches   []string
}

// RecordActivity appends one row to the activity ledger. Ledger writes
// are best-effort from the caller's point of view.
func (r *Repository) RecordActivity(ctx context.Context, rec *models.CellActivityRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// ActiveCellsSince returns the distinct R9 cells with any ledger
// activity or new listings since the cutoff. These are the cells the
// heat pass recomputes.
func (r *Repository) ActiveCellsSince(ctx context.Context, since time.Time) ([]string, error) {
	var fromLedger []string
	err := r.db.WithContext(ctx).Model(&models.CellActivityRecord{}).
		Where("created_at >= ?", since).
		Distinct("cell_r9").
		Pluck("cell_r9", &fromLedger).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active ledger cells: %w", err)
	}

	var fromListings []string
	err = r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("created_at >= ?", since).
		Distinct("cell_r9").
		Pluck("cell_r9", &fromListings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active listing cells: %w", err)
	}

	seen := make(map[string]struct{}, len(fromLedger)+len(fromListings))
	out := make([]string, 0, len(fromLedger)+len(fromListings))
	for _, lists := range [][]string{fromLedger, fromListings} {
		for _, c := range lists {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

// CellActivityCounts tallies the window for one cell. Saves come from
// the bookmark table joined to the cell's listings; the rest from the
// activity ledger; new listings from the listings table.
func (r *Repository) CellActivityCounts(ctx context.Context, cell string, windowStart time.Time) (ActivityCounts, error) {
	var counts ActivityCounts

	type kindCount struct {
		Kind  string
		Total int
	}
	var byKind []kindCount
	err := r.db.WithContext(ctx).Model(&models.CellActivityRecord{}).
		Select("kind, COUNT(*) AS total").
		Where("cell_r9 = ? AND created_at >= ?", cell, windowStart).
		Group("kind").
		Scan(&byKind).Error
	if err != nil {
		return counts, fmt.Errorf("failed to tally activity ledger: %w", err)
	}
	for _, kc := range byKind {
		switch kc.Kind {
		case models.ActivityDM:
			counts.DMs = kc.Total
		case models.ActivityTradeRequest:
			counts.TradeRequests = kc.Total
		case models.ActivityView:
			counts.Views = kc.Total
		case models.ActivitySearch:
			counts.Searches = kc.Total
		}
	}

	var saves int64
	err = r.db.WithContext(ctx).Model(&models.ListingSave{}).
		Joins("JOIN listings ON listings.id = listing_saves.listing_id").
		Where("listings.cell_r9 = ? AND listing_saves.created_at >= ?", cell, windowStart).
		Count(&saves).Error
	if err != nil {
		return counts, fmt.Errorf("failed to count saves: %w", err)
	}
	counts.Saves = int(saves)

	var newListings int64
	err = r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("cell_r9 = ? AND created_at >= ?", cell, windowStart).
		Count(&newListings).Error
	if err != nil {
		return counts, fmt.Errorf("failed to count new listings: %w", err)
	}
	counts.NewListings = int(newListings)

	var activeUsers int64
	err = r.db.WithContext(ctx).Model(&models.CellActivityRecord{}).
		Where("cell_r9 = ? AND created_at >= ? AND user_id IS NOT NULL", cell, windowStart).
		Distinct("user_id").
		Count(&activeUsers).Error
	if err != nil {
		return counts, fmt.Errorf("failed to count active users: %w", err)
	}
	counts.ActiveUsers = int(activeUsers)

	type termCount struct {
		Term  string
		Total int
	}
	var terms []termCount
	err = r.db.WithContext(ctx).Model(&models.CellActivityRecord{}).
		Select("term, COUNT(*) AS total").
		Where("cell_r9 = ? AND created_at >= ? AND kind = ? AND term <> ''", cell, windowStart, models.ActivitySearch).
		Group("term").
		Order("total DESC").
		Limit(5).
		Scan(&terms).Error
	if err != nil {
		return counts, fmt.Errorf("failed to tally hot searches: %w", err)
	}
	for _, tc := range terms {
		counts.HotSearches = append(counts.HotSearches, tc.Term)
	}

	return counts, nil
}

// GetHeatIndex fetches the snapshot for one R9 cell.
func (r *Repository) GetHeatIndex(ctx context.Context, cell string) (*models.NeighborhoodHeatIndex, error) {
	var h models.NeighborhoodHeatIndex
	if err := r.db.WithContext(ctx).First(&h, "cell_r9 = ?", cell).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &h, nil
}

// GetOrCreateHeatIndex fetches the cell's snapshot, creating a zeroed
// record with a trailing-24h window on first reference.
func (r *Repository) GetOrCreateHeatIndex(ctx context.Context, r9, r8, r7 string) (*models.NeighborhoodHeatIndex, error) {
	h, err := r.GetHeatIndex(ctx, r9)
	if err == nil {
		return h, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	h = &models.NeighborhoodHeatIndex{
		ID:          uuid.New(),
		CellR9:      r9,
		CellR8:      r8,
		CellR7:      r7,
		HeatLevel:   models.HeatCold,
		WindowHours: 24,
		WindowStart: &start,
		WindowEnd:   &now,
	}
	if err := r.db.WithContext(ctx).Create(h).Error; err != nil {
		// Concurrent first reference loses the race on the unique cell
		// index; re-read the winner.
		if existing, gerr := r.GetHeatIndex(ctx, r9); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create heat index: %w", err)
	}
	return h, nil
}

// SaveHeatIndex overwrites the cell's snapshot in one transaction, so a
// failed pass leaves no partial cell update.
func (r *Repository) SaveHeatIndex(ctx context.Context, h *models.NeighborhoodHeatIndex) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Save(h).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save heat index: %w", err)
	}
	return nil
}

// HeatScores returns cell -> heat score for the given R9 cells. Cells
// with no snapshot are absent from the map.
func (r *Repository) HeatScores(ctx context.Context, cells []string) (map[string]float64, error) {
	if len(cells) == 0 {
		return map[string]float64{}, nil
	}
	type scoreRow struct {
		CellR9    string
		HeatScore float64
	}
	var rows []scoreRow
	err := r.db.WithContext(ctx).Model(&models.NeighborhoodHeatIndex{}).
		Select("cell_r9, heat_score").
		Where("cell_r9 IN ?", cells).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load heat scores: %w", err)
	}
	out := make(map[string]float64, len(rows))
	for _, row := range rows {
		out[row.CellR9] = row.HeatScore
	}
	return out, nil
}

// HeatIndexesByCells returns snapshots whose cell at the given
// resolution is in the set, ordered by score, for the area heat-map
// view.
func (r *Repository) HeatIndexesByCells(ctx context.Context, resolution int, cells []string) ([]*models.NeighborhoodHeatIndex, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	var out []*models.NeighborhoodHeatIndex
	err := r.db.WithContext(ctx).
		Where(cellColumn(resolution)+" IN ?", cells).
		Order("heat_score DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load heat indexes: %w", err)
	}
	return out, nil
}

// PurgeActivityBefore deletes ledger rows older than the cutoff.
func (r *Repository) PurgeActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.CellActivityRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge activity ledger: %w", res.Error)
	}
	return res.RowsAffected, nil
}

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sneakloop/hyperlocal/internal/geo"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

// FeedFilters narrows a feed query by listing attributes.
type FeedFilters struct {
	Brand       string
	Size        string
	Condition   string
	TradeIntent string
	MinPrice    *float64
	MaxPrice    *float64
}

// Feed sort modes.
const (
	SortRank     = "rank"
	SortPrice    = "price"
	SortNewest   = "newest"
	SortDistance = "distance"
)

// CreateListing inserts a new listing.
func (r *Repository) CreateListing(ctx context.Context, listing *models.Listing) error {
	if listing.ID == uuid.Nil {
		listing.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(listing).Error; err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	r.logger.Debug("listing created",
		zap.String("listing_id", listing.ID.String()),
		zap.String("cell_r9", listing.CellR9))
	return nil
}

// GetListing fetches a listing by id.
func (r *Repository) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &listing, nil
}

// cellColumn maps a query resolution to the indexed column to filter on.
func cellColumn(resolution int) string {
	switch resolution {
	case geo.ResNeighborhood:
		return "cell_r8"
	case geo.ResDistrict:
		return "cell_r7"
	default:
		return "cell_r9"
	}
}

// ActiveListingsByCells pages ACTIVE listings whose cell at the given
// resolution is in the set, with attribute filters and a sort mode.
// Distance sorting is applied by the caller; here it falls back to
// rank order.
func (r *Repository) ActiveListingsByCells(
	ctx context.Context,
	resolution int,
	cells []string,
	filters FeedFilters,
	sortBy string,
	limit, offset int,
) ([]*models.Listing, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("status = ?", models.ListingActive).
		Where(cellColumn(resolution)+" IN ?", cells)

	if filters.Brand != "" {
		q = q.Where("LOWER(brand) LIKE ?", "%"+strings.ToLower(filters.Brand)+"%")
	}
	if filters.Size != "" {
		q = q.Where("size = ?", filters.Size)
	}
	if filters.Condition != "" {
		q = q.Where("condition = ?", filters.Condition)
	}
	if filters.TradeIntent != "" {
		q = q.Where("trade_intent = ?", filters.TradeIntent)
	}
	if filters.MinPrice != nil {
		q = q.Where("price >= ?", *filters.MinPrice)
	}
	if filters.MaxPrice != nil {
		q = q.Where("price <= ?", *filters.MaxPrice)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count feed listings: %w", err)
	}

	switch sortBy {
	case SortPrice:
		q = q.Order("price IS NULL").Order("price ASC")
	case SortNewest:
		q = q.Order("created_at DESC")
	default: // rank and distance
		q = q.Order("rank_score DESC").Order("created_at DESC")
	}

	var listings []*models.Listing
	if err := q.Offset(offset).Limit(limit).Find(&listings).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to query feed listings: %w", err)
	}
	return listings, total, nil
}

// ActiveListings returns ACTIVE listings, optionally scoped to a set of
// R9 cells. Used by the ranking engine as one batch.
func (r *Repository) ActiveListings(ctx context.Context, cells []string) ([]*models.Listing, error) {
	q := r.db.WithContext(ctx).Where("status = ?", models.ListingActive)
	if len(cells) > 0 {
		q = q.Where("cell_r9 IN ?", cells)
	}
	var listings []*models.Listing
	if err := q.Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to load active listings: %w", err)
	}
	return listings, nil
}

// UpdateListingScores overwrites the derived scores. Plain overwrite:
// concurrent passes are last-writer-wins by design of the ranking job.
func (r *Repository) UpdateListingScores(ctx context.Context, id uuid.UUID, rankScore, demandScore float64) error {
	err := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"rank_score":   rankScore,
			"demand_score": demandScore,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update listing scores: %w", err)
	}
	return nil
}

// IncrementListingCounter bumps an engagement counter atomically in the
// store, avoiding lost updates under concurrent access.
func (r *Repository) IncrementListingCounter(ctx context.Context, id uuid.UUID, column string, delta int) error {
	switch column {
	case "view_count", "save_count", "message_count", "share_count":
	default:
		return fmt.Errorf("not an engagement counter: %s", column)
	}
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("failed to increment %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateListingPrice applies a price drop, recording the original price
// on the first drop.
func (r *Repository) UpdateListingPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal, originalPrice *decimal.Decimal) error {
	updates := map[string]interface{}{"price": price}
	if originalPrice != nil {
		updates["original_price"] = *originalPrice
	}
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update price: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetListingStatus moves a listing to a new status; terminal statuses
// also record the sale time.
func (r *Repository) SetListingStatus(ctx context.Context, id uuid.UUID, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == models.ListingSold || status == models.ListingTraded {
		updates["sold_at"] = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to set listing status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireListings marks ACTIVE listings past their expiry as EXPIRED.
func (r *Repository) ExpireListings(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.ListingActive, now).
		Update("status", models.ListingExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire listings: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateSave bookmarks a listing for a user. Returns ErrAlreadySaved
// when the (user, listing) save already exists.
func (r *Repository) CreateSave(ctx context.Context, userID, listingID uuid.UUID) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ListingSave{}).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check existing save: %w", err)
	}
	if count > 0 {
		return ErrAlreadySaved
	}
	save := &models.ListingSave{ID: uuid.New(), UserID: userID, ListingID: listingID}
	if err := r.db.WithContext(ctx).Create(save).Error; err != nil {
		// The unique index is the arbiter under concurrent saves.
		return fmt.Errorf("failed to create save: %w", err)
	}
	return nil
}

// DeleteSave removes a bookmark.
func (r *Repository) DeleteSave(ctx context.Context, userID, listingID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Delete(&models.ListingSave{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete save: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// nonTerminalStatuses are the match statuses still in play.
var nonTerminalStatuses = []string{
	models.MatchSuggested,
	models.MatchViewed,
	models.MatchPending,
	models.MatchAccepted,
}

// TradeCandidateUsers returns distinct owners of trade-eligible
// listings, up to limit. The discovery scan iterates these.
func (r *Repository) TradeCandidateUsers(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.Listing{}).
		Where("status = ? AND trade_intent IN ?", models.ListingActive,
			[]string{models.IntentTrade, models.IntentBoth}).
		Distinct("user_id").
		Limit(limit).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list trade candidates: %w", err)
	}
	return ids, nil
}

// TradeListingsByUser returns the user's active trade-eligible listings.
func (r *Repository) TradeListingsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND trade_intent IN ?", userID, models.ListingActive,
			[]string{models.IntentTrade, models.IntentBoth}).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trade listings: %w", err)
	}
	return listings, nil
}

// SavedTradeListings returns other users' active trade-eligible listings
// that this user has bookmarked. These are the user's wants.
func (r *Repository) SavedTradeListings(ctx context.Context, userID uuid.UUID) ([]*models.Listing, error) {
	var listings []*models.Listing
	err := r.db.WithContext(ctx).Model(&models.Listing{}).
		Joins("JOIN listing_saves ON listing_saves.listing_id = listings.id").
		Where("listing_saves.user_id = ?", userID).
		Where("listings.user_id <> ?", userID).
		Where("listings.status = ? AND listings.trade_intent IN ?", models.ListingActive,
			[]string{models.IntentTrade, models.IntentBoth}).
		Find(&listings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load saved trade listings: %w", err)
	}
	return listings, nil
}

// HasSaved reports whether the user has bookmarked the listing.
func (r *Repository) HasSaved(ctx context.Context, userID, listingID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ListingSave{}).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check save: %w", err)
	}
	return count > 0, nil
}

// ActiveMatchByListingKey returns the non-terminal match covering the
// unordered listing set, or ErrNotFound.
func (r *Repository) ActiveMatchByListingKey(ctx context.Context, key string) (*models.TradeMatch, error) {
	var m models.TradeMatch
	err := r.db.WithContext(ctx).
		Where("listing_key = ? AND status IN ?", key, nonTerminalStatuses).
		First(&m).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &m, nil
}

// CreateMatch inserts a discovered match.
func (r *Repository) CreateMatch(ctx context.Context, m *models.TradeMatch) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create trade match: %w", err)
	}
	return nil
}

// GetMatch fetches a match by id.
func (r *Repository) GetMatch(ctx context.Context, id uuid.UUID) (*models.TradeMatch, error) {
	var m models.TradeMatch
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &m, nil
}

// MatchesForUser returns matches the user participates in, optionally
// filtered by status, newest first. The JSON column is coarse-filtered
// in SQL then membership-checked exactly.
func (r *Repository) MatchesForUser(ctx context.Context, userID uuid.UUID, status string) ([]*models.TradeMatch, error) {
	q := r.db.WithContext(ctx).
		Where("user_ids LIKE ?", "%"+userID.String()+"%")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var candidates []*models.TradeMatch
	if err := q.Order("created_at DESC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to load matches: %w", err)
	}
	out := make([]*models.TradeMatch, 0, len(candidates))
	for _, m := range candidates {
		if m.HasParticipant(userID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// SaveMatch overwrites a match row.
func (r *Repository) SaveMatch(ctx context.Context, m *models.TradeMatch) error {
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("failed to save trade match: %w", err)
	}
	return nil
}

// ExpireMatches moves non-terminal matches past their expiry to
// EXPIRED.
func (r *Repository) ExpireMatches(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.TradeMatch{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", nonTerminalStatuses, now).
		Update("status", models.MatchExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire matches: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateWishlist inserts a wishlist entry.
func (r *Repository) CreateWishlist(ctx context.Context, w *models.UserWishlist) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("failed to create wishlist entry: %w", err)
	}
	return nil
}

// WishlistsByUser returns the user's wishlist entries by priority.
func (r *Repository) WishlistsByUser(ctx context.Context, userID uuid.UUID) ([]*models.UserWishlist, error) {
	var out []*models.UserWishlist
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("priority ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load wishlists: %w", err)
	}
	return out, nil
}

// DeleteWishlist removes a wishlist entry owned by the user.
func (r *Repository) DeleteWishlist(ctx context.Context, userID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.UserWishlist{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete wishlist entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// WishlistsMatchingProduct returns notify-enabled wishlist entries whose
// SKU or brand coarse-matches a new listing; the matching engine applies
// the full predicate.
func (r *Repository) WishlistsMatchingProduct(ctx context.Context, sku, brand string) ([]*models.UserWishlist, error) {
	q := r.db.WithContext(ctx).
		Where("notify_on_match = ?", true)
	switch {
	case sku != "" && brand != "":
		q = q.Where("sku = ? OR LOWER(brand) = LOWER(?)", sku, brand)
	case sku != "":
		q = q.Where("sku = ?", sku)
	case brand != "":
		q = q.Where("LOWER(brand) = LOWER(?)", brand)
	default:
		return nil, nil
	}
	var out []*models.UserWishlist
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load matching wishlists: %w", err)
	}
	return out, nil
}

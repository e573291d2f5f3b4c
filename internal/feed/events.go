// Package feed owns the activity stream: typed event construction, the
// pub/sub fan-out and the read paths serving the hyperlocal feed.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// ListingPayload is the event payload for listing-centric events.
type ListingPayload struct {
	Title    string  `json:"title"`
	Brand    string  `json:"brand"`
	Size     string  `json:"size"`
	Price    *string `json:"price,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
}

// PriceDropPayload carries both prices and the computed discount.
type PriceDropPayload struct {
	Title       string `json:"title"`
	OldPrice    string `json:"old_price"`
	NewPrice    string `json:"new_price"`
	DropPercent int    `json:"drop_percent"`
}

// TradeRequestPayload identifies the listing a trade was proposed on.
type TradeRequestPayload struct {
	Title string `json:"title"`
	Brand string `json:"brand"`
}

// FlashSalePayload announces a time-boxed shop sale.
type FlashSalePayload struct {
	ShopName   string `json:"shop_name"`
	Discount   string `json:"discount"`
	EndsAtUnix int64  `json:"ends_at_unix"`
}

func listingPayload(l *models.Listing) ListingPayload {
	p := ListingPayload{Title: l.Title, Brand: l.Brand, Size: l.Size}
	if l.Price != nil {
		s := l.Price.StringFixed(2)
		p.Price = &s
	}
	if len(l.Images) > 0 {
		p.ImageURL = l.Images[0]
	}
	return p
}

func build(eventType, entityType string, entityID uuid.UUID, userID *uuid.UUID, r9, r8, r7, display string, payload interface{}) (*models.FeedEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return &models.FeedEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		EntityType:  entityType,
		EntityID:    entityID,
		UserID:      userID,
		CellR9:      r9,
		CellR8:      r8,
		CellR7:      r7,
		Payload:     raw,
		DisplayText: display,
	}, nil
}

// NewListingEvent announces a fresh listing in its cell.
func NewListingEvent(l *models.Listing) (*models.FeedEvent, error) {
	display := fmt.Sprintf("New listing: %s (size %s)", l.Title, l.Size)
	return build(models.EventNewListing, models.EntityListing, l.ID, &l.UserID,
		l.CellR9, l.CellR8, l.CellR7, display, listingPayload(l))
}

// PriceDropEvent announces a discount on an existing listing.
func PriceDropEvent(l *models.Listing, oldPrice, newPrice decimal.Decimal) (*models.FeedEvent, error) {
	pct := 0
	if !oldPrice.IsZero() {
		p, _ := oldPrice.Sub(newPrice).Div(oldPrice).Mul(decimal.NewFromInt(100)).Float64()
		pct = int(p)
	}
	display := fmt.Sprintf("Price drop: %s now $%s (%d%% off)", l.Title, newPrice.StringFixed(2), pct)
	return build(models.EventPriceDrop, models.EntityListing, l.ID, &l.UserID,
		l.CellR9, l.CellR8, l.CellR7, display, PriceDropPayload{
			Title:       l.Title,
			OldPrice:    oldPrice.StringFixed(2),
			NewPrice:    newPrice.StringFixed(2),
			DropPercent: pct,
		})
}

// ItemSoldEvent marks a listing sold.
func ItemSoldEvent(l *models.Listing) (*models.FeedEvent, error) {
	display := fmt.Sprintf("Sold: %s", l.Title)
	return build(models.EventItemSold, models.EntityListing, l.ID, &l.UserID,
		l.CellR9, l.CellR8, l.CellR7, display, listingPayload(l))
}

// ItemTradedEvent marks a listing traded away.
func ItemTradedEvent(l *models.Listing) (*models.FeedEvent, error) {
	display := fmt.Sprintf("Traded: %s", l.Title)
	return build(models.EventItemTraded, models.EntityListing, l.ID, &l.UserID,
		l.CellR9, l.CellR8, l.CellR7, display, listingPayload(l))
}

// TradeRequestEvent announces a trade proposal on a listing.
func TradeRequestEvent(l *models.Listing, fromUser uuid.UUID) (*models.FeedEvent, error) {
	display := fmt.Sprintf("Trade offer on %s", l.Title)
	return build(models.EventTradeRequest, models.EntityListing, l.ID, &fromUser,
		l.CellR9, l.CellR8, l.CellR7, display, TradeRequestPayload{Title: l.Title, Brand: l.Brand})
}

// FlashSaleEvent announces a time-boxed shop sale; it expires when the
// sale ends.
func FlashSaleEvent(shopID uuid.UUID, shopName, discount string, r9, r8, r7 string, endsAt time.Time) (*models.FeedEvent, error) {
	display := fmt.Sprintf("Flash sale at %s: %s", shopName, discount)
	e, err := build(models.EventFlashSale, models.EntityStore, shopID, nil,
		r9, r8, r7, display, FlashSalePayload{
			ShopName:   shopName,
			Discount:   discount,
			EndsAtUnix: endsAt.Unix(),
		})
	if err != nil {
		return nil, err
	}
	e.ExpiresAt = &endsAt
	return e, nil
}

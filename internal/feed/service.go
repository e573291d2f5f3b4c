package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/geo"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

const (
	defaultRadiusMiles = 1.0
	maxRadiusMiles     = 10.0
	defaultPageSize    = 20
	maxPageSize        = 100
	// distanceFetchCap bounds how many rows a distance-sorted query
	// pulls before sorting in memory.
	distanceFetchCap = 500
	// listingTTL is how long a listing stays live without action.
	listingTTL = 30 * 24 * time.Hour
)

// User-facing request rejections.
var (
	ErrNotOwner         = errors.New("user does not own this listing")
	ErrInvalidPriceDrop = errors.New("new price must be below the current price")
	ErrListingInactive  = errors.New("listing is not active")
	ErrBadCoordinates   = errors.New("coordinates out of range")
)

// Service serves the hyperlocal read paths and the listing mutations
// that feed them.
type Service struct {
	repo   *store.Repository
	bus    *Bus
	logger *zap.Logger
}

// NewService builds the feed service.
func NewService(repo *store.Repository, bus *Bus, logger *zap.Logger) *Service {
	return &Service{repo: repo, bus: bus, logger: logger}
}

// FeedRequest is one feed page query.
type FeedRequest struct {
	Lat         float64
	Lng         float64
	RadiusMiles float64
	Filters     store.FeedFilters
	SortBy      string
	Page        int
	PageSize    int
}

// FeedItem is a listing plus its approximate distance from the query
// point.
type FeedItem struct {
	*models.Listing
	DistanceMiles *float64 `json:"distance_miles,omitempty"`
}

// FeedPage is one page of ranked results with area context.
type FeedPage struct {
	Listings      []FeedItem `json:"listings"`
	Total         int64      `json:"total"`
	Page          int        `json:"page"`
	PageSize      int        `json:"page_size"`
	AreaHeatLevel string     `json:"area_heat_level"`
	AreaHeatScore float64    `json:"area_heat_score"`
}

func (r *FeedRequest) normalize() {
	if r.RadiusMiles <= 0 {
		r.RadiusMiles = defaultRadiusMiles
	}
	if r.RadiusMiles > maxRadiusMiles {
		r.RadiusMiles = maxRadiusMiles
	}
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = defaultPageSize
	}
	if r.PageSize > maxPageSize {
		r.PageSize = maxPageSize
	}
	if r.SortBy == "" {
		r.SortBy = store.SortRank
	}
}

// HyperlocalFeed returns ranked active listings around a point. The
// feed degrades gracefully: a stale or missing heat snapshot never
// fails the query.
func (s *Service) HyperlocalFeed(ctx context.Context, userID *uuid.UUID, req FeedRequest) (*FeedPage, error) {
	if !geo.ValidCoords(req.Lat, req.Lng) {
		return nil, ErrBadCoordinates
	}
	req.normalize()

	resolution, cells, err := geo.CoverRadius(req.Lat, req.Lng, req.RadiusMiles)
	if err != nil {
		return nil, fmt.Errorf("failed to cover radius: %w", err)
	}

	s.recordSearch(ctx, userID, req)

	offset := (req.Page - 1) * req.PageSize
	limit, dbOffset := req.PageSize, offset
	if req.SortBy == store.SortDistance {
		limit, dbOffset = distanceFetchCap, 0
	}

	listings, total, err := s.repo.ActiveListingsByCells(ctx, resolution, cells, req.Filters, req.SortBy, limit, dbOffset)
	if err != nil {
		return nil, err
	}

	items := make([]FeedItem, 0, len(listings))
	for _, l := range listings {
		item := FeedItem{Listing: l}
		if lat, lng, derr := geo.DecodeCenter(l.CellR9); derr == nil {
			d := geo.Haversine(req.Lat, req.Lng, lat, lng)
			item.DistanceMiles = &d
		}
		items = append(items, item)
	}

	if req.SortBy == store.SortDistance {
		sort.SliceStable(items, func(i, j int) bool {
			di, dj := items[i].DistanceMiles, items[j].DistanceMiles
			if di == nil || dj == nil {
				return dj == nil && di != nil
			}
			return *di < *dj
		})
		if offset >= len(items) {
			items = nil
		} else {
			end := offset + req.PageSize
			if end > len(items) {
				end = len(items)
			}
			items = items[offset:end]
		}
	}

	page := &FeedPage{
		Listings:      items,
		Total:         total,
		Page:          req.Page,
		PageSize:      req.PageSize,
		AreaHeatLevel: models.HeatCold,
	}
	if snapshot, herr := s.HeatSnapshot(ctx, req.Lat, req.Lng); herr == nil {
		page.AreaHeatLevel = snapshot.HeatLevel
		page.AreaHeatScore = snapshot.HeatScore
	} else {
		s.logger.Warn("heat snapshot unavailable for feed", zap.Error(herr))
	}
	return page, nil
}

// recordSearch writes a search row to the activity ledger when the
// query carries a brand term. Ledger failures never fail the feed.
func (s *Service) recordSearch(ctx context.Context, userID *uuid.UUID, req FeedRequest) {
	if req.Filters.Brand == "" {
		return
	}
	r9, _, _, err := geo.CellSet(req.Lat, req.Lng)
	if err != nil {
		return
	}
	rec := &models.CellActivityRecord{
		CellR9: r9,
		Kind:   models.ActivitySearch,
		UserID: userID,
		Term:   req.Filters.Brand,
	}
	if err := s.repo.RecordActivity(ctx, rec); err != nil {
		s.logger.Warn("search activity record failed", zap.Error(err))
	}
}

// HeatSnapshot returns the demand snapshot for the point's cell,
// creating a cold record on first reference.
func (s *Service) HeatSnapshot(ctx context.Context, lat, lng float64) (*models.NeighborhoodHeatIndex, error) {
	r9, r8, r7, err := geo.CellSet(lat, lng)
	if err != nil {
		return nil, ErrBadCoordinates
	}
	return s.repo.GetOrCreateHeatIndex(ctx, r9, r8, r7)
}

// HeatMapCell is one cell of the area heat map.
type HeatMapCell struct {
	CellR9    string       `json:"cell_r9"`
	HeatScore float64      `json:"heat_score"`
	HeatLevel string       `json:"heat_level"`
	Boundary  [][2]float64 `json:"boundary,omitempty"`
}

// HeatMap returns the known heat snapshots covering a radius, with cell
// boundaries for rendering.
func (s *Service) HeatMap(ctx context.Context, lat, lng, radiusMiles float64) ([]HeatMapCell, error) {
	if !geo.ValidCoords(lat, lng) {
		return nil, ErrBadCoordinates
	}
	if radiusMiles <= 0 {
		radiusMiles = defaultRadiusMiles
	}
	resolution, cells, err := geo.CoverRadius(lat, lng, radiusMiles)
	if err != nil {
		return nil, err
	}
	indexes, err := s.repo.HeatIndexesByCells(ctx, resolution, cells)
	if err != nil {
		return nil, err
	}
	out := make([]HeatMapCell, 0, len(indexes))
	for _, h := range indexes {
		cell := HeatMapCell{CellR9: h.CellR9, HeatScore: h.HeatScore, HeatLevel: h.HeatLevel}
		if b, berr := geo.Boundary(h.CellR9); berr == nil {
			cell.Boundary = b
		}
		out = append(out, cell)
	}
	return out, nil
}

// ActivityRibbon returns recent non-expired events around a point,
// newest first.
func (s *Service) ActivityRibbon(ctx context.Context, lat, lng, radiusMiles float64, eventType string, window time.Duration, limit int) ([]*models.FeedEvent, error) {
	if !geo.ValidCoords(lat, lng) {
		return nil, ErrBadCoordinates
	}
	if radiusMiles <= 0 {
		radiusMiles = defaultRadiusMiles
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if limit <= 0 || limit > maxPageSize {
		limit = 50
	}
	resolution, cells, err := geo.CoverRadius(lat, lng, radiusMiles)
	if err != nil {
		return nil, err
	}
	return s.repo.EventsByCells(ctx, resolution, cells, eventType, time.Now().Add(-window), limit)
}

// CreateListingInput carries the listing submission.
type CreateListingInput struct {
	Title          string
	Description    string
	Brand          string
	SKU            string
	Colorway       string
	Size           string
	SizeType       string
	Condition      string
	ConditionNotes string
	HasBox         bool
	HasExtras      bool
	Images         []string
	Price          *float64
	TradeIntent    string
	TradeInterests []string
	TradeNotes     string
	Lat            float64
	Lng            float64
}

// CreateListing pins a new listing to its cell set and announces it.
func (s *Service) CreateListing(ctx context.Context, userID uuid.UUID, in CreateListingInput) (*models.Listing, error) {
	r9, r8, r7, err := geo.CellSet(in.Lat, in.Lng)
	if err != nil {
		return nil, ErrBadCoordinates
	}

	expires := time.Now().UTC().Add(listingTTL)
	listing := &models.Listing{
		ID:             uuid.New(),
		UserID:         userID,
		Title:          in.Title,
		Description:    in.Description,
		Brand:          in.Brand,
		SKU:            in.SKU,
		Colorway:       in.Colorway,
		Size:           in.Size,
		SizeType:       in.SizeType,
		Condition:      in.Condition,
		ConditionNotes: in.ConditionNotes,
		HasBox:         in.HasBox,
		HasExtras:      in.HasExtras,
		Images:         in.Images,
		TradeIntent:    in.TradeIntent,
		TradeInterests: in.TradeInterests,
		TradeNotes:     in.TradeNotes,
		CellR9:         r9,
		CellR8:         r8,
		CellR7:         r7,
		Status:         models.ListingActive,
		Visibility:     "public",
		ExpiresAt:      &expires,
	}
	if in.TradeIntent == "" {
		listing.TradeIntent = models.IntentSale
	}
	if in.Price != nil {
		p := decimal.NewFromFloat(*in.Price)
		listing.Price = &p
	}

	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	if event, eerr := NewListingEvent(listing); eerr == nil {
		if err := s.bus.Emit(ctx, event); err != nil {
			s.logger.Warn("new listing event failed", zap.Error(err))
		}
	}
	return listing, nil
}

// GetListing fetches one listing, counting the view when a viewer is
// known and isn't the owner.
func (s *Service) GetListing(ctx context.Context, viewerID *uuid.UUID, listingID uuid.UUID) (*models.Listing, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if viewerID != nil && *viewerID != listing.UserID {
		if err := s.repo.IncrementListingCounter(ctx, listingID, "view_count", 1); err != nil {
			s.logger.Warn("view count update failed", zap.Error(err))
		}
		s.recordListingActivity(ctx, listing, models.ActivityView, viewerID)
	}
	return listing, nil
}

func (s *Service) recordListingActivity(ctx context.Context, l *models.Listing, kind string, userID *uuid.UUID) {
	rec := &models.CellActivityRecord{
		CellR9:    l.CellR9,
		Kind:      kind,
		UserID:    userID,
		ListingID: &l.ID,
	}
	if err := s.repo.RecordActivity(ctx, rec); err != nil {
		s.logger.Warn("activity record failed",
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// SaveListing bookmarks a listing and bumps its save counter.
func (s *Service) SaveListing(ctx context.Context, userID, listingID uuid.UUID) error {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.Status != models.ListingActive {
		return ErrListingInactive
	}
	if err := s.repo.CreateSave(ctx, userID, listingID); err != nil {
		return err
	}
	if err := s.repo.IncrementListingCounter(ctx, listingID, "save_count", 1); err != nil {
		s.logger.Warn("save count update failed", zap.Error(err))
	}
	return nil
}

// UnsaveListing removes a bookmark and decrements the counter.
func (s *Service) UnsaveListing(ctx context.Context, userID, listingID uuid.UUID) error {
	if err := s.repo.DeleteSave(ctx, userID, listingID); err != nil {
		return err
	}
	if err := s.repo.IncrementListingCounter(ctx, listingID, "save_count", -1); err != nil {
		s.logger.Warn("save count update failed", zap.Error(err))
	}
	return nil
}

// ContactSeller counts a DM toward the listing and, for a trade
// proposal, records the trade-request signal and announces it.
func (s *Service) ContactSeller(ctx context.Context, userID, listingID uuid.UUID, tradeRequest bool) error {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.Status != models.ListingActive {
		return ErrListingInactive
	}

	if err := s.repo.IncrementListingCounter(ctx, listingID, "message_count", 1); err != nil {
		s.logger.Warn("message count update failed", zap.Error(err))
	}
	s.recordListingActivity(ctx, listing, models.ActivityDM, &userID)

	if tradeRequest {
		s.recordListingActivity(ctx, listing, models.ActivityTradeRequest, &userID)
		if event, eerr := TradeRequestEvent(listing, userID); eerr == nil {
			if err := s.bus.Emit(ctx, event); err != nil {
				s.logger.Warn("trade request event failed", zap.Error(err))
			}
		}
	}
	return nil
}

// DropPrice lowers a listing's price, keeping the first pre-drop price
// as the original, and announces the drop.
func (s *Service) DropPrice(ctx context.Context, userID, listingID uuid.UUID, newPrice float64) (*models.Listing, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != userID {
		return nil, ErrNotOwner
	}
	if listing.Status != models.ListingActive {
		return nil, ErrListingInactive
	}
	if listing.Price == nil {
		return nil, ErrInvalidPriceDrop
	}

	old := *listing.Price
	next := decimal.NewFromFloat(newPrice)
	if next.LessThanOrEqual(decimal.Zero) || next.GreaterThanOrEqual(old) {
		return nil, ErrInvalidPriceDrop
	}

	var original *decimal.Decimal
	if listing.OriginalPrice == nil {
		original = &old
	}
	if err := s.repo.UpdateListingPrice(ctx, listingID, next, original); err != nil {
		return nil, err
	}

	if event, eerr := PriceDropEvent(listing, old, next); eerr == nil {
		if err := s.bus.Emit(ctx, event); err != nil {
			s.logger.Warn("price drop event failed", zap.Error(err))
		}
	}
	return s.repo.GetListing(ctx, listingID)
}

// CloseListing moves an active listing to SOLD or TRADED and announces
// it. Terminal moves are one-way.
func (s *Service) CloseListing(ctx context.Context, userID, listingID uuid.UUID, traded bool) (*models.Listing, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != userID {
		return nil, ErrNotOwner
	}
	if listing.Status != models.ListingActive {
		return nil, ErrListingInactive
	}

	status := models.ListingSold
	factory := ItemSoldEvent
	if traded {
		status = models.ListingTraded
		factory = ItemTradedEvent
	}
	if err := s.repo.SetListingStatus(ctx, listingID, status); err != nil {
		return nil, err
	}
	if event, eerr := factory(listing); eerr == nil {
		if err := s.bus.Emit(ctx, event); err != nil {
			s.logger.Warn("listing close event failed", zap.Error(err))
		}
	}
	return s.repo.GetListing(ctx, listingID)
}

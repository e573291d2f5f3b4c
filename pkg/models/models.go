package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Listing condition grades, best to worst.
const (
	ConditionDS        = "DS"   // deadstock, never worn
	ConditionVNDS      = "VNDS" // tried on only
	ConditionExcellent = "EXCELLENT"
	ConditionGood      = "GOOD"
	ConditionFair      = "FAIR"
	ConditionBeat      = "BEAT"
)

// conditionRank orders grades; lower is better.
var conditionRank = map[string]int{
	ConditionDS:        0,
	ConditionVNDS:      1,
	ConditionExcellent: 2,
	ConditionGood:      3,
	ConditionFair:      4,
	ConditionBeat:      5,
}

// ConditionAtLeast reports whether condition is at least as good as min.
// Unknown grades never satisfy a known minimum.
func ConditionAtLeast(condition, min string) bool {
	c, ok1 := conditionRank[condition]
	m, ok2 := conditionRank[min]
	if !ok1 || !ok2 {
		return false
	}
	return c <= m
}

// Trade intent values.
const (
	IntentSale  = "SALE"
	IntentTrade = "TRADE"
	IntentBoth  = "BOTH"
)

// Listing status values. SOLD, TRADED, EXPIRED and DELETED are terminal.
const (
	ListingActive  = "ACTIVE"
	ListingPending = "PENDING"
	ListingSold    = "SOLD"
	ListingTraded  = "TRADED"
	ListingExpired = "EXPIRED"
	ListingDeleted = "DELETED"
)

// StringList is a JSON-backed string slice column.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *StringList) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// UUIDList is a JSON-backed uuid slice column.
type UUIDList []uuid.UUID

func (u UUIDList) Value() (driver.Value, error) {
	if u == nil {
		return nil, nil
	}
	return json.Marshal(u)
}

func (u *UUIDList) Scan(src interface{}) error {
	return scanJSON(src, u)
}

// Contains reports whether id is in the list.
func (u UUIDList) Contains(id uuid.UUID) bool {
	for _, v := range u {
		if v == id {
			return true
		}
	}
	return false
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
}

// Listing is a marketplace item pinned to a point, indexed at three hex
// resolutions. CellR8 and CellR7 are always the ancestors of CellR9.
type Listing struct {
	ID     uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID uuid.UUID `json:"user_id" gorm:"type:uuid;index;not null"`

	Title       string `json:"title" gorm:"size:200;not null"`
	Description string `json:"description"`
	Brand       string `json:"brand" gorm:"size:100;index;not null"`
	SKU         string `json:"sku" gorm:"size:100;index"`
	Colorway    string `json:"colorway" gorm:"size:200"`
	Size        string `json:"size" gorm:"size:20;index;not null"`
	SizeType    string `json:"size_type" gorm:"size:20;default:MENS"`

	Condition      string `json:"condition" gorm:"size:20;index;not null"`
	ConditionNotes string `json:"condition_notes"`
	HasBox         bool   `json:"has_box" gorm:"default:true"`
	HasExtras      bool   `json:"has_extras"`

	Images             StringList `json:"images" gorm:"type:text"`
	AuthenticityPhotos StringList `json:"authenticity_photos" gorm:"type:text"`
	AuthenticityScore  int        `json:"authenticity_score" gorm:"default:0"`
	AuthenticityNotes  string     `json:"authenticity_notes"`
	IsVerified         bool       `json:"is_verified" gorm:"default:false"`

	Price          *decimal.Decimal `json:"price" gorm:"type:numeric(10,2)"`
	OriginalPrice  *decimal.Decimal `json:"original_price" gorm:"type:numeric(10,2)"`
	TradeIntent    string           `json:"trade_intent" gorm:"size:10;index;default:SALE"`
	TradeInterests StringList       `json:"trade_interests" gorm:"type:text"`
	TradeNotes     string           `json:"trade_notes"`

	CellR9 string `json:"cell_r9" gorm:"size:15;index;not null"`
	CellR8 string `json:"cell_r8" gorm:"size:15;index"`
	CellR7 string `json:"cell_r7" gorm:"size:15;index"`

	ViewCount    int `json:"view_count" gorm:"default:0"`
	SaveCount    int `json:"save_count" gorm:"default:0"`
	MessageCount int `json:"message_count" gorm:"default:0"`
	ShareCount   int `json:"share_count" gorm:"default:0"`

	// Derived fields, written only by the ranking engine.
	RankScore   float64 `json:"rank_score" gorm:"default:0;index"`
	DemandScore float64 `json:"demand_score" gorm:"default:0"`

	Status     string `json:"status" gorm:"size:20;index;default:ACTIVE"`
	Visibility string `json:"visibility" gorm:"size:20;default:public"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at"`
	SoldAt    *time.Time `json:"sold_at"`
}

func (Listing) TableName() string { return "listings" }

// TradeEligible reports whether the listing can participate in trades.
func (l *Listing) TradeEligible() bool {
	return l.Status == ListingActive &&
		(l.TradeIntent == IntentTrade || l.TradeIntent == IntentBoth)
}

// PriceDropPercent returns the discount from the original price, 0 when
// either price is missing.
func (l *Listing) PriceDropPercent() float64 {
	if l.OriginalPrice == nil || l.Price == nil || l.OriginalPrice.IsZero() {
		return 0
	}
	diff := l.OriginalPrice.Sub(*l.Price)
	pct, _ := diff.Div(*l.OriginalPrice).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// ListingSave is a user bookmark; one per (user, listing).
type ListingSave struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	ListingID uuid.UUID `json:"listing_id" gorm:"type:uuid;index;uniqueIndex:ux_save_user_listing;not null"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index;uniqueIndex:ux_save_user_listing;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (ListingSave) TableName() string { return "listing_saves" }

// Feed event types.
const (
	EventNewListing      = "NEW_LISTING"
	EventPriceDrop       = "PRICE_DROP"
	EventItemSold        = "ITEM_SOLD"
	EventItemTraded      = "ITEM_TRADED"
	EventTradeRequest    = "TRADE_REQUEST"
	EventShopBroadcast   = "SHOP_BROADCAST"
	EventShopRestock     = "SHOP_RESTOCK"
	EventFlashSale       = "FLASH_SALE"
	EventDropLive        = "DROP_LIVE"
	EventDropSoldOut     = "DROP_SOLD_OUT"
	EventUserPickup      = "USER_PICKUP"
	EventMeetupCompleted = "MEETUP_COMPLETED"
)

// Entity types referenced by feed events.
const (
	EntityListing = "listing"
	EntityDrop    = "drop"
	EntityStore   = "store"
	EntityMeetup  = "meetup"
)

// FeedEvent is an immutable activity record. Created once, never
// updated, removed only by retention cleanup.
type FeedEvent struct {
	ID         uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	EventType  string     `json:"event_type" gorm:"size:30;index;not null"`
	EntityType string     `json:"entity_type" gorm:"size:50;index;not null"`
	EntityID   uuid.UUID  `json:"entity_id" gorm:"type:uuid;index;not null"`
	UserID     *uuid.UUID `json:"user_id" gorm:"type:uuid;index"`

	CellR9 string `json:"cell_r9" gorm:"size:15;index;not null"`
	CellR8 string `json:"cell_r8" gorm:"size:15;index"`
	CellR7 string `json:"cell_r7" gorm:"size:15;index"`

	Payload     json.RawMessage `json:"payload" gorm:"type:text"`
	DisplayText string          `json:"display_text" gorm:"size:500"`

	CreatedAt time.Time  `json:"created_at" gorm:"index"`
	ExpiresAt *time.Time `json:"expires_at" gorm:"index"`
}

func (FeedEvent) TableName() string { return "feed_events" }

// Expired reports whether the event has passed its expiry. Events
// without an expiry never expire.
func (e *FeedEvent) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Activity kinds recorded in the cell activity ledger.
const (
	ActivityView         = "VIEW"
	ActivityDM           = "DM"
	ActivityTradeRequest = "TRADE_REQUEST"
	ActivitySearch       = "SEARCH"
)

// CellActivityRecord is one row of the activity ledger: a timestamped
// engagement fact pinned to an R9 cell. The heat engine windows over
// these; retention cleanup prunes them.
type CellActivityRecord struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	CellR9    string     `json:"cell_r9" gorm:"size:15;index:idx_activity_cell_time;not null"`
	Kind      string     `json:"kind" gorm:"size:20;index;not null"`
	UserID    *uuid.UUID `json:"user_id" gorm:"type:uuid"`
	ListingID *uuid.UUID `json:"listing_id" gorm:"type:uuid"`
	Term      string     `json:"term,omitempty" gorm:"size:200"`
	CreatedAt time.Time  `json:"created_at" gorm:"index:idx_activity_cell_time"`
}

func (CellActivityRecord) TableName() string { return "cell_activity" }

// Heat levels, bucketed from the composite score.
const (
	HeatCold = "cold"
	HeatWarm = "warm"
	HeatHot  = "hot"
	HeatFire = "fire"
)

// Price trend labels.
const (
	PriceRising  = "rising"
	PriceFalling = "falling"
	PriceStable  = "stable"
)

// TrendingBrand is one entry of a heat index's brand leaderboard.
type TrendingBrand struct {
	Brand  string `json:"brand"`
	Score  int    `json:"score"`
	Change int    `json:"change,omitempty"`
}

// TrendingSKU is one entry of a heat index's SKU leaderboard.
type TrendingSKU struct {
	SKU   string `json:"sku"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// TrendingSize is one entry of a heat index's size demand list.
type TrendingSize struct {
	Size        string  `json:"size"`
	DemandRatio float64 `json:"demand_ratio"`
}

// BrandList is a JSON-backed TrendingBrand column.
type BrandList []TrendingBrand

func (b BrandList) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

func (b *BrandList) Scan(src interface{}) error { return scanJSON(src, b) }

// SKUList is a JSON-backed TrendingSKU column.
type SKUList []TrendingSKU

func (s SKUList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *SKUList) Scan(src interface{}) error { return scanJSON(src, s) }

// SizeList is a JSON-backed TrendingSize column.
type SizeList []TrendingSize

func (s SizeList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *SizeList) Scan(src interface{}) error { return scanJSON(src, s) }

// NeighborhoodHeatIndex is the rolling demand snapshot for one R9 cell.
// One row per cell; created lazily, updated by the heat engine, never
// deleted.
type NeighborhoodHeatIndex struct {
	ID     uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	CellR9 string    `json:"cell_r9" gorm:"size:15;uniqueIndex;not null"`
	CellR8 string    `json:"cell_r8" gorm:"size:15;index"`
	CellR7 string    `json:"cell_r7" gorm:"size:15;index"`

	// Per-hour rates over the rolling window.
	SaveVelocity         float64 `json:"save_velocity" gorm:"default:0"`
	DMVelocity           float64 `json:"dm_velocity" gorm:"default:0"`
	TradeRequestVelocity float64 `json:"trade_request_velocity" gorm:"default:0"`
	ListingVelocity      float64 `json:"listing_velocity" gorm:"default:0"`
	ViewVelocity         float64 `json:"view_velocity" gorm:"default:0"`

	SearchVolume   int `json:"search_volume" gorm:"default:0"`
	ActiveListings int `json:"active_listings" gorm:"default:0"`
	ActiveUsers    int `json:"active_users" gorm:"default:0"`

	HeatScore float64 `json:"heat_score" gorm:"default:0;index"`
	HeatLevel string  `json:"heat_level" gorm:"size:20;default:cold;index"`

	TrendingBrands BrandList  `json:"trending_brands" gorm:"type:text"`
	TrendingSKUs   SKUList    `json:"trending_skus" gorm:"type:text"`
	TrendingSizes  SizeList   `json:"trending_sizes" gorm:"type:text"`
	HotSearches    StringList `json:"hot_searches" gorm:"type:text"`

	AvgListingPrice    *float64 `json:"avg_listing_price"`
	PriceTrend         string   `json:"price_trend" gorm:"size:20"`
	PriceChangePercent *float64 `json:"price_change_percent"`

	WindowHours int        `json:"window_hours" gorm:"default:24"`
	WindowStart *time.Time `json:"window_start"`
	WindowEnd   *time.Time `json:"window_end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

func (NeighborhoodHeatIndex) TableName() string { return "neighborhood_heat_index" }

// ComputeHeatScore folds the velocity metrics into the 0-100 composite
// and rebuckets the level. The weighting orders intent strength:
// DMs > saves > trade requests > new supply > views.
func (h *NeighborhoodHeatIndex) ComputeHeatScore() {
	score := h.SaveVelocity*25 +
		h.DMVelocity*30 +
		h.TradeRequestVelocity*20 +
		h.ListingVelocity*15 +
		h.ViewVelocity*10
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	h.HeatScore = score
	h.HeatLevel = HeatLevelFor(score)
}

// HeatLevelFor buckets a 0-100 score into a heat level.
func HeatLevelFor(score float64) string {
	switch {
	case score >= 80:
		return HeatFire
	case score >= 60:
		return HeatHot
	case score >= 30:
		return HeatWarm
	default:
		return HeatCold
	}
}

// Trade match types.
const (
	MatchTwoWay   = "TWO_WAY"
	MatchThreeWay = "THREE_WAY"
)

// Trade match statuses. COMPLETED, DECLINED and EXPIRED are terminal.
const (
	MatchSuggested = "SUGGESTED"
	MatchViewed    = "VIEWED"
	MatchPending   = "PENDING"
	MatchAccepted  = "ACCEPTED"
	MatchCompleted = "COMPLETED"
	MatchDeclined  = "DECLINED"
	MatchExpired   = "EXPIRED"
)

// MatchTerminal reports whether a status admits no further transitions.
func MatchTerminal(status string) bool {
	return status == MatchCompleted || status == MatchDeclined || status == MatchExpired
}

// Participant is one leg of a trade: what the user gives and gets.
type Participant struct {
	UserID          uuid.UUID `json:"user_id"`
	OffersListingID uuid.UUID `json:"offers_listing_id"`
	WantsListingID  uuid.UUID `json:"wants_listing_id"`
	OffersTitle     string    `json:"offers_title,omitempty"`
	WantsTitle      string    `json:"wants_title,omitempty"`
}

// ParticipantList is a JSON-backed participant column.
type ParticipantList []Participant

func (p ParticipantList) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *ParticipantList) Scan(src interface{}) error { return scanJSON(src, p) }

// Acceptance records one participant's decision.
type Acceptance struct {
	Accepted bool       `json:"accepted"`
	Declined bool       `json:"declined,omitempty"`
	At       *time.Time `json:"at"`
}

// AcceptanceMap is a JSON-backed user-id -> acceptance column.
type AcceptanceMap map[string]Acceptance

func (a AcceptanceMap) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *AcceptanceMap) Scan(src interface{}) error { return scanJSON(src, a) }

// TradeMatch is a suggested or in-progress reciprocal trade.
// ListingKey is the sorted join of ListingIDs; the engine checks it
// before insert so at most one non-terminal match exists per unordered
// listing set.
type TradeMatch struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	MatchType string    `json:"match_type" gorm:"size:10;index;not null"`

	Participants ParticipantList `json:"participants" gorm:"type:text;not null"`
	UserIDs      UUIDList        `json:"user_ids" gorm:"type:text;not null"`
	ListingIDs   UUIDList        `json:"listing_ids" gorm:"type:text;not null"`
	ListingKey   string          `json:"-" gorm:"size:256;index"`

	CommonCell       string   `json:"common_cell" gorm:"size:15;index"`
	LocalityScore    int      `json:"locality_score" gorm:"default:0"`
	MaxDistanceMiles *float64 `json:"max_distance_miles"`

	MatchScore   float64 `json:"match_score" gorm:"default:0;index"`
	ValueBalance float64 `json:"value_balance" gorm:"default:0"`

	Status      string        `json:"status" gorm:"size:20;index;default:SUGGESTED"`
	Acceptances AcceptanceMap `json:"acceptances" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at" gorm:"index"`
	CompletedAt *time.Time `json:"completed_at"`
	MeetupID    *uuid.UUID `json:"meetup_id" gorm:"type:uuid"`
}

func (TradeMatch) TableName() string { return "trade_matches" }

// HasParticipant reports whether the user is part of the match.
func (m *TradeMatch) HasParticipant(userID uuid.UUID) bool {
	return m.UserIDs.Contains(userID)
}

// ParticipantFor returns the user's leg of the trade.
func (m *TradeMatch) ParticipantFor(userID uuid.UUID) (Participant, bool) {
	for _, p := range m.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// IsExpired reports whether the match is past its expiry.
func (m *TradeMatch) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// UserWishlist is a desired-item filter used as a matching predicate.
type UserWishlist struct {
	ID     uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID uuid.UUID `json:"user_id" gorm:"type:uuid;index;not null"`

	SKU   string `json:"sku" gorm:"size:100;index"`
	Brand string `json:"brand" gorm:"size:100;index"`
	Model string `json:"model" gorm:"size:200"`

	Size         string `json:"size" gorm:"size:20"`
	SizeType     string `json:"size_type" gorm:"size:20"`
	SizeFlexible bool   `json:"size_flexible"`

	MaxPrice     *float64 `json:"max_price"`
	MinCondition string   `json:"min_condition" gorm:"size:20"`
	Priority     int      `json:"priority" gorm:"default:5"`

	NotifyOnMatch bool `json:"notify_on_match" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserWishlist) TableName() string { return "user_wishlists" }

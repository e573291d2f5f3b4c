package heat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/geo"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

type fakeStore struct {
	counts    store.ActivityCounts
	countsErr error
	listings  []*models.Listing
	existing  *models.NeighborhoodHeatIndex
	saved     *models.NeighborhoodHeatIndex
	cells     []string
}

func (f *fakeStore) ActiveCellsSince(ctx context.Context, since time.Time) ([]string, error) {
	return f.cells, nil
}

func (f *fakeStore) CellActivityCounts(ctx context.Context, cell string, windowStart time.Time) (store.ActivityCounts, error) {
	if f.countsErr != nil {
		return store.ActivityCounts{}, f.countsErr
	}
	return f.counts, nil
}

func (f *fakeStore) ActiveListings(ctx context.Context, cells []string) ([]*models.Listing, error) {
	return f.listings, nil
}

func (f *fakeStore) GetOrCreateHeatIndex(ctx context.Context, r9, r8, r7 string) (*models.NeighborhoodHeatIndex, error) {
	if f.existing != nil {
		return f.existing, nil
	}
	return &models.NeighborhoodHeatIndex{CellR9: r9, CellR8: r8, CellR7: r7}, nil
}

func (f *fakeStore) SaveHeatIndex(ctx context.Context, h *models.NeighborhoodHeatIndex) error {
	f.saved = h
	return nil
}

func testCell(t *testing.T) string {
	t.Helper()
	cell, err := geo.Encode(42.3551, -71.0657, geo.ResBlock)
	require.NoError(t, err)
	return cell
}

func listingWithPrice(brand, sku, size string, price float64) *models.Listing {
	p := decimal.NewFromFloat(price)
	return &models.Listing{
		Title:  brand + " " + sku,
		Brand:  brand,
		SKU:    sku,
		Size:   size,
		Price:  &p,
		Status: models.ListingActive,
	}
}

func TestRecomputeCellVelocitiesAndScore(t *testing.T) {
	fs := &fakeStore{
		counts: store.ActivityCounts{
			Saves:         24, // 1/hr
			DMs:           48, // 2/hr
			TradeRequests: 0,
			Views:         24, // 1/hr
			NewListings:   24, // 1/hr
			Searches:      7,
			ActiveUsers:   12,
			HotSearches:   []string{"jordan 4"},
		},
	}
	engine := NewEngine(fs, zap.NewNop())

	require.NoError(t, engine.RecomputeCell(context.Background(), testCell(t), time.Now().UTC()))
	require.NotNil(t, fs.saved)

	h := fs.saved
	assert.InDelta(t, 1.0, h.SaveVelocity, 1e-9)
	assert.InDelta(t, 2.0, h.DMVelocity, 1e-9)
	assert.InDelta(t, 1.0, h.ListingVelocity, 1e-9)
	assert.InDelta(t, 1.0, h.ViewVelocity, 1e-9)

	// 25*1 + 30*2 + 20*0 + 15*1 + 10*1 = 110, clamped to 100.
	assert.InDelta(t, 100, h.HeatScore, 1e-9)
	assert.Equal(t, models.HeatFire, h.HeatLevel)
	assert.Equal(t, 7, h.SearchVolume)
	assert.Equal(t, 12, h.ActiveUsers)
	assert.Equal(t, []string{"jordan 4"}, []string(h.HotSearches))
	assert.Equal(t, 24, h.WindowHours)
	require.NotNil(t, h.WindowStart)
	require.NotNil(t, h.WindowEnd)
}

func TestRecomputeCellQuietCellStaysCold(t *testing.T) {
	fs := &fakeStore{}
	engine := NewEngine(fs, zap.NewNop())

	require.NoError(t, engine.RecomputeCell(context.Background(), testCell(t), time.Now().UTC()))
	require.NotNil(t, fs.saved)
	assert.Zero(t, fs.saved.HeatScore)
	assert.Equal(t, models.HeatCold, fs.saved.HeatLevel)
}

func TestAncestorCellsFilledIn(t *testing.T) {
	fs := &fakeStore{}
	engine := NewEngine(fs, zap.NewNop())
	cell := testCell(t)

	require.NoError(t, engine.RecomputeCell(context.Background(), cell, time.Now().UTC()))

	r8, err := geo.Ancestor(cell, geo.ResNeighborhood)
	require.NoError(t, err)
	r7, err := geo.Ancestor(cell, geo.ResDistrict)
	require.NoError(t, err)
	assert.Equal(t, r8, fs.saved.CellR8)
	assert.Equal(t, r7, fs.saved.CellR7)
}

func TestTrendingListsCappedAtFive(t *testing.T) {
	var listings []*models.Listing
	for i := 0; i < 6; i++ {
		brand := fmt.Sprintf("Brand%d", i)
		// Brand0 appears most, Brand5 least.
		for j := 0; j <= 6-i; j++ {
			listings = append(listings, listingWithPrice(brand, fmt.Sprintf("SKU-%d", i), "10", 100))
		}
	}
	fs := &fakeStore{listings: listings}
	engine := NewEngine(fs, zap.NewNop())

	require.NoError(t, engine.RecomputeCell(context.Background(), testCell(t), time.Now().UTC()))

	brands := fs.saved.TrendingBrands
	require.Len(t, brands, 5)
	assert.Equal(t, "Brand0", brands[0].Brand)
	assert.Equal(t, 70, brands[0].Score) // 7 listings x 10
	for i := 1; i < len(brands); i++ {
		assert.GreaterOrEqual(t, brands[i-1].Score, brands[i].Score)
	}
	assert.Len(t, fs.saved.TrendingSKUs, 5)
}

func TestTrendingSizesRatio(t *testing.T) {
	listings := []*models.Listing{
		listingWithPrice("Jordan", "A", "10", 100),
		listingWithPrice("Jordan", "B", "10", 100),
		listingWithPrice("Jordan", "C", "10", 100),
		listingWithPrice("Jordan", "D", "9", 100),
	}
	fs := &fakeStore{listings: listings}
	engine := NewEngine(fs, zap.NewNop())

	require.NoError(t, engine.RecomputeCell(context.Background(), testCell(t), time.Now().UTC()))

	sizes := fs.saved.TrendingSizes
	require.Len(t, sizes, 2)
	assert.Equal(t, "10", sizes[0].Size)
	assert.InDelta(t, 0.75, sizes[0].DemandRatio, 1e-9)
	assert.InDelta(t, 0.25, sizes[1].DemandRatio, 1e-9)
}

func TestPriceTrendClassification(t *testing.T) {
	prior := 100.0

	trend, pct := classifyPriceTrend(&prior, ptr(110.0))
	assert.Equal(t, models.PriceRising, trend)
	require.NotNil(t, pct)
	assert.InDelta(t, 10, *pct, 1e-9)

	trend, pct = classifyPriceTrend(&prior, ptr(90.0))
	assert.Equal(t, models.PriceFalling, trend)
	require.NotNil(t, pct)
	assert.InDelta(t, -10, *pct, 1e-9)

	trend, _ = classifyPriceTrend(&prior, ptr(103.0))
	assert.Equal(t, models.PriceStable, trend)

	trend, pct = classifyPriceTrend(nil, ptr(100.0))
	assert.Equal(t, models.PriceStable, trend)
	assert.Nil(t, pct)
}

func TestPriceTrendAgainstStoredPrior(t *testing.T) {
	priorAvg := 100.0
	cell := testCell(t)
	fs := &fakeStore{
		existing: &models.NeighborhoodHeatIndex{CellR9: cell, AvgListingPrice: &priorAvg},
		listings: []*models.Listing{
			listingWithPrice("Jordan", "A", "10", 120),
			listingWithPrice("Jordan", "B", "10", 120),
		},
	}
	engine := NewEngine(fs, zap.NewNop())

	require.NoError(t, engine.RecomputeCell(context.Background(), cell, time.Now().UTC()))
	assert.Equal(t, models.PriceRising, fs.saved.PriceTrend)
	require.NotNil(t, fs.saved.AvgListingPrice)
	assert.InDelta(t, 120, *fs.saved.AvgListingPrice, 1e-9)
}

func TestRunPassReportsCellFailures(t *testing.T) {
	fs := &fakeStore{
		cells:     []string{testCell(t)},
		countsErr: errors.New("store down"),
	}
	engine := NewEngine(fs, zap.NewNop())
	assert.Error(t, engine.RunPass(context.Background()))

	fs.countsErr = nil
	assert.NoError(t, engine.RunPass(context.Background()))
}

func ptr(f float64) *float64 { return &f }

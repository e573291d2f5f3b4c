package tradematch

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/geo"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

type fakeStore struct {
	listings  map[uuid.UUID]*models.Listing
	saves     map[uuid.UUID]map[uuid.UUID]bool
	matches   map[uuid.UUID]*models.TradeMatch
	wishlists []*models.UserWishlist
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: make(map[uuid.UUID]*models.Listing),
		saves:    make(map[uuid.UUID]map[uuid.UUID]bool),
		matches:  make(map[uuid.UUID]*models.TradeMatch),
	}
}

func (f *fakeStore) addListing(l *models.Listing) { f.listings[l.ID] = l }

func (f *fakeStore) save(userID, listingID uuid.UUID) {
	if f.saves[userID] == nil {
		f.saves[userID] = make(map[uuid.UUID]bool)
	}
	f.saves[userID][listingID] = true
}

func (f *fakeStore) TradeCandidateUsers(ctx context.Context, limit int) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, l := range f.listings {
		if l.TradeEligible() && !seen[l.UserID] {
			seen[l.UserID] = true
			out = append(out, l.UserID)
		}
	}
	return out, nil
}

func (f *fakeStore) TradeListingsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, l := range f.listings {
		if l.UserID == userID && l.TradeEligible() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) SavedTradeListings(ctx context.Context, userID uuid.UUID) ([]*models.Listing, error) {
	var out []*models.Listing
	for id := range f.saves[userID] {
		l, ok := f.listings[id]
		if ok && l.UserID != userID && l.TradeEligible() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) HasSaved(ctx context.Context, userID, listingID uuid.UUID) (bool, error) {
	return f.saves[userID][listingID], nil
}

func (f *fakeStore) WishlistsMatchingProduct(ctx context.Context, sku, brand string) ([]*models.UserWishlist, error) {
	var out []*models.UserWishlist
	for _, w := range f.wishlists {
		if !w.NotifyOnMatch {
			continue
		}
		if (sku != "" && strings.EqualFold(w.SKU, sku)) ||
			(brand != "" && strings.EqualFold(w.Brand, brand)) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveMatchByListingKey(ctx context.Context, key string) (*models.TradeMatch, error) {
	for _, m := range f.matches {
		if m.ListingKey == key && !models.MatchTerminal(m.Status) {
			return m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) CreateMatch(ctx context.Context, m *models.TradeMatch) error {
	f.matches[m.ID] = m
	return nil
}

func (f *fakeStore) GetMatch(ctx context.Context, id uuid.UUID) (*models.TradeMatch, error) {
	m, ok := f.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) SaveMatch(ctx context.Context, m *models.TradeMatch) error {
	f.matches[m.ID] = m
	return nil
}

func mustCellSet(t *testing.T, lat, lng float64) (string, string, string) {
	t.Helper()
	r9, r8, r7, err := geo.CellSet(lat, lng)
	require.NoError(t, err)
	return r9, r8, r7
}

func tradeListing(t *testing.T, owner uuid.UUID, title string, price *float64, lat, lng float64) *models.Listing {
	t.Helper()
	r9, r8, r7 := mustCellSet(t, lat, lng)
	l := &models.Listing{
		ID:          uuid.New(),
		UserID:      owner,
		Title:       title,
		Brand:       "Jordan",
		Size:        "10",
		Condition:   models.ConditionVNDS,
		TradeIntent: models.IntentBoth,
		CellR9:      r9,
		CellR8:      r8,
		CellR7:      r7,
		Status:      models.ListingActive,
	}
	if price != nil {
		p := decimal.NewFromFloat(*price)
		l.Price = &p
	}
	return l
}

func fptr(f float64) *float64 { return &f }

func TestTwoWayReciprocalPair(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())
	ctx := context.Background()

	user1, user2 := uuid.New(), uuid.New()
	a := tradeListing(t, user1, "Bred 4", fptr(100), 42.3551, -71.0657)
	b := tradeListing(t, user2, "Chicago 1", fptr(120), 42.3551, -71.0657)
	fs.addListing(a)
	fs.addListing(b)
	fs.save(user2, a.ID)
	fs.save(user1, b.ID)

	require.NoError(t, engine.RunPass(ctx))
	require.Len(t, fs.matches, 1)

	var m *models.TradeMatch
	for _, v := range fs.matches {
		m = v
	}
	assert.Equal(t, models.MatchTwoWay, m.MatchType)
	assert.Equal(t, models.MatchSuggested, m.Status)
	assert.Equal(t, 100, m.LocalityScore)
	assert.InDelta(t, 100.0/120.0, m.ValueBalance, 1e-9)
	assert.InDelta(t, 0.5*100+0.5*100*(100.0/120.0), m.MatchScore, 1e-9)
	assert.Equal(t, a.CellR9, m.CommonCell)
	require.NotNil(t, m.ExpiresAt)

	pa, ok := m.ParticipantFor(user1)
	require.True(t, ok)
	assert.Equal(t, a.ID, pa.OffersListingID)
	assert.Equal(t, b.ID, pa.WantsListingID)
	pb, ok := m.ParticipantFor(user2)
	require.True(t, ok)
	assert.Equal(t, b.ID, pb.OffersListingID)
	assert.Equal(t, a.ID, pb.WantsListingID)

	// Re-running discovery must not duplicate the pair.
	require.NoError(t, engine.RunPass(ctx))
	assert.Len(t, fs.matches, 1)
}

func TestNoMatchWithoutReciprocity(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())

	user1, user2 := uuid.New(), uuid.New()
	a := tradeListing(t, user1, "Bred 4", fptr(100), 42.3551, -71.0657)
	b := tradeListing(t, user2, "Chicago 1", fptr(120), 42.3551, -71.0657)
	fs.addListing(a)
	fs.addListing(b)
	fs.save(user1, b.ID) // one-directional interest only

	require.NoError(t, engine.RunPass(context.Background()))
	assert.Empty(t, fs.matches)
}

func TestUnpricedPairScoresHalfLocality(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())

	user1, user2 := uuid.New(), uuid.New()
	a := tradeListing(t, user1, "Bred 4", nil, 42.3551, -71.0657)
	b := tradeListing(t, user2, "Chicago 1", fptr(120), 42.3551, -71.0657)
	fs.addListing(a)
	fs.addListing(b)
	fs.save(user2, a.ID)
	fs.save(user1, b.ID)

	require.NoError(t, engine.RunPass(context.Background()))
	require.Len(t, fs.matches, 1)
	for _, m := range fs.matches {
		// The value half is forfeited, not replaced by locality.
		assert.InDelta(t, 0.5*float64(m.LocalityScore), m.MatchScore, 1e-9)
		assert.Zero(t, m.ValueBalance)
	}
}

func TestLocalityDecaysWithDistance(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())

	user1, user2 := uuid.New(), uuid.New()
	// Boston Common vs Harvard Square, a few grid steps apart at R9.
	a := tradeListing(t, user1, "Bred 4", fptr(100), 42.3551, -71.0657)
	b := tradeListing(t, user2, "Chicago 1", fptr(100), 42.3736, -71.1190)
	fs.addListing(a)
	fs.addListing(b)
	fs.save(user2, a.ID)
	fs.save(user1, b.ID)

	require.NoError(t, engine.RunPass(context.Background()))
	require.Len(t, fs.matches, 1)
	for _, m := range fs.matches {
		assert.Less(t, m.LocalityScore, 100)
		assert.GreaterOrEqual(t, m.LocalityScore, 0)
		require.NotNil(t, m.MaxDistanceMiles)
		assert.Greater(t, *m.MaxDistanceMiles, 0.0)
	}
}

func TestThreeWayCycle(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())
	ctx := context.Background()

	userU, userV, userW := uuid.New(), uuid.New(), uuid.New()
	x := tradeListing(t, userU, "Listing X", fptr(100), 42.3551, -71.0657)
	y := tradeListing(t, userV, "Listing Y", fptr(110), 42.3551, -71.0657)
	z := tradeListing(t, userW, "Listing Z", fptr(120), 42.3551, -71.0657)
	fs.addListing(x)
	fs.addListing(y)
	fs.addListing(z)

	// U wants Y, V wants Z, W wants X: a 3-cycle with no reciprocal
	// pair anywhere.
	fs.save(userU, y.ID)
	fs.save(userV, z.ID)
	fs.save(userW, x.ID)

	require.NoError(t, engine.RunPass(ctx))
	require.Len(t, fs.matches, 1)

	var m *models.TradeMatch
	for _, v := range fs.matches {
		m = v
	}
	assert.Equal(t, models.MatchThreeWay, m.MatchType)
	require.Len(t, m.Participants, 3)

	// Each participant offers exactly what the previous one wants.
	byUser := map[uuid.UUID]models.Participant{}
	for _, p := range m.Participants {
		byUser[p.UserID] = p
	}
	assert.Equal(t, y.ID, byUser[userU].WantsListingID)
	assert.Equal(t, x.ID, byUser[userU].OffersListingID)
	assert.Equal(t, z.ID, byUser[userV].WantsListingID)
	assert.Equal(t, y.ID, byUser[userV].OffersListingID)
	assert.Equal(t, x.ID, byUser[userW].WantsListingID)
	assert.Equal(t, z.ID, byUser[userW].OffersListingID)

	assert.InDelta(t, 100.0/120.0, m.ValueBalance, 1e-9)

	// Discovery from every rotation of the cycle lands on one match.
	require.NoError(t, engine.RunPass(ctx))
	assert.Len(t, fs.matches, 1)
}

func TestRandomReciprocalPairsProduceOneMatchEach(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())
	rng := rand.New(rand.NewSource(42))

	const pairs = 20
	for i := 0; i < pairs; i++ {
		u1, u2 := uuid.New(), uuid.New()
		lat := 42.0 + rng.Float64()
		lng := -71.0 - rng.Float64()
		a := tradeListing(t, u1, "A", fptr(50+rng.Float64()*100), lat, lng)
		b := tradeListing(t, u2, "B", fptr(50+rng.Float64()*100), lat, lng)
		fs.addListing(a)
		fs.addListing(b)
		fs.save(u1, b.ID)
		fs.save(u2, a.ID)
	}

	require.NoError(t, engine.RunPass(context.Background()))
	assert.Len(t, fs.matches, pairs)

	require.NoError(t, engine.RunPass(context.Background()))
	assert.Len(t, fs.matches, pairs)

	keys := make(map[string]int)
	for _, m := range fs.matches {
		keys[m.ListingKey]++
	}
	for key, n := range keys {
		assert.Equal(t, 1, n, "duplicate match for %s", key)
	}
}

func TestWishlistInterestCreatesMatch(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())
	ctx := context.Background()

	user1, user2 := uuid.New(), uuid.New()
	a := tradeListing(t, user1, "Bred 4", fptr(100), 42.3551, -71.0657)
	b := tradeListing(t, user2, "Chicago 1", fptr(120), 42.3551, -71.0657)
	fs.addListing(a)
	fs.addListing(b)

	// user2 never saved a, but keeps a wishlist entry it satisfies.
	fs.save(user1, b.ID)
	fs.wishlists = append(fs.wishlists, &models.UserWishlist{
		ID:            uuid.New(),
		UserID:        user2,
		Brand:         "Jordan",
		Size:          "10",
		NotifyOnMatch: true,
	})

	require.NoError(t, engine.RunPass(ctx))
	require.Len(t, fs.matches, 1)
	for _, m := range fs.matches {
		assert.Equal(t, models.MatchTwoWay, m.MatchType)
		assert.True(t, m.HasParticipant(user2))
	}

	require.NoError(t, engine.RunPass(ctx))
	assert.Len(t, fs.matches, 1)
}

func TestWishlistWithNotifyOffIsIgnored(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())

	user1, user2 := uuid.New(), uuid.New()
	a := tradeListing(t, user1, "Bred 4", fptr(100), 42.3551, -71.0657)
	b := tradeListing(t, user2, "Chicago 1", fptr(120), 42.3551, -71.0657)
	fs.addListing(a)
	fs.addListing(b)
	fs.save(user1, b.ID)
	fs.wishlists = append(fs.wishlists, &models.UserWishlist{
		ID:     uuid.New(),
		UserID: user2,
		Brand:  "Jordan",
	})

	require.NoError(t, engine.RunPass(context.Background()))
	assert.Empty(t, fs.matches)
}

func TestAllSavedOffersMatchInOnePass(t *testing.T) {
	fs := newFakeStore()
	engine := NewEngine(fs, zap.NewNop())
	ctx := context.Background()

	user1, user2 := uuid.New(), uuid.New()
	x1 := tradeListing(t, user1, "Bred 4", fptr(100), 42.3551, -71.0657)
	x2 := tradeListing(t, user1, "Mocha 4", fptr(150), 42.3551, -71.0657)
	y := tradeListing(t, user2, "Chicago 1", fptr(120), 42.3551, -71.0657)
	fs.addListing(x1)
	fs.addListing(x2)
	fs.addListing(y)

	// user2 wants both of user1's offers.
	fs.save(user1, y.ID)
	fs.save(user2, x1.ID)
	fs.save(user2, x2.ID)

	require.NoError(t, engine.RunPass(ctx))
	require.Len(t, fs.matches, 2)

	keys := make(map[string]bool)
	for _, m := range fs.matches {
		keys[m.ListingKey] = true
	}
	assert.True(t, keys[listingKey(x1.ID, y.ID)])
	assert.True(t, keys[listingKey(x2.ID, y.ID)])

	require.NoError(t, engine.RunPass(ctx))
	assert.Len(t, fs.matches, 2)
}

func TestListingKeyOrderIndependent(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	assert.Equal(t, listingKey(a, b), listingKey(b, a))
	assert.Equal(t, listingKey(a, b, c), listingKey(c, a, b))
	assert.NotEqual(t, listingKey(a, b), listingKey(a, c))
}

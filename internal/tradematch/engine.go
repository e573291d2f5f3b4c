// Package tradematch discovers reciprocal trade opportunities between
// users' listings and bookmarks, scores them for locality and value
// balance, and runs the acceptance lifecycle.
package tradematch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/geo"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

const (
	// matchTTL is how long a suggestion stays open.
	matchTTL = 7 * 24 * time.Hour
	// candidateLimit bounds one discovery pass.
	candidateLimit = 100
	// defaultLocality is used when the grid distance between two cells
	// cannot be computed.
	defaultLocality = 50
)

// Store is the persistence surface the engine needs.
type Store interface {
	TradeCandidateUsers(ctx context.Context, limit int) ([]uuid.UUID, error)
	TradeListingsByUser(ctx context.Context, userID uuid.UUID) ([]*models.Listing, error)
	SavedTradeListings(ctx context.Context, userID uuid.UUID) ([]*models.Listing, error)
	HasSaved(ctx context.Context, userID, listingID uuid.UUID) (bool, error)
	WishlistsMatchingProduct(ctx context.Context, sku, brand string) ([]*models.UserWishlist, error)
	ActiveMatchByListingKey(ctx context.Context, key string) (*models.TradeMatch, error)
	CreateMatch(ctx context.Context, m *models.TradeMatch) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.TradeMatch, error)
	SaveMatch(ctx context.Context, m *models.TradeMatch) error
}

// Engine discovers and manages trade matches.
type Engine struct {
	store  Store
	logger *zap.Logger
}

// NewEngine builds a trade match engine.
func NewEngine(s Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

// listingKey canonicalizes an unordered listing set: sorted ids joined.
// At most one non-terminal match may exist per key.
func listingKey(ids ...uuid.UUID) string {
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, id.String())
	}
	sort.Strings(ss)
	return strings.Join(ss, "|")
}

// RunPass scans candidate users and creates any newly discovered
// matches. Per-user failures are logged and skipped.
func (e *Engine) RunPass(ctx context.Context) error {
	users, err := e.store.TradeCandidateUsers(ctx, candidateLimit)
	if err != nil {
		return fmt.Errorf("failed to list trade candidates: %w", err)
	}

	created, failed := 0, 0
	for _, userID := range users {
		n, err := e.DiscoverForUser(ctx, userID)
		if err != nil {
			failed++
			e.logger.Warn("trade discovery failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		created += n
	}
	e.logger.Info("trade match pass complete",
		zap.Int("users", len(users)),
		zap.Int("created", created),
		zap.Int("failed", failed))
	if failed > 0 {
		return fmt.Errorf("trade match pass: %d of %d users failed", failed, len(users))
	}
	return nil
}

// DiscoverForUser finds two-way and three-way matches rooted at one
// user, returning how many were created.
func (e *Engine) DiscoverForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	offers, err := e.store.TradeListingsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	wants, err := e.store.SavedTradeListings(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(offers) == 0 || len(wants) == 0 {
		return 0, nil
	}

	created := 0
	for _, wanted := range wants {
		n, err := e.discoverTwoWay(ctx, userID, offers, wanted)
		if err != nil {
			return created, err
		}
		created += n

		n, err = e.discoverThreeWay(ctx, userID, offers, wanted)
		if err != nil {
			return created, err
		}
		created += n
	}
	return created, nil
}

// discoverTwoWay checks reciprocity: the wanted listing's owner must
// have signalled interest in one of the user's offers. Every
// interested pair yields its own match.
func (e *Engine) discoverTwoWay(ctx context.Context, userID uuid.UUID, offers []*models.Listing, wanted *models.Listing) (int, error) {
	owner := wanted.UserID
	created := 0
	for _, offered := range offers {
		interested, err := e.reciprocalInterest(ctx, owner, offered)
		if err != nil {
			return created, err
		}
		if !interested {
			continue
		}

		key := listingKey(offered.ID, wanted.ID)
		if exists, err := e.matchExists(ctx, key); err != nil {
			return created, err
		} else if exists {
			continue
		}

		m := e.buildMatch(models.MatchTwoWay, key, []models.Participant{
			{
				UserID:          userID,
				OffersListingID: offered.ID,
				WantsListingID:  wanted.ID,
				OffersTitle:     offered.Title,
				WantsTitle:      wanted.Title,
			},
			{
				UserID:          owner,
				OffersListingID: wanted.ID,
				WantsListingID:  offered.ID,
				OffersTitle:     wanted.Title,
				WantsTitle:      offered.Title,
			},
		}, []*models.Listing{offered, wanted})

		if err := e.store.CreateMatch(ctx, m); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// reciprocalInterest reports whether the user wants the listing, either
// through a save or a wishlist entry it satisfies.
func (e *Engine) reciprocalInterest(ctx context.Context, userID uuid.UUID, l *models.Listing) (bool, error) {
	saved, err := e.store.HasSaved(ctx, userID, l.ID)
	if err != nil || saved {
		return saved, err
	}
	entries, err := e.store.WishlistsMatchingProduct(ctx, l.SKU, l.Brand)
	if err != nil {
		return false, err
	}
	for _, w := range entries {
		if w.UserID == userID && WishlistMatches(w, l) {
			return true, nil
		}
	}
	return false, nil
}

// discoverThreeWay walks one step further: the wanted listing's owner V
// wants some listing of a third user W, and W wants one of the root
// user's offers — a 3-cycle over the want graph. Rotations of the same
// cycle collapse onto one listing key.
func (e *Engine) discoverThreeWay(ctx context.Context, userID uuid.UUID, offers []*models.Listing, wanted *models.Listing) (int, error) {
	ownerV := wanted.UserID
	wantsV, err := e.store.SavedTradeListings(ctx, ownerV)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, wantedByV := range wantsV {
		ownerW := wantedByV.UserID
		if ownerW == userID || ownerW == ownerV {
			continue
		}
		for _, offered := range offers {
			interested, err := e.reciprocalInterest(ctx, ownerW, offered)
			if err != nil {
				return created, err
			}
			if !interested {
				continue
			}

			key := listingKey(offered.ID, wanted.ID, wantedByV.ID)
			if exists, err := e.matchExists(ctx, key); err != nil {
				return created, err
			} else if exists {
				continue
			}

			m := e.buildMatch(models.MatchThreeWay, key, []models.Participant{
				{
					UserID:          userID,
					OffersListingID: offered.ID,
					WantsListingID:  wanted.ID,
					OffersTitle:     offered.Title,
					WantsTitle:      wanted.Title,
				},
				{
					UserID:          ownerV,
					OffersListingID: wanted.ID,
					WantsListingID:  wantedByV.ID,
					OffersTitle:     wanted.Title,
					WantsTitle:      wantedByV.Title,
				},
				{
					UserID:          ownerW,
					OffersListingID: wantedByV.ID,
					WantsListingID:  offered.ID,
					OffersTitle:     wantedByV.Title,
					WantsTitle:      offered.Title,
				},
			}, []*models.Listing{offered, wanted, wantedByV})

			if err := e.store.CreateMatch(ctx, m); err != nil {
				return created, err
			}
			created++
			break
		}
	}
	return created, nil
}

func (e *Engine) matchExists(ctx context.Context, key string) (bool, error) {
	_, err := e.store.ActiveMatchByListingKey(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// buildMatch assembles the record with locality, value and composite
// scores.
func (e *Engine) buildMatch(matchType, key string, participants []models.Participant, listings []*models.Listing) *models.TradeMatch {
	locality, maxMiles := localityOf(listings)
	balance, hasBalance := valueBalance(matchScoreInputs(listings))

	// The value half is only earned when every listing is priced.
	score := 0.5 * float64(locality)
	if hasBalance {
		score += 0.5 * 100 * balance
	}

	userIDs := make(models.UUIDList, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}
	listingIDs := make(models.UUIDList, 0, len(listings))
	for _, l := range listings {
		listingIDs = append(listingIDs, l.ID)
	}

	expires := time.Now().UTC().Add(matchTTL)
	return &models.TradeMatch{
		ID:               uuid.New(),
		MatchType:        matchType,
		Participants:     participants,
		UserIDs:          userIDs,
		ListingIDs:       listingIDs,
		ListingKey:       key,
		CommonCell:       commonCell(listings),
		LocalityScore:    locality,
		MaxDistanceMiles: maxMiles,
		MatchScore:       score,
		ValueBalance:     balance,
		Status:           models.MatchSuggested,
		Acceptances:      models.AcceptanceMap{},
		ExpiresAt:        &expires,
	}
}

// localityOf scores proximity from the worst pairwise grid distance,
// max(0, 100 - 10*distance), defaulting when a lookup fails. It also
// reports the worst pairwise great-circle distance in miles when
// computable.
func localityOf(listings []*models.Listing) (int, *float64) {
	maxSteps := 0
	var maxMiles *float64
	for i := 0; i < len(listings); i++ {
		for j := i + 1; j < len(listings); j++ {
			d, err := geo.GridDistance(listings[i].CellR9, listings[j].CellR9)
			if err != nil {
				return defaultLocality, maxMiles
			}
			if d > maxSteps {
				maxSteps = d
			}
			if miles, err := geo.DistanceMiles(listings[i].CellR9, listings[j].CellR9); err == nil {
				if maxMiles == nil || miles > *maxMiles {
					maxMiles = &miles
				}
			}
		}
	}
	score := 100 - 10*maxSteps
	if score < 0 {
		score = 0
	}
	return score, maxMiles
}

func matchScoreInputs(listings []*models.Listing) []float64 {
	prices := make([]float64, 0, len(listings))
	for _, l := range listings {
		if l.Price == nil {
			return nil
		}
		p, _ := l.Price.Float64()
		prices = append(prices, p)
	}
	return prices
}

// valueBalance is min(prices)/max(prices); absent when any listing is
// unpriced.
func valueBalance(prices []float64) (float64, bool) {
	if len(prices) == 0 {
		return 0, false
	}
	min, max := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	if max == 0 {
		return 0, false
	}
	return min / max, true
}

// commonCell is the finest shared ancestor cell of all listings, empty
// when they share none down to district resolution.
func commonCell(listings []*models.Listing) string {
	if len(listings) == 0 {
		return ""
	}
	for _, col := range []func(*models.Listing) string{
		func(l *models.Listing) string { return l.CellR9 },
		func(l *models.Listing) string { return l.CellR8 },
		func(l *models.Listing) string { return l.CellR7 },
	} {
		cell := col(listings[0])
		shared := cell != ""
		for _, l := range listings[1:] {
			if col(l) != cell {
				shared = false
				break
			}
		}
		if shared {
			return cell
		}
	}
	return ""
}

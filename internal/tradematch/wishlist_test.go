package tradematch

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

func wishlistListing() *models.Listing {
	price := decimal.NewFromInt(180)
	return &models.Listing{
		Title:     "Jordan 4 Retro Bred",
		Brand:     "Jordan",
		SKU:       "FV5029-006",
		Size:      "10",
		Condition: models.ConditionVNDS,
		Price:     &price,
		Status:    models.ListingActive,
	}
}

func TestWishlistEmptyMatchesEverything(t *testing.T) {
	assert.True(t, WishlistMatches(&models.UserWishlist{}, wishlistListing()))
}

func TestWishlistSKUCaseInsensitive(t *testing.T) {
	l := wishlistListing()
	assert.True(t, WishlistMatches(&models.UserWishlist{SKU: "fv5029-006"}, l))
	assert.False(t, WishlistMatches(&models.UserWishlist{SKU: "DD1391-100"}, l))
}

func TestWishlistBrandAndModel(t *testing.T) {
	l := wishlistListing()
	assert.True(t, WishlistMatches(&models.UserWishlist{Brand: "JORDAN"}, l))
	assert.False(t, WishlistMatches(&models.UserWishlist{Brand: "Nike"}, l))
	assert.True(t, WishlistMatches(&models.UserWishlist{Model: "bred"}, l))
	assert.False(t, WishlistMatches(&models.UserWishlist{Model: "mocha"}, l))
}

func TestWishlistSizeFlexibility(t *testing.T) {
	l := wishlistListing() // size 10

	assert.True(t, WishlistMatches(&models.UserWishlist{Size: "10"}, l))
	assert.False(t, WishlistMatches(&models.UserWishlist{Size: "10.5"}, l))
	assert.True(t, WishlistMatches(&models.UserWishlist{Size: "10.5", SizeFlexible: true}, l))
	assert.True(t, WishlistMatches(&models.UserWishlist{Size: "9.5", SizeFlexible: true}, l))
	assert.False(t, WishlistMatches(&models.UserWishlist{Size: "11", SizeFlexible: true}, l))
}

func TestWishlistPriceCeiling(t *testing.T) {
	l := wishlistListing() // $180
	max := 200.0
	assert.True(t, WishlistMatches(&models.UserWishlist{MaxPrice: &max}, l))
	low := 150.0
	assert.False(t, WishlistMatches(&models.UserWishlist{MaxPrice: &low}, l))

	// Unpriced trade-only listings are not excluded by a ceiling.
	l.Price = nil
	assert.True(t, WishlistMatches(&models.UserWishlist{MaxPrice: &low}, l))
}

func TestWishlistMinCondition(t *testing.T) {
	l := wishlistListing() // VNDS

	assert.True(t, WishlistMatches(&models.UserWishlist{MinCondition: models.ConditionGood}, l))
	assert.True(t, WishlistMatches(&models.UserWishlist{MinCondition: models.ConditionVNDS}, l))
	assert.False(t, WishlistMatches(&models.UserWishlist{MinCondition: models.ConditionDS}, l))

	l.Condition = models.ConditionBeat
	assert.False(t, WishlistMatches(&models.UserWishlist{MinCondition: models.ConditionFair}, l))
}

func TestWishlistIgnoresInactiveListings(t *testing.T) {
	l := wishlistListing()
	l.Status = models.ListingSold
	assert.False(t, WishlistMatches(&models.UserWishlist{}, l))
}

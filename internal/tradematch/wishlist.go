package tradematch

import (
	"strconv"
	"strings"

	"github.com/sneakloop/hyperlocal/pkg/models"
)

// sizeFlexMargin is how far a flexible size may deviate.
const sizeFlexMargin = 0.5

// WishlistMatches applies the wishlist predicate to a listing: every
// specified field must hold, absent fields impose no constraint.
func WishlistMatches(w *models.UserWishlist, l *models.Listing) bool {
	if l.Status != models.ListingActive {
		return false
	}
	if w.SKU != "" && !strings.EqualFold(w.SKU, l.SKU) {
		return false
	}
	if w.Brand != "" && !strings.EqualFold(w.Brand, l.Brand) {
		return false
	}
	if w.Model != "" && !strings.Contains(strings.ToLower(l.Title), strings.ToLower(w.Model)) {
		return false
	}
	if w.Size != "" && !sizeMatches(w.Size, l.Size, w.SizeFlexible) {
		return false
	}
	if w.MaxPrice != nil && l.Price != nil {
		p, _ := l.Price.Float64()
		if p > *w.MaxPrice {
			return false
		}
	}
	if w.MinCondition != "" && !models.ConditionAtLeast(l.Condition, w.MinCondition) {
		return false
	}
	return true
}

// sizeMatches compares sizes exactly, or within half a size when the
// wishlist is flexible and both sizes are numeric.
func sizeMatches(want, have string, flexible bool) bool {
	if strings.EqualFold(want, have) {
		return true
	}
	if !flexible {
		return false
	}
	w, errW := strconv.ParseFloat(want, 64)
	h, errH := strconv.ParseFloat(have, 64)
	if errW != nil || errH != nil {
		return false
	}
	diff := w - h
	if diff < 0 {
		diff = -diff
	}
	return diff <= sizeFlexMargin
}

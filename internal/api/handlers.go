package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/feed"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/pkg/models"
)

func queryFloat(c *gin.Context, name string, def float64) float64 {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleHyperlocalFeed(c *gin.Context) {
	req := feed.FeedRequest{
		Lat:         queryFloat(c, "lat", 0),
		Lng:         queryFloat(c, "lng", 0),
		RadiusMiles: queryFloat(c, "radius_miles", 0),
		SortBy:      c.Query("sort_by"),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "page_size", 0),
		Filters: store.FeedFilters{
			Brand:       c.Query("brand"),
			Size:        c.Query("size"),
			Condition:   c.Query("condition"),
			TradeIntent: c.Query("trade_intent"),
		},
	}
	if raw := c.Query("min_price"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			req.Filters.MinPrice = &v
		}
	}
	if raw := c.Query("max_price"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			req.Filters.MaxPrice = &v
		}
	}

	page, err := s.svc.HyperlocalFeed(c.Request.Context(), optionalUser(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) handleHeatIndex(c *gin.Context) {
	h, err := s.svc.HeatSnapshot(c.Request.Context(), queryFloat(c, "lat", 91), queryFloat(c, "lng", 181))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleHeatMap(c *gin.Context) {
	cells, err := s.svc.HeatMap(c.Request.Context(),
		queryFloat(c, "lat", 91), queryFloat(c, "lng", 181), queryFloat(c, "radius_miles", 0))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cells": cells})
}

func (s *Server) handleActivityRibbon(c *gin.Context) {
	window := time.Duration(queryInt(c, "window_hours", 24)) * time.Hour
	events, err := s.svc.ActivityRibbon(c.Request.Context(),
		queryFloat(c, "lat", 91), queryFloat(c, "lng", 181),
		queryFloat(c, "radius_miles", 0),
		c.Query("event_type"), window, queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type createListingRequest struct {
	Title          string   `json:"title" binding:"required"`
	Description    string   `json:"description"`
	Brand          string   `json:"brand" binding:"required"`
	SKU            string   `json:"sku"`
	Colorway       string   `json:"colorway"`
	Size           string   `json:"size" binding:"required"`
	SizeType       string   `json:"size_type"`
	Condition      string   `json:"condition" binding:"required"`
	ConditionNotes string   `json:"condition_notes"`
	HasBox         bool     `json:"has_box"`
	HasExtras      bool     `json:"has_extras"`
	Images         []string `json:"images"`
	Price          *float64 `json:"price"`
	TradeIntent    string   `json:"trade_intent"`
	TradeInterests []string `json:"trade_interests"`
	TradeNotes     string   `json:"trade_notes"`
	Lat            float64  `json:"lat" binding:"required"`
	Lng            float64  `json:"lng" binding:"required"`
}

func (s *Server) handleCreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := s.svc.CreateListing(c.Request.Context(), currentUser(c), feed.CreateListingInput{
		Title:          req.Title,
		Description:    req.Description,
		Brand:          req.Brand,
		SKU:            req.SKU,
		Colorway:       req.Colorway,
		Size:           req.Size,
		SizeType:       req.SizeType,
		Condition:      req.Condition,
		ConditionNotes: req.ConditionNotes,
		HasBox:         req.HasBox,
		HasExtras:      req.HasExtras,
		Images:         req.Images,
		Price:          req.Price,
		TradeIntent:    req.TradeIntent,
		TradeInterests: req.TradeInterests,
		TradeNotes:     req.TradeNotes,
		Lat:            req.Lat,
		Lng:            req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

func (s *Server) handleGetListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	listing, err := s.svc.GetListing(c.Request.Context(), optionalUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) handleSaveListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.SaveListing(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func (s *Server) handleUnsaveListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.svc.UnsaveListing(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": false})
}

func (s *Server) handleContactSeller(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		TradeRequest bool `json:"trade_request"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := s.svc.ContactSeller(c.Request.Context(), currentUser(c), id, req.TradeRequest); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacted": true})
}

func (s *Server) handlePriceDrop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Price float64 `json:"price" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := s.svc.DropPrice(c.Request.Context(), currentUser(c), id, req.Price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) handleCloseListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Traded bool `json:"traded"`
	}
	_ = c.ShouldBindJSON(&req)

	listing, err := s.svc.CloseListing(c.Request.Context(), currentUser(c), id, req.Traded)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (s *Server) handleListMatches(c *gin.Context) {
	matches, err := s.repo.MatchesForUser(c.Request.Context(), currentUser(c), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleViewMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := s.matches.MarkViewed(c.Request.Context(), id, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleAcceptMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := s.matches.Accept(c.Request.Context(), id, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleDeclineMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	m, err := s.matches.Decline(c.Request.Context(), id, currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleCompleteMatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		MeetupID *uuid.UUID `json:"meetup_id"`
	}
	_ = c.ShouldBindJSON(&req)

	m, err := s.matches.Complete(c.Request.Context(), id, currentUser(c), req.MeetupID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type wishlistRequest struct {
	SKU          string   `json:"sku"`
	Brand        string   `json:"brand"`
	Model        string   `json:"model"`
	Size         string   `json:"size"`
	SizeType     string   `json:"size_type"`
	SizeFlexible bool     `json:"size_flexible"`
	MaxPrice     *float64 `json:"max_price"`
	MinCondition string   `json:"min_condition"`
	Priority     int      `json:"priority"`
	Notify       *bool    `json:"notify_on_match"`
}

func (s *Server) handleAddWishlist(c *gin.Context) {
	var req wishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SKU == "" && req.Brand == "" && req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of sku, brand or model is required"})
		return
	}

	w := &models.UserWishlist{
		UserID:        currentUser(c),
		SKU:           req.SKU,
		Brand:         req.Brand,
		Model:         req.Model,
		Size:          req.Size,
		SizeType:      req.SizeType,
		SizeFlexible:  req.SizeFlexible,
		MaxPrice:      req.MaxPrice,
		MinCondition:  req.MinCondition,
		Priority:      req.Priority,
		NotifyOnMatch: req.Notify == nil || *req.Notify,
	}
	if w.Priority == 0 {
		w.Priority = 5
	}
	if err := s.repo.CreateWishlist(c.Request.Context(), w); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) handleListWishlist(c *gin.Context) {
	list, err := s.repo.WishlistsByUser(c.Request.Context(), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wishlist": list})
}

func (s *Server) handleRemoveWishlist(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.repo.DeleteWishlist(c.Request.Context(), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleActivitySocket upgrades to the live feed described by the
// channel protocol.
func (s *Server) handleActivitySocket(c *gin.Context) {
	lat := queryFloat(c, "lat", 91)
	lng := queryFloat(c, "lng", 181)
	radius := queryFloat(c, "radius_miles", 0)

	s.logger.Debug("websocket feed attach",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.Float64("radius_miles", radius))
	s.hub.ServeWS(c.Writer, c.Request, lat, lng, radius)
}

// Package api exposes the hyperlocal feed over HTTP and WebSocket.
// Identity arrives as an X-User-ID header from the gateway; this
// service performs no authentication of its own.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/feed"
	"github.com/sneakloop/hyperlocal/internal/realtime"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/internal/tradematch"
)

const userIDHeader = "X-User-ID"

// Server wires the handlers onto a gin router.
type Server struct {
	svc     *feed.Service
	matches *tradematch.Engine
	repo    *store.Repository
	hub     *realtime.Hub
	logger  *zap.Logger
	router  *gin.Engine
}

// NewServer builds the router. Mode should be gin.ReleaseMode outside
// development.
func NewServer(
	mode string,
	svc *feed.Service,
	matches *tradematch.Engine,
	repo *store.Repository,
	hub *realtime.Hub,
	logger *zap.Logger,
) *Server {
	gin.SetMode(mode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, userIDHeader)
	router.Use(cors.New(corsCfg))

	s := &Server{
		svc:     svc,
		matches: matches,
		repo:    repo,
		hub:     hub,
		logger:  logger,
		router:  router,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v2 := s.router.Group("/v2")
	{
		feedGroup := v2.Group("/feed")
		{
			feedGroup.GET("/hyperlocal", s.handleHyperlocalFeed)
			feedGroup.GET("/heat-index", s.handleHeatIndex)
			feedGroup.GET("/heat-index/map", s.handleHeatMap)
			feedGroup.GET("/activity-ribbon", s.handleActivityRibbon)
		}

		listings := v2.Group("/listings")
		{
			listings.POST("", s.requireUser, s.handleCreateListing)
			listings.GET("/:id", s.handleGetListing)
			listings.POST("/:id/save", s.requireUser, s.handleSaveListing)
			listings.DELETE("/:id/save", s.requireUser, s.handleUnsaveListing)
			listings.POST("/:id/contact", s.requireUser, s.handleContactSeller)
			listings.POST("/:id/price-drop", s.requireUser, s.handlePriceDrop)
			listings.POST("/:id/close", s.requireUser, s.handleCloseListing)
		}

		matches := v2.Group("/trade-matches", s.requireUser)
		{
			matches.GET("", s.handleListMatches)
			matches.POST("/:id/view", s.handleViewMatch)
			matches.POST("/:id/accept", s.handleAcceptMatch)
			matches.POST("/:id/decline", s.handleDeclineMatch)
			matches.POST("/:id/complete", s.handleCompleteMatch)
		}

		wishlist := v2.Group("/wishlist", s.requireUser)
		{
			wishlist.GET("", s.handleListWishlist)
			wishlist.POST("", s.handleAddWishlist)
			wishlist.DELETE("/:id", s.handleRemoveWishlist)
		}
	}

	s.router.GET("/ws/activity", s.handleActivitySocket)
}

// Handler exposes the router for serving and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error { return s.router.Run(addr) }

// optionalUser extracts the caller's id when the header is present.
func optionalUser(c *gin.Context) *uuid.UUID {
	raw := c.GetHeader(userIDHeader)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// requireUser rejects requests without a valid identity header.
func (s *Server) requireUser(c *gin.Context) {
	id := optionalUser(c)
	if id == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userIDHeader + " header"})
		return
	}
	c.Set("user_id", *id)
	c.Next()
}

func currentUser(c *gin.Context) uuid.UUID {
	return c.MustGet("user_id").(uuid.UUID)
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrAlreadySaved),
		errors.Is(err, feed.ErrInvalidPriceDrop),
		errors.Is(err, feed.ErrListingInactive),
		errors.Is(err, feed.ErrBadCoordinates):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, feed.ErrNotOwner),
		errors.Is(err, tradematch.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, tradematch.ErrMatchClosed),
		errors.Is(err, tradematch.ErrNotAccepted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

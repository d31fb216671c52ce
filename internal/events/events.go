// Package events implements the transactional outbox. Services record
// domain events in the same transaction as their state changes; a
// background dispatcher publishes them to NATS, or to the log when no
// broker is configured.
package events

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sokoni/auction-engine/pkg/response"
)

// Service exposes read access to the event feed.
type Service struct {
	db *Database
}

// NewService creates a new events service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: NewDatabase(db)}
}

// Database exposes outbox queries for the dispatcher.
func (s *Service) Database() *Database {
	return s.db
}

// GinHandlers provides HTTP handlers for the event feed.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of Gin handlers for events.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetEventsHandler returns recent events, optionally filtered by
// ?type= and ?auction_id=.
func (h *GinHandlers) GetEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		events, err := h.service.db.GetRecentEvents(c.Query("type"), c.Query("auction_id"), limit)
		response.HandleDomain(c, events, err)
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/issuer"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/orders"
)

// OrderPipeline processes a completed order into an issued pass.
type OrderPipeline interface {
	OrderCompleted(ctx context.Context, orderID string) (*models.IssuedPass, error)
}

// PassStore defines the registry lookups the handler needs.
type PassStore interface {
	GetPassByObjectID(ctx context.Context, objectID string) (*models.PassRecord, error)
	GetPassByTicketNumber(ctx context.Context, ticketNumber string) (*models.PassRecord, error)
}

// PassesHandler handles pass issuance and lookup endpoints.
type PassesHandler struct {
	pipeline OrderPipeline
	store    PassStore
	logger   zerolog.Logger
}

// NewPassesHandler creates a new PassesHandler.
func NewPassesHandler(pipeline OrderPipeline, store PassStore, logger zerolog.Logger) *PassesHandler {
	return &PassesHandler{
		pipeline: pipeline,
		store:    store,
		logger:   logger.With().Str("component", "passes_handler").Logger(),
	}
}

// RegisterRoutes registers pass routes on the given router group.
func (h *PassesHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/pass", h.IssueForOrder)

	passes := r.Group("/passes")
	{
		passes.GET("/:id", h.Get)
	}
}

// IssueForOrder triggers issuance for a completed order.
// POST /api/v1/orders/:id/pass
func (h *PassesHandler) IssueForOrder(c *gin.Context) {
	orderID := c.Param("id")

	issued, err := h.pipeline.OrderCompleted(c.Request.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		case errors.Is(err, issuer.ErrInvalidOrder):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, issuer.ErrWalletUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet backend unavailable"})
		default:
			h.logger.Error().Err(err).Str("order_id", orderID).Msg("issuance failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "issuance failed"})
		}
		return
	}

	if issued == nil {
		c.JSON(http.StatusOK, gin.H{"skipped": true, "reason": "order not eligible for a pass"})
		return
	}
	c.JSON(http.StatusCreated, issued)
}

// Get looks up a pass by object ID, falling back to ticket number.
// GET /api/v1/passes/:id
func (h *PassesHandler) Get(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.store.GetPassByObjectID(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		rec, err = h.store.GetPassByTicketNumber(c.Request.Context(), id)
	}
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "pass not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("id", id).Msg("pass lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pass lookup failed"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/api/middleware"
	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/ledger"
	"github.com/passifypro/passify/internal/metrics"
	"github.com/passifypro/passify/internal/models"
)

// Redeemer performs the redemption transaction.
type Redeemer interface {
	Redeem(ctx context.Context, scanned string) (*models.RedemptionRecord, error)
}

// RedemptionStore defines the ledger lookups the handler needs.
type RedemptionStore interface {
	GetRedemption(ctx context.Context, objectID string) (*models.RedemptionRecord, error)
}

// RedemptionsHandler handles desk-side redemption endpoints.
type RedemptionsHandler struct {
	redeemer Redeemer
	store    RedemptionStore
	logger   zerolog.Logger
}

// NewRedemptionsHandler creates a new RedemptionsHandler.
func NewRedemptionsHandler(redeemer Redeemer, store RedemptionStore, logger zerolog.Logger) *RedemptionsHandler {
	return &RedemptionsHandler{
		redeemer: redeemer,
		store:    store,
		logger:   logger.With().Str("component", "redemptions_handler").Logger(),
	}
}

// RegisterRoutes registers redemption routes on the given router group.
func (h *RedemptionsHandler) RegisterRoutes(r *gin.RouterGroup) {
	redemptions := r.Group("/redemptions")
	{
		redemptions.POST("", h.Redeem)
		redemptions.GET("/:objectID", h.Get)
	}
}

// RedeemRequest is the request body for redeeming a ticket.
type RedeemRequest struct {
	// Ticket is the scanned value: a ticket number or an object ID.
	Ticket string `json:"ticket" binding:"required"`
}

// Redeem marks a scanned ticket as redeemed.
// POST /api/v1/redemptions
func (h *RedemptionsHandler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticket is required"})
		return
	}

	rec, err := h.redeemer.Redeem(c.Request.Context(), req.Ticket)
	if err != nil {
		h.redeemError(c, err)
		return
	}

	metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeRedeemed).Inc()
	h.logger.Info().
		Str("object_id", rec.ObjectID).
		Str("actor", c.GetString(middleware.ActorNameKey)).
		Msg("ticket redeemed")

	c.JSON(http.StatusOK, gin.H{
		"status":        "redeemed",
		"message":       "Ticket redeemed. Welcome in!",
		"object_id":     rec.ObjectID,
		"ticket_number": rec.TicketNumber,
		"redeemed_at":   rec.RedeemedAt,
	})
}

// redeemError maps the ledger error taxonomy to desk-readable responses.
func (h *RedemptionsHandler) redeemError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "No pass matches the scanned ticket."})
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeAlreadyRedeemed).Inc()
		c.JSON(http.StatusConflict, gin.H{"error": "This pass has already been redeemed."})
	case errors.Is(err, ledger.ErrNotActive):
		metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeNotActive).Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "This pass is not in a redeemable state."})
	case errors.Is(err, ledger.ErrTimeout):
		metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "The wallet service did not respond in time. Please try again."})
	case errors.Is(err, ledger.ErrWalletUnavailable):
		metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "The wallet service is unavailable. Please try again."})
	default:
		metrics.RedemptionsTotal.WithLabelValues(metrics.OutcomeUnavailable).Inc()
		h.logger.Error().Err(err).Msg("redemption failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Redemption failed. Please try again."})
	}
}

// Get returns the redemption record for an object, if any.
// GET /api/v1/redemptions/:objectID
func (h *RedemptionsHandler) Get(c *gin.Context) {
	objectID := c.Param("objectID")

	rec, err := h.store.GetRedemption(c.Request.Context(), objectID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no redemption recorded for this pass"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("object_id", objectID).Msg("redemption lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redemption lookup failed"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

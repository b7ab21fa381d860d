// Package handlers contains the HTTP endpoint implementations.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/vault"
)

// maxCredentialSize bounds the uploaded credential document. Service account
// JSON files are a few kilobytes.
const maxCredentialSize = 64 * 1024

// CredentialVault defines the vault operations the handler needs.
type CredentialVault interface {
	Configure(raw []byte) error
	IsConfigured() bool
}

// CredentialHandler handles signing-credential management endpoints.
type CredentialHandler struct {
	vault  CredentialVault
	logger zerolog.Logger
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(v CredentialVault, logger zerolog.Logger) *CredentialHandler {
	return &CredentialHandler{
		vault:  v,
		logger: logger.With().Str("component", "credential_handler").Logger(),
	}
}

// RegisterRoutes registers credential routes on the given router group.
func (h *CredentialHandler) RegisterRoutes(r *gin.RouterGroup) {
	credential := r.Group("/credential")
	{
		credential.PUT("", h.Upload)
		credential.GET("/status", h.Status)
	}
}

// Upload stores a new signing credential, replacing any existing one.
// PUT /api/v1/credential
func (h *CredentialHandler) Upload(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCredentialSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential document required"})
		return
	}
	if len(raw) > maxCredentialSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "credential document too large"})
		return
	}

	if err := h.vault.Configure(raw); err != nil {
		if errors.Is(err, vault.ErrInvalidFormat) {
			// The error text names the missing field, never its value.
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error().Err(err).Msg("failed to store credential")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"configured": true})
}

// Status reports whether a credential is configured.
// GET /api/v1/credential/status
func (h *CredentialHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"configured": h.vault.IsConfigured()})
}

package orders

import (
	"context"
	"errors"

	"github.com/passifypro/passify/internal/models"
)

// ErrNoSource indicates no commerce backend has been configured.
var ErrNoSource = errors.New("no order source configured")

// Unavailable is the Source used when no commerce backend is configured.
// Every call fails with ErrNoSource.
type Unavailable struct{}

// GetOrder implements Source.
func (Unavailable) GetOrder(context.Context, string) (*models.Order, error) {
	return nil, ErrNoSource
}

// RecordIssuance implements Source.
func (Unavailable) RecordIssuance(context.Context, string, *models.IssuedPass) error {
	return ErrNoSource
}

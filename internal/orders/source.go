// Package orders fetches purchase context from the commerce platform.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/models"
)

// ErrOrderNotFound indicates the commerce platform has no such order.
var ErrOrderNotFound = errors.New("order not found")

// Source provides orders and accepts issuance write-backs.
type Source interface {
	// GetOrder fetches the full order context, billing and attributes
	// included.
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	// RecordIssuance writes the issued pass reference back onto the order
	// so storefront pages can render the save link.
	RecordIssuance(ctx context.Context, orderID string, issued *models.IssuedPass) error
}

// HTTPSource talks to the commerce platform's order API with a bearer token.
type HTTPSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPSource builds an HTTPSource rooted at baseURL.
func NewHTTPSource(baseURL, token string, logger zerolog.Logger) *HTTPSource {
	return &HTTPSource{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "orders").Logger(),
	}
}

// GetOrder implements Source.
func (s *HTTPSource) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("order source returned status %d", resp.StatusCode)
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if order.OrderID == "" {
		order.OrderID = orderID
	}
	return &order, nil
}

// RecordIssuance implements Source.
func (s *HTTPSource) RecordIssuance(ctx context.Context, orderID string, issued *models.IssuedPass) error {
	body, err := json.Marshal(issued)
	if err != nil {
		return fmt.Errorf("marshal issuance: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		s.baseURL+"/orders/"+orderID+"/pass", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("record issuance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrOrderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("order source returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPSource) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

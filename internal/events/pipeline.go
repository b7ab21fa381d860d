// Package events runs the order-completed pipeline: fetch, issue, write
// back, notify.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/issuer"
	"github.com/passifypro/passify/internal/metrics"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/notifications"
	"github.com/passifypro/passify/internal/orders"
)

// PassIssuer issues a pass for an order.
type PassIssuer interface {
	IssuePass(ctx context.Context, order *models.Order) (*models.IssuedPass, error)
}

// TicketMailer delivers the save link to the purchaser.
type TicketMailer interface {
	SendTicket(to string, data notifications.TicketEmailData) error
}

// Pipeline wires order completion to pass issuance. The mailer is optional;
// without one the save link is only written back to the order.
type Pipeline struct {
	source orders.Source
	issuer PassIssuer
	mailer TicketMailer
	logger zerolog.Logger
}

// NewPipeline builds a Pipeline. mailer may be nil.
func NewPipeline(source orders.Source, iss PassIssuer, mailer TicketMailer, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		source: source,
		issuer: iss,
		mailer: mailer,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// OrderCompleted processes one completed order end to end. Ineligible orders
// are skipped silently; write-back and email failures are logged but do not
// fail the pipeline, since the pass itself has been issued.
func (p *Pipeline) OrderCompleted(ctx context.Context, orderID string) (*models.IssuedPass, error) {
	order, err := p.source.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	issued, err := p.issuer.IssuePass(ctx, order)
	if err != nil {
		if errors.Is(err, issuer.ErrNotApplicable) {
			metrics.OrdersSkippedTotal.Inc()
			p.logger.Debug().Str("order_id", orderID).Msg("order not eligible for a pass")
			return nil, nil
		}
		metrics.IssuanceFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, fmt.Errorf("issue pass for order %s: %w", orderID, err)
	}
	metrics.PassesIssuedTotal.Inc()

	if err := p.source.RecordIssuance(ctx, orderID, issued); err != nil {
		p.logger.Error().Err(err).Str("order_id", orderID).Msg("save link write-back failed")
	}

	p.sendTicketEmail(order, issued)
	return issued, nil
}

func (p *Pipeline) sendTicketEmail(order *models.Order, issued *models.IssuedPass) {
	if p.mailer == nil {
		return
	}

	to := order.Billing.Email
	if to == "" {
		to = order.Customer.Email
	}
	if to == "" {
		return
	}

	firstName := order.Billing.FirstName
	if firstName == "" {
		firstName = order.Customer.FirstName
	}

	err := p.mailer.SendTicket(to, notifications.TicketEmailData{
		FirstName:   firstName,
		OrderNumber: order.OrderNumber,
		EventName:   issued.EventName,
		EventDate:   issued.EventDate,
		SaveLink:    issued.SaveLink,
	})
	if err != nil {
		metrics.TicketEmailsTotal.WithLabelValues("failed").Inc()
		p.logger.Error().Err(err).Str("order_id", order.OrderID).Msg("ticket email failed")
		return
	}
	metrics.TicketEmailsTotal.WithLabelValues("sent").Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, issuer.ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, issuer.ErrWalletUnavailable):
		return "wallet_unavailable"
	default:
		return "internal"
	}
}

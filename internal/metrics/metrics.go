// Package metrics exposes Prometheus counters for issuance and redemption.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassesIssuedTotal counts successfully issued passes.
	PassesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passify_passes_issued_total",
		Help: "The total number of passes issued",
	})

	// IssuanceFailuresTotal counts failed issuance attempts by reason.
	IssuanceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passify_issuance_failures_total",
		Help: "The total number of failed issuance attempts by reason",
	}, []string{"reason"})

	// OrdersSkippedTotal counts completed orders outside the eligible
	// categories.
	OrdersSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "passify_orders_skipped_total",
		Help: "The total number of completed orders skipped as ineligible",
	})

	// RedemptionsTotal counts redemption attempts by outcome.
	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passify_redemptions_total",
		Help: "The total number of redemption attempts by outcome",
	}, []string{"outcome"})

	// TicketEmailsTotal counts ticket email deliveries by status.
	TicketEmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "passify_ticket_emails_total",
		Help: "The total number of ticket emails by delivery status",
	}, []string{"status"})

	// WalletRequestDuration observes wallet backend round trips.
	WalletRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "passify_wallet_request_duration_seconds",
		Help:    "The wallet backend request duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Redemption outcome label values.
const (
	OutcomeRedeemed        = "redeemed"
	OutcomeAlreadyRedeemed = "already_redeemed"
	OutcomeNotFound        = "not_found"
	OutcomeNotActive       = "not_active"
	OutcomeUnavailable     = "unavailable"
)

// Package ledger owns pass state transitions after issuance. All redemption
// goes through here; nothing else may mark a pass redeemed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/wallet"
)

var (
	// ErrNotFound means no issued pass matches the scanned value.
	ErrNotFound = errors.New("no pass matches the scanned ticket")
	// ErrAlreadyRedeemed means the pass has been redeemed before.
	ErrAlreadyRedeemed = errors.New("pass already redeemed")
	// ErrNotActive means the backend holds the pass in a non-redeemable
	// state such as expired or deactivated.
	ErrNotActive = errors.New("pass is not in a redeemable state")
	// ErrWalletUnavailable means the backend could not confirm the
	// redemption. The pass stays redeemable.
	ErrWalletUnavailable = errors.New("wallet backend unavailable")
	// ErrTimeout means the backend did not answer within the deadline.
	ErrTimeout = errors.New("wallet backend timed out")
)

// Store is the registry slice redemption relies on.
type Store interface {
	GetPassByObjectID(ctx context.Context, objectID string) (*models.PassRecord, error)
	GetPassByTicketNumber(ctx context.Context, ticketNumber string) (*models.PassRecord, error)
	GetRedemption(ctx context.Context, objectID string) (*models.RedemptionRecord, error)
	CreateRedemption(ctx context.Context, rec *models.RedemptionRecord) error
	UpdatePassState(ctx context.Context, objectID string, state models.PassState) error
}

// WalletAPI is the backend slice redemption relies on.
type WalletAPI interface {
	GetObject(ctx context.Context, objectID string) (*models.PassObject, error)
	PatchObjectState(ctx context.Context, objectID string, state models.PassState) error
}

// BackendSource yields a backend client, or an error when no credential is
// configured.
type BackendSource func() (WalletAPI, error)

// Ledger coordinates redemption. Concurrent redemptions of the same pass are
// serialized on a per-object lock so exactly one succeeds; redemptions of
// distinct passes do not contend.
type Ledger struct {
	store   Store
	backend BackendSource
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Ledger.
func New(store Store, backend BackendSource, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:   store,
		backend: backend,
		logger:  logger.With().Str("component", "ledger").Logger(),
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Redeem marks the pass identified by scanned (a ticket number or an object
// ID) as redeemed. The local record is written only after the backend has
// confirmed the state change; a backend failure leaves the pass redeemable.
func (l *Ledger) Redeem(ctx context.Context, scanned string) (*models.RedemptionRecord, error) {
	pass, err := l.resolve(ctx, scanned)
	if err != nil {
		return nil, err
	}

	unlock := l.lockObject(pass.ObjectID)
	defer unlock()

	// Local dedup first: a recorded redemption is final, no backend call.
	if _, err := l.store.GetRedemption(ctx, pass.ObjectID); err == nil {
		return nil, ErrAlreadyRedeemed
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("check redemption record: %w", err)
	}

	api, err := l.backend()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}

	obj, err := api.GetObject(ctx, pass.ObjectID)
	if err != nil {
		if wallet.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, l.backendErr("fetch pass state", pass.ObjectID, err)
	}

	switch obj.State {
	case models.PassStateActive:
	case models.PassStateRedeemed:
		// Redeemed elsewhere. Catch the mirror up, but only a successful
		// redemption through this ledger may create a redemption record.
		if err := l.store.UpdatePassState(ctx, pass.ObjectID, models.PassStateRedeemed); err != nil {
			l.logger.Error().Err(err).Str("object_id", pass.ObjectID).Msg("failed to sync redeemed state")
		}
		return nil, ErrAlreadyRedeemed
	default:
		return nil, fmt.Errorf("%w: backend state %s", ErrNotActive, obj.State)
	}

	if err := api.PatchObjectState(ctx, pass.ObjectID, models.PassStateRedeemed); err != nil {
		return nil, l.backendErr("redeem pass", pass.ObjectID, err)
	}

	rec := &models.RedemptionRecord{
		ObjectID:     pass.ObjectID,
		TicketNumber: pass.TicketNumber,
		RedeemedAt:   l.now(),
	}
	if err := l.store.CreateRedemption(ctx, rec); err != nil {
		if errors.Is(err, db.ErrAlreadyRedeemed) {
			return nil, ErrAlreadyRedeemed
		}
		// The backend transition is already committed; surface the local
		// failure rather than pretending the redemption did not happen.
		return nil, fmt.Errorf("record redemption: %w", err)
	}

	l.logger.Info().
		Str("object_id", pass.ObjectID).
		Str("ticket_number", pass.TicketNumber).
		Msg("pass redeemed")
	return rec, nil
}

// resolve maps a scanned value to its pass: ticket number first, then raw
// object ID.
func (l *Ledger) resolve(ctx context.Context, scanned string) (*models.PassRecord, error) {
	if scanned == "" {
		return nil, ErrNotFound
	}

	pass, err := l.store.GetPassByTicketNumber(ctx, scanned)
	if err == nil {
		return pass, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("resolve ticket: %w", err)
	}

	pass, err = l.store.GetPassByObjectID(ctx, scanned)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve ticket: %w", err)
	}
	return pass, nil
}

// lockObject acquires the mutex for an object ID, creating it on first use.
// Locks are retained for the process lifetime; the pass population is small
// and bounded by issuance.
func (l *Ledger) lockObject(objectID string) func() {
	l.mu.Lock()
	m, ok := l.locks[objectID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[objectID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (l *Ledger) backendErr(op, objectID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	l.logger.Error().Err(err).Str("object_id", objectID).Msg(op + " failed")
	return fmt.Errorf("%w: %s: %v", ErrWalletUnavailable, op, err)
}

// Package issuer turns completed orders into wallet passes.
package issuer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/config"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/vault"
	"github.com/passifypro/passify/internal/wallet"
)

var (
	// ErrNotApplicable means the order's category is not configured for
	// issuance. A skip, not a failure.
	ErrNotApplicable = errors.New("order not eligible for pass issuance")
	// ErrInvalidOrder means the order lacks the data a pass requires.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrWalletUnavailable means the backend could not be reached or no
	// credential has been configured.
	ErrWalletUnavailable = errors.New("wallet backend unavailable")
)

// Fallbacks applied when the configured field mapping resolves to nothing.
const (
	defaultEventName = "Default Event Name"
	defaultVenueName = "Default Venue"
)

// WalletAPI is the slice of the backend client issuance needs.
type WalletAPI interface {
	GetClass(ctx context.Context, classID string) (*models.PassClass, error)
	InsertClass(ctx context.Context, class *models.PassClass) error
	GetObject(ctx context.Context, objectID string) (*models.PassObject, error)
	InsertObject(ctx context.Context, obj *models.PassObject) error
}

// LinkSigner produces the save URL for an issued object.
type LinkSigner interface {
	SignLink(cred *vault.Credential, objectID string) (string, error)
}

// PassStore is the local registry slice issuance writes to.
type PassStore interface {
	SavePass(ctx context.Context, rec *models.PassRecord) error
	GetPassByOrderID(ctx context.Context, orderID string) (*models.PassRecord, error)
}

// CredentialSource yields the signing credential, or vault.ErrNotConfigured.
type CredentialSource interface {
	Load() (*vault.Credential, error)
}

// ClientFactory builds a backend client for a loaded credential. Indirected
// so tests can substitute a fake backend.
type ClientFactory func(cred *vault.Credential) WalletAPI

// Issuer creates pass classes and objects for eligible orders. Issuance is
// idempotent on order ID: the same order always resolves to the same object.
type Issuer struct {
	cfg    *config.IssuanceConfig
	creds  CredentialSource
	client ClientFactory
	signer LinkSigner
	store  PassStore
	logger zerolog.Logger
	now    func() time.Time
}

// New builds an Issuer.
func New(cfg *config.IssuanceConfig, creds CredentialSource, client ClientFactory, signer LinkSigner, store PassStore, logger zerolog.Logger) *Issuer {
	return &Issuer{
		cfg:    cfg,
		creds:  creds,
		client: client,
		signer: signer,
		store:  store,
		logger: logger.With().Str("component", "issuer").Logger(),
		now:    time.Now,
	}
}

// IssuePass creates (or re-resolves) the pass for an order and returns the
// save link. Returns ErrNotApplicable for orders outside the eligible
// categories, before any credential or backend access.
func (i *Issuer) IssuePass(ctx context.Context, order *models.Order) (*models.IssuedPass, error) {
	if order.OrderID == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrInvalidOrder)
	}
	if !i.cfg.CategoryEligible(order.Category) {
		return nil, ErrNotApplicable
	}

	cred, err := i.creds.Load()
	if err != nil {
		if errors.Is(err, vault.ErrNotConfigured) {
			return nil, fmt.Errorf("%w: no signing credential configured", ErrWalletUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	api := i.client(cred)

	classID := i.classID()
	objectID, holder, err := i.objectIdentity(order)
	if err != nil {
		return nil, err
	}
	ticketNumber := i.ticketNumber(order)

	eventName, eventTime := i.eventDetails(order)

	// Local-first idempotency: if this order already produced a pass,
	// re-sign the link for it rather than touching the backend again.
	existing, err := i.store.GetPassByOrderID(ctx, order.OrderID)
	if err != nil {
		return nil, fmt.Errorf("look up existing pass for order %s: %w", order.OrderID, err)
	}
	if existing != nil {
		link, err := i.signer.SignLink(cred, existing.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("sign save link: %w", err)
		}
		return &models.IssuedPass{
			ObjectID:     existing.ObjectID,
			TicketNumber: existing.TicketNumber,
			SaveLink:     link,
			EventName:    eventName,
			EventDate:    models.FormatWalletTime(eventTime),
		}, nil
	}

	if err := i.ensureClass(ctx, api, classID, order); err != nil {
		return nil, err
	}

	obj := models.NewPassObject(objectID, classID, holder, ticketNumber, i.expiration(order))
	if err := i.ensureObject(ctx, api, obj); err != nil {
		return nil, err
	}

	rec := &models.PassRecord{
		ObjectID:     objectID,
		ClassID:      classID,
		OrderID:      order.OrderID,
		PurchaserID:  purchaserID(order),
		TicketNumber: ticketNumber,
		State:        models.PassStateActive,
		CreatedAt:    i.now(),
	}
	if err := i.store.SavePass(ctx, rec); err != nil {
		return nil, fmt.Errorf("record issued pass: %w", err)
	}

	link, err := i.signer.SignLink(cred, objectID)
	if err != nil {
		return nil, fmt.Errorf("sign save link: %w", err)
	}

	i.logger.Info().
		Str("order_id", order.OrderID).
		Str("object_id", objectID).
		Msg("pass issued")

	return &models.IssuedPass{
		ObjectID:     objectID,
		TicketNumber: ticketNumber,
		SaveLink:     link,
		EventName:    eventName,
		EventDate:    models.FormatWalletTime(eventTime),
	}, nil
}

// ensureClass creates the shared class if the backend does not have it yet.
// A concurrent creator winning the race is fine: conflict means it exists.
func (i *Issuer) ensureClass(ctx context.Context, api WalletAPI, classID string, order *models.Order) error {
	_, err := api.GetClass(ctx, classID)
	if err == nil {
		return nil
	}
	if !wallet.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}

	class := i.buildClass(classID, order)
	if err := api.InsertClass(ctx, class); err != nil && !errors.Is(err, wallet.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	return nil
}

// ensureObject inserts the object; on conflict the already-present object is
// accepted as this order's pass, since object IDs are order-deterministic.
func (i *Issuer) ensureObject(ctx context.Context, api WalletAPI, obj *models.PassObject) error {
	err := api.InsertObject(ctx, obj)
	if err == nil {
		return nil
	}
	if !errors.Is(err, wallet.ErrConflict) {
		return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}

	existing, err := api.GetObject(ctx, obj.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWalletUnavailable, err)
	}
	*obj = *existing
	return nil
}

// eventDetails resolves the event name and time for an order, applying the
// documented fallbacks for unmapped or unparseable values.
func (i *Issuer) eventDetails(order *models.Order) (string, time.Time) {
	eventName := i.mappedValue(order, config.MappingEventName)
	if eventName == "" {
		eventName = defaultEventName
	}

	eventTime := i.now()
	if raw := i.mappedValue(order, config.MappingEventTime); raw != "" {
		if parsed, err := models.ParseWalletTime(raw); err == nil {
			eventTime = parsed
		} else {
			i.logger.Warn().Str("order_id", order.OrderID).Msg("unparseable event time, using issuance time")
		}
	}
	return eventName, eventTime
}

func (i *Issuer) buildClass(classID string, order *models.Order) *models.PassClass {
	eventName, eventTime := i.eventDetails(order)

	venueName := i.mappedValue(order, config.MappingVenueName)
	if venueName == "" {
		venueName = defaultVenueName
	}

	return &models.PassClass{
		ID:           classID,
		EventName:    models.NewLocalizedString(eventName),
		Venue:        models.Venue{Name: models.NewLocalizedString(venueName)},
		DateTime:     models.FormatWalletTime(eventTime),
		IssuerName:   i.cfg.IssuerName,
		ReviewStatus: "UNDER_REVIEW",
	}
}

// classID is deterministic for the configured issuer and class name, so every
// order shares one class.
func (i *Issuer) classID() string {
	return i.cfg.IssuerID + "." + slugify(i.cfg.ClassName)
}

// objectIdentity computes the deterministic object ID and the sanitized
// ticket holder. Billing fields win; blank ones fall back to the account
// profile.
func (i *Issuer) objectIdentity(order *models.Order) (string, models.TicketHolder, error) {
	holder := models.TicketHolder{
		FirstName: sanitizeText(fallback(order.Billing.FirstName, order.Customer.FirstName)),
		LastName:  sanitizeText(fallback(order.Billing.LastName, order.Customer.LastName)),
		Email:     sanitizeEmail(fallback(order.Billing.Email, order.Customer.Email)),
		Phone:     sanitizeText(fallback(order.Billing.Phone, order.Customer.Phone)),
	}
	if holder.Email == "" {
		return "", holder, fmt.Errorf("%w: no purchaser email on billing or profile", ErrInvalidOrder)
	}

	pid := purchaserID(order)
	if pid == "" {
		return "", holder, fmt.Errorf("%w: no purchaser identity", ErrInvalidOrder)
	}

	objectID := i.classID() + "." + pid + "." + orderToken(order.OrderID)
	return objectID, holder, nil
}

func purchaserID(order *models.Order) string {
	return slugify(fallback(order.Billing.ID, order.Customer.ID))
}

// orderToken derives the uniqueness component of the object ID from the order
// alone, so re-running issuance for an order can never mint a second pass.
func orderToken(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("passify:order:"+orderID)).String()
}

// ticketNumber prefers the mapped field, then the human-facing order number,
// then the order ID, so the fallback is never a bare prefix shared by every
// order without a number.
func (i *Issuer) ticketNumber(order *models.Order) string {
	if n := i.mappedValue(order, config.MappingTicketNumber); n != "" {
		return n
	}
	if order.OrderNumber != "" {
		return "ORD-" + order.OrderNumber
	}
	return "ORD-" + order.OrderID
}

func (i *Issuer) expiration(order *models.Order) string {
	if raw := i.mappedValue(order, config.MappingExpirationDate); raw != "" {
		if parsed, err := models.ParseWalletTime(raw); err == nil {
			return models.FormatWalletTime(parsed)
		}
		i.logger.Warn().Str("order_id", order.OrderID).Msg("unparseable expiration date, using default window")
	}
	return models.FormatWalletTime(i.now().Add(i.cfg.DefaultExpiration))
}

func (i *Issuer) mappedValue(order *models.Order, key config.MappingKey) string {
	field := i.cfg.MappedField(key)
	if field == "" {
		return ""
	}
	return sanitizeText(order.Attribute(field))
}

func fallback(primary, secondary string) string {
	if strings.TrimSpace(primary) != "" {
		return primary
	}
	return secondary
}

// slugify reduces a value to the characters wallet IDs tolerate.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}

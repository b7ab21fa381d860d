// Package models defines the domain types shared across Passify components.
package models

import (
	"fmt"
	"time"
)

// PassState represents the lifecycle state of an issued pass.
type PassState string

const (
	// PassStateActive indicates the pass is issued and redeemable.
	PassStateActive PassState = "ACTIVE"
	// PassStateRedeemed indicates the pass has been redeemed. Terminal.
	PassStateRedeemed PassState = "REDEEMED"
)

// LocalizedString mirrors the wallet backend's localized string wrapper.
type LocalizedString struct {
	DefaultValue TranslatedString `json:"defaultValue"`
}

// TranslatedString is a single language/value pair.
type TranslatedString struct {
	Language string `json:"language,omitempty"`
	Value    string `json:"value"`
}

// NewLocalizedString wraps a plain value in the backend's localized form.
func NewLocalizedString(value string) LocalizedString {
	return LocalizedString{DefaultValue: TranslatedString{Language: "en", Value: value}}
}

// Venue describes the event venue on a pass class.
type Venue struct {
	Name LocalizedString `json:"name"`
}

// PassClass is the shared template for a category of event tickets.
// A class_id maps to at most one PassClass; classes are immutable once created.
type PassClass struct {
	ID           string          `json:"id"`
	EventName    LocalizedString `json:"eventName"`
	Venue        Venue           `json:"venue"`
	DateTime     string          `json:"dateTime,omitempty"`
	IssuerName   string          `json:"issuerName,omitempty"`
	ReviewStatus string          `json:"reviewStatus,omitempty"`
}

// TicketHolder identifies the purchaser bound to a pass object.
type TicketHolder struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

// BarcodeTypeQR is the barcode rendering used on all Passify tickets.
const BarcodeTypeQR = "QR_CODE"

// Barcode is the machine-readable payload rendered on a pass.
type Barcode struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PassObject is an individual issued ticket instance.
// State transitions after issuance are owned exclusively by the redemption ledger.
type PassObject struct {
	ID             string       `json:"id"`
	ClassID        string       `json:"classId"`
	State          PassState    `json:"state"`
	TicketHolder   TicketHolder `json:"ticketHolder"`
	TicketNumber   string       `json:"ticketNumber"`
	ExpirationDate string       `json:"expirationDate,omitempty"`
	Barcode        Barcode      `json:"barcode"`
}

// NewPassObject creates an ACTIVE pass object with a QR barcode carrying the
// ticket number, matching the shape the wallet backend expects on insert.
func NewPassObject(objectID, classID string, holder TicketHolder, ticketNumber, expiration string) *PassObject {
	return &PassObject{
		ID:             objectID,
		ClassID:        classID,
		State:          PassStateActive,
		TicketHolder:   holder,
		TicketNumber:   ticketNumber,
		ExpirationDate: expiration,
		Barcode:        Barcode{Type: BarcodeTypeQR, Value: ticketNumber},
	}
}

// PassRecord is the local registry row for an issued pass. The State field
// mirrors the backend's authoritative state and may lag behind it until the
// reconciler or a redemption observes the change.
type PassRecord struct {
	ObjectID     string    `json:"object_id"`
	ClassID      string    `json:"class_id"`
	OrderID      string    `json:"order_id"`
	PurchaserID  string    `json:"purchaser_id"`
	TicketNumber string    `json:"ticket_number"`
	State        PassState `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedemptionRecord is the append-only proof that a pass has been redeemed.
// Existence of a record for an object_id is definitional: the pass is spent.
type RedemptionRecord struct {
	ObjectID     string    `json:"object_id"`
	TicketNumber string    `json:"ticket_number"`
	RedeemedAt   time.Time `json:"redeemed_at"`
}

// IssuedPass is the issuance result handed to callers (e.g. the email pipeline).
type IssuedPass struct {
	ObjectID     string `json:"object_id"`
	TicketNumber string `json:"ticket_number"`
	SaveLink     string `json:"save_link"`
	EventName    string `json:"event_name,omitempty"`
	EventDate    string `json:"event_date,omitempty"`
}

// FormatWalletTime renders a time in the RFC 3339 offset form the wallet
// backend accepts for dateTime and expirationDate fields.
func FormatWalletTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05-07:00")
}

// ParseWalletTime parses a value previously formatted with FormatWalletTime.
func ParseWalletTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse wallet time %q: %w", s, err)
	}
	return t, nil
}

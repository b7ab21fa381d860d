package models

// Purchaser holds the billing identity fields of the buyer. Fields may be
// empty on the order; issuance falls back to the purchaser's profile.
type Purchaser struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Order is the commerce-side context for a single purchase. OrderID doubles
// as the issuance idempotency key: repeated issuance for the same order must
// resolve to the same pass object.
type Order struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Category    string `json:"product_category"`

	// Billing is what the buyer typed at checkout. Customer is their stored
	// account profile; issuance falls back to it field by field when a
	// billing field is blank.
	Billing  Purchaser `json:"billing"`
	Customer Purchaser `json:"customer"`

	// Attributes carries the raw commerce field values keyed by the
	// commerce-side field name; the configured field mapping selects which
	// of these feed each pass attribute.
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named commerce field value, or "" when absent.
func (o *Order) Attribute(field string) string {
	if o.Attributes == nil {
		return ""
	}
	return o.Attributes[field]
}

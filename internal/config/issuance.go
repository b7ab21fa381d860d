package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MappingKey identifies a pass attribute that can be fed from a commerce field.
type MappingKey string

// The recognized mapping keys. Unknown keys in the config file are rejected
// at load time rather than silently ignored.
const (
	MappingEventName      MappingKey = "event_name"
	MappingVenueName      MappingKey = "venue_name"
	MappingEventTime      MappingKey = "event_time"
	MappingTicketNumber   MappingKey = "ticket_number"
	MappingExpirationDate MappingKey = "expiration_date"
)

var recognizedMappingKeys = map[MappingKey]bool{
	MappingEventName:      true,
	MappingVenueName:      true,
	MappingEventTime:      true,
	MappingTicketNumber:   true,
	MappingExpirationDate: true,
}

// ActorRole classifies what an API key is allowed to do.
type ActorRole string

const (
	// RoleOperator may upload credentials and trigger issuance.
	RoleOperator ActorRole = "operator"
	// RoleRedeemer may redeem tickets at the desk.
	RoleRedeemer ActorRole = "redeemer"
)

// APIKeyEntry is one authorized actor. KeyHash is a bcrypt hash of the key;
// plaintext keys never appear in the config file.
type APIKeyEntry struct {
	Name    string    `yaml:"name"`
	KeyHash string    `yaml:"key_hash"`
	Role    ActorRole `yaml:"role"`
}

// SMTPConfig holds SMTP server configuration for ticket emails.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      bool   `yaml:"tls"`
}

// Enabled reports whether ticket emails should be sent at all.
func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

// IssuanceConfig is the operator-editable configuration controlling how
// passes are built. Loaded once at startup and treated as read-only.
type IssuanceConfig struct {
	// IssuerID is the wallet-backend issuer account number.
	IssuerID string `yaml:"issuer_id"`
	// IssuerName appears on every pass class.
	IssuerName string `yaml:"issuer_name"`
	// ClassName is combined with IssuerID to form the deterministic class ID.
	ClassName string `yaml:"class_name"`

	// EligibleCategories lists the commerce product categories that trigger
	// pass generation. An order outside these is skipped, not failed.
	EligibleCategories []string `yaml:"eligible_categories"`

	// FieldMapping maps recognized pass attributes to commerce field names.
	// Unset keys fall back to documented defaults: event name
	// "Default Event Name", venue "Default Venue", event time = issuance
	// time, ticket number "ORD-" + order number, expiration = issuance
	// time + DefaultExpiration.
	FieldMapping map[MappingKey]string `yaml:"field_mapping"`

	// DefaultExpiration is applied when no expiration_date mapping resolves.
	DefaultExpiration time.Duration `yaml:"default_expiration"`

	// SaveLinkOrigins lists the web origins allowed to embed save links.
	SaveLinkOrigins []string `yaml:"save_link_origins"`

	// APIKeys lists authorized operators and redemption-desk actors.
	APIKeys []APIKeyEntry `yaml:"api_keys"`

	// SMTP configures the ticket email sender. Optional.
	SMTP SMTPConfig `yaml:"smtp"`
}

// LoadIssuanceConfig reads and validates the YAML issuance configuration.
func LoadIssuanceConfig(path string) (*IssuanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read issuance config: %w", err)
	}

	var cfg IssuanceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse issuance config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and rejects unrecognized mapping keys.
func (c *IssuanceConfig) Validate() error {
	if c.IssuerID == "" {
		return errors.New("issuer_id is required")
	}
	if c.ClassName == "" {
		return errors.New("class_name is required")
	}
	for key := range c.FieldMapping {
		if !recognizedMappingKeys[key] {
			return fmt.Errorf("unrecognized field_mapping key %q", key)
		}
	}
	for i, entry := range c.APIKeys {
		if entry.KeyHash == "" {
			return fmt.Errorf("api_keys[%d]: key_hash is required", i)
		}
		switch entry.Role {
		case RoleOperator, RoleRedeemer:
		default:
			return fmt.Errorf("api_keys[%d]: unknown role %q", i, entry.Role)
		}
	}
	if c.DefaultExpiration <= 0 {
		c.DefaultExpiration = 7 * 24 * time.Hour
	}
	return nil
}

// MappedField returns the commerce field configured for key, or "" when unset.
func (c *IssuanceConfig) MappedField(key MappingKey) string {
	if c.FieldMapping == nil {
		return ""
	}
	return c.FieldMapping[key]
}

// CategoryEligible reports whether the given product category triggers issuance.
func (c *IssuanceConfig) CategoryEligible(category string) bool {
	for _, eligible := range c.EligibleCategories {
		if eligible == category {
			return true
		}
	}
	return false
}

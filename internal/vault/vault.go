// Package vault provides encrypted-at-rest custody of the wallet signing credential.
package vault

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/crypto"
)

var (
	// ErrNotConfigured indicates no credential has been stored yet.
	ErrNotConfigured = errors.New("wallet credential not configured")
	// ErrInvalidFormat indicates the uploaded credential document is malformed.
	ErrInvalidFormat = errors.New("invalid credential document")
	// ErrDecryptionFailed indicates the stored blob failed integrity verification.
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

const (
	keyFileName  = "vault.key"
	blobFileName = "credential.enc"
)

// Credential is the decrypted service-account identity used for backend
// authentication and save-link signing. Read-only after load; never logged.
type Credential struct {
	ClientEmail   string `json:"client_email"`
	PrivateKeyPEM string `json:"private_key"`
	ProjectID     string `json:"project_id,omitempty"`
	TokenURI      string `json:"token_uri,omitempty"`

	key *rsa.PrivateKey
}

// PrivateKey returns the parsed RSA signing key.
func (c *Credential) PrivateKey() *rsa.PrivateKey {
	return c.key
}

// Vault encrypts, persists, and serves the signing credential.
// Safe for concurrent use; the decrypted credential is cached in memory and
// treated as immutable after load.
type Vault struct {
	dir    string
	logger zerolog.Logger

	mu     sync.RWMutex
	km     *crypto.KeyManager
	cached *Credential
}

// New creates a Vault rooted at dir, creating the directory if needed.
// The symmetric key is generated lazily on first Configure.
func New(dir string, logger zerolog.Logger) (*Vault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault directory: %w", err)
	}
	return &Vault{
		dir:    dir,
		logger: logger.With().Str("component", "vault").Logger(),
	}, nil
}

// Configure validates raw as a credential document, encrypts it, and persists
// it, replacing any prior credential. The plaintext never touches disk or logs.
func (v *Vault) Configure(raw []byte) error {
	cred, err := parseCredential(raw)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	km, err := v.keyManagerLocked()
	if err != nil {
		return err
	}

	ciphertext, err := km.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	if err := os.WriteFile(v.blobPath(), ciphertext, 0600); err != nil {
		return fmt.Errorf("write credential blob: %w", err)
	}

	v.cached = cred
	v.logger.Info().Str("client_email", cred.ClientEmail).Msg("wallet credential stored")
	return nil
}

// Load decrypts and returns the stored credential, caching it for reuse.
// Returns ErrNotConfigured when nothing has been stored, ErrDecryptionFailed
// when the blob fails integrity verification.
func (v *Vault) Load() (*Credential, error) {
	v.mu.RLock()
	if v.cached != nil {
		cred := v.cached
		v.mu.RUnlock()
		return cred, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cached != nil {
		return v.cached, nil
	}

	ciphertext, err := os.ReadFile(v.blobPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("read credential blob: %w", err)
	}

	km, err := v.keyManagerLocked()
	if err != nil {
		return nil, err
	}

	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		v.logger.Error().Msg("stored credential failed integrity verification")
		return nil, ErrDecryptionFailed
	}

	cred, err := parseCredential(plaintext)
	if err != nil {
		// A blob that decrypts but no longer parses means the store was
		// written by an incompatible version; treat as invalid, not missing.
		return nil, err
	}

	v.cached = cred
	return cred, nil
}

// IsConfigured reports whether a credential blob exists on disk.
func (v *Vault) IsConfigured() bool {
	_, err := os.Stat(v.blobPath())
	return err == nil
}

func (v *Vault) blobPath() string {
	return filepath.Join(v.dir, blobFileName)
}

// keyManagerLocked returns the key manager, loading or creating the vault key.
// Caller must hold v.mu.
func (v *Vault) keyManagerLocked() (*crypto.KeyManager, error) {
	if v.km != nil {
		return v.km, nil
	}

	key, err := crypto.LoadOrCreateKeyFile(filepath.Join(v.dir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("load vault key: %w", err)
	}

	km, err := crypto.NewKeyManager(key)
	if err != nil {
		return nil, err
	}
	v.km = km
	return km, nil
}

// parseCredential validates and decodes a credential document.
func parseCredential(raw []byte) (*Credential, error) {
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidFormat)
	}
	if cred.ClientEmail == "" {
		return nil, fmt.Errorf("%w: missing client_email", ErrInvalidFormat)
	}
	if _, err := mail.ParseAddress(cred.ClientEmail); err != nil {
		return nil, fmt.Errorf("%w: client_email is not an email address", ErrInvalidFormat)
	}
	if cred.PrivateKeyPEM == "" {
		return nil, fmt.Errorf("%w: missing private_key", ErrInvalidFormat)
	}

	key, err := parseRSAPrivateKey(cred.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	cred.key = key
	return &cred, nil
}

// parseRSAPrivateKey decodes a PEM-encoded PKCS#8 or PKCS#1 RSA private key.
func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("private_key is not PEM encoded")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private_key is not an RSA key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New("private_key does not parse as PKCS#8 or PKCS#1")
	}
	return rsaKey, nil
}

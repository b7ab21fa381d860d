package wallet

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/passifypro/passify/internal/vault"
)

// saveURLPrefix is where the signed token becomes a clickable save link.
const saveURLPrefix = "https://pay.google.com/gp/v/save/"

// SaveLinkSigner produces "save to wallet" URLs. The wallet backend requires
// the token to be an RS256 JWT signed by the same service account that issued
// the referenced object.
type SaveLinkSigner struct {
	origins []string
	now     func() time.Time
}

// NewSaveLinkSigner builds a signer embedding the given allowed web origins
// in every token.
func NewSaveLinkSigner(origins []string) *SaveLinkSigner {
	return &SaveLinkSigner{origins: origins, now: time.Now}
}

type saveLinkHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type saveLinkClaims struct {
	Iss     string          `json:"iss"`
	Aud     string          `json:"aud"`
	Typ     string          `json:"typ"`
	Iat     int64           `json:"iat"`
	Origins []string        `json:"origins,omitempty"`
	Payload saveLinkPayload `json:"payload"`
}

type saveLinkPayload struct {
	EventTicketObjects []objectReference `json:"eventTicketObjects"`
}

type objectReference struct {
	ID string `json:"id"`
}

// ErrNoSigningCredential is returned when SignLink is called without a
// loaded credential.
var ErrNoSigningCredential = errors.New("no signing credential")

// SignLink returns the save URL for the given object ID. The token references
// the object by ID only; the backend serves the full pass on save.
func (s *SaveLinkSigner) SignLink(cred *vault.Credential, objectID string) (string, error) {
	if cred == nil || cred.PrivateKey() == nil {
		return "", ErrNoSigningCredential
	}

	claims := saveLinkClaims{
		Iss:     cred.ClientEmail,
		Aud:     "google",
		Typ:     "savetowallet",
		Iat:     s.now().Unix(),
		Origins: s.origins,
		Payload: saveLinkPayload{
			EventTicketObjects: []objectReference{{ID: objectID}},
		},
	}

	token, err := signJWT(cred.PrivateKey(), claims)
	if err != nil {
		return "", err
	}
	return saveURLPrefix + token, nil
}

// signJWT assembles and signs a compact RS256 JWT. Segments use unpadded
// URL-safe base64 per RFC 7515.
func signJWT(key *rsa.PrivateKey, claims saveLinkClaims) (string, error) {
	headerJSON, err := json.Marshal(saveLinkHeader{Alg: "RS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("marshal token header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal token claims: %w", err)
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)

	digest := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

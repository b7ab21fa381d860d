// Package wallet is the REST adapter for the wallet backend's event ticket API.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/passifypro/passify/internal/metrics"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/vault"
)

const (
	// DefaultBaseURL is the production wallet backend endpoint.
	DefaultBaseURL = "https://walletobjects.googleapis.com/walletobjects/v1"

	defaultTokenURL = "https://oauth2.googleapis.com/token"
	issuerScope     = "https://www.googleapis.com/auth/wallet_object.issuer"
)

var (
	// ErrNotFound indicates the class or object does not exist on the backend.
	ErrNotFound = errors.New("wallet resource not found")
	// ErrConflict indicates an insert collided with an existing resource.
	ErrConflict = errors.New("wallet resource already exists")
)

// Error is a non-sentinel backend failure carrying the HTTP status.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wallet backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("wallet backend returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err means the requested resource is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Client talks to the wallet backend's eventTicketClass and eventTicketObject
// resources. Safe for concurrent use. All calls are bounded by the caller's
// context.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	newTokenSource func() oauth2.TokenSource

	mu          sync.Mutex
	tokenSource oauth2.TokenSource
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the backend endpoint. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource overrides the JWT-assertion token source. Used by tests.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.newTokenSource = func() oauth2.TokenSource { return ts }
	}
}

// NewClient builds a Client authenticating as the given service account.
// Bearer tokens are obtained through the RS256 JWT-assertion grant, cached,
// and refreshed lazily on expiry.
func NewClient(cred *vault.Credential, logger zerolog.Logger, opts ...Option) *Client {
	tokenURL := cred.TokenURI
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}

	cfg := &jwt.Config{
		Email:      cred.ClientEmail,
		PrivateKey: []byte(cred.PrivateKeyPEM),
		Scopes:     []string{issuerScope},
		TokenURL:   tokenURL,
	}

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "wallet").Logger(),
		newTokenSource: func() oauth2.TokenSource {
			return oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.Background()))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokenSource = c.newTokenSource()
	return c
}

// GetClass fetches an event ticket class by ID.
func (c *Client) GetClass(ctx context.Context, classID string) (*models.PassClass, error) {
	var class models.PassClass
	if err := c.do(ctx, http.MethodGet, "/eventTicketClass/"+classID, nil, &class); err != nil {
		return nil, err
	}
	return &class, nil
}

// InsertClass creates an event ticket class. Returns ErrConflict if a class
// with the same ID already exists.
func (c *Client) InsertClass(ctx context.Context, class *models.PassClass) error {
	return c.do(ctx, http.MethodPost, "/eventTicketClass", class, nil)
}

// GetObject fetches an event ticket object by ID.
func (c *Client) GetObject(ctx context.Context, objectID string) (*models.PassObject, error) {
	var obj models.PassObject
	if err := c.do(ctx, http.MethodGet, "/eventTicketObject/"+objectID, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// InsertObject creates an event ticket object. Returns ErrConflict if an
// object with the same ID already exists.
func (c *Client) InsertObject(ctx context.Context, obj *models.PassObject) error {
	return c.do(ctx, http.MethodPost, "/eventTicketObject", obj, nil)
}

// PatchObjectState sets the lifecycle state of an existing object.
func (c *Client) PatchObjectState(ctx context.Context, objectID string, state models.PassState) error {
	body := map[string]models.PassState{"state": state}
	return c.do(ctx, http.MethodPatch, "/eventTicketObject/"+objectID, body, nil)
}

// do executes one backend call with bearer auth. A 401 response forces a
// token refresh and a single retry; the second failure is returned as-is.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	start := time.Now()
	defer func() { metrics.WalletRequestDuration.Observe(time.Since(start).Seconds()) }()

	ts := c.currentTokenSource()
	resp, err := c.send(ctx, method, path, body, ts)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.logger.Warn().Str("path", path).Msg("bearer token rejected, refreshing")

		resp, err = c.send(ctx, method, path, body, c.refreshTokenSource(ts))
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode wallet response: %w", err)
		}
	}
	return nil
}

func (c *Client) currentTokenSource() oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenSource
}

// refreshTokenSource discards a rejected token source. When a concurrent
// caller already replaced it, the replacement is reused instead of minting
// another one.
func (c *Client) refreshTokenSource(rejected oauth2.TokenSource) oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokenSource == rejected {
		c.tokenSource = c.newTokenSource()
	}
	return c.tokenSource
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, ts oauth2.TokenSource) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain bearer token: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wallet request failed: %w", err)
	}
	return resp, nil
}

// statusError maps a non-2xx response to the error taxonomy. Body is consumed.
func (c *Client) statusError(resp *http.Response) error {
	msg := decodeErrorMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}

	c.logger.Error().Int("status", resp.StatusCode).Str("message", msg).Msg("wallet backend error")
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}

// decodeErrorMessage extracts the backend's error message when present.
func decodeErrorMessage(body io.Reader) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(body, 1<<16)).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error.Message
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16)) //nolint:errcheck
	resp.Body.Close()
}

package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/passifypro/passify/internal/vault"
)

func TestClientCacheReusesClientForSameCredential(t *testing.T) {
	cred, _ := testSigningCredential(t)

	builds := 0
	cache := NewClientCache(func(c *vault.Credential) *Client {
		builds++
		return NewClient(c, zerolog.Nop())
	})

	first := cache.ClientFor(cred)
	second := cache.ClientFor(cred)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
}

func TestClientCacheRebuildsOnCredentialRotation(t *testing.T) {
	before, _ := testSigningCredential(t)
	after, _ := testSigningCredential(t)

	builds := 0
	cache := NewClientCache(func(c *vault.Credential) *Client {
		builds++
		return NewClient(c, zerolog.Nop())
	})

	first := cache.ClientFor(before)
	second := cache.ClientFor(after)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, builds)

	// Rotating back to the original credential instance still rebuilds; the
	// cache only tracks the latest one.
	cache.ClientFor(before)
	assert.Equal(t, 3, builds)
}

func TestClientCacheSharesBearerTokenAcrossOperations(t *testing.T) {
	exchanges := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"op-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer op-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	cred, _ := testSigningCredential(t)
	cred.TokenURI = tokenSrv.URL

	cache := NewClientCache(func(c *vault.Credential) *Client {
		return NewClient(c, zerolog.Nop(), WithBaseURL(backend.URL))
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		client := cache.ClientFor(cred)
		_, err := client.GetClass(ctx, "3388.concert")
		require.NoError(t, err)
	}

	// Issuance, redemption, and reconciliation all route through the same
	// client, so the token is exchanged once and then served from cache.
	assert.Equal(t, 1, exchanges)
}

func TestConcurrentTokenRefreshSharesOneSource(t *testing.T) {
	cred, _ := testSigningCredential(t)

	client := NewClient(cred, zerolog.Nop(),
		WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "stale"})))

	builds := 0
	client.newTokenSource = func() oauth2.TokenSource {
		builds++
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "fresh"})
	}

	rejected := client.currentTokenSource()

	const callers = 8
	results := make([]oauth2.TokenSource, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = client.refreshTokenSource(rejected)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, builds)
	for _, ts := range results {
		assert.Equal(t, results[0], ts)
	}
	assert.Equal(t, results[0], client.currentTokenSource())
}

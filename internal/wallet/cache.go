package wallet

import (
	"sync"

	"github.com/passifypro/passify/internal/vault"
)

// ClientCache hands out one shared Client per credential, so the bearer token
// cached inside the client survives across operations. A new client is built
// only when the vault serves a different credential, which is how a rotated
// credential takes effect without a restart.
type ClientCache struct {
	build func(*vault.Credential) *Client

	mu     sync.Mutex
	cred   *vault.Credential
	client *Client
}

// NewClientCache builds a cache around the given client constructor.
func NewClientCache(build func(*vault.Credential) *Client) *ClientCache {
	return &ClientCache{build: build}
}

// ClientFor returns the client for cred, reusing the previous one while the
// vault keeps serving the same credential instance.
func (cc *ClientCache) ClientFor(cred *vault.Credential) *Client {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.client == nil || cc.cred != cred {
		cc.client = cc.build(cred)
		cc.cred = cred
	}
	return cc.client
}

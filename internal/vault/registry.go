package vault

import (
	"sync"

	"github.com/benaskins/lockbox/internal/keychain"
)

// Registry hands out one *Vault per identity over a single store, so callers
// that open the same vault repeatedly share a handle. Sharing is only an
// allocation saving: a handle built with New for an equal identity behaves
// identically.
type Registry struct {
	store keychain.Store

	mu     sync.Mutex
	vaults map[Identity]*Vault
}

// NewRegistry creates a registry over store.
func NewRegistry(store keychain.Store) *Registry {
	return &Registry{store: store, vaults: make(map[Identity]*Vault)}
}

// Open returns the shared handle for id, creating it on first use. Invalid
// identities are not cached.
func (r *Registry) Open(id Identity) (*Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.vaults[id]; ok {
		return v, nil
	}
	v, err := New(r.store, id)
	if err != nil {
		return nil, err
	}
	r.vaults[id] = v
	return v, nil
}

// Store returns the store the registry's vaults run on.
func (r *Registry) Store() keychain.Store {
	return r.store
}

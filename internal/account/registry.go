package account

import (
	"sync"

	"github.com/pandora-cas/pandora-cloud-client/internal/device"
)

// Registry holds every account hosted by the process, in configuration
// order.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[string]*Account)}
}

// Add registers an account.
func (r *Registry) Add(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.Name()]; !ok {
		r.order = append(r.order, a.Name())
	}
	r.accounts[a.Name()] = a
}

// Get returns the account by name.
func (r *Registry) Get(name string) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[name]
	return a, ok
}

// All returns the accounts in configuration order.
func (r *Registry) All() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.accounts[name])
	}
	return out
}

// FindDevice locates a device across all accounts. Device ids are globally
// unique upstream, and the account-to-device relation is exclusive.
func (r *Registry) FindDevice(deviceID int64) (*Account, *device.Model, bool) {
	for _, a := range r.All() {
		if m, ok := a.Device(deviceID); ok {
			return a, m, true
		}
	}
	return nil, nil, false
}

// CloseAll shuts every account down.
func (r *Registry) CloseAll() {
	for _, a := range r.All() {
		a.Close()
	}
}

package lend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// Registry indexes pools by underlying brand and by protocol token.
// Pools are registered at startup and never removed, so lookups after
// wiring take only a read lock.
type Registry struct {
	mu      sync.RWMutex
	byAsset map[domain.Brand]*Pool
	byToken map[domain.Brand]*Pool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAsset: make(map[domain.Brand]*Pool),
		byToken: make(map[domain.Brand]*Pool),
	}
}

// Add registers a pool. Duplicate underlying or token brands fail.
func (r *Registry) Add(p *Pool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byAsset[p.Underlying()]; ok {
		return fmt.Errorf("pool for %s already registered", p.Underlying())
	}
	if _, ok := r.byToken[p.ProtocolToken()]; ok {
		return fmt.Errorf("token %s already registered", p.ProtocolToken())
	}
	r.byAsset[p.Underlying()] = p
	r.byToken[p.ProtocolToken()] = p
	return nil
}

// Get returns the pool for an underlying brand.
func (r *Registry) Get(underlying domain.Brand) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAsset[underlying]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPoolNotFound, underlying)
	}
	return p, nil
}

// GetByToken returns the pool whose protocol token is the given brand.
func (r *Registry) GetByToken(token domain.Brand) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byToken[token]
	if !ok {
		return nil, fmt.Errorf("%w: token %s", domain.ErrPoolNotFound, token)
	}
	return p, nil
}

// List returns all pools ordered by underlying brand so iteration,
// and any nested locking done by callers, is deterministic.
func (r *Registry) List() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pool, 0, len(r.byAsset))
	for _, p := range r.byAsset {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Underlying() < out[j].Underlying() })
	return out
}

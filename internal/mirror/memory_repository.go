package mirror

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/idregistry/idregistry/internal/account"
	"github.com/idregistry/idregistry/internal/sentinel"
)

type memoryRepository struct {
	mu      sync.RWMutex
	entries map[account.Address]Verification
	cursors map[string]uint64
}

// NewMemoryRepository builds an in-memory mirror store for development and tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		entries: make(map[account.Address]Verification),
		cursors: make(map[string]uint64),
	}
}

func (r *memoryRepository) Create(_ context.Context, v Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[v.Address]; exists {
		return ErrDuplicate
	}
	r.entries[v.Address] = v
	return nil
}

func (r *memoryRepository) Get(_ context.Context, address account.Address) (Verification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[address]
	if !ok {
		return Verification{}, fmt.Errorf("verification %s: %w", address, sentinel.ErrNotFound)
	}
	return v, nil
}

func (r *memoryRepository) List(_ context.Context, limit, offset int) ([]Verification, error) {
	r.mu.RLock()
	all := make([]Verification, 0, len(r.entries))
	for _, v := range r.entries {
		all = append(all, v)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].Address.Hex() < all[j].Address.Hex()
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryRepository) Update(_ context.Context, v Verification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[v.Address]; !ok {
		return fmt.Errorf("verification %s: %w", v.Address, sentinel.ErrNotFound)
	}
	r.entries[v.Address] = v
	return nil
}

func (r *memoryRepository) SetVerified(_ context.Context, address account.Address, verified bool, identityHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[address]
	if !ok {
		return fmt.Errorf("verification %s: %w", address, sentinel.ErrNotFound)
	}
	v.Verified = verified
	if verified {
		v.IdentityHash = identityHash
		v.VerifiedAt = at.UTC()
	}
	v.UpdatedAt = at.UTC()
	r.entries[address] = v
	return nil
}

func (r *memoryRepository) LoadCursor(_ context.Context, name string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[name], nil
}

func (r *memoryRepository) SaveCursor(_ context.Context, name string, seq uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[name] = seq
	return nil
}

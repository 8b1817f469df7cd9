package service

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/infrastructure/db/memory"
)

// seededStore returns an in-memory store with the full role catalog.
func seededStore(t *testing.T) *memory.IdentityStore {
	t.Helper()
	store := memory.NewIdentityStore()
	require.NoError(t, SeedRoleCatalog(context.Background(), store, zerolog.Nop()))
	return store
}

func claim(email, externalID string, name, picture *string) ports.IdentityClaim {
	return ports.IdentityClaim{Email: email, ExternalID: externalID, Name: name, Picture: picture}
}

func strPtr(s string) *string { return &s }

// fakeCache is an in-process AuthorityCache that records calls.
type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]string
	generations map[string]int64
	gets        int
	rejected    int
	invalidated []string
	getErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]string), generations: make(map[string]int64)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]string, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, 0, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, c.generations[key], ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, gen int64, authorities []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[key] != gen {
		c.rejected++
		return false, nil
	}
	c.entries[key] = authorities
	return true, nil
}

func (c *fakeCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.generations[k]++
		c.invalidated = append(c.invalidated, k)
	}
	return nil
}

// countingStore wraps an IdentityStore and counts user lookups and saves.
type countingStore struct {
	ports.IdentityStore
	mu      sync.Mutex
	lookups int
	saves   int
	// saveHook, when set, runs before each Save reaches the wrapped store.
	saveHook func(user *domain.User)
	// lookupHook, when set, runs once after the next email lookup returns.
	lookupHook func()
}

func (s *countingStore) FindByEmailWithRoles(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	s.lookups++
	hook := s.lookupHook
	s.lookupHook = nil
	s.mu.Unlock()
	user, err := s.IdentityStore.FindByEmailWithRoles(ctx, email)
	if hook != nil {
		hook()
	}
	return user, err
}

func (s *countingStore) Save(ctx context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	s.saves++
	hook := s.saveHook
	s.mu.Unlock()
	if hook != nil {
		hook(user)
	}
	return s.IdentityStore.Save(ctx, user)
}

package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/identity-system/internal/core/domain"
	"github.com/99minutos/identity-system/internal/core/ports"
	"github.com/99minutos/identity-system/internal/core/service"
	"github.com/99minutos/identity-system/internal/infrastructure/db/memory"
)

func strPtr(s string) *string { return &s }

func newUsers(t *testing.T) (ports.ReconciliationService, *memory.IdentityStore) {
	t.Helper()
	store := memory.NewIdentityStore()
	require.NoError(t, service.SeedRoleCatalog(context.Background(), store, zerolog.Nop()))
	return service.NewReconciliationService(store, zerolog.Nop()), store
}

func TestDispatcher_ReconcilesAllClaims(t *testing.T) {
	users, store := newUsers(t)
	d := NewDispatcher(4, 3, users, zerolog.Nop())
	d.Start(context.Background())

	var claims []ports.IdentityClaim
	for i := range 20 {
		claims = append(claims, ports.IdentityClaim{
			Email:      fmt.Sprintf("user%d@x.com", i),
			ExternalID: fmt.Sprintf("g%d", i),
			Name:       strPtr("initial"),
		})
	}
	require.NoError(t, d.EnqueueBatch(claims))
	// Same identities again: half renamed, half unchanged.
	for i, c := range claims {
		if i%2 == 0 {
			c.Name = strPtr("renamed")
		}
		require.NoError(t, d.Enqueue(c))
	}
	require.NoError(t, d.Enqueue(ports.IdentityClaim{Email: "", ExternalID: "g-missing-email"}))

	summary := d.Close()
	assert.Equal(t, Summary{Created: 20, Updated: 10, Unchanged: 10, Failed: 1}, summary)
	assert.Equal(t, 41, summary.Total())

	u, err := store.FindByEmail(context.Background(), "user4@x.com")
	require.NoError(t, err)
	assert.Equal(t, "renamed", u.Name)
	assert.Equal(t, int64(2), u.Version)
}

func TestDispatcher_PreservesPerIdentityOrder(t *testing.T) {
	users, store := newUsers(t)
	d := NewDispatcher(8, 1, users, zerolog.Nop())
	d.Start(context.Background())

	for i := range 50 {
		require.NoError(t, d.Enqueue(ports.IdentityClaim{Email: "a@x.com", ExternalID: "g1", Name: strPtr(fmt.Sprintf("v%d", i))}))
	}
	summary := d.Close()
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Created)

	u, err := store.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "v49", u.Name)
	assert.Equal(t, int64(50), u.Version)
}

func TestDispatcher_ShardIndexIsStable(t *testing.T) {
	d := NewDispatcher(0, 1, nil, zerolog.Nop())
	assert.Len(t, d.workers, defaultWorkers)

	first := d.shardIndex("a@x.com")
	for range 10 {
		assert.Equal(t, first, d.shardIndex("a@x.com"))
	}
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, defaultWorkers)
}

// conflictingUsers fails every Reconcile with a version conflict.
type conflictingUsers struct {
	ports.ReconciliationService
	mu    sync.Mutex
	calls int
}

func (c *conflictingUsers) Reconcile(context.Context, ports.IdentityClaim) (*ports.ReconcileResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil, domain.ConcurrentModification("1")
}

func TestDispatcher_RetriesConflicts(t *testing.T) {
	users := &conflictingUsers{}
	d := NewDispatcher(1, 3, users, zerolog.Nop())
	d.Start(context.Background())

	require.NoError(t, d.Enqueue(ports.IdentityClaim{Email: "a@x.com", ExternalID: "g1"}))
	summary := d.Close()

	assert.Equal(t, Summary{Failed: 1}, summary)
	assert.Equal(t, 3, users.calls)
}

// blockingUsers holds every Reconcile until its context is done.
type blockingUsers struct {
	ports.ReconciliationService
	started chan struct{}
	once    sync.Once
}

func (b *blockingUsers) Reconcile(ctx context.Context, _ ports.IdentityClaim) (*ports.ReconcileResult, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDispatcher_EnqueueAfterCancelDoesNotBlock(t *testing.T) {
	users := &blockingUsers{started: make(chan struct{})}
	d := NewDispatcher(1, 1, users, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	claim := ports.IdentityClaim{Email: "a@x.com", ExternalID: "g1"}
	require.NoError(t, d.Enqueue(claim))
	<-users.started
	for range channelBuffer {
		require.NoError(t, d.Enqueue(claim))
	}

	cancel()
	result := make(chan error, 1)
	go func() { result <- d.Enqueue(claim) }()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked after cancellation")
	}
	assert.ErrorIs(t, d.EnqueueBatch([]ports.IdentityClaim{claim}), ErrStopped)

	summary := d.Close()
	assert.GreaterOrEqual(t, summary.Failed, 1)
}

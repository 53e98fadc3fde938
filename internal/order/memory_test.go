package order

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryCreateDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := pendingOrder()
	require.NoError(t, repo.Create(ctx, first))

	dup := pendingOrder()
	dup.TransactionID = "tx-other"
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateReference)

	// Same reference under a different service is a different order.
	other := pendingOrder()
	other.ServiceID = "svc-2"
	other.TransactionID = "tx-2"
	assert.NoError(t, repo.Create(ctx, other))
}

func TestMemoryRepositoryLookups(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingOrder()))

	byRef, err := repo.GetByReference(ctx, "svc-1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", byRef.TransactionID)

	byTx, err := repo.GetByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "r1", byTx.ServiceReference)

	_, err = repo.GetByReference(ctx, "svc-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByTransactionID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepositoryWithLockPersistsOnSuccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingOrder()))

	err := repo.WithLock(ctx, "tx-1", func(ord *Order) error {
		return ord.Finalize(true, "ref-1", "{}")
	})
	require.NoError(t, err)

	got, err := repo.GetByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, got.Status)
}

func TestMemoryRepositoryWithLockRollsBackOnError(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingOrder()))

	err := repo.WithLock(ctx, "tx-1", func(ord *Order) error {
		require.NoError(t, ord.Finalize(true, "ref-1", "{}"))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := repo.GetByTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

// Concurrent callbacks for the same order must serialize: exactly one
// unit of work observes pending, the rest see the terminal state.
func TestMemoryRepositoryWithLockSerializesSameOrder(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, pendingOrder()))

	const callers = 16
	var wg sync.WaitGroup
	finalized := make(chan struct{}, callers)
	rejected := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithLock(ctx, "tx-1", func(ord *Order) error {
				if err := ord.Finalize(true, "ref", "{}"); err != nil {
					return err
				}
				finalized <- struct{}{}
				return nil
			})
			if err != nil {
				rejected <- err
			}
		}()
	}
	wg.Wait()
	close(finalized)
	close(rejected)

	assert.Len(t, finalized, 1)
	assert.Len(t, rejected, callers-1)
	for err := range rejected {
		assert.ErrorIs(t, err, ErrAlreadyFinalized)
	}
}

package dedup

import (
	"context"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jurisia/intake/internal/pipeline"
)

func TestMemoryStoreAdmitOnce(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Admit(ctx, "key-1"))
	require.ErrorIs(t, store.Admit(ctx, "key-1"), pipeline.ErrDuplicate)
	require.NoError(t, store.Admit(ctx, "key-2"))
}

func TestMemoryStoreAdmitConcurrent(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	admitted := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Admit(ctx, "contested"); err == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	require.Len(t, admitted, 1, "exactly one admit must win")
}

func TestMemoryStoreForgetAllowsReadmission(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Admit(ctx, "key-1"))
	require.NoError(t, store.Forget(ctx, "key-1"))
	require.NoError(t, store.Admit(ctx, "key-1"))
	require.NoError(t, store.Forget(ctx, "never-admitted"))
}

func TestPostgresStoreAdmit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO dedup_keys").
		WithArgs("key-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Admit(context.Background(), "key-1"))

	mock.ExpectExec("INSERT INTO dedup_keys").
		WithArgs("key-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	require.ErrorIs(t, store.Admit(context.Background(), "key-1"), pipeline.ErrDuplicate)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreForget(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM dedup_keys").
		WithArgs("key-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, store.Forget(context.Background(), "key-1"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRequiresKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostgresStoreWithPool(mock)
	require.NoError(t, err)
	require.Error(t, store.Admit(context.Background(), ""))
}

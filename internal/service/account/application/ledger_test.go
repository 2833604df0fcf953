package application

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"flashmart/internal/service/account/domain"
	"flashmart/internal/service/account/infrastructure"
)

func newBalanceLedger(t *testing.T, users ...*domain.User) *BalanceLedger {
	t.Helper()
	repo := infrastructure.NewMemoryUserRepository()
	for _, u := range users {
		require.NoError(t, repo.Save(context.Background(), u))
	}
	return NewBalanceLedger(repo, otel.Tracer("test"))
}

func TestDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("debits balance", func(t *testing.T) {
		ledger := newBalanceLedger(t, &domain.User{ID: 1, Balance: 1000})

		require.NoError(t, ledger.Debit(ctx, 1, 400))

		balance, err := ledger.Balance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(600), balance)
	})

	t.Run("insufficient balance leaves account untouched", func(t *testing.T) {
		ledger := newBalanceLedger(t, &domain.User{ID: 1, Balance: 100})

		assert.ErrorIs(t, ledger.Debit(ctx, 1, 400), domain.ErrInsufficientBalance)

		balance, err := ledger.Balance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(100), balance)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		ledger := newBalanceLedger(t, &domain.User{ID: 1, Balance: 100})
		assert.ErrorIs(t, ledger.Debit(ctx, 1, 0), domain.ErrInvalidAmount)
		assert.ErrorIs(t, ledger.Debit(ctx, 1, -5), domain.ErrInvalidAmount)
	})

	t.Run("unknown user", func(t *testing.T) {
		ledger := newBalanceLedger(t)
		assert.ErrorIs(t, ledger.Debit(ctx, 42, 100), domain.ErrUserNotFound)
	})
}

func TestCredit(t *testing.T) {
	ctx := context.Background()
	ledger := newBalanceLedger(t, &domain.User{ID: 1, Balance: 100})

	require.NoError(t, ledger.Credit(ctx, 1, 250))

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(350), balance)

	assert.ErrorIs(t, ledger.Credit(ctx, 1, 0), domain.ErrInvalidAmount)
}

func TestConcurrentDebits(t *testing.T) {
	// 10 个并发扣款，总额刚好等于余额：全部成功且余额精确归零。
	ctx := context.Background()
	ledger := newBalanceLedger(t, &domain.User{ID: 1, Balance: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ledger.Debit(ctx, 1, 100))
		}()
	}
	wg.Wait()

	balance, err := ledger.Balance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	assert.ErrorIs(t, ledger.Debit(ctx, 1, 1), domain.ErrInsufficientBalance)
}

package repository

import (
	"context"
	"testing"

	"custodian/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceRepository_GetForUpdate(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewBalanceRepository(testDB.DB)
	ctx := context.Background()

	t.Run("no balance found", func(t *testing.T) {
		balance, err := repo.GetForUpdate(ctx, 1, "btc_satoshi")
		require.NoError(t, err)
		assert.Nil(t, balance)
	})

	t.Run("balance found", func(t *testing.T) {
		created, err := repo.GetOrCreateForUpdate(ctx, 2, "btc_satoshi")
		require.NoError(t, err)

		created.Balance = 50000
		created.LockedBalance = 10000
		require.NoError(t, repo.UpdateAmounts(ctx, created))

		balance, err := repo.GetForUpdate(ctx, 2, "btc_satoshi")
		require.NoError(t, err)
		require.NotNil(t, balance)
		assert.Equal(t, int64(50000), balance.Balance)
		assert.Equal(t, int64(10000), balance.LockedBalance)
		assert.Equal(t, int64(40000), balance.Available())
	})

	t.Run("currencies are independent", func(t *testing.T) {
		_, err := repo.GetOrCreateForUpdate(ctx, 3, "btc_satoshi")
		require.NoError(t, err)

		balance, err := repo.GetForUpdate(ctx, 3, "ltc_litoshi")
		require.NoError(t, err)
		assert.Nil(t, balance)
	})
}

func TestBalanceRepository_GetOrCreateForUpdate(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewBalanceRepository(testDB.DB)
	ctx := context.Background()

	t.Run("creates with zero amounts", func(t *testing.T) {
		balance, err := repo.GetOrCreateForUpdate(ctx, 10, "btc_satoshi")
		require.NoError(t, err)
		require.NotNil(t, balance)
		assert.NotZero(t, balance.ID)
		assert.Equal(t, int64(0), balance.Balance)
		assert.Equal(t, int64(0), balance.LockedBalance)
		assert.False(t, balance.CreatedAt.IsZero())
	})

	t.Run("returns existing row on repeat", func(t *testing.T) {
		first, err := repo.GetOrCreateForUpdate(ctx, 11, "btc_satoshi")
		require.NoError(t, err)

		first.Balance = 7000
		require.NoError(t, repo.UpdateAmounts(ctx, first))

		second, err := repo.GetOrCreateForUpdate(ctx, 11, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, int64(7000), second.Balance)
	})
}

func TestBalanceRepository_UpdateAmounts(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewBalanceRepository(testDB.DB)
	ctx := context.Background()

	t.Run("persists both amounts", func(t *testing.T) {
		balance, err := repo.GetOrCreateForUpdate(ctx, 20, "btc_satoshi")
		require.NoError(t, err)

		balance.Balance = 30000
		balance.LockedBalance = 30000
		require.NoError(t, repo.UpdateAmounts(ctx, balance))

		reloaded, err := repo.GetForUpdate(ctx, 20, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, int64(30000), reloaded.Balance)
		assert.Equal(t, int64(30000), reloaded.LockedBalance)
		assert.Equal(t, int64(0), reloaded.Available())
	})

	t.Run("negative balance rejected by constraint", func(t *testing.T) {
		balance, err := repo.GetOrCreateForUpdate(ctx, 21, "btc_satoshi")
		require.NoError(t, err)

		balance.Balance = -1
		err = repo.UpdateAmounts(ctx, balance)
		assert.Error(t, err)
	})

	t.Run("locked above balance rejected by constraint", func(t *testing.T) {
		balance, err := repo.GetOrCreateForUpdate(ctx, 22, "btc_satoshi")
		require.NoError(t, err)

		balance.Balance = 100
		balance.LockedBalance = 200
		err = repo.UpdateAmounts(ctx, balance)
		assert.Error(t, err)
	})

	t.Run("unknown id", func(t *testing.T) {
		balance, err := repo.GetOrCreateForUpdate(ctx, 23, "btc_satoshi")
		require.NoError(t, err)

		balance.ID = 999999
		err = repo.UpdateAmounts(ctx, balance)
		assert.ErrorContains(t, err, "not found")
	})
}

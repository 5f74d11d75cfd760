package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"custodian/events"
	"custodian/models"
	"custodian/repository"
	"custodian/repository/testutil"
	"custodian/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLedgerService(t *testing.T) (service.LedgerService, *testutil.TestDatabase) {
	testDB := testutil.SetupTestDatabase(t)

	eventBus := events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(testDB.DB, eventBus, 3*time.Second)
	policy := service.StaticConfirmationPolicy{"btc_satoshi": 6}

	return service.NewLedgerService(uowFactory, policy), testDB
}

func TestLedgerService_DepositLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	svc, _ := setupLedgerService(t)
	ctx := context.Background()

	t.Run("deposit credits at threshold and replay is harmless", func(t *testing.T) {
		params := service.DepositParams{
			UserID:         100,
			Amount:         50000,
			IdempotencyKey: testutil.DepositKey("btc_satoshi", "hash-a"),
			TxHash:         "hash-a",
			Confirmations:  6,
			Currency:       "btc_satoshi",
		}

		tx, err := svc.Deposit(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusConfirmed, tx.Status)
		assert.Equal(t, int64(0), tx.BalanceBefore)
		assert.Equal(t, int64(50000), tx.BalanceAfter)

		// Re-delivery with more confirmations merges the count only
		params.Confirmations = 10
		replayed, err := svc.Deposit(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, tx.ID, replayed.ID)
		assert.Equal(t, int32(10), replayed.Confirmations)
		assert.Equal(t, int64(50000), replayed.BalanceAfter)

		replayedBalance, err := svc.ReplayedBalance(ctx, 100, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, int64(50000), replayedBalance)
	})

	t.Run("pending deposit confirms on a later delivery", func(t *testing.T) {
		params := service.DepositParams{
			UserID:         101,
			Amount:         30000,
			IdempotencyKey: testutil.DepositKey("btc_satoshi", "hash-b"),
			TxHash:         "hash-b",
			Confirmations:  2,
			Currency:       "btc_satoshi",
		}

		tx, err := svc.Deposit(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusPending, tx.Status)

		replayedBalance, err := svc.ReplayedBalance(ctx, 101, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, int64(0), replayedBalance)

		params.Confirmations = 7
		tx, err = svc.Deposit(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusConfirmed, tx.Status)
		assert.Equal(t, int64(30000), tx.BalanceAfter)

		replayedBalance, err = svc.ReplayedBalance(ctx, 101, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, int64(30000), replayedBalance)
	})

	t.Run("replay with altered amount is rejected", func(t *testing.T) {
		params := service.DepositParams{
			UserID:         102,
			Amount:         1000,
			IdempotencyKey: testutil.DepositKey("btc_satoshi", "hash-c"),
			TxHash:         "hash-c",
			Confirmations:  6,
			Currency:       "btc_satoshi",
		}
		_, err := svc.Deposit(ctx, params)
		require.NoError(t, err)

		params.Amount = 2000
		_, err = svc.Deposit(ctx, params)
		assert.ErrorIs(t, err, models.ErrInvariantViolation)

		// The rejection rolled back; the ledger still holds the original
		replayedBalance, err := svc.ReplayedBalance(ctx, 102, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), replayedBalance)
	})
}

func TestLedgerService_WithdrawalLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	svc, _ := setupLedgerService(t)
	ctx := context.Background()

	deposit := func(userID, amount int64, hash string) {
		_, err := svc.Deposit(ctx, service.DepositParams{
			UserID:         userID,
			Amount:         amount,
			IdempotencyKey: testutil.DepositKey("btc_satoshi", hash),
			TxHash:         hash,
			Confirmations:  6,
			Currency:       "btc_satoshi",
		})
		require.NoError(t, err)
	}

	t.Run("lock then confirm debits once", func(t *testing.T) {
		deposit(200, 50000, "hash-w1")

		locked, err := svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         200,
			Amount:         20000,
			IdempotencyKey: "w1",
			Currency:       "btc_satoshi",
			Meta:           map[string]any{"destination": "tb1qdest"},
		})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusPending, locked.Status)

		// Locked funds are not withdrawable again
		_, err = svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         200,
			Amount:         40000,
			IdempotencyKey: "w1-over",
			Currency:       "btc_satoshi",
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		txHash := "hash-w1-out"
		confirmed, err := svc.ConfirmWithdrawal(ctx, locked.ID, &txHash, 6)
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusConfirmed, confirmed.Status)
		assert.Equal(t, int64(50000), confirmed.BalanceBefore)
		assert.Equal(t, int64(30000), confirmed.BalanceAfter)

		// Terminal withdrawal cannot be confirmed or cancelled again
		_, err = svc.ConfirmWithdrawal(ctx, locked.ID, &txHash, 10)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = svc.CancelWithdrawal(ctx, locked.ID, "late cancel")
		assert.ErrorIs(t, err, models.ErrNotFound)

		replayedBalance, err := svc.ReplayedBalance(ctx, 200, "btc_satoshi")
		require.NoError(t, err)
		assert.Equal(t, int64(30000), replayedBalance)
	})

	t.Run("cancel releases the reservation", func(t *testing.T) {
		deposit(201, 50000, "hash-w2")

		locked, err := svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         201,
			Amount:         20000,
			IdempotencyKey: "w2",
			Currency:       "btc_satoshi",
		})
		require.NoError(t, err)

		cancelled, err := svc.CancelWithdrawal(ctx, locked.ID, "user requested")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCancelled, cancelled.Status)
		assert.Equal(t, "user requested", cancelled.Meta["cancel_reason"])
		assert.Equal(t, int64(50000), cancelled.BalanceAfter)

		// The full balance is available again
		relocked, err := svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         201,
			Amount:         50000,
			IdempotencyKey: "w2-retry",
			Currency:       "btc_satoshi",
		})
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusPending, relocked.Status)
	})

	t.Run("lock replay returns the original reservation", func(t *testing.T) {
		deposit(202, 50000, "hash-w3")

		first, err := svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         202,
			Amount:         10000,
			IdempotencyKey: "w3",
			Currency:       "btc_satoshi",
		})
		require.NoError(t, err)

		second, err := svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         202,
			Amount:         10000,
			IdempotencyKey: "w3",
			Currency:       "btc_satoshi",
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		// Only one reservation was taken
		more, err := svc.LockFunds(ctx, service.LockFundsParams{
			UserID:         202,
			Amount:         40000,
			IdempotencyKey: "w3-rest",
			Currency:       "btc_satoshi",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(40000), more.Amount)
	})
}

func TestLedgerService_ConcurrentWithdrawals_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	svc, _ := setupLedgerService(t)
	ctx := context.Background()

	_, err := svc.Deposit(ctx, service.DepositParams{
		UserID:         300,
		Amount:         50000,
		IdempotencyKey: testutil.DepositKey("btc_satoshi", "hash-race"),
		TxHash:         "hash-race",
		Confirmations:  6,
		Currency:       "btc_satoshi",
	})
	require.NoError(t, err)

	// Ten concurrent withdrawals of 10000 against a 50000 balance; row
	// locking must admit exactly five
	const workers = 10
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.LockFunds(ctx, service.LockFundsParams{
				UserID:         300,
				Amount:         10000,
				IdempotencyKey: testutil.RandomKey(),
				Currency:       "btc_satoshi",
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, models.ErrInsufficientFunds)
			rejected++
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, rejected)

	// Nothing is withdrawable beyond the five reservations
	_, err = svc.LockFunds(ctx, service.LockFundsParams{
		UserID:         300,
		Amount:         1,
		IdempotencyKey: "race-extra",
		Currency:       "btc_satoshi",
	})
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)
}

package repository

import (
	"context"
	"fmt"

	"custodian/database"
	"custodian/models"

	"github.com/jackc/pgx/v5"
)

// BalanceRepository implements the BalanceRepository interface
type BalanceRepository struct {
	q queryable
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *database.DB) *BalanceRepository {
	return &BalanceRepository{q: db.Pool}
}

// newBalanceRepositoryWithTx creates a new balance repository bound to a transaction
func newBalanceRepositoryWithTx(tx queryable) *BalanceRepository {
	return &BalanceRepository{q: tx}
}

const balanceColumns = `id, user_id, currency, balance, locked_balance, created_at, updated_at`

// GetForUpdate locks and returns the balance row for (user, currency).
// Returns nil when no row exists; the lock is held until the enclosing
// transaction commits or rolls back.
func (r *BalanceRepository) GetForUpdate(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	query := `
		SELECT ` + balanceColumns + `
		FROM balances
		WHERE user_id = $1 AND currency = $2
		FOR UPDATE
	`

	var balance models.Balance
	err := r.q.QueryRow(ctx, query, userID, currency).Scan(
		&balance.ID,
		&balance.UserID,
		&balance.Currency,
		&balance.Balance,
		&balance.LockedBalance,
		&balance.CreatedAt,
		&balance.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for user %d %s: %w",
			userID, currency, mapRowLockError(err, "balance"))
	}

	return &balance, nil
}

// GetOrCreateForUpdate locks the balance row for (user, currency), creating
// it with zero balances when absent. Deposit path: balance records are
// created lazily on first deposit.
func (r *BalanceRepository) GetOrCreateForUpdate(ctx context.Context, userID int64, currency string) (*models.Balance, error) {
	insert := `
		INSERT INTO balances (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id, currency) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, insert, userID, currency); err != nil {
		return nil, fmt.Errorf("failed to ensure balance for user %d %s: %w", userID, currency, err)
	}

	balance, err := r.GetForUpdate(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("balance for user %d %s missing after upsert", userID, currency)
	}

	return balance, nil
}

// UpdateAmounts persists the balance and locked_balance of a previously
// locked row
func (r *BalanceRepository) UpdateAmounts(ctx context.Context, balance *models.Balance) error {
	query := `
		UPDATE balances
		SET balance = $1, locked_balance = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.q.Exec(ctx, query, balance.Balance, balance.LockedBalance, balance.ID)
	if err != nil {
		return fmt.Errorf("failed to update balance %d: %w", balance.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("balance %d not found for update", balance.ID)
	}

	return nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"custodian/database"
	"custodian/models"

	"github.com/jackc/pgx/v5"
)

// TransactionRepository implements the TransactionRepository interface
type TransactionRepository struct {
	q queryable
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *database.DB) *TransactionRepository {
	return &TransactionRepository{q: db.Pool}
}

// newTransactionRepositoryWithTx creates a new transaction repository bound to a transaction
func newTransactionRepositoryWithTx(tx queryable) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

const transactionColumns = `id, user_id, currency, type, status, amount,
	balance_before, balance_after, tx_hash, confirmations,
	required_confirmations, idempotency_key, meta, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var tx models.Transaction
	var metaJSON []byte

	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Currency,
		&tx.Type,
		&tx.Status,
		&tx.Amount,
		&tx.BalanceBefore,
		&tx.BalanceAfter,
		&tx.TxHash,
		&tx.Confirmations,
		&tx.RequiredConfirmations,
		&tx.IdempotencyKey,
		&metaJSON,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &tx.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction meta: %w", err)
		}
	}

	return &tx, nil
}

// marshalMeta converts the meta map to a JSONB value, keeping SQL NULL for
// an empty map so the column stays nullable
func marshalMeta(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction meta: %w", err)
	}
	return metaJSON, nil
}

// GetByIdempotencyKeyForUpdate locks and returns the transaction carrying the
// given idempotency key. Returns nil when absent. Acquired before any balance
// lock so the lock order is consistent across operations.
func (r *TransactionRepository) GetByIdempotencyKeyForUpdate(ctx context.Context, key string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE idempotency_key = $1
		FOR UPDATE
	`

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, key))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction by idempotency key: %w",
			mapRowLockError(err, "transaction"))
	}

	return tx, nil
}

// GetByIDForUpdate locks and returns the transaction with the given id.
// Returns nil when absent.
func (r *TransactionRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`

	tx, err := scanTransaction(r.q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %d: %w",
			id, mapRowLockError(err, "transaction"))
	}

	return tx, nil
}

// Create inserts a new ledger entry, filling in its id and timestamps. A
// concurrent submission of the same idempotency key blocks on the unique
// index until the winner commits, then surfaces as a retriable lock error;
// a duplicate tx_hash under a different key indicates ledger corruption.
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	metaJSON, err := marshalMeta(tx.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions
		(user_id, currency, type, status, amount, balance_before, balance_after,
		 tx_hash, confirmations, required_confirmations, idempotency_key, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err = r.q.QueryRow(ctx, query,
		tx.UserID,
		tx.Currency,
		tx.Type,
		tx.Status,
		tx.Amount,
		tx.BalanceBefore,
		tx.BalanceAfter,
		tx.TxHash,
		tx.Confirmations,
		tx.RequiredConfirmations,
		tx.IdempotencyKey,
		metaJSON,
	).Scan(&tx.ID, &tx.CreatedAt, &tx.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err, "transactions_idempotency_key_unique") {
			return fmt.Errorf("concurrent submission for idempotency key %q: %w",
				tx.IdempotencyKey, models.ErrLockTimeout)
		}
		if isUniqueViolation(err, "transactions_tx_hash_unique") {
			return fmt.Errorf("tx_hash already recorded under another idempotency key: %w",
				models.ErrInvariantViolation)
		}
		return fmt.Errorf("failed to create transaction for user %d: %w", tx.UserID, err)
	}

	return nil
}

// Update persists the mutable fields of a previously locked ledger entry.
// Amount, idempotency key and identity columns are immutable after creation.
func (r *TransactionRepository) Update(ctx context.Context, tx *models.Transaction) error {
	metaJSON, err := marshalMeta(tx.Meta)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions
		SET status = $1, tx_hash = $2, confirmations = $3,
		    balance_before = $4, balance_after = $5, meta = $6, updated_at = NOW()
		WHERE id = $7
	`

	result, err := r.q.Exec(ctx, query,
		tx.Status,
		tx.TxHash,
		tx.Confirmations,
		tx.BalanceBefore,
		tx.BalanceAfter,
		metaJSON,
		tx.ID,
	)
	if err != nil {
		if isUniqueViolation(err, "transactions_tx_hash_unique") {
			return fmt.Errorf("tx_hash already recorded under another transaction: %w",
				models.ErrInvariantViolation)
		}
		return fmt.Errorf("failed to update transaction %d: %w", tx.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("transaction %d not found for update", tx.ID)
	}

	return nil
}

// ListByUserCurrencyStatus returns a user's ledger entries for one currency
// and status in creation order. Serves balance reconciliation queries.
func (r *TransactionRepository) ListByUserCurrencyStatus(ctx context.Context, userID int64, currency string, status models.TransactionStatus) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1 AND currency = $2 AND status = $3
		ORDER BY id ASC
	`

	rows, err := r.q.Query(ctx, query, userID, currency, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for user %d: %w", userID, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return transactions, nil
}

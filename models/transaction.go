package models

import (
	"time"
)

// TransactionType represents the direction of a ledger entry
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus represents the lifecycle state of a ledger entry
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether the status permits no further state transition
// or balance effect. Confirmation counts may still be recorded for audit.
func (s TransactionStatus) Terminal() bool {
	return s != TransactionStatusPending
}

// Transaction is a balance-affecting ledger entry. Rows are append-mostly:
// created by deposit or lock-funds, mutated in place by confirm/cancel or by
// idempotent re-delivery of a deposit, never deleted.
type Transaction struct {
	ID                    int64             `db:"id"`
	UserID                int64             `db:"user_id"`
	Currency              string            `db:"currency"`
	Type                  TransactionType   `db:"type"`
	Status                TransactionStatus `db:"status"`
	Amount                int64             `db:"amount"`
	BalanceBefore         int64             `db:"balance_before"`
	BalanceAfter          int64             `db:"balance_after"`
	TxHash                *string           `db:"tx_hash"`
	Confirmations         int32             `db:"confirmations"`
	RequiredConfirmations int32             `db:"required_confirmations"`
	IdempotencyKey        string            `db:"idempotency_key"`
	Meta                  map[string]any    `db:"meta"`
	CreatedAt             time.Time         `db:"created_at"`
	UpdatedAt             time.Time         `db:"updated_at"`
}

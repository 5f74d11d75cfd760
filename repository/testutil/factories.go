package testutil

import (
	"fmt"
	"time"

	"custodian/models"

	"github.com/google/uuid"
)

// DepositKey builds the deterministic idempotency key used for on-chain
// deposit events
func DepositKey(currency, txHash string) string {
	return fmt.Sprintf("deposit:%s:%s", currency, txHash)
}

// RandomKey generates a unique idempotency key for tests that do not care
// about the key format
func RandomKey() string {
	return uuid.NewString()
}

// CreateTestBalance creates a balance row with default amounts
func CreateTestBalance(userID int64, currency string) *models.Balance {
	now := time.Now()
	return &models.Balance{
		UserID:        userID,
		Currency:      currency,
		Balance:       100000,
		LockedBalance: 0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// CreateTestDeposit creates a pending deposit transaction
func CreateTestDeposit(userID int64, currency string, amount int64) *models.Transaction {
	txHash := uuid.NewString()
	return &models.Transaction{
		UserID:                userID,
		Currency:              currency,
		Type:                  models.TransactionTypeDeposit,
		Status:                models.TransactionStatusPending,
		Amount:                amount,
		TxHash:                &txHash,
		Confirmations:         0,
		RequiredConfirmations: 6,
		IdempotencyKey:        DepositKey(currency, txHash),
	}
}

// CreateTestWithdrawal creates a pending withdrawal transaction
func CreateTestWithdrawal(userID int64, currency string, amount int64) *models.Transaction {
	return &models.Transaction{
		UserID:                userID,
		Currency:              currency,
		Type:                  models.TransactionTypeWithdrawal,
		Status:                models.TransactionStatusPending,
		Amount:                amount,
		Confirmations:         0,
		RequiredConfirmations: 6,
		IdempotencyKey:        RandomKey(),
		Meta: map[string]any{
			"destination": "tb1q" + uuid.NewString()[:16],
		},
	}
}

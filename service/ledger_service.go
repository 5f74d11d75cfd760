package service

import (
	"context"
	"fmt"

	"custodian/events"
	"custodian/models"
)

type ledgerService struct {
	uowFactory UnitOfWorkFactory
	policy     ConfirmationPolicy
}

// NewLedgerService creates a new ledger service. The confirmation policy is
// injected so new currencies extend the mapping without engine changes.
func NewLedgerService(uowFactory UnitOfWorkFactory, policy ConfirmationPolicy) LedgerService {
	return &ledgerService{
		uowFactory: uowFactory,
		policy:     policy,
	}
}

// Deposit credits a user's balance once the deposit has reached its required
// confirmation count. Repeated delivery of the same idempotency key merges
// confirmation counts and credits the balance exactly once, at the first
// call where the threshold is met.
func (s *ledgerService) Deposit(ctx context.Context, params DepositParams) (*models.Transaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount %d: %w", params.Amount, models.ErrInvalidAmount)
	}

	required, ok := s.policy.RequiredConfirmations(params.Currency)
	if !ok {
		return nil, fmt.Errorf("no confirmation policy for currency %q: %w", params.Currency, models.ErrNotFound)
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	// Idempotency-key lock first, balance lock second; every operation
	// acquires in this order
	existing, err := uow.Transactions().GetByIdempotencyKeyForUpdate(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var tx *models.Transaction
	if existing == nil {
		tx, err = s.createDeposit(ctx, uow, params, required)
	} else {
		tx, err = s.mergeDepositReplay(ctx, uow, existing, params)
	}
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tx, nil
}

// createDeposit handles the first delivery of a deposit event
func (s *ledgerService) createDeposit(ctx context.Context, uow UnitOfWork, params DepositParams, required int32) (*models.Transaction, error) {
	balance, err := uow.Balances().GetOrCreateForUpdate(ctx, params.UserID, params.Currency)
	if err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		UserID:                params.UserID,
		Currency:              params.Currency,
		Type:                  models.TransactionTypeDeposit,
		Status:                models.TransactionStatusPending,
		Amount:                params.Amount,
		BalanceBefore:         balance.Balance,
		BalanceAfter:          balance.Balance,
		Confirmations:         params.Confirmations,
		RequiredConfirmations: required,
		IdempotencyKey:        params.IdempotencyKey,
	}
	if params.TxHash != "" {
		txHash := params.TxHash
		tx.TxHash = &txHash
	}

	if params.Confirmations >= required {
		balance.Balance += params.Amount
		if err := uow.Balances().UpdateAmounts(ctx, balance); err != nil {
			return nil, err
		}

		tx.Status = models.TransactionStatusConfirmed
		tx.BalanceAfter = balance.Balance
	}

	if err := uow.Transactions().Create(ctx, tx); err != nil {
		return nil, err
	}

	if tx.Status == models.TransactionStatusConfirmed {
		uow.EventBus().Publish(events.DepositConfirmedEvent{
			UserID:        tx.UserID,
			Currency:      tx.Currency,
			Amount:        tx.Amount,
			TransactionID: tx.ID,
			TxHash:        params.TxHash,
			NewBalance:    balance.Balance,
		})
	}

	return tx, nil
}

// mergeDepositReplay handles re-delivery of a deposit event under an
// existing idempotency key. Confirmation counts never regress; the balance
// is credited only on the pending-to-confirmed transition, using the
// originally recorded amount and threshold.
func (s *ledgerService) mergeDepositReplay(ctx context.Context, uow UnitOfWork, tx *models.Transaction, params DepositParams) (*models.Transaction, error) {
	if tx.Type != models.TransactionTypeDeposit {
		return nil, fmt.Errorf("idempotency key %q belongs to a %s: %w",
			params.IdempotencyKey, tx.Type, models.ErrInvariantViolation)
	}
	if tx.Currency != params.Currency {
		return nil, fmt.Errorf("idempotency key %q replayed with currency %q, recorded %q: %w",
			params.IdempotencyKey, params.Currency, tx.Currency, models.ErrInvariantViolation)
	}
	if tx.Amount != params.Amount {
		return nil, fmt.Errorf("idempotency key %q replayed with amount %d, recorded %d: %w",
			params.IdempotencyKey, params.Amount, tx.Amount, models.ErrInvariantViolation)
	}

	if params.Confirmations > tx.Confirmations {
		tx.Confirmations = params.Confirmations
	}

	if tx.Status == models.TransactionStatusPending && tx.Confirmations >= tx.RequiredConfirmations {
		balance, err := uow.Balances().GetForUpdate(ctx, tx.UserID, tx.Currency)
		if err != nil {
			return nil, err
		}
		if balance == nil {
			return nil, fmt.Errorf("balance missing for pending deposit %d: %w",
				tx.ID, models.ErrInvariantViolation)
		}

		tx.BalanceBefore = balance.Balance
		balance.Balance += tx.Amount
		if err := uow.Balances().UpdateAmounts(ctx, balance); err != nil {
			return nil, err
		}

		tx.BalanceAfter = balance.Balance
		tx.Status = models.TransactionStatusConfirmed

		uow.EventBus().Publish(events.DepositConfirmedEvent{
			UserID:        tx.UserID,
			Currency:      tx.Currency,
			Amount:        tx.Amount,
			TransactionID: tx.ID,
			TxHash:        params.TxHash,
			NewBalance:    balance.Balance,
		})
	}

	// Terminal entries only record the merged confirmation count for audit
	if err := uow.Transactions().Update(ctx, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

// LockFunds reserves funds for a pending withdrawal. A replayed idempotency
// key returns the existing reservation unchanged.
func (s *ledgerService) LockFunds(ctx context.Context, params LockFundsParams) (*models.Transaction, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount %d: %w", params.Amount, models.ErrInvalidAmount)
	}

	required, ok := s.policy.RequiredConfirmations(params.Currency)
	if !ok {
		return nil, fmt.Errorf("no confirmation policy for currency %q: %w", params.Currency, models.ErrNotFound)
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	existing, err := uow.Transactions().GetByIdempotencyKeyForUpdate(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Retried withdrawal request; nothing to mutate
		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, nil
	}

	balance, err := uow.Balances().GetForUpdate(ctx, params.UserID, params.Currency)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("no %s balance for user %d: %w",
			params.Currency, params.UserID, models.ErrNotFound)
	}

	if balance.Available() < params.Amount {
		return nil, fmt.Errorf("available %d, requested %d: %w",
			balance.Available(), params.Amount, models.ErrInsufficientFunds)
	}

	balance.LockedBalance += params.Amount
	if err := uow.Balances().UpdateAmounts(ctx, balance); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		UserID:                params.UserID,
		Currency:              params.Currency,
		Type:                  models.TransactionTypeWithdrawal,
		Status:                models.TransactionStatusPending,
		Amount:                params.Amount,
		BalanceBefore:         balance.Balance,
		BalanceAfter:          balance.Balance,
		Confirmations:         0,
		RequiredConfirmations: required,
		IdempotencyKey:        params.IdempotencyKey,
		Meta:                  params.Meta,
	}
	if err := uow.Transactions().Create(ctx, tx); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.WithdrawalLockedEvent{
		UserID:        tx.UserID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		TransactionID: tx.ID,
		Available:     balance.Available(),
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tx, nil
}

// ConfirmWithdrawal records observed confirmations for a pending withdrawal
// and, once the threshold is met, debits the balance and releases the
// reservation. Funds leave the balance exactly once.
func (s *ledgerService) ConfirmWithdrawal(ctx context.Context, txID int64, txHash *string, confirmations int32) (*models.Transaction, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	tx, err := s.getPendingWithdrawalForUpdate(ctx, uow, txID)
	if err != nil {
		return nil, err
	}

	if txHash != nil && *txHash != "" {
		tx.TxHash = txHash
	}
	if confirmations > tx.Confirmations {
		tx.Confirmations = confirmations
	}

	if tx.Confirmations < tx.RequiredConfirmations {
		// Still pending; persist the audit fields only
		if err := uow.Transactions().Update(ctx, tx); err != nil {
			return nil, err
		}
		if err := uow.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return tx, nil
	}

	balance, err := uow.Balances().GetForUpdate(ctx, tx.UserID, tx.Currency)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("balance missing for withdrawal %d: %w", tx.ID, models.ErrInvariantViolation)
	}

	if balance.LockedBalance < tx.Amount || balance.Balance < tx.Amount {
		return nil, fmt.Errorf("withdrawal %d: amount %d exceeds balance %d or locked %d: %w",
			tx.ID, tx.Amount, balance.Balance, balance.LockedBalance, models.ErrInvariantViolation)
	}

	tx.BalanceBefore = balance.Balance
	balance.LockedBalance -= tx.Amount
	balance.Balance -= tx.Amount
	if err := uow.Balances().UpdateAmounts(ctx, balance); err != nil {
		return nil, err
	}

	tx.BalanceAfter = balance.Balance
	tx.Status = models.TransactionStatusConfirmed
	if err := uow.Transactions().Update(ctx, tx); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.WithdrawalConfirmedEvent{
		UserID:        tx.UserID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		TransactionID: tx.ID,
		NewBalance:    balance.Balance,
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tx, nil
}

// CancelWithdrawal releases the reserved funds of a pending withdrawal. The
// balance itself is untouched; funds return to available.
func (s *ledgerService) CancelWithdrawal(ctx context.Context, txID int64, reason string) (*models.Transaction, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // No-op if already committed

	tx, err := s.getPendingWithdrawalForUpdate(ctx, uow, txID)
	if err != nil {
		return nil, err
	}

	balance, err := uow.Balances().GetForUpdate(ctx, tx.UserID, tx.Currency)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, fmt.Errorf("balance missing for withdrawal %d: %w", tx.ID, models.ErrInvariantViolation)
	}

	if balance.LockedBalance < tx.Amount {
		return nil, fmt.Errorf("withdrawal %d: locked %d below amount %d: %w",
			tx.ID, balance.LockedBalance, tx.Amount, models.ErrInvariantViolation)
	}

	balance.LockedBalance -= tx.Amount
	if err := uow.Balances().UpdateAmounts(ctx, balance); err != nil {
		return nil, err
	}

	tx.BalanceBefore = balance.Balance
	tx.BalanceAfter = balance.Balance
	tx.Status = models.TransactionStatusCancelled
	if reason != "" {
		if tx.Meta == nil {
			tx.Meta = make(map[string]any)
		}
		tx.Meta["cancel_reason"] = reason
	}
	if err := uow.Transactions().Update(ctx, tx); err != nil {
		return nil, err
	}

	uow.EventBus().Publish(events.WithdrawalCancelledEvent{
		UserID:        tx.UserID,
		Currency:      tx.Currency,
		Amount:        tx.Amount,
		TransactionID: tx.ID,
		Reason:        reason,
	})

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tx, nil
}

// getPendingWithdrawalForUpdate locks a withdrawal row and enforces the
// type and pending-status preconditions. Terminal entries are rejected
// here, which is what makes confirmed/cancelled immutable.
func (s *ledgerService) getPendingWithdrawalForUpdate(ctx context.Context, uow UnitOfWork, txID int64) (*models.Transaction, error) {
	tx, err := uow.Transactions().GetByIDForUpdate(ctx, txID)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %d: %w", txID, models.ErrNotFound)
	}
	if tx.Type != models.TransactionTypeWithdrawal {
		return nil, fmt.Errorf("transaction %d is a %s, not a withdrawal: %w", txID, tx.Type, models.ErrNotFound)
	}
	if tx.Status.Terminal() {
		return nil, fmt.Errorf("transaction %d is %s, not pending: %w", txID, tx.Status, models.ErrNotFound)
	}
	return tx, nil
}

// ReplayedBalance reconstructs the balance for (user, currency) by replaying
// confirmed ledger entries in creation order. Pending and cancelled entries
// have no net balance effect.
func (s *ledgerService) ReplayedBalance(ctx context.Context, userID int64, currency string) (int64, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback() // Read-only scope

	entries, err := uow.Transactions().ListByUserCurrencyStatus(ctx, userID, currency, models.TransactionStatusConfirmed)
	if err != nil {
		return 0, err
	}

	var balance int64
	for _, entry := range entries {
		switch entry.Type {
		case models.TransactionTypeDeposit:
			balance += entry.Amount
		case models.TransactionTypeWithdrawal:
			balance -= entry.Amount
		}
	}

	return balance, nil
}

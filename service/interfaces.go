package service

import (
	"context"

	"custodian/events"
	"custodian/models"
)

// BalanceRepository defines the interface for balance row access. All lock
// methods acquire an exclusive row lock held for the life of the enclosing
// unit of work.
type BalanceRepository interface {
	// GetForUpdate locks and returns the balance for (user, currency),
	// nil when absent
	GetForUpdate(ctx context.Context, userID int64, currency string) (*models.Balance, error)

	// GetOrCreateForUpdate locks the balance for (user, currency), creating
	// it with zero balances when absent
	GetOrCreateForUpdate(ctx context.Context, userID int64, currency string) (*models.Balance, error)

	// UpdateAmounts persists balance and locked_balance of a locked row
	UpdateAmounts(ctx context.Context, balance *models.Balance) error
}

// TransactionRepository defines the interface for ledger entry access
type TransactionRepository interface {
	// GetByIdempotencyKeyForUpdate locks and returns the transaction for the
	// key, nil when absent
	GetByIdempotencyKeyForUpdate(ctx context.Context, key string) (*models.Transaction, error)

	// GetByIDForUpdate locks and returns the transaction by id, nil when absent
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Transaction, error)

	// Create inserts a new ledger entry, filling id and timestamps
	Create(ctx context.Context, tx *models.Transaction) error

	// Update persists the mutable fields of a locked ledger entry
	Update(ctx context.Context, tx *models.Transaction) error

	// ListByUserCurrencyStatus returns entries in creation order for
	// reconciliation queries
	ListByUserCurrencyStatus(ctx context.Context, userID int64, currency string, status models.TransactionStatus) ([]*models.Transaction, error)
}

// EventPublisher publishes events that are delivered only after the
// enclosing unit of work commits
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork represents one atomic transactional scope over the ledger store
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	Balances() BalanceRepository
	Transactions() TransactionRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory creates units of work
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// ConfirmationPolicy is the injected per-currency confirmation-requirement
// lookup. The second return is false for an unsupported currency.
type ConfirmationPolicy interface {
	RequiredConfirmations(currency string) (int32, bool)
}

// DepositParams are the inputs for crediting a confirmed deposit
type DepositParams struct {
	UserID         int64
	Amount         int64
	IdempotencyKey string
	TxHash         string
	Confirmations  int32
	Currency       string
}

// LockFundsParams are the inputs for reserving funds against a withdrawal
type LockFundsParams struct {
	UserID         int64
	Amount         int64
	IdempotencyKey string
	Currency       string
	Meta           map[string]any
}

// LedgerService is the balance engine: the four stateful ledger operations
// plus the read-only replay check
type LedgerService interface {
	// Deposit credits a user's balance once the deposit reaches its required
	// confirmation count; safe against duplicate delivery
	Deposit(ctx context.Context, params DepositParams) (*models.Transaction, error)

	// LockFunds reserves funds for a pending withdrawal
	LockFunds(ctx context.Context, params LockFundsParams) (*models.Transaction, error)

	// ConfirmWithdrawal records confirmations for a pending withdrawal and
	// debits the balance once the threshold is met
	ConfirmWithdrawal(ctx context.Context, txID int64, txHash *string, confirmations int32) (*models.Transaction, error)

	// CancelWithdrawal releases the reserved funds of a pending withdrawal
	CancelWithdrawal(ctx context.Context, txID int64, reason string) (*models.Transaction, error)

	// ReplayedBalance recomputes a balance from confirmed ledger entries in
	// creation order; audit path, not used at runtime
	ReplayedBalance(ctx context.Context, userID int64, currency string) (int64, error)
}

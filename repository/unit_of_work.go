package repository

import (
	"context"
	"fmt"
	"time"

	"custodian/database"
	"custodian/events"
	"custodian/service"

	"github.com/jackc/pgx/v5"
)

// unitOfWork implements the UnitOfWork interface. It is the transactional
// scope of the ledger store: every row locked through its repositories stays
// locked until Commit or Rollback releases them together.
type unitOfWork struct {
	db               *database.DB
	tx               pgx.Tx
	ctx              context.Context
	lockTimeout      time.Duration
	transactionalBus *events.TransactionalBus
	balanceRepo      service.BalanceRepository
	transactionRepo  service.TransactionRepository
}

type unitOfWorkFactory struct {
	db          *database.DB
	eventBus    *events.Bus
	lockTimeout time.Duration
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory. lockTimeout bounds
// how long row-lock acquisition may block inside each unit of work.
func NewUnitOfWorkFactory(db *database.DB, eventBus *events.Bus, lockTimeout time.Duration) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:          db,
		eventBus:    eventBus,
		lockTimeout: lockTimeout,
	}
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		db:               f.db,
		lockTimeout:      f.lockTimeout,
		transactionalBus: events.NewTransactionalBus(f.eventBus),
	}
}

// Begin starts a new transaction and applies the lock-acquisition budget
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if u.lockTimeout > 0 {
		// lock_timeout takes no bind parameters; the value is a config int
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", u.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	u.tx = tx
	u.ctx = ctx

	u.balanceRepo = newBalanceRepositoryWithTx(tx)
	u.transactionRepo = newTransactionRepositoryWithTx(tx)

	return nil
}

// Commit commits the transaction and flushes pending events
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	if err := u.tx.Commit(u.ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.tx = nil

	if u.transactionalBus != nil {
		u.transactionalBus.Flush(u.ctx)
	}

	return nil
}

// Rollback rolls back the transaction and discards pending events
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	err := u.tx.Rollback(u.ctx)
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	u.tx = nil

	if u.transactionalBus != nil {
		u.transactionalBus.Discard()
	}

	return nil
}

// Balances returns the balance repository for this unit of work
func (u *unitOfWork) Balances() service.BalanceRepository {
	if u.balanceRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.balanceRepo
}

// Transactions returns the transaction repository for this unit of work
func (u *unitOfWork) Transactions() service.TransactionRepository {
	if u.transactionRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionRepo
}

// EventBus returns the transactional event bus for this unit of work
func (u *unitOfWork) EventBus() service.EventPublisher {
	if u.transactionalBus == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.transactionalBus
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"custodian/models"
	"custodian/service"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// ConfirmationOracle reports the current confirmation count of an on-chain
// transaction. Implementations wrap a node RPC or a block explorer API.
type ConfirmationOracle interface {
	GetConfirmations(ctx context.Context, txHash string) (int32, error)
}

// DepositJob identifies an observed on-chain deposit to track until it is
// credited
type DepositJob struct {
	UserID   int64
	Amount   int64
	TxHash   string
	Currency string
}

// IdempotencyKey derives the deterministic key for a deposit job so repeated
// observations of the same transaction collapse into one ledger entry
func (j DepositJob) IdempotencyKey() string {
	return fmt.Sprintf("deposit:%s:%s", j.Currency, j.TxHash)
}

// DepositPoller tracks observed deposits, re-submitting each one to the
// ledger as its confirmation count grows until it is credited or the retry
// budget is exhausted.
type DepositPoller struct {
	ledger       service.LedgerService
	oracle       ConfirmationOracle
	pollInterval backoff.BackOff
	maxAttempts  uint64
}

// NewDepositPoller creates a deposit poller. Interval and attempt budget
// come from configuration.
func NewDepositPoller(ledger service.LedgerService, oracle ConfirmationOracle, pollInterval backoff.BackOff, maxAttempts uint64) *DepositPoller {
	return &DepositPoller{
		ledger:       ledger,
		oracle:       oracle,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
	}
}

// Run consumes deposit jobs until the channel closes or the context is
// cancelled. Each job is tracked to completion before the next is taken;
// callers that need parallel tracking run multiple pollers.
func (p *DepositPoller) Run(ctx context.Context, jobs <-chan DepositJob) {
	log.Info("Deposit poller started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Deposit poller shutting down (context cancelled)...")
			return
		case job, ok := <-jobs:
			if !ok {
				log.Info("Deposit poller shutting down (job channel closed)...")
				return
			}
			if err := p.Process(ctx, job); err != nil {
				log.WithFields(log.Fields{
					"user_id":  job.UserID,
					"currency": job.Currency,
					"tx_hash":  job.TxHash,
				}).Errorf("Deposit tracking failed: %v", err)
			}
		}
	}
}

// Process polls the oracle and submits the deposit until it reaches
// confirmed status. Validation and corruption errors abort immediately;
// transient ledger contention and oracle failures retry on the poll
// interval.
func (p *DepositPoller) Process(ctx context.Context, job DepositJob) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(p.pollInterval, p.maxAttempts), ctx)

	operation := func() error {
		confirmations, err := p.oracle.GetConfirmations(ctx, job.TxHash)
		if err != nil {
			return fmt.Errorf("failed to query confirmations for %s: %w", job.TxHash, err)
		}

		tx, err := p.ledger.Deposit(ctx, service.DepositParams{
			UserID:         job.UserID,
			Amount:         job.Amount,
			IdempotencyKey: job.IdempotencyKey(),
			TxHash:         job.TxHash,
			Confirmations:  confirmations,
			Currency:       job.Currency,
		})
		switch {
		case errors.Is(err, models.ErrInvalidAmount),
			errors.Is(err, models.ErrNotFound),
			errors.Is(err, models.ErrInvariantViolation):
			return backoff.Permanent(err)
		case err != nil:
			// Lock timeouts and transient failures retry on the next poll
			return err
		}

		if tx.Status != models.TransactionStatusConfirmed {
			return fmt.Errorf("deposit %s at %d of %d confirmations",
				job.TxHash, tx.Confirmations, tx.RequiredConfirmations)
		}

		log.WithFields(log.Fields{
			"user_id":     job.UserID,
			"currency":    job.Currency,
			"tx_hash":     job.TxHash,
			"amount":      job.Amount,
			"new_balance": tx.BalanceAfter,
		}).Info("Deposit credited")
		return nil
	}

	return backoff.Retry(operation, policy)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"custodian/config"
	"custodian/database"
	"custodian/events"
	"custodian/repository"
	"custodian/service"
	"custodian/worker"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// RunOptions carries the external collaborators of the engine. The
// confirmation oracle and the deposit feed live outside this module; when an
// embedder provides both, deposits are tracked to their confirmation
// threshold in-process.
type RunOptions struct {
	Oracle      worker.ConfirmationOracle
	DepositJobs <-chan worker.DepositJob
}

// Run initializes and starts the ledger engine
func Run(ctx context.Context, opts RunOptions) error {
	log.Info("Starting custodian ledger...")

	cfg := config.Get()
	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.Info("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Database connection established successfully")

	eventBus := events.NewBus()
	subscribeEventLogging(eventBus)

	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus, cfg.LockTimeout)

	policy := service.StaticConfirmationPolicy(cfg.RequiredConfirmations)
	ledgerService := service.NewLedgerService(uowFactory, policy)

	if opts.Oracle != nil && opts.DepositJobs != nil {
		interval := backoff.NewConstantBackOff(cfg.DepositPollInterval)
		poller := worker.NewDepositPoller(ledgerService, opts.Oracle, interval, cfg.DepositMaxAttempts)
		go poller.Run(ctx, opts.DepositJobs)
	} else {
		log.Info("No confirmation oracle configured, deposit tracking disabled")
	}

	log.Infof("Ledger is running in %s mode...", cfg.Environment)
	<-ctx.Done()

	log.Info("Shutting down ledger...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("Closing database connection...")
	db.Close()

	select {
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout exceeded")
	case <-time.After(1 * time.Second):
		log.Info("Shutdown completed")
	}

	return nil
}

// subscribeEventLogging emits an audit log line for every ledger event
func subscribeEventLogging(bus *events.Bus) {
	bus.Subscribe(events.EventTypeDepositConfirmed, func(ctx context.Context, e events.Event) {
		event := e.(events.DepositConfirmedEvent)
		log.WithFields(log.Fields{
			"user_id":     event.UserID,
			"currency":    event.Currency,
			"amount":      event.Amount,
			"tx_hash":     event.TxHash,
			"new_balance": event.NewBalance,
		}).Info("Deposit confirmed")
	})

	bus.Subscribe(events.EventTypeWithdrawalLocked, func(ctx context.Context, e events.Event) {
		event := e.(events.WithdrawalLockedEvent)
		log.WithFields(log.Fields{
			"user_id":   event.UserID,
			"currency":  event.Currency,
			"amount":    event.Amount,
			"available": event.Available,
		}).Info("Withdrawal funds locked")
	})

	bus.Subscribe(events.EventTypeWithdrawalConfirmed, func(ctx context.Context, e events.Event) {
		event := e.(events.WithdrawalConfirmedEvent)
		log.WithFields(log.Fields{
			"user_id":     event.UserID,
			"currency":    event.Currency,
			"amount":      event.Amount,
			"new_balance": event.NewBalance,
		}).Info("Withdrawal confirmed")
	})

	bus.Subscribe(events.EventTypeWithdrawalCancelled, func(ctx context.Context, e events.Event) {
		event := e.(events.WithdrawalCancelledEvent)
		log.WithFields(log.Fields{
			"user_id":  event.UserID,
			"currency": event.Currency,
			"amount":   event.Amount,
			"reason":   event.Reason,
		}).Info("Withdrawal cancelled")
	})
}

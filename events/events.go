package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeDepositConfirmed    EventType = "deposit_confirmed"
	EventTypeWithdrawalLocked    EventType = "withdrawal_locked"
	EventTypeWithdrawalConfirmed EventType = "withdrawal_confirmed"
	EventTypeWithdrawalCancelled EventType = "withdrawal_cancelled"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// DepositConfirmedEvent fires when a deposit crosses its confirmation
// threshold and the balance has been credited
type DepositConfirmedEvent struct {
	UserID        int64
	Currency      string
	Amount        int64
	TransactionID int64
	TxHash        string
	NewBalance    int64
}

func (e DepositConfirmedEvent) Type() EventType {
	return EventTypeDepositConfirmed
}

// WithdrawalLockedEvent fires when funds are reserved for a pending withdrawal
type WithdrawalLockedEvent struct {
	UserID        int64
	Currency      string
	Amount        int64
	TransactionID int64
	Available     int64
}

func (e WithdrawalLockedEvent) Type() EventType {
	return EventTypeWithdrawalLocked
}

// WithdrawalConfirmedEvent fires when a withdrawal reaches finality and the
// funds have left the balance
type WithdrawalConfirmedEvent struct {
	UserID        int64
	Currency      string
	Amount        int64
	TransactionID int64
	NewBalance    int64
}

func (e WithdrawalConfirmedEvent) Type() EventType {
	return EventTypeWithdrawalConfirmed
}

// WithdrawalCancelledEvent fires when a pending withdrawal is cancelled and
// its reserved funds return to the available balance
type WithdrawalCancelledEvent struct {
	UserID        int64
	Currency      string
	Amount        int64
	TransactionID int64
	Reason        string
}

func (e WithdrawalCancelledEvent) Type() EventType {
	return EventTypeWithdrawalCancelled
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit dispatches an event to all subscribed handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type()]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType": event.Type(),
						"panic":     r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler)
	}
}

// TransactionalBus stashes events published during a unit of work and
// forwards them to the real bus only after the database commit succeeds.
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Flush is called after a successful commit. Events are emitted on a
// background context since the transaction context may already be expired.
func (b *TransactionalBus) Flush(ctx context.Context) error {
	eventCtx := context.Background()
	for _, ev := range b.pending {
		log.WithFields(log.Fields{
			"eventType": ev.Type(),
		}).Debug("Emitting committed ledger event")
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
	return nil
}

// Discard drops pending events after a rollback
func (b *TransactionalBus) Discard() {
	b.pending = nil
}

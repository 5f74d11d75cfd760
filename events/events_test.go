package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransactionalBusFlush(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{}, 2)

	mainBus.Subscribe(EventTypeDepositConfirmed, func(ctx context.Context, event Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		done <- struct{}{}
	})

	transactionalBus.Publish(DepositConfirmedEvent{UserID: 1, Currency: "btc_satoshi", Amount: 50000})
	transactionalBus.Publish(DepositConfirmedEvent{UserID: 2, Currency: "btc_satoshi", Amount: 30000})

	// Nothing reaches subscribers before the commit-time flush
	mu.Lock()
	assert.Empty(t, received)
	mu.Unlock()

	assert.NoError(t, transactionalBus.Flush(context.Background()))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}

	mu.Lock()
	assert.Len(t, received, 2)
	mu.Unlock()
}

func TestTransactionalBusDiscard(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	delivered := make(chan Event, 1)
	mainBus.Subscribe(EventTypeWithdrawalLocked, func(ctx context.Context, event Event) {
		delivered <- event
	})

	transactionalBus.Publish(WithdrawalLockedEvent{UserID: 1, Amount: 1000})
	transactionalBus.Discard()

	assert.NoError(t, transactionalBus.Flush(context.Background()))

	select {
	case <-delivered:
		t.Fatal("discarded event must not be delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

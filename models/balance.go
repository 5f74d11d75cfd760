package models

import (
	"time"
)

// Balance represents a user's funds in a single currency.
// Amounts are integers in the currency's smallest unit (e.g. satoshis).
type Balance struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	Currency      string    `db:"currency"`
	Balance       int64     `db:"balance"`
	LockedBalance int64     `db:"locked_balance"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Available returns the portion of the balance not reserved against
// pending withdrawals.
func (b *Balance) Available() int64 {
	return b.Balance - b.LockedBalance
}

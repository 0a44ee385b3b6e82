package ledger

import (
	"math/big"
	"time"
)

// Kind classifies a ledger movement.
type Kind string

const (
	KindDeposit Kind = "deposit"
	KindPayout  Kind = "payout"
)

// Status is the outcome of a ledger movement.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transfer records value moving into or out of the escrow account.
type Transfer struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    *big.Int  `json:"amount"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a balance held by the ledger.
type Account struct {
	Address   string    `json:"address"`
	Balance   *big.Int  `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

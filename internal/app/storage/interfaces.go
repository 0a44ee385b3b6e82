package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientBalance is returned when a debit would overdraw an account.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// RaffleStore persists the live round and settled rounds.
type RaffleStore interface {
	// SaveRound replaces the stored live round.
	SaveRound(ctx context.Context, round raffle.Round) error
	// LoadRound returns the stored live round or ErrNotFound.
	LoadRound(ctx context.Context) (raffle.Round, error)

	RecordSettlement(ctx context.Context, s raffle.Settlement) (raffle.Settlement, error)
	LatestSettlement(ctx context.Context) (raffle.Settlement, error)
	ListSettlements(ctx context.Context, limit int) ([]raffle.Settlement, error)
}

// LedgerStore persists balances and the transfers that moved them.
type LedgerStore interface {
	GetLedgerAccount(ctx context.Context, address string) (ledger.Account, error)
	// ApplyTransfer credits tx.To and, for payouts, debits tx.From in one step.
	ApplyTransfer(ctx context.Context, tx ledger.Transfer) (ledger.Transfer, error)
	// RecordTransfer stores a transfer without moving any balance.
	RecordTransfer(ctx context.Context, tx ledger.Transfer) (ledger.Transfer, error)
	ListTransfers(ctx context.Context, address string) ([]ledger.Transfer, error)
}

// RandomnessStore persists coordinator subscriptions and requests.
type RandomnessStore interface {
	CreateSubscription(ctx context.Context, sub random.Subscription) (random.Subscription, error)
	UpdateSubscription(ctx context.Context, sub random.Subscription) (random.Subscription, error)
	GetSubscription(ctx context.Context, id uint64) (random.Subscription, error)

	CreateRandomnessRequest(ctx context.Context, rec random.Record) (random.Record, error)
	UpdateRandomnessRequest(ctx context.Context, rec random.Record) (random.Record, error)
	GetRandomnessRequest(ctx context.Context, id random.RequestID) (random.Record, error)
	ListPendingRandomnessRequests(ctx context.Context) ([]random.Record, error)
}

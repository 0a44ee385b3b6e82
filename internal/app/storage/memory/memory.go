package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	round         *raffle.Round
	settlements   []raffle.Settlement
	accounts      map[string]ledger.Account
	transfers     []ledger.Transfer
	subscriptions map[uint64]random.Subscription
	requests      map[random.RequestID]random.Record
	nextSubID     uint64
	nextRequestID random.RequestID
}

var _ storage.RaffleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts:      make(map[string]ledger.Account),
		subscriptions: make(map[uint64]random.Subscription),
		requests:      make(map[random.RequestID]random.Record),
		nextSubID:     1,
		nextRequestID: 1,
	}
}

// RaffleStore implementation -------------------------------------------------

func (s *Store) SaveRound(_ context.Context, round raffle.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	round = cloneRound(round)
	s.round = &round
	return nil
}

func (s *Store) LoadRound(_ context.Context) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.round == nil {
		return raffle.Round{}, storage.ErrNotFound
	}
	return cloneRound(*s.round), nil
}

func (s *Store) RecordSettlement(_ context.Context, settlement raffle.Settlement) (raffle.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.settlements {
		if existing.Round == settlement.Round {
			return raffle.Settlement{}, fmt.Errorf("settlement for round %d already recorded", settlement.Round)
		}
	}
	settlement = cloneSettlement(settlement)
	s.settlements = append(s.settlements, settlement)
	return cloneSettlement(settlement), nil
}

func (s *Store) LatestSettlement(_ context.Context) (raffle.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.settlements) == 0 {
		return raffle.Settlement{}, storage.ErrNotFound
	}
	return cloneSettlement(s.settlements[len(s.settlements)-1]), nil
}

func (s *Store) ListSettlements(_ context.Context, limit int) ([]raffle.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]raffle.Settlement, 0, len(s.settlements))
	for i := len(s.settlements) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, cloneSettlement(s.settlements[i]))
	}
	return result, nil
}

// LedgerStore implementation -------------------------------------------------

func (s *Store) GetLedgerAccount(_ context.Context, address string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[address]
	if !ok {
		return ledger.Account{}, storage.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (s *Store) ApplyTransfer(_ context.Context, tx ledger.Transfer) (ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return ledger.Transfer{}, fmt.Errorf("transfer amount must be positive")
	}

	now := time.Now().UTC()
	if tx.Kind == ledger.KindPayout {
		from := s.accountLocked(tx.From)
		if from.Balance.Cmp(tx.Amount) < 0 {
			return ledger.Transfer{}, storage.ErrInsufficientBalance
		}
		from.Balance = new(big.Int).Sub(from.Balance, tx.Amount)
		from.UpdatedAt = now
		s.accounts[tx.From] = from
	}

	to := s.accountLocked(tx.To)
	to.Balance = new(big.Int).Add(to.Balance, tx.Amount)
	to.UpdatedAt = now
	s.accounts[tx.To] = to

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx = cloneTransfer(tx)
	s.transfers = append(s.transfers, tx)
	return cloneTransfer(tx), nil
}

func (s *Store) RecordTransfer(_ context.Context, tx ledger.Transfer) (ledger.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx = cloneTransfer(tx)
	s.transfers = append(s.transfers, tx)
	return cloneTransfer(tx), nil
}

func (s *Store) ListTransfers(_ context.Context, address string) ([]ledger.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Transfer, 0)
	for _, tx := range s.transfers {
		if address == "" || tx.From == address || tx.To == address {
			result = append(result, cloneTransfer(tx))
		}
	}
	return result, nil
}

func (s *Store) accountLocked(address string) ledger.Account {
	acct, ok := s.accounts[address]
	if !ok {
		return ledger.Account{Address: address, Balance: new(big.Int)}
	}
	return cloneAccount(acct)
}

// RandomnessStore implementation ---------------------------------------------

func (s *Store) CreateSubscription(_ context.Context, sub random.Subscription) (random.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.ID = s.nextSubID
	s.nextSubID++
	if sub.Balance == nil {
		sub.Balance = new(big.Int)
	}
	sub = cloneSubscription(sub)
	s.subscriptions[sub.ID] = sub
	return cloneSubscription(sub), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub random.Subscription) (random.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID]; !ok {
		return random.Subscription{}, storage.ErrNotFound
	}
	sub = cloneSubscription(sub)
	s.subscriptions[sub.ID] = sub
	return cloneSubscription(sub), nil
}

func (s *Store) GetSubscription(_ context.Context, id uint64) (random.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return random.Subscription{}, storage.ErrNotFound
	}
	return cloneSubscription(sub), nil
}

func (s *Store) CreateRandomnessRequest(_ context.Context, rec random.Record) (random.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextRequestID
	s.nextRequestID++
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec = cloneRecord(rec)
	s.requests[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) UpdateRandomnessRequest(_ context.Context, rec random.Record) (random.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[rec.ID]
	if !ok {
		return random.Record{}, storage.ErrNotFound
	}
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	rec = cloneRecord(rec)
	s.requests[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) GetRandomnessRequest(_ context.Context, id random.RequestID) (random.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.requests[id]
	if !ok {
		return random.Record{}, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) ListPendingRandomnessRequests(_ context.Context) ([]random.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]random.Record, 0)
	for _, rec := range s.requests {
		if rec.Status == random.StatusPending {
			result = append(result, cloneRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneRound(r raffle.Round) raffle.Round {
	r.Entries = append([]string(nil), r.Entries...)
	r.Pool = cloneInt(r.Pool)
	return r
}

func cloneSettlement(s raffle.Settlement) raffle.Settlement {
	s.Amount = cloneInt(s.Amount)
	return s
}

func cloneAccount(acct ledger.Account) ledger.Account {
	acct.Balance = cloneInt(acct.Balance)
	if acct.Balance == nil {
		acct.Balance = new(big.Int)
	}
	return acct
}

func cloneTransfer(tx ledger.Transfer) ledger.Transfer {
	tx.Amount = cloneInt(tx.Amount)
	return tx
}

func cloneSubscription(sub random.Subscription) random.Subscription {
	sub.Balance = cloneInt(sub.Balance)
	sub.Consumers = append([]string(nil), sub.Consumers...)
	return sub
}

func cloneRecord(rec random.Record) random.Record {
	rec.Payment = cloneInt(rec.Payment)
	if rec.Words != nil {
		words := make([]*big.Int, len(rec.Words))
		for i, w := range rec.Words {
			words[i] = cloneInt(w)
		}
		rec.Words = words
	}
	return rec
}

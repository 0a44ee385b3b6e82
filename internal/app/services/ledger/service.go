package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// DefaultEscrow is the account that holds staked value between rounds.
const DefaultEscrow = "raffle-escrow"

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidAddress    = errors.New("address required")
	ErrInsufficientFunds = errors.New("insufficient escrow funds")
	ErrRecipientRejected = errors.New("recipient rejected funds")
)

// Service moves value in and out of the raffle escrow.
type Service struct {
	store  storage.LedgerStore
	escrow string
	log    *logger.Logger

	mu       sync.RWMutex
	rejected map[string]string
}

// New constructs a ledger service. An empty escrow selects DefaultEscrow.
func New(store storage.LedgerStore, escrow string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	escrow = strings.TrimSpace(escrow)
	if escrow == "" {
		escrow = DefaultEscrow
	}
	return &Service{
		store:    store,
		escrow:   escrow,
		log:      log,
		rejected: make(map[string]string),
	}
}

// Escrow returns the escrow account address.
func (s *Service) Escrow() string { return s.escrow }

// Deposit credits the escrow with a stake paid by from.
func (s *Service) Deposit(ctx context.Context, from string, amount *big.Int) (domain.Transfer, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return domain.Transfer{}, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Transfer{}, ErrInvalidAmount
	}

	tx, err := s.store.ApplyTransfer(ctx, domain.Transfer{
		ID:        uuid.NewString(),
		Kind:      domain.KindDeposit,
		From:      from,
		To:        s.escrow,
		Amount:    new(big.Int).Set(amount),
		Status:    domain.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("deposit from %s: %w", from, err)
	}
	s.log.WithField("from", from).WithField("amount", amount.String()).Debug("stake deposited")
	return tx, nil
}

// Balance returns the escrow balance.
func (s *Service) Balance(ctx context.Context) (*big.Int, error) {
	return s.BalanceOf(ctx, s.escrow)
}

// BalanceOf returns the balance held by address. Unknown addresses hold zero.
func (s *Service) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	acct, err := s.store.GetLedgerAccount(ctx, strings.TrimSpace(address))
	if errors.Is(err, storage.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return acct.Balance, nil
}

// Transfer pays amount out of the escrow to the recipient. Failed attempts are
// recorded with status failed and reported as an error.
func (s *Service) Transfer(ctx context.Context, to string, amount *big.Int) (domain.Transfer, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return domain.Transfer{}, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Transfer{}, ErrInvalidAmount
	}

	tx := domain.Transfer{
		ID:        uuid.NewString(),
		Kind:      domain.KindPayout,
		From:      s.escrow,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		Status:    domain.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}

	if reason, rejected := s.rejection(to); rejected {
		return s.fail(ctx, tx, fmt.Errorf("%w: %s", ErrRecipientRejected, reason))
	}

	applied, err := s.store.ApplyTransfer(ctx, tx)
	if errors.Is(err, storage.ErrInsufficientBalance) {
		return s.fail(ctx, tx, ErrInsufficientFunds)
	}
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("payout to %s: %w", to, err)
	}
	s.log.WithField("to", to).WithField("amount", amount.String()).Info("payout completed")
	return applied, nil
}

// RejectRecipient makes every later payout to address fail.
func (s *Service) RejectRecipient(address, reason string) {
	if reason == "" {
		reason = "recipient refused transfer"
	}
	s.mu.Lock()
	s.rejected[strings.TrimSpace(address)] = reason
	s.mu.Unlock()
}

// AcceptRecipient clears a rejection set by RejectRecipient.
func (s *Service) AcceptRecipient(address string) {
	s.mu.Lock()
	delete(s.rejected, strings.TrimSpace(address))
	s.mu.Unlock()
}

// ListTransfers returns transfers touching address, or all when address is empty.
func (s *Service) ListTransfers(ctx context.Context, address string) ([]domain.Transfer, error) {
	return s.store.ListTransfers(ctx, strings.TrimSpace(address))
}

func (s *Service) rejection(address string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reason, ok := s.rejected[address]
	return reason, ok
}

func (s *Service) fail(ctx context.Context, tx domain.Transfer, cause error) (domain.Transfer, error) {
	tx.Status = domain.StatusFailed
	tx.Error = cause.Error()
	if _, err := s.store.RecordTransfer(ctx, tx); err != nil {
		s.log.WithError(err).Warnf("record failed transfer %s", tx.ID)
	}
	s.log.WithField("to", tx.To).WithField("amount", tx.Amount.String()).WithError(cause).Warn("payout failed")
	return tx, cause
}

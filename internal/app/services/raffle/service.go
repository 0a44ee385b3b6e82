// Package raffle runs the entry and draw state machine of a periodic raffle.
//
// A round accepts entries while open. Once the interval has elapsed and the
// round holds funded entries, Close freezes the participant list and asks the
// randomness oracle for words. The oracle answers later through OnRandomness,
// which picks the winner, pays out the pool and opens the next round.
package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/ledger"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var (
	ErrInsufficientStake     = errors.New("stake below entrance fee")
	ErrRoundNotOpen          = errors.New("round not open")
	ErrUpkeepNotNeeded       = errors.New("upkeep not needed")
	ErrUnknownOrStaleRequest = errors.New("unknown or stale randomness request")
	ErrPayoutFailed          = errors.New("payout failed")
	ErrNoRandomWords         = errors.New("no random words delivered")
	ErrEntryNotFound         = errors.New("entry not found")
	ErrInvalidParticipant    = errors.New("participant required")
)

// RandomnessOracle accepts randomness requests. Words are delivered later via
// OnRandomness; implementations must not call back from inside
// RequestRandomWords.
type RandomnessOracle interface {
	RequestRandomWords(ctx context.Context, req random.Request) (random.RequestID, error)
}

// Ledger holds staked value in escrow.
type Ledger interface {
	Deposit(ctx context.Context, from string, amount *big.Int) (ledger.Transfer, error)
	Balance(ctx context.Context) (*big.Int, error)
	Transfer(ctx context.Context, to string, amount *big.Int) (ledger.Transfer, error)
}

// Publisher receives engine notifications. Publish is called while the round
// is locked and must not block on subscribers.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now as the source of settlement timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher routes notifications to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithStore persists the live round and settlements in store.
func WithStore(store storage.RaffleStore) Option {
	return func(s *Service) { s.store = store }
}

// WithConsumerName sets the consumer identity sent with randomness requests.
func WithConsumerName(name string) Option {
	return func(s *Service) {
		if name = strings.TrimSpace(name); name != "" {
			s.consumer = name
		}
	}
}

// DefaultConsumer is the consumer name used when none is configured.
const DefaultConsumer = "raffle"

// Service is the raffle engine. All operations are serialised on one mutex.
type Service struct {
	cfg      domain.Config
	consumer string
	oracle   RandomnessOracle
	ledger   Ledger
	store    storage.RaffleStore
	events   Publisher
	now      func() time.Time
	log      *logger.Logger

	mu           sync.Mutex
	round        domain.Round
	recentWinner string
}

// New constructs an engine with an open, empty first round.
func New(cfg domain.Config, oracle RandomnessOracle, escrow Ledger, log *logger.Logger, opts ...Option) (*Service, error) {
	if cfg.EntranceFee == nil || cfg.EntranceFee.Sign() < 0 {
		return nil, fmt.Errorf("entrance fee must be non-negative")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if oracle == nil {
		return nil, fmt.Errorf("randomness oracle required")
	}
	if escrow == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if log == nil {
		log = logger.NewDefault("raffle")
	}
	cfg.EntranceFee = new(big.Int).Set(cfg.EntranceFee)

	s := &Service{
		cfg:      cfg,
		consumer: DefaultConsumer,
		oracle:   oracle,
		ledger:   escrow,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.round = freshRound(1, s.now())
	metrics.SetPool(s.round.Pool)
	return s, nil
}

// Restore reloads the live round and the most recent winner. A stored round
// that already has a settlement is replaced by the round that followed it.
// It must be called before the engine accepts traffic.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	latest, err := s.store.LatestSettlement(ctx)
	hasLatest := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load latest settlement: %w", err)
	}
	round, err := s.store.LoadRound(ctx)
	hasRound := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load round: %w", err)
	}
	resume := hasRound && (!hasLatest || round.Number > latest.Round)
	if resume {
		if err := validateRound(round); err != nil {
			return fmt.Errorf("stored round %d: %w", round.Number, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case resume:
		s.round = round
	case hasLatest:
		opened := s.round.OpenedAt
		if !latest.SettledAt.IsZero() {
			opened = latest.SettledAt
		}
		s.round = freshRound(latest.Round+1, opened)
	}
	if hasLatest {
		s.recentWinner = latest.Winner
	}
	metrics.SetPool(s.round.Pool)
	s.log.WithField("round", s.round.Number).
		WithField("state", string(s.round.State)).
		WithField("entries", len(s.round.Entries)).
		WithField("pending_request_id", s.round.PendingRequestID.String()).
		WithField("recent_winner", s.recentWinner).
		Info("raffle state restored")
	return nil
}

func validateRound(r domain.Round) error {
	if r.Number <= 0 {
		return fmt.Errorf("round number must be positive")
	}
	if r.Pool == nil || r.Pool.Sign() < 0 {
		return fmt.Errorf("pool must be non-negative")
	}
	switch r.State {
	case domain.StateOpen:
		if r.PendingRequestID != 0 {
			return fmt.Errorf("open round has pending request %s", r.PendingRequestID)
		}
	case domain.StateDrawing:
		if r.PendingRequestID == 0 || len(r.Entries) == 0 {
			return fmt.Errorf("drawing round needs entries and a pending request")
		}
	default:
		return fmt.Errorf("unknown state %q", r.State)
	}
	return nil
}

// Consumer returns the identity the engine requests randomness under.
func (s *Service) Consumer() string { return s.consumer }

// Enter records one entry for participant. Stakes above the entrance fee are
// accepted and accrue to the pool in full. It returns the entry's index.
func (s *Service) Enter(ctx context.Context, participant string, stake *big.Int) (int, error) {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		metrics.RecordEntry("invalid_participant")
		return 0, ErrInvalidParticipant
	}
	if stake == nil || stake.Cmp(s.cfg.EntranceFee) < 0 {
		metrics.RecordEntry("insufficient_stake")
		return 0, ErrInsufficientStake
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.State != domain.StateOpen {
		metrics.RecordEntry("round_not_open")
		return 0, ErrRoundNotOpen
	}
	if stake.Sign() > 0 {
		if _, err := s.ledger.Deposit(ctx, participant, stake); err != nil {
			metrics.RecordEntry("deposit_failed")
			return 0, fmt.Errorf("deposit stake: %w", err)
		}
	}

	s.round.Entries = append(s.round.Entries, participant)
	s.round.Pool = new(big.Int).Add(s.round.Pool, stake)
	index := len(s.round.Entries) - 1

	s.persistLocked(ctx)
	metrics.RecordEntry("accepted")
	metrics.SetPool(s.round.Pool)
	s.log.WithField("round", s.round.Number).
		WithField("participant", participant).
		WithField("index", index).
		Debug("entry recorded")
	s.publish(ctx, domain.EntryRecorded{
		Round:       s.round.Number,
		Participant: participant,
		Index:       index,
		Stake:       new(big.Int).Set(stake),
		At:          s.now(),
	})
	return index, nil
}

// CheckReady reports whether the round may close at now. It never mutates
// state and may be polled freely.
func (s *Service) CheckReady(ctx context.Context, now time.Time) domain.Readiness {
	s.mu.Lock()
	defer s.mu.Unlock()
	readiness := s.readinessLocked(ctx, now)
	metrics.RecordUpkeepCheck(string(readiness.Reason))
	return readiness
}

func (s *Service) readinessLocked(ctx context.Context, now time.Time) domain.Readiness {
	if s.round.State != domain.StateOpen {
		return domain.Readiness{Reason: domain.ReasonNotOpen}
	}
	if now.Sub(s.round.OpenedAt) < s.cfg.Interval {
		return domain.Readiness{Reason: domain.ReasonIntervalNotElapsed}
	}
	if len(s.round.Entries) == 0 {
		return domain.Readiness{Reason: domain.ReasonNoEntries}
	}
	balance, err := s.ledger.Balance(ctx)
	if err != nil {
		s.log.WithError(err).Warn("ledger balance unavailable during upkeep check")
		return domain.Readiness{Reason: domain.ReasonLedgerUnavailable}
	}
	if balance == nil || balance.Sign() <= 0 {
		return domain.Readiness{Reason: domain.ReasonNoBalance}
	}
	return domain.Readiness{Ready: true, Reason: domain.ReasonReady}
}

// Close freezes the round and requests randomness. Nothing changes unless the
// round is ready at now and the oracle accepts the request.
func (s *Service) Close(ctx context.Context, now time.Time) (random.RequestID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readiness := s.readinessLocked(ctx, now)
	metrics.RecordUpkeepCheck(string(readiness.Reason))
	if !readiness.Ready {
		return 0, fmt.Errorf("%w: %s", ErrUpkeepNotNeeded, readiness.Reason)
	}

	id, err := s.oracle.RequestRandomWords(ctx, random.Request{Params: s.cfg.Randomness, Consumer: s.consumer})
	if err != nil {
		return 0, fmt.Errorf("request randomness: %w", err)
	}
	if id == 0 {
		return 0, fmt.Errorf("request randomness: oracle returned empty request id")
	}

	s.round.State = domain.StateDrawing
	s.round.PendingRequestID = id
	s.round.ClosedAt = now
	s.persistLocked(ctx)

	metrics.RecordDrawRequested()
	s.log.WithField("round", s.round.Number).
		WithField("request_id", id.String()).
		WithField("entries", len(s.round.Entries)).
		WithField("pool", s.round.Pool.String()).
		Info("round closed, randomness requested")
	s.publish(ctx, domain.DrawRequested{
		Round:     s.round.Number,
		RequestID: id,
		Entries:   len(s.round.Entries),
		Pool:      new(big.Int).Set(s.round.Pool),
		At:        now,
	})
	return id, nil
}

// OnRandomness settles the drawing round with the delivered words. A payout
// failure leaves the round drawing with the same pending request so the
// identical delivery can be retried.
func (s *Service) OnRandomness(ctx context.Context, id random.RequestID, words []*big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.State != domain.StateDrawing || id == 0 || id != s.round.PendingRequestID {
		metrics.RecordSettlement("stale")
		s.log.WithField("request_id", id.String()).
			WithField("pending_request_id", s.round.PendingRequestID.String()).
			WithField("state", string(s.round.State)).
			Warn("rejected randomness callback for unknown or stale request")
		return fmt.Errorf("%w: %s", ErrUnknownOrStaleRequest, id)
	}
	if len(words) == 0 || words[0] == nil {
		metrics.RecordSettlement("no_words")
		return fmt.Errorf("%w: request %s", ErrNoRandomWords, id)
	}

	count := len(s.round.Entries)
	index := int(new(big.Int).Mod(words[0], big.NewInt(int64(count))).Int64())
	winner := s.round.Entries[index]
	amount := new(big.Int).Set(s.round.Pool)

	var transferID string
	if amount.Sign() > 0 {
		tx, err := s.ledger.Transfer(ctx, winner, amount)
		if err != nil {
			metrics.RecordSettlement("payout_failed")
			s.log.WithField("round", s.round.Number).
				WithField("request_id", id.String()).
				WithField("winner", winner).
				WithField("amount", amount.String()).
				WithError(err).
				Error("payout failed, round remains drawing")
			return fmt.Errorf("%w: %w", ErrPayoutFailed, err)
		}
		transferID = tx.ID
	}

	settledAt := s.now()
	settlement := domain.Settlement{
		Round:       s.round.Number,
		RequestID:   id,
		Winner:      winner,
		WinnerIndex: index,
		Amount:      amount,
		EntryCount:  count,
		TransferID:  transferID,
		OpenedAt:    s.round.OpenedAt,
		ClosedAt:    s.round.ClosedAt,
		SettledAt:   settledAt,
	}

	s.recentWinner = winner
	s.round = freshRound(s.round.Number+1, settledAt)

	if s.store != nil {
		if _, err := s.store.RecordSettlement(ctx, settlement); err != nil {
			s.log.WithError(err).WithField("round", settlement.Round).Error("record settlement failed")
		}
	}
	s.persistLocked(ctx)

	metrics.RecordSettlement("settled")
	metrics.SetPool(s.round.Pool)
	s.log.WithField("round", settlement.Round).
		WithField("request_id", id.String()).
		WithField("winner", winner).
		WithField("winner_index", index).
		WithField("amount", amount.String()).
		Info("winner picked, round reopened")
	s.publish(ctx, domain.WinnerPicked{
		Round:     settlement.Round,
		RequestID: id,
		Winner:    winner,
		Amount:    new(big.Int).Set(amount),
		At:        settledAt,
	})
	return nil
}

// EntranceFee returns the minimum stake per entry.
func (s *Service) EntranceFee() *big.Int { return new(big.Int).Set(s.cfg.EntranceFee) }

// Interval returns the minimum round duration.
func (s *Service) Interval() time.Duration { return s.cfg.Interval }

// RandomnessParams returns the parameters forwarded with every request.
func (s *Service) RandomnessParams() random.Params { return s.cfg.Randomness }

func (s *Service) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round.State
}

func (s *Service) Pool() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.round.Pool)
}

func (s *Service) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.round.Entries)
}

// Entry returns the participant at index in the current round.
func (s *Service) Entry(index int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.round.Entries) {
		return "", fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	return s.round.Entries[index], nil
}

// RecentWinner returns the winner of the last settled round, or "".
func (s *Service) RecentWinner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentWinner
}

// LastTimestamp returns when the current round opened.
func (s *Service) LastTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round.OpenedAt
}

func (s *Service) RoundNumber() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round.Number
}

// PendingRequestID returns the in-flight request, or 0 while open.
func (s *Service) PendingRequestID() random.RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round.PendingRequestID
}

// Snapshot returns a copy of the current round.
func (s *Service) Snapshot() domain.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	round := s.round
	round.Entries = append([]string(nil), s.round.Entries...)
	round.Pool = new(big.Int).Set(s.round.Pool)
	return round
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithField("event", event.EventName()).Warn("publish event failed")
	}
}

// persistLocked writes the live round to the store. The ledger has already
// moved by the time it runs, so a failed write is logged and not returned.
func (s *Service) persistLocked(ctx context.Context) {
	if s.store == nil {
		return
	}
	round := s.round
	round.Entries = append([]string(nil), s.round.Entries...)
	round.Pool = new(big.Int).Set(s.round.Pool)
	if err := s.store.SaveRound(ctx, round); err != nil {
		s.log.WithError(err).
			WithField("round", round.Number).
			WithField("state", string(round.State)).
			Error("persist round failed")
	}
}

func freshRound(number int64, openedAt time.Time) domain.Round {
	return domain.Round{
		Number:   number,
		State:    domain.StateOpen,
		Entries:  nil,
		Pool:     new(big.Int),
		OpenedAt: openedAt,
	}
}

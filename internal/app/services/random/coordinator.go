package random

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

const (
	MaxNumWords         = 500
	MaxCallbackGasLimit = 2_500_000
	MaxConfirmations    = 200
)

var (
	// DefaultBaseFee is the flat premium charged per fulfillment (0.25 LINK).
	DefaultBaseFee = big.NewInt(250_000_000_000_000_000)
	// DefaultGasPriceLink converts callback gas into juels.
	DefaultGasPriceLink = big.NewInt(1_000_000_000)
)

var (
	ErrNonexistentRequest   = errors.New("nonexistent request")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrInvalidConsumer      = errors.New("invalid consumer")
	ErrNumWordsTooBig       = errors.New("num words too big")
	ErrGasLimitTooBig       = errors.New("gas limit too big")
	ErrInvalidConfirmations = errors.New("invalid request confirmations")
	ErrInsufficientBalance  = errors.New("insufficient subscription balance")
	ErrInvalidFunding       = errors.New("funding amount must be positive")
	ErrCallbackRejected     = errors.New("consumer rejected fulfillment")
	ErrNoCallback           = errors.New("no callback registered for consumer")
)

// Callback receives the words for a request. Returning an error wrapped with
// Reject marks the request failed; any other error keeps it pending for
// redelivery with the same words.
type Callback func(ctx context.Context, id domain.RequestID, words []*big.Int) error

// Reject marks err as a permanent refusal of a fulfillment.
func Reject(err error) error {
	return fmt.Errorf("%w: %w", ErrCallbackRejected, err)
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMinConfirmations sets the lowest accepted confirmation depth.
func WithMinConfirmations(n uint16) CoordinatorOption {
	return func(c *Coordinator) { c.minConfirmations = n }
}

// WithFees overrides the fulfillment pricing.
func WithFees(baseFee, gasPriceLink *big.Int) CoordinatorOption {
	return func(c *Coordinator) {
		if baseFee != nil {
			c.baseFee = new(big.Int).Set(baseFee)
		}
		if gasPriceLink != nil {
			c.gasPriceLink = new(big.Int).Set(gasPriceLink)
		}
	}
}

// Coordinator is an in-process verifiable randomness coordinator. Consumers
// fund requests through subscriptions and receive words via callbacks.
type Coordinator struct {
	store            storage.RandomnessStore
	source           WordSource
	minConfirmations uint16
	baseFee          *big.Int
	gasPriceLink     *big.Int
	log              *logger.Logger

	// fulfillMu serialises deliveries. It is never taken by RequestRandomWords,
	// which consumers call while holding their own locks.
	fulfillMu sync.Mutex
	subMu     sync.Mutex

	cbMu      sync.RWMutex
	callbacks map[string]Callback
}

// NewCoordinator constructs a coordinator persisting through store.
func NewCoordinator(store storage.RandomnessStore, source WordSource, log *logger.Logger, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = logger.NewDefault("vrf-coordinator")
	}
	if source == nil {
		source = NewCryptoSource(log)
	}
	c := &Coordinator{
		store:            store,
		source:           source,
		minConfirmations: 1,
		baseFee:          new(big.Int).Set(DefaultBaseFee),
		gasPriceLink:     new(big.Int).Set(DefaultGasPriceLink),
		log:              log,
		callbacks:        make(map[string]Callback),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterConsumer installs the callback used to deliver words to consumer.
func (c *Coordinator) RegisterConsumer(consumer string, cb Callback) {
	c.cbMu.Lock()
	c.callbacks[strings.TrimSpace(consumer)] = cb
	c.cbMu.Unlock()
}

func (c *Coordinator) callback(consumer string) Callback {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return c.callbacks[consumer]
}

// CreateSubscription opens an unfunded subscription owned by owner.
func (c *Coordinator) CreateSubscription(ctx context.Context, owner string) (domain.Subscription, error) {
	sub, err := c.store.CreateSubscription(ctx, domain.Subscription{Owner: strings.TrimSpace(owner), Balance: new(big.Int)})
	if err != nil {
		return domain.Subscription{}, err
	}
	c.log.WithField("subscription_id", sub.ID).Info("subscription created")
	return sub, nil
}

// FundSubscription adds amount to the subscription balance.
func (c *Coordinator) FundSubscription(ctx context.Context, id uint64, amount *big.Int) (domain.Subscription, error) {
	if amount == nil || amount.Sign() <= 0 {
		return domain.Subscription{}, ErrInvalidFunding
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, err := c.subscription(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	sub.Balance = new(big.Int).Add(sub.Balance, amount)
	sub, err = c.store.UpdateSubscription(ctx, sub)
	if err != nil {
		return domain.Subscription{}, err
	}
	c.log.WithField("subscription_id", id).WithField("balance", sub.Balance.String()).Info("subscription funded")
	return sub, nil
}

// AddConsumer authorises consumer to request against the subscription.
func (c *Coordinator) AddConsumer(ctx context.Context, id uint64, consumer string) error {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return ErrInvalidConsumer
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, err := c.subscription(ctx, id)
	if err != nil {
		return err
	}
	if hasConsumer(sub, consumer) {
		return nil
	}
	sub.Consumers = append(sub.Consumers, consumer)
	_, err = c.store.UpdateSubscription(ctx, sub)
	return err
}

// RemoveConsumer revokes consumer from the subscription.
func (c *Coordinator) RemoveConsumer(ctx context.Context, id uint64, consumer string) error {
	consumer = strings.TrimSpace(consumer)
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, err := c.subscription(ctx, id)
	if err != nil {
		return err
	}
	if !hasConsumer(sub, consumer) {
		return fmt.Errorf("%w: %s", ErrInvalidConsumer, consumer)
	}
	kept := sub.Consumers[:0]
	for _, existing := range sub.Consumers {
		if existing != consumer {
			kept = append(kept, existing)
		}
	}
	sub.Consumers = kept
	_, err = c.store.UpdateSubscription(ctx, sub)
	return err
}

// Subscription returns the subscription with id.
func (c *Coordinator) Subscription(ctx context.Context, id uint64) (domain.Subscription, error) {
	return c.subscription(ctx, id)
}

func (c *Coordinator) subscription(ctx context.Context, id uint64) (domain.Subscription, error) {
	sub, err := c.store.GetSubscription(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Subscription{}, fmt.Errorf("%w: %d", ErrInvalidSubscription, id)
	}
	return sub, err
}

// RequestRandomWords validates and records a request. Words are delivered
// later by FulfillRandomWords; this method never invokes a callback.
func (c *Coordinator) RequestRandomWords(ctx context.Context, req domain.Request) (domain.RequestID, error) {
	req.Consumer = strings.TrimSpace(req.Consumer)
	sub, err := c.subscription(ctx, req.SubscriptionID)
	if err != nil {
		return 0, err
	}
	if !hasConsumer(sub, req.Consumer) {
		return 0, fmt.Errorf("%w: %s on subscription %d", ErrInvalidConsumer, req.Consumer, sub.ID)
	}
	if req.Confirmations < c.minConfirmations || req.Confirmations > MaxConfirmations {
		return 0, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidConfirmations, req.Confirmations, c.minConfirmations, MaxConfirmations)
	}
	if req.CallbackGasLimit > MaxCallbackGasLimit {
		return 0, fmt.Errorf("%w: %d > %d", ErrGasLimitTooBig, req.CallbackGasLimit, MaxCallbackGasLimit)
	}
	if req.NumWords == 0 || req.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: %d", ErrNumWordsTooBig, req.NumWords)
	}

	rec, err := c.store.CreateRandomnessRequest(ctx, domain.Record{Request: req, Status: domain.StatusPending})
	if err != nil {
		return 0, fmt.Errorf("store request: %w", err)
	}
	c.log.WithField("request_id", rec.ID.String()).
		WithField("consumer", req.Consumer).
		WithField("num_words", req.NumWords).
		Info("random words requested")
	return rec.ID, nil
}

// Request returns the stored request with id.
func (c *Coordinator) Request(ctx context.Context, id domain.RequestID) (domain.Record, error) {
	rec, err := c.store.GetRandomnessRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Record{}, fmt.Errorf("%w: %s", ErrNonexistentRequest, id)
	}
	return rec, err
}

// ListPending returns requests still awaiting a successful delivery.
func (c *Coordinator) ListPending(ctx context.Context) ([]domain.Record, error) {
	return c.store.ListPendingRandomnessRequests(ctx)
}

// Payment returns the charge for fulfilling a request with the given gas budget.
func (c *Coordinator) Payment(callbackGasLimit uint32) *big.Int {
	gas := new(big.Int).Mul(c.gasPriceLink, new(big.Int).SetUint64(uint64(callbackGasLimit)))
	return gas.Add(gas, c.baseFee)
}

// FulfillRandomWords delivers words from the configured source. Words that
// were drawn for an earlier failed delivery are reused unchanged.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, id domain.RequestID) (domain.Record, error) {
	return c.fulfill(ctx, id, nil)
}

// FulfillRandomWordsWithOverride delivers caller-chosen words.
func (c *Coordinator) FulfillRandomWordsWithOverride(ctx context.Context, id domain.RequestID, words []*big.Int) (domain.Record, error) {
	if len(words) == 0 {
		return domain.Record{}, fmt.Errorf("override words required")
	}
	return c.fulfill(ctx, id, words)
}

func (c *Coordinator) fulfill(ctx context.Context, id domain.RequestID, override []*big.Int) (domain.Record, error) {
	c.fulfillMu.Lock()
	defer c.fulfillMu.Unlock()

	rec, err := c.Request(ctx, id)
	if err != nil {
		return domain.Record{}, err
	}
	if rec.Status != domain.StatusPending {
		return rec, fmt.Errorf("%w: %s is %s", ErrNonexistentRequest, id, rec.Status)
	}

	payment := c.Payment(rec.Request.CallbackGasLimit)
	sub, err := c.subscription(ctx, rec.Request.SubscriptionID)
	if err != nil {
		return rec, err
	}
	if sub.Balance.Cmp(payment) < 0 {
		metrics.RecordFulfillment("insufficient_balance")
		return rec, fmt.Errorf("%w: subscription %d holds %s, needs %s", ErrInsufficientBalance, sub.ID, sub.Balance, payment)
	}

	switch {
	case override != nil:
		rec.Words = cloneWords(override)
	case len(rec.Words) == 0:
		words, err := c.source.Words(ctx, id, rec.Request.NumWords)
		if err != nil {
			metrics.RecordFulfillment("source_error")
			return rec, fmt.Errorf("draw words for %s: %w", id, err)
		}
		rec.Words = words
	}

	cb := c.callback(rec.Request.Consumer)
	if cb == nil {
		metrics.RecordFulfillment("no_callback")
		return rec, fmt.Errorf("%w: %s", ErrNoCallback, rec.Request.Consumer)
	}

	rec.Attempts++
	deliverErr := cb(ctx, id, cloneWords(rec.Words))
	switch {
	case deliverErr == nil:
		if err := c.charge(ctx, sub.ID, payment); err != nil {
			c.log.WithError(err).WithField("request_id", id.String()).Warn("charge subscription failed")
		}
		rec.Status = domain.StatusFulfilled
		rec.Payment = payment
		rec.LastError = ""
		rec.FulfilledAt = time.Now().UTC()
		metrics.RecordFulfillment("fulfilled")
		c.log.WithField("request_id", id.String()).WithField("payment", payment.String()).Info("random words fulfilled")
	case errors.Is(deliverErr, ErrCallbackRejected):
		if err := c.charge(ctx, sub.ID, payment); err != nil {
			c.log.WithError(err).WithField("request_id", id.String()).Warn("charge subscription failed")
		}
		rec.Status = domain.StatusFailed
		rec.Payment = payment
		rec.LastError = deliverErr.Error()
		metrics.RecordFulfillment("rejected")
		c.log.WithError(deliverErr).WithField("request_id", id.String()).Warn("consumer rejected random words")
	default:
		rec.LastError = deliverErr.Error()
		metrics.RecordFulfillment("retry")
		c.log.WithError(deliverErr).
			WithField("request_id", id.String()).
			WithField("attempts", rec.Attempts).
			Warn("random words delivery failed, will retry")
	}

	updated, err := c.store.UpdateRandomnessRequest(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("update request %s: %w", id, err)
	}
	if deliverErr != nil {
		return updated, fmt.Errorf("deliver request %s: %w", id, deliverErr)
	}
	return updated, nil
}

func (c *Coordinator) charge(ctx context.Context, subID uint64, payment *big.Int) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	sub, err := c.subscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Balance.Cmp(payment) < 0 {
		return ErrInsufficientBalance
	}
	sub.Balance = new(big.Int).Sub(sub.Balance, payment)
	_, err = c.store.UpdateSubscription(ctx, sub)
	return err
}

func hasConsumer(sub domain.Subscription, consumer string) bool {
	for _, existing := range sub.Consumers {
		if existing == consumer {
			return true
		}
	}
	return false
}

func cloneWords(words []*big.Int) []*big.Int {
	out := make([]*big.Int, len(words))
	for i, w := range words {
		if w != nil {
			out[i] = new(big.Int).Set(w)
		}
	}
	return out
}

package random

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

var _ system.Service = (*Dispatcher)(nil)

// Dispatcher periodically fulfills pending randomness requests once their
// confirmation depth has elapsed. Failed deliveries back off exponentially.
type Dispatcher struct {
	coordinator *Coordinator
	log         *logger.Logger
	interval    time.Duration
	blockTime   time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[domain.RequestID]time.Time
}

// NewDispatcher constructs a lifecycle-managed dispatcher. blockTime is the
// simulated time per confirmation.
func NewDispatcher(coordinator *Coordinator, blockTime time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("vrf-dispatcher")
	}
	if blockTime < 0 {
		blockTime = 0
	}
	return &Dispatcher{
		coordinator: coordinator,
		log:         log,
		interval:    time.Second,
		blockTime:   blockTime,
		maxBackoff:  time.Minute,
		now:         time.Now,
		nextAttempt: make(map[domain.RequestID]time.Time),
	}
}

// WithInterval overrides the polling interval.
func (d *Dispatcher) WithInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
}

func (d *Dispatcher) Name() string { return "vrf-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.coordinator == nil {
		d.mu.Unlock()
		d.log.Warn("vrf coordinator not configured; dispatcher disabled")
		return nil
	}
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	interval := d.interval
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("vrf dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("vrf dispatcher stopped")
	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	reqs, err := d.coordinator.ListPending(ctx)
	if err != nil {
		d.log.WithError(err).Warn("vrf dispatcher tick failed")
		return
	}

	now := d.now()
	for _, rec := range reqs {
		if !d.confirmed(rec, now) || !d.shouldAttempt(rec.ID, now) {
			continue
		}

		updated, err := d.coordinator.FulfillRandomWords(ctx, rec.ID)
		if err != nil && updated.Status == domain.StatusPending {
			entry := d.log.WithError(err).
				WithField("request_id", rec.ID.String()).
				WithField("attempts", updated.Attempts)
			if errors.Is(err, ErrInsufficientBalance) {
				entry.WithField("subscription_id", rec.Request.SubscriptionID).
					Error("subscription cannot pay for fulfillment; fund it to resume the draw")
			} else {
				entry.Warn("fulfill random words failed")
			}
			d.scheduleNext(rec.ID, d.backoff(updated.Attempts), now)
			continue
		}
		d.clearSchedule(rec.ID)
	}
}

func (d *Dispatcher) confirmed(rec domain.Record, now time.Time) bool {
	wait := time.Duration(rec.Request.Confirmations) * d.blockTime
	return !now.Before(rec.CreatedAt.Add(wait))
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	d.mu.Lock()
	delay := d.interval
	d.mu.Unlock()
	for i := 1; i < attempts && delay < d.maxBackoff; i++ {
		delay *= 2
	}
	if delay > d.maxBackoff {
		delay = d.maxBackoff
	}
	return delay
}

func (d *Dispatcher) shouldAttempt(id domain.RequestID, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, ok := d.nextAttempt[id]
	if !ok || !now.Before(next) {
		return true
	}
	return false
}

func (d *Dispatcher) scheduleNext(id domain.RequestID, after time.Duration, now time.Time) {
	d.mu.Lock()
	d.nextAttempt[id] = now.Add(after)
	d.mu.Unlock()
}

func (d *Dispatcher) clearSchedule(id domain.RequestID) {
	d.mu.Lock()
	delete(d.nextAttempt, id)
	d.mu.Unlock()
}

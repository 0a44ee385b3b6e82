package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	raffleSvc "github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// DefaultSchedule polls the raffle every five seconds.
const DefaultSchedule = "@every 5s"

// Upkeeper is the contract the keeper drives.
type Upkeeper interface {
	CheckReady(ctx context.Context, now time.Time) raffle.Readiness
	Close(ctx context.Context, now time.Time) (random.RequestID, error)
}

// Outcome classifies a keeper run.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomePerformed Outcome = "performed"
	OutcomeNotNeeded Outcome = "not_needed"
	OutcomeFailed    Outcome = "failed"
)

// Run describes one upkeep attempt.
type Run struct {
	At        time.Time        `json:"at"`
	Readiness raffle.Readiness `json:"readiness"`
	Outcome   Outcome          `json:"outcome"`
	RequestID random.RequestID `json:"request_id,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Status reports keeper activity.
type Status struct {
	Schedule string `json:"schedule"`
	Running  bool   `json:"running"`
	Runs     int    `json:"runs"`
	LastRun  *Run   `json:"last_run,omitempty"`
}

var _ system.Service = (*Keeper)(nil)

// Keeper polls the raffle on a cron schedule and closes ready rounds.
type Keeper struct {
	target   Upkeeper
	schedule string
	now      func() time.Time
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
	runs    int
	last    *Run
}

// NewKeeper validates schedule and constructs a keeper for target.
func NewKeeper(target Upkeeper, schedule string, log *logger.Logger) (*Keeper, error) {
	if target == nil {
		return nil, fmt.Errorf("upkeep target required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.NewDefault("automation")
	}
	return &Keeper{target: target, schedule: schedule, now: time.Now, log: log}, nil
}

func (k *Keeper) Name() string { return "raffle-keeper" }

func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: k.log})))
	if _, err := c.AddFunc(k.schedule, func() {
		if _, err := k.RunOnce(runCtx); err != nil {
			k.log.WithError(err).Warn("upkeep run failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule upkeep: %w", err)
	}
	c.Start()

	k.cron = c
	k.cancel = cancel
	k.running = true
	k.log.WithField("schedule", k.schedule).Info("raffle keeper started")
	return nil
}

func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	c, cancel := k.cron, k.cancel
	k.cron, k.cancel, k.running = nil, nil, false
	k.mu.Unlock()

	stopped := c.Stop()
	cancel()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	k.log.Info("raffle keeper stopped")
	return nil
}

// RunOnce performs a single upkeep check and, when ready, closes the round.
// A close refused as not needed is reported as a benign outcome, not an error.
func (k *Keeper) RunOnce(ctx context.Context) (Run, error) {
	start := time.Now()
	now := k.now()
	run := Run{At: now, Readiness: k.target.CheckReady(ctx, now), Outcome: OutcomeSkipped}

	var runErr error
	if run.Readiness.Ready {
		id, err := k.target.Close(ctx, now)
		switch {
		case err == nil:
			run.Outcome = OutcomePerformed
			run.RequestID = id
			k.log.WithField("request_id", id.String()).Info("upkeep performed")
		case errors.Is(err, raffleSvc.ErrUpkeepNotNeeded):
			run.Outcome = OutcomeNotNeeded
			run.Error = err.Error()
			k.log.WithError(err).Debug("upkeep no longer needed")
		default:
			run.Outcome = OutcomeFailed
			run.Error = err.Error()
			runErr = err
		}
	}

	metrics.RecordKeeperRun(string(run.Outcome), time.Since(start))
	k.mu.Lock()
	k.runs++
	last := run
	k.last = &last
	k.mu.Unlock()
	return run, runErr
}

// Status returns the keeper's schedule and last run.
func (k *Keeper) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	status := Status{Schedule: k.schedule, Running: k.running, Runs: k.runs}
	if k.last != nil {
		last := *k.last
		status.LastRun = &last
	}
	return status
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

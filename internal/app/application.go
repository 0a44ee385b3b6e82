package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	automationsvc "github.com/R3E-Network/raffle_layer/internal/app/services/automation"
	ledgersvc "github.com/R3E-Network/raffle_layer/internal/app/services/ledger"
	rafflesvc "github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	randomsvc "github.com/R3E-Network/raffle_layer/internal/app/services/random"
	"github.com/R3E-Network/raffle_layer/internal/app/storage"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/memory"
	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Raffle     storage.RaffleStore
	Ledger     storage.LedgerStore
	Randomness storage.RandomnessStore
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	cfg     *config.Config

	Raffle      *rafflesvc.Service
	Ledger      *ledgersvc.Service
	Oracle      *randomsvc.Coordinator
	Dispatcher  *randomsvc.Dispatcher
	Keeper      *automationsvc.Keeper
	Events      *events.Bus
	Settlements storage.RaffleStore

	// SubscriptionID is the coordinator subscription the raffle draws against.
	SubscriptionID uint64
}

// New builds a fully initialised application with the provided stores.
func New(ctx context.Context, cfg *config.Config, stores Stores, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg == nil {
		def, err := config.Default(config.DefaultNetwork)
		if err != nil {
			return nil, err
		}
		cfg = def
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mem := memory.New()
	if stores.Raffle == nil {
		stores.Raffle = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Randomness == nil {
		stores.Randomness = mem
	}

	manager := system.NewManager()
	bus := events.NewBus(256, log.Named("events"))

	source, err := wordSource(cfg, log)
	if err != nil {
		return nil, err
	}
	coordinator := randomsvc.NewCoordinator(stores.Randomness, source, log.Named("vrf-coordinator"))
	subID, err := provisionSubscription(ctx, cfg, coordinator, log)
	if err != nil {
		return nil, err
	}

	ledgerService := ledgersvc.New(stores.Ledger, cfg.Raffle.Escrow, log.Named("ledger"))

	fee, err := cfg.EntranceFee()
	if err != nil {
		return nil, err
	}
	engine, err := rafflesvc.New(raffle.Config{
		EntranceFee: fee,
		Interval:    cfg.Raffle.Interval,
		Randomness: random.Params{
			KeyHash:          cfg.Oracle.KeyHash,
			SubscriptionID:   subID,
			Confirmations:    cfg.Oracle.RequestConfirmations,
			CallbackGasLimit: cfg.Oracle.CallbackGasLimit,
			NumWords:         cfg.Oracle.NumWords,
		},
	}, coordinator, ledgerService, log.Named("raffle"),
		rafflesvc.WithPublisher(bus),
		rafflesvc.WithStore(stores.Raffle),
		rafflesvc.WithConsumerName(cfg.Raffle.Consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("configure raffle: %w", err)
	}
	if err := engine.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore raffle: %w", err)
	}
	metrics.SetPool(engine.Pool())

	coordinator.RegisterConsumer(engine.Consumer(), deliverTo(engine))

	dispatcher := randomsvc.NewDispatcher(coordinator, cfg.Oracle.BlockTime, log.Named("vrf-dispatcher"))
	dispatcher.WithInterval(cfg.Oracle.PollInterval)

	keeper, err := automationsvc.NewKeeper(engine, cfg.Keeper.Schedule, log.Named("automation"))
	if err != nil {
		return nil, fmt.Errorf("configure keeper: %w", err)
	}

	services := []system.Service{bus, dispatcher}
	if cfg.Keeper.Enabled {
		services = append(services, keeper)
	} else {
		log.Warn("keeper disabled; rounds close only through POST /raffle/upkeep")
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:        manager,
		log:            log,
		cfg:            cfg,
		Raffle:         engine,
		Ledger:         ledgerService,
		Oracle:         coordinator,
		Dispatcher:     dispatcher,
		Keeper:         keeper,
		Events:         bus,
		Settlements:    stores.Raffle,
		SubscriptionID: subID,
	}, nil
}

// Config returns the configuration the application was built with.
func (a *Application) Config() *config.Config {
	return a.cfg
}

// DevRoutes reports whether development-only endpoints are enabled.
func (a *Application) DevRoutes() bool {
	return a.cfg.Server.EnableDevRoutes
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// deliverTo adapts the engine's randomness entry point to a coordinator
// callback. Ids the engine will never accept are rejected permanently so the
// coordinator stops redelivering them; payout failures stay retryable.
func deliverTo(engine *rafflesvc.Service) randomsvc.Callback {
	return func(ctx context.Context, id random.RequestID, words []*big.Int) error {
		err := engine.OnRandomness(ctx, id, words)
		if errors.Is(err, rafflesvc.ErrUnknownOrStaleRequest) || errors.Is(err, rafflesvc.ErrNoRandomWords) {
			return randomsvc.Reject(err)
		}
		return err
	}
}

func wordSource(cfg *config.Config, log *logger.Logger) (randomsvc.WordSource, error) {
	if strings.TrimSpace(cfg.Beacon.URL) == "" {
		return randomsvc.NewCryptoSource(log.Named("random")), nil
	}
	client := &http.Client{Timeout: cfg.Beacon.Timeout}
	source, err := randomsvc.NewBeaconSource(client, cfg.Beacon.URL, cfg.Beacon.Field, log.Named("random-beacon"))
	if err != nil {
		return nil, fmt.Errorf("configure beacon: %w", err)
	}
	return source, nil
}

// provisionSubscription mirrors the mock deployment on development networks:
// create a subscription, fund it and authorise the raffle. Other networks
// must reference an existing subscription.
func provisionSubscription(ctx context.Context, cfg *config.Config, coord *randomsvc.Coordinator, log *logger.Logger) (uint64, error) {
	consumer := strings.TrimSpace(cfg.Raffle.Consumer)
	if consumer == "" {
		consumer = rafflesvc.DefaultConsumer
	}

	if id := cfg.Oracle.SubscriptionID; id != 0 {
		sub, err := coord.Subscription(ctx, id)
		switch {
		case err == nil:
			if err := coord.AddConsumer(ctx, sub.ID, consumer); err != nil {
				return 0, fmt.Errorf("add consumer: %w", err)
			}
			return sub.ID, nil
		case !errors.Is(err, randomsvc.ErrInvalidSubscription):
			return 0, fmt.Errorf("load subscription %d: %w", id, err)
		case !cfg.Profile().Development:
			return 0, fmt.Errorf("subscription %d not provisioned on %s: %w", id, cfg.Network, err)
		}
	} else if !cfg.Profile().Development {
		return 0, fmt.Errorf("network %s requires oracle.subscription_id", cfg.Network)
	}

	fund, err := cfg.FundAmount()
	if err != nil {
		return 0, err
	}
	sub, err := coord.CreateSubscription(ctx, "deployer")
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	if _, err := coord.FundSubscription(ctx, sub.ID, fund); err != nil {
		return 0, fmt.Errorf("fund subscription: %w", err)
	}
	if err := coord.AddConsumer(ctx, sub.ID, consumer); err != nil {
		return 0, fmt.Errorf("add consumer: %w", err)
	}
	log.WithField("network", cfg.Network).
		WithField("subscription_id", sub.ID).
		WithField("consumer", consumer).
		Info("development subscription provisioned")
	return sub.ID, nil
}

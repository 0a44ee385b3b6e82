// Package config loads raffle daemon configuration from network profiles,
// an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultNetwork is used when neither the file nor the environment names one.
const DefaultNetwork = "hardhat"

// Config is the daemon configuration.
type Config struct {
	Network  string         `yaml:"network" env:"RAFFLE_NETWORK"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Raffle   RaffleConfig   `yaml:"raffle"`
	Keeper   KeeperConfig   `yaml:"keeper"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Beacon   BeaconConfig   `yaml:"beacon"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	EntryRateLimit  float64       `yaml:"entry_rate_limit" env:"SERVER_ENTRY_RATE_LIMIT"`
	EntryRateBurst  int           `yaml:"entry_rate_burst" env:"SERVER_ENTRY_RATE_BURST"`
	EnableDevRoutes bool          `yaml:"enable_dev_routes" env:"SERVER_ENABLE_DEV_ROUTES"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// DatabaseConfig selects postgres persistence. An empty DSN keeps state in memory.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool   `yaml:"migrate" env:"DATABASE_MIGRATE"`
}

// RaffleConfig holds engine parameters. Empty values fall back to the network profile.
type RaffleConfig struct {
	EntranceFee string        `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	Interval    time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
	Escrow      string        `yaml:"escrow" env:"RAFFLE_ESCROW"`
	Consumer    string        `yaml:"consumer" env:"RAFFLE_CONSUMER"`
}

type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"KEEPER_ENABLED"`
	Schedule string `yaml:"schedule" env:"KEEPER_SCHEDULE"`
}

type OracleConfig struct {
	KeyHash              string        `yaml:"key_hash" env:"ORACLE_KEY_HASH"`
	SubscriptionID       uint64        `yaml:"subscription_id" env:"ORACLE_SUBSCRIPTION_ID"`
	RequestConfirmations uint16        `yaml:"request_confirmations" env:"ORACLE_REQUEST_CONFIRMATIONS"`
	CallbackGasLimit     uint32        `yaml:"callback_gas_limit" env:"ORACLE_CALLBACK_GAS_LIMIT"`
	NumWords             uint32        `yaml:"num_words" env:"ORACLE_NUM_WORDS"`
	BlockTime            time.Duration `yaml:"block_time" env:"ORACLE_BLOCK_TIME"`
	PollInterval         time.Duration `yaml:"poll_interval" env:"ORACLE_POLL_INTERVAL"`
	// FundAmount seeds the development subscription.
	FundAmount string `yaml:"fund_amount" env:"ORACLE_FUND_AMOUNT"`
}

// BeaconConfig switches word generation to an HTTP randomness beacon.
type BeaconConfig struct {
	URL     string        `yaml:"url" env:"BEACON_URL"`
	Field   string        `yaml:"field" env:"BEACON_FIELD"`
	Timeout time.Duration `yaml:"timeout" env:"BEACON_TIMEOUT"`
}

// Default returns the configuration for the named network profile.
func Default(network string) (*Config, error) {
	profile, err := LookupNetwork(network)
	if err != nil {
		return nil, err
	}
	return &Config{
		Network: profile.Name,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			EntryRateLimit:  20,
			EntryRateBurst:  40,
			EnableDevRoutes: profile.Development,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "raffled",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Raffle: RaffleConfig{
			EntranceFee: profile.EntranceFee,
			Interval:    profile.Interval,
			Escrow:      "raffle-escrow",
			Consumer:    "raffle",
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Schedule: "@every 5s",
		},
		Oracle: OracleConfig{
			KeyHash:              profile.GasLane,
			SubscriptionID:       profile.SubscriptionID,
			RequestConfirmations: 3,
			CallbackGasLimit:     profile.CallbackGasLimit,
			NumWords:             1,
			BlockTime:            profile.BlockTime,
			PollInterval:         time.Second,
			FundAmount:           "2000000000000000000",
		},
		Beacon: BeaconConfig{
			Field:   "randomness",
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Load reads .env, the YAML file at path (or RAFFLE_CONFIG) and environment
// overrides, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("RAFFLE_CONFIG")
	}

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		data = raw
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var peek struct {
		Network string `yaml:"network"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &peek); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	network := strings.TrimSpace(os.Getenv("RAFFLE_NETWORK"))
	if network == "" {
		network = strings.TrimSpace(peek.Network)
	}
	if network == "" {
		network = DefaultNetwork
	}

	cfg, err := Default(network)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.Network = network
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Profile returns the network profile the configuration was built from.
func (c *Config) Profile() Network {
	n, _ := LookupNetwork(c.Network)
	return n
}

// EntranceFee parses the configured fee.
func (c *Config) EntranceFee() (*big.Int, error) {
	return parseAmount("entrance fee", c.Raffle.EntranceFee)
}

// FundAmount parses the development subscription funding.
func (c *Config) FundAmount() (*big.Int, error) {
	return parseAmount("fund amount", c.Oracle.FundAmount)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := LookupNetwork(c.Network); err != nil {
		return err
	}
	if _, err := c.EntranceFee(); err != nil {
		return err
	}
	if c.Raffle.Interval <= 0 {
		return fmt.Errorf("raffle interval must be positive")
	}
	if strings.TrimSpace(c.Raffle.Escrow) == "" {
		return fmt.Errorf("raffle escrow account required")
	}
	if c.Oracle.NumWords == 0 {
		return fmt.Errorf("oracle num_words must be at least 1")
	}
	if c.Oracle.RequestConfirmations == 0 {
		return fmt.Errorf("oracle request_confirmations must be at least 1")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Profile().Development {
		if _, err := c.FundAmount(); err != nil {
			return err
		}
	}
	return nil
}

func parseAmount(name, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s required", name)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%s %q is not an integer", name, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must not be negative", name)
	}
	return v, nil
}

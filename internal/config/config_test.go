package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_NetworkDefaults(t *testing.T) {
	t.Setenv("RAFFLE_NETWORK", "")
	t.Setenv("RAFFLE_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != DefaultNetwork {
		t.Fatalf("expected %s, got %s", DefaultNetwork, cfg.Network)
	}
	fee, err := cfg.EntranceFee()
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee.String() != "10000000000000000" {
		t.Fatalf("unexpected fee %s", fee)
	}
	if cfg.Raffle.Interval != 30*time.Second || cfg.Oracle.CallbackGasLimit != 500000 {
		t.Fatalf("unexpected profile values: %+v %+v", cfg.Raffle, cfg.Oracle)
	}
	if !cfg.Profile().Development || !cfg.Server.EnableDevRoutes {
		t.Fatalf("hardhat must be a development network")
	}
}

func TestLoad_YAMLThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raffle.yaml")
	yamlBody := []byte(`
network: goerli
raffle:
  entrance_fee: "100"
  interval: 45s
server:
  port: 9090
`)
	if err := os.WriteFile(path, yamlBody, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RAFFLE_NETWORK", "")
	t.Setenv("SERVER_PORT", "9191")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "goerli" || cfg.Oracle.SubscriptionID != 4893 {
		t.Fatalf("expected goerli profile, got %s sub=%d", cfg.Network, cfg.Oracle.SubscriptionID)
	}
	if cfg.Raffle.EntranceFee != "100" || cfg.Raffle.Interval != 45*time.Second {
		t.Fatalf("yaml overrides not applied: %+v", cfg.Raffle)
	}
	if cfg.Server.Port != 9191 {
		t.Fatalf("environment must override yaml, got port %d", cfg.Server.Port)
	}
	if cfg.Profile().Development || cfg.Server.EnableDevRoutes {
		t.Fatalf("goerli must not enable development routes")
	}
	if cfg.Profile().Coordinator != "0x2Ca8E0C643bDe4C2E08ab1fA0da3401AdAD7734D" {
		t.Fatalf("unexpected coordinator %s", cfg.Profile().Coordinator)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty fee", func(c *Config) { c.Raffle.EntranceFee = "" }},
		{"bad fee", func(c *Config) { c.Raffle.EntranceFee = "0.01" }},
		{"negative fee", func(c *Config) { c.Raffle.EntranceFee = "-1" }},
		{"zero interval", func(c *Config) { c.Raffle.Interval = 0 }},
		{"zero words", func(c *Config) { c.Oracle.NumWords = 0 }},
		{"unknown network", func(c *Config) { c.Network = "mainnet" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Default("hardhat")
			if err != nil {
				t.Fatalf("default: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestNetworks(t *testing.T) {
	list := Networks()
	if len(list) != 3 || list[0].Name != "goerli" || list[1].Name != "hardhat" || list[2].Name != "localhost" {
		t.Fatalf("unexpected networks: %+v", list)
	}
	if _, err := LookupNetwork("sepolia"); err == nil {
		t.Fatalf("expected unknown network error")
	}
}

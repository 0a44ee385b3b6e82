//go:build integration && postgres

package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and a full round work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg, err := config.Default("hardhat")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Raffle.EntranceFee = "50"
	cfg.Raffle.Interval = time.Millisecond
	cfg.Keeper.Enabled = false

	store := postgres.New(db)
	application, err := app.New(ctx, cfg, app.Stores{Raffle: store, Ledger: store, Randomness: store}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	handler := NewHandler(application, nil)

	if resp := do(t, handler, http.MethodPost, "/raffle/entries", enter("pg-integration", "50")); resp.Code != http.StatusCreated {
		t.Fatalf("enter status: %d %s", resp.Code, resp.Body.String())
	}
	time.Sleep(5 * time.Millisecond)
	if resp := do(t, handler, http.MethodPost, "/raffle/upkeep", nil); resp.Code != http.StatusAccepted {
		t.Fatalf("upkeep status: %d %s", resp.Code, resp.Body.String())
	}
	id := application.Raffle.PendingRequestID().String()
	if resp := do(t, handler, http.MethodPost, "/oracle/requests/"+id+"/fulfill", nil); resp.Code != http.StatusOK {
		t.Fatalf("fulfill status: %d %s", resp.Code, resp.Body.String())
	}
	if application.Raffle.RecentWinner() != "pg-integration" {
		t.Fatalf("expected persisted winner, got %q", application.Raffle.RecentWinner())
	}
}

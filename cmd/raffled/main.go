// Command raffled runs the periodic raffle daemon.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/R3E-Network/raffle_layer/internal/app/runtime"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/platform/migrations"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "raffled",
		Usage: "trustless periodic raffle daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"RAFFLE_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "network",
				Usage: "network profile (hardhat, localhost, goerli)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			networksCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if network := c.String("network"); network != "" {
		if err := os.Setenv("RAFFLE_NETWORK", network); err != nil {
			return nil, err
		}
	}
	return config.Load(c.String("config"))
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the raffle engine, keeper, oracle dispatcher and HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Usage: "apply database migrations before starting"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.Bool("migrate") {
				cfg.Database.Migrate = true
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := runtime.NewApplication(ctx, cfg)
			if err != nil {
				return err
			}
			runErr := application.Run(ctx)
			if err := application.Shutdown(context.Background()); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the raffle database schema",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			db, err := runtime.OpenDatabase(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := migrations.Apply(c.Context, db); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "migrations applied")
			return nil
		},
	}
}

func networksCommand() *cli.Command {
	return &cli.Command{
		Name:  "networks",
		Usage: "print the built-in network profiles",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(config.Networks())
		},
	}
}

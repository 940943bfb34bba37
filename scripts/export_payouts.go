package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bookflow/internal/config"
	"bookflow/internal/database"
	"bookflow/internal/export"
	"bookflow/internal/models"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		status     = flag.String("status", models.PaymentEligible, "payment status to export")
		outDir     = flag.String("out", "", "output directory (defaults to exports.path)")
	)
	flag.Parse()

	switch *status {
	case models.PaymentPending, models.PaymentEligible, models.PaymentPaid:
	default:
		return fmt.Errorf("unknown payment status %q", *status)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir := cfg.Exports.Path
	if *outDir != "" {
		dir = *outDir
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path, err := export.NewPayoutExporter(db, cfg.Commissions.Team, dir, &logger).Save(ctx, *status)
	if err != nil {
		return fmt.Errorf("export %s payouts: %w", *status, err)
	}

	fmt.Printf("done: %s\n", path)
	return nil
}

package main

import (
	"context"

	"backoffice/internal/config"
	"backoffice/internal/core"
	"backoffice/internal/db"

	"github.com/sirupsen/logrus"
)

// Recomputes the stock-level cache from the movement ledger. Safe to run at
// any time; incremental updates converge to the same values.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := config.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	stock := core.NewStockService(pool, log, int32(cfg.StockLevelPrecision))
	pairs, err := stock.RebuildLevels(ctx)
	if err != nil {
		log.Fatalf("failed to rebuild stock levels: %v", err)
	}
	log.WithField("pairs", pairs).Info("stock levels rebuilt")
}

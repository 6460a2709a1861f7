// migrate applies the embedded SQL migrations: go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"

	"authguard/internal/config"
	"authguard/internal/db/migrate"
	"authguard/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env or export DATABASE_URL")
		os.Exit(1)
	}
	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		logger.Error("invalid direction", "error", err)
		os.Exit(2)
	}
	if err := migrate.Run(cfg.DatabaseURL, dir); err != nil {
		logger.Error("migrate failed", "direction", string(dir), "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "direction", string(dir))
}

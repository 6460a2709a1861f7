// seed loads identities and allow-list entries from a YAML file into Postgres. Idempotent.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"authguard/internal/config"
	"authguard/internal/db"
	identityrepo "authguard/internal/identity/repository"
	iprepo "authguard/internal/ipallow/repository"
	"authguard/internal/logging"
	"authguard/internal/security"
)

func main() {
	path := flag.String("file", "seed.yaml", "YAML seed file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.Setup(os.Stderr, cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env or export DATABASE_URL")
		os.Exit(1)
	}

	fh, err := os.Open(*path)
	if err != nil {
		logger.Error("open seed file", "error", err)
		os.Exit(1)
	}
	doc, err := Parse(fh)
	_ = fh.Close()
	if err != nil {
		logger.Error("parse seed file", "error", err)
		os.Exit(1)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	s := &Seeder{
		Identities: identityrepo.NewPostgresRepository(conn, cfg.StorageTimeout),
		AllowList:  iprepo.NewPostgresRepository(conn, cfg.StorageTimeout),
		Hasher:     security.NewHasher(cfg.BcryptCost),
		Now:        time.Now,
		Logger:     logger,
	}
	res, err := s.Apply(context.Background(), doc)
	if err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("seed complete", "identities", res.Identities, "allow_entries", res.Allow)
}

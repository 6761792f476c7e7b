// Command normalize-urls rewrites stored archive URLs to their canonical
// form. Rows whose canonical URL is already taken by another archive are
// reported and left untouched.
//
//	normalize-urls -db archive.db -batch 200
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/services"
	"github.com/tbourn/go-archive-bot/internal/sysutil"
)

func main() {
	_ = godotenv.Load()

	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "archive.db"
	}
	dbPath := flag.String("db", defaultDB, "SQLite database path")
	batch := flag.Int("batch", 200, "rows per batch")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	sysutil.SetLogLevel(*level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repo.OpenSQLite(*dbPath, repo.WithSilentLogger())
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	// No resolver: this pass only touches stored rows.
	svc := services.NewArchiveService(db, nil)
	rep, err := svc.NormalizeStoredURLs(ctx, *batch)
	if err != nil {
		log.Fatal().Err(err).Msg("normalize stored urls")
	}
	log.Info().
		Int("scanned", rep.Scanned).
		Int("rewritten", rep.Rewritten).
		Strs("conflicts", rep.Conflicts).
		Msg("normalization finished")
	if len(rep.Conflicts) > 0 {
		os.Exit(2)
	}
}

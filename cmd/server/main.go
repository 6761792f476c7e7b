// Command server runs the archive bot: the signed interaction webhook, the
// bearer-token archive API, /metrics and /health.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-archive-bot/internal/alert"
	"github.com/tbourn/go-archive-bot/internal/config"
	httpapi "github.com/tbourn/go-archive-bot/internal/http"
	"github.com/tbourn/go-archive-bot/internal/observability"
	"github.com/tbourn/go-archive-bot/internal/ogp"
	"github.com/tbourn/go-archive-bot/internal/repo"
	"github.com/tbourn/go-archive-bot/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	sysutil.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	dbOpts := []repo.Option{}
	if cfg.OTEL.Enabled {
		dbOpts = append(dbOpts, repo.WithTracing())
	}
	db, err := repo.OpenSQLite(cfg.DBPath, dbOpts...)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	// Metadata resolution: the YouTube API when a key is configured, the
	// page scanner for everything else.
	scanner := ogp.NewScannerStrategy(ogp.ScannerConfig{UserAgent: cfg.OGP.UserAgent, Timeout: cfg.OGP.Timeout})
	var yt ogp.Strategy
	if cfg.OGP.YouTubeAPIKey != "" {
		yt = ogp.NewYouTubeStrategy(ogp.YouTubeConfig{APIKey: cfg.OGP.YouTubeAPIKey, Timeout: cfg.OGP.Timeout})
	} else {
		log.Warn().Msg("YOUTUBE_API_KEY not set; YouTube links are scanned as pages")
	}
	resolver := ogp.NewSelector(yt, scanner)

	deps := httpapi.Deps{DB: db, Resolver: resolver}
	if cfg.Discord.BotToken != "" {
		session, err := discordgo.New("Bot " + cfg.Discord.BotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("discord session")
		}
		// Alerts do their own bounded retries.
		session.MaxRestRetries = 0
		session.ShouldRetryOnRateLimit = false
		session.Client = &http.Client{Timeout: cfg.OGP.Timeout}
		deps.Alerter = alert.NewNotifier(session, cfg.Discord.DeveloperAlertChannel)
		deps.Editor = session
	} else {
		log.Warn().Msg("DISCORD_BOT_TOKEN not set; developer alerts and deferred replies disabled")
		deps.Alerter = alert.NewNotifier(nil, "")
	}
	if cfg.Discord.PublicKey == nil {
		log.Warn().Msg("DISCORD_PUBLIC_KEY not set; every interaction will be rejected")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	h := httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, db, time.Hour)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	h.Wait()
	if err := observability.ShutdownWithin(shutdownOTel, 5*time.Second); err != nil {
		log.Error().Err(err).Msg("otel shutdown error")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("shutdown complete")
}

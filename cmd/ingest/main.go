package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/pflag"

	"github.com/quillhall/scribe/internal/config"
	"github.com/quillhall/scribe/internal/coordinator"
	"github.com/quillhall/scribe/internal/crawler"
	"github.com/quillhall/scribe/internal/database"
	"github.com/quillhall/scribe/internal/listener"
	"github.com/quillhall/scribe/internal/logger"
	"github.com/quillhall/scribe/internal/migrator"
	"github.com/quillhall/scribe/internal/publisher"
	"github.com/quillhall/scribe/internal/ratelimit"
	"github.com/quillhall/scribe/internal/repository"
	"github.com/quillhall/scribe/migrations"
)

func main() {
	quiet := pflag.BoolP("quiet", "q", false, "disable console logging")
	debug := pflag.BoolP("debug", "d", false, "enable debug logging")
	pflag.Parse()

	if pflag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-q] [-d] <config-file>\n", os.Args[0])
		os.Exit(2)
	}

	// 1. Load config from the required positional argument
	cfg, err := config.Load(pflag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		Quiet: *quiet,
		Debug: *debug,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	log.Info().Msg("starting ingestion engine")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Migrate and connect to database
	if err := migrator.Up(migrations.FS, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// 5. Connect to NATS when configured
	var opts []coordinator.Option
	if cfg.NatsURL != "" {
		pub, err := publisher.Connect(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			defer pub.Close()
			opts = append(opts, coordinator.WithPublisher(pub))
		}
	}

	// 6. Start the write coordinator
	store := repository.NewStore(db.Pool)
	coord := coordinator.New(store, cfg.Workers, cfg.QueueSize, log.Component("coordinator"), opts...)
	coord.Start(ctx)

	// 7. Open the gateway session
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway session")
	}
	live := listener.New(session, coord, cfg.Guilds, log.Component("listener"))
	if err := live.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to open gateway session")
	}
	defer func() {
		if err := live.Close(); err != nil {
			log.Warn().Err(err).Msg("gateway session closed uncleanly")
		}
	}()

	// 8. Start the history crawler
	limiter := ratelimit.New(cfg.CrawlRPS, cfg.CrawlBurst)
	crawl := crawler.New(session, coord, store.Crawl, limiter, log.Component("crawler"))
	manager := crawler.NewManager(crawl, cfg.Guilds, cfg.CrawlConcurrency, log.Component("crawler"))

	go func() {
		if err := manager.RunCycle(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("initial crawl cycle failed")
		}
	}()
	if err := manager.Schedule(ctx, cfg.CrawlSchedule); err != nil {
		log.Fatal().Err(err).Msg("invalid crawl schedule")
	}
	defer manager.Stop()

	<-ctx.Done()

	stats := coord.Stats()
	log.Info().
		Uint64("applied", stats.Applied).
		Uint64("skipped", stats.Skipped).
		Uint64("rejected", stats.Rejected).
		Msg("shutting down")
}

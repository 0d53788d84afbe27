// Package main is the entry point of the ORB options bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/your-org/orb-options-bot/internal/alert"
	"github.com/your-org/orb-options-bot/internal/config"
	"github.com/your-org/orb-options-bot/internal/dbwriter"
	"github.com/your-org/orb-options-bot/internal/engine"
	"github.com/your-org/orb-options-bot/internal/exchange/fyers"
	"github.com/your-org/orb-options-bot/internal/exchange/noren"
	"github.com/your-org/orb-options-bot/internal/http/handler"
	"github.com/your-org/orb-options-bot/internal/metrics"
	"github.com/your-org/orb-options-bot/internal/pricing"
	"github.com/your-org/orb-options-bot/internal/report"
	"github.com/your-org/orb-options-bot/pkg/logger"
)

func main() {
	// --- Configuration ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	envPath := flag.String("env", ".env", "Path to an optional .env file with credentials")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger.Setup(cfg.LogLevel, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logger.Sync()
	logger.Info("ORB options bot starting...")
	logger.Infof("Loaded configuration from: %s", *configPath)
	logger.Infof("Watching %s (feed token %s), warm-up %s-%s %s",
		cfg.Instrument.HistorySymbol, cfg.Instrument.TickToken, cfg.Session.WarmupStart, cfg.Session.WarmupEnd, cfg.Session.Timezone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Metrics ---
	m := metrics.New(prometheus.DefaultRegisterer)

	// --- Journal ---
	sessionEvents := dbwriter.NewInMemWriter()
	sink, err := openJournal(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize journal: %v", err)
	}
	journal := dbwriter.NewMulti(sink, sessionEvents)
	defer journal.Close()

	// --- Alerts ---
	var notifier alert.Notifier = alert.NewNoOpNotifier()
	if cfg.Alert.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alert.WebhookURL, 5*time.Second, logger.Zap("alert"))
		logger.Info("Webhook alerts enabled.")
	}
	defer notifier.Close()

	// --- Providers ---
	rest := fyers.NewClient(cfg.Broker.BaseURL, cfg.Broker.ClientID, cfg.Broker.AccessToken, logger.Zap("fyers"))
	pricer := pricing.NewPricer(pricing.Config{
		SymbolPrefix:    cfg.Instrument.OptionSymbolPrefix,
		StrikeStep:      cfg.Instrument.StrikeStep.Decimal,
		StrikeCount:     cfg.Instrument.StrikeCount,
		TargetPremium:   cfg.Strategy.TargetPremium.Decimal,
		RefreshInterval: cfg.Quote.RefreshInterval(),
		FetchTimeout:    cfg.Quote.FetchTimeout(),
	}, rest, nil, logger.Zap("pricing"))

	// --- Engine ---
	engineCfg, err := engine.NewConfig(cfg)
	if err != nil {
		logger.Fatalf("Failed to build engine configuration: %v", err)
	}
	eng := engine.New(engineCfg, engine.Deps{
		History:  rest,
		Prices:   pricer,
		Executor: engine.NewPaperExecutionEngine(),
		Journal:  journal,
		Notifier: notifier,
		Metrics:  m,
		Logger:   logger.Zap("engine"),
	})

	// --- Health / status / metrics server ---
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.NewRouter(eng, sessionEvents, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("HTTP server starting on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server failed: %v", err)
		}
	}()

	// --- Graceful Shutdown Setup ---
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// --- Market data feed ---
	feed := noren.NewFeed(noren.Config{
		URL:             cfg.Feed.URL,
		UserID:          cfg.Feed.UserID,
		AccountID:       cfg.Feed.AccountID,
		SessionToken:    cfg.Feed.SessionToken,
		SubscriptionKey: cfg.Instrument.SubscriptionKey,
	})
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := feed.Run(ctx, func(tick engine.Tick) { eng.OnTick(ctx, tick) }); err != nil {
			logger.Errorf("Feed exited with error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-sigs
	logger.Infof("Received signal: %s, initiating shutdown...", sig)

	cancel()
	<-feedDone

	// Close any open position while the quote endpoint is still reachable.
	flattenCtx, flattenCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flattenCancel()
	if res := eng.Flatten(flattenCtx, engine.ReasonSessionEnd, time.Now()); res != nil {
		logger.Infof("Flattened %s on shutdown, daily PnL %s", res.Trade.OptionSymbol, res.DailyPnL.StringFixed(2))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("HTTP server shutdown: %v", err)
	}

	snap := eng.Snapshot()
	logger.Infof("Session summary: trades=%d CE=%d PE=%d daily PnL=%s",
		snap.Risk.TradeCount, snap.Risk.CEEntries, snap.Risk.PEEntries, snap.Risk.DailyPnL.StringFixed(2))
	if rep, err := report.Analyze(sessionEvents.TradeEvents()); err == nil {
		logger.Infof("Session report: win rate %.1f%% (%d/%d), net %s, commission %s, max drawdown %s",
			rep.WinRate, rep.WinningTrades, rep.TotalTrades, rep.TotalPnL.StringFixed(2),
			rep.TotalCommission.StringFixed(2), rep.MaxDrawdown.StringFixed(2))
	}
	logger.Info("ORB options bot shut down gracefully.")
}

// openJournal builds the operator journal: the CSV file when configured, plus
// TimescaleDB when the database is enabled. With neither, events are only logged.
func openJournal(ctx context.Context, cfg *config.Config) (dbwriter.Repository, error) {
	var repos []dbwriter.Repository

	if cfg.Journal.CSVPath != "" {
		csvJournal, err := dbwriter.NewCSVJournal(cfg.Journal.CSVPath, logger.Zap("journal"))
		if err != nil {
			return nil, fmt.Errorf("csv journal: %w", err)
		}
		repos = append(repos, csvJournal)
		logger.Infof("CSV journal writing to %s", cfg.Journal.CSVPath)
	}

	if cfg.Database.Enabled {
		dsn := cfg.Database.DSN()
		if err := dbwriter.Migrate(dsn, cfg.Database.MigrationsDir, logger.Zap("migrate")); err != nil {
			closeAll(repos)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			closeAll(repos)
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			closeAll(repos)
			return nil, fmt.Errorf("ping database: %w", err)
		}
		writer, err := dbwriter.NewTimescaleWriter(pool, cfg.DBWriter, logger.Zap("dbwriter"))
		if err != nil {
			pool.Close()
			closeAll(repos)
			return nil, err
		}
		repos = append(repos, writer)
		logger.Info("TimescaleDB journal writer initialized successfully.")
	}

	switch len(repos) {
	case 0:
		return dbwriter.NewDummyWriter(logger.NewLogger(cfg.LogLevel)), nil
	case 1:
		return repos[0], nil
	default:
		return dbwriter.NewMulti(repos...), nil
	}
}

func closeAll(repos []dbwriter.Repository) {
	for _, r := range repos {
		r.Close()
	}
}

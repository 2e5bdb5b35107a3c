// Command bot runs one 0DTE SPX credit-spread trading day: capture the
// opening range, pick a branch, monitor credit, place at most one
// spread, and reconcile at cash settlement.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avollmer/openrange/internal/broker"
	"github.com/avollmer/openrange/internal/clock"
	"github.com/avollmer/openrange/internal/config"
	"github.com/avollmer/openrange/internal/dashboard"
	"github.com/avollmer/openrange/internal/journal"
	"github.com/avollmer/openrange/internal/models"
	"github.com/avollmer/openrange/internal/notify"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "config.yaml", "Path to configuration file")
		forceDryRun = flag.Bool("dry-run", false, "Force dry-run mode regardless of configuration")
	)
	flag.Parse()

	// Local .env files carry credentials in development; absence is
	// normal in deployment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return 1
	}
	if *forceDryRun {
		cfg.ForceDryRun()
	}

	logger := log.New(os.Stdout, "[openrange] ", log.LstdFlags)
	runID := uuid.NewString()
	logger.Printf("run %s starting", runID)
	if cfg.LiveSubmissionAllowed() {
		logger.Printf("LIVE TRADING ENABLED - orders will be transmitted")
	} else {
		logger.Printf("dry-run mode - orders are constructed and logged, never sent")
	}

	clk := clock.NewReal(cfg.Schedule.Timezone, logger)

	b := buildBroker(cfg, clk, logger)

	j, err := journal.New(cfg.Storage.Type, cfg.Storage.Path, cfg.Storage.ReportsDir)
	if err != nil {
		logger.Printf("Failed to open journal: %v", err)
		return 1
	}
	defer func() {
		if err := j.Close(); err != nil {
			logger.Printf("Closing journal: %v", err)
		}
	}()

	notifier := notify.New(cfg.Notify, logger)
	snapshots := models.NewSnapshotStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Enabled {
		srv, err := buildDashboard(cfg, j, snapshots, b)
		if err != nil {
			logger.Printf("Failed to build dashboard: %v", err)
			return 1
		}
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		day := NewDay(cfg, clk, b, j, snapshots, runID, logger)
		if err := day.Run(ctx); err != nil {
			return fmt.Errorf("trading day: %w", err)
		}

		rec := NewReconciler(cfg, clk, b, j, notifier, logger)
		switch day.Phase() {
		case models.PhaseAwaitClose:
			if err := rec.Run(ctx, day); err != nil {
				return fmt.Errorf("reconciling: %w", err)
			}
		case models.PhaseNoTrade:
			if err := rec.ReportNoTrade(ctx, day); err != nil {
				return fmt.Errorf("reporting no-trade day: %w", err)
			}
		}

		logger.Printf("run %s finished in phase %s", runID, day.Phase())
		stop() // release the dashboard goroutines
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("run %s failed: %v", runID, err)
		return 1
	}
	return 0
}

// buildBroker assembles the client stack: token source, HTTP client,
// and the circuit breaker every caller goes through.
func buildBroker(cfg *config.Config, clk clock.Clock, logger *log.Logger) broker.Broker {
	var tokens broker.TokenSource
	if cfg.Broker.RefreshToken != "" {
		tokens = broker.NewRefreshTokenSource(cfg.Broker.AuthBaseURL,
			cfg.Broker.ClientID, cfg.Broker.ClientSecret, cfg.Broker.RefreshToken, logger)
	} else {
		tokens = broker.NewStaticTokenSource(cfg.Broker.AccessToken)
	}

	client := broker.NewSchwabClient(cfg.Broker.APIBaseURL, cfg.Broker.AccountNumber, tokens, logger).
		WithTimeout(cfg.BrokerTimeout()).
		WithLocation(clk.Location())
	return broker.NewCircuitBreakerBroker(client)
}

func buildDashboard(cfg *config.Config, j journal.Interface, snapshots *models.SnapshotStore, b broker.Broker) (*dashboard.Server, error) {
	dashLogger := logrus.New()
	dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Environment.LogLevel == "debug" {
		dashLogger.SetLevel(logrus.DebugLevel)
	}

	return dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
	}, j, snapshots, b, dashLogger)
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lmorandi/gateway_desk/internal/config"
	"github.com/lmorandi/gateway_desk/internal/contracts"
	"github.com/lmorandi/gateway_desk/internal/dashboard"
	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/marketdata"
	"github.com/lmorandi/gateway_desk/internal/mock"
	"github.com/lmorandi/gateway_desk/internal/retry"
	"github.com/lmorandi/gateway_desk/internal/storage"
)

// keepaliveInterval is how often the session health is probed.
const keepaliveInterval = 30 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[DESK] ", log.LstdFlags)
	logger.Printf("Starting gateway desk in %s mode", cfg.Environment.Mode)
	if !cfg.IsPaperTrading() {
		logger.Println("LIVE MODE - orders will reach the venue. Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("Desk error: %v", err)
	}
	logger.Println("Desk stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	var session gateway.Session
	if cfg.IsPaperTrading() {
		session = mock.NewPaperSession()
	} else {
		session = gateway.NewCircuitBreakerSession(
			gateway.NewSocketSession(logger, cfg.RequestTimeout()))
	}
	mgr := gateway.NewManager(session, logger)

	rc := retry.NewClient(mgr, logger)
	if err := rc.ConnectWithRetry(ctx, cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ClientID, cfg.ConnectTimeout()); err != nil {
		return err
	}
	defer mgr.Disconnect()

	if cfg.Gateway.MarketDataType != 0 {
		sess, err := mgr.Acquire()
		if err != nil {
			return err
		}
		if err := sess.SetMarketDataType(cfg.Gateway.MarketDataType); err != nil {
			logger.Printf("WARN: setting market data type failed: %v", err)
		}
	}

	resolver := contracts.NewResolver(mgr, logger)
	data := marketdata.NewClient(mgr, resolver, logger, marketdata.Config{
		PollInterval: cfg.QuotePollInterval(),
		PollTimeout:  cfg.QuotePollTimeout(),
	})

	var journal storage.Interface
	if cfg.Storage.Path != "" {
		var err error
		journal, err = storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dashLogger.SetLevel(level)
		}
		srv := dashboard.NewServer(dashboard.Config{
			ListenAddr:   cfg.Dashboard.ListenAddr,
			AuthToken:    cfg.Dashboard.AuthToken,
			RiskFreeRate: cfg.Analytics.RiskFreeRate,
		}, mgr, data, journal, dashLogger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		return keepalive(ctx, mgr, rc, cfg, logger)
	})

	return g.Wait()
}

// keepalive probes session health and reconnects on demotion. The retry
// client handles transient failures; a permanent failure stops the desk.
func keepalive(ctx context.Context, mgr *gateway.Manager, rc *retry.Client, cfg *config.Config, logger *log.Logger) error {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if mgr.IsReady() {
			continue
		}
		logger.Println("Session not ready, reconnecting...")
		if err := rc.ConnectWithRetry(ctx, cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ClientID, cfg.ConnectTimeout()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

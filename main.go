package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"polyagent/internal/api"
	"polyagent/internal/core"
	"polyagent/internal/events"
	"polyagent/internal/exchange"
	"polyagent/internal/execution"
	"polyagent/internal/feed"
	"polyagent/internal/lifecycle"
	"polyagent/internal/orchestrator"
	"polyagent/internal/risk"
	"polyagent/pkg/config"
	"polyagent/pkg/db"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("main: polyagent execution engine v%s starting", version)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: config load failed: %v", err)
	}

	limits, corrTable, err := config.LoadRiskFile(cfg.RiskFile)
	if err != nil {
		log.Fatalf("main: risk file load failed: %v", err)
	}

	store, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("main: database open failed: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	ec := core.NewEngineContext(limits)
	corr := risk.NewCorrelationTable(corrTable)
	gate := risk.NewGate(ec, corr, bus)

	var (
		client exchange.Client
		wallet exchange.Wallet
	)
	if cfg.DryRun {
		log.Printf("main: dry-run mode, paper exchange active")
		client = exchange.NewPaper(exchange.PaperConfig{
			FeeRate:     cfg.PaperFeeRate,
			SlippageBps: cfg.PaperSlippageBps,
		})
		wallet = exchange.NewStaticWallet(cfg.Account)
	} else {
		// Live trading needs a real CLOB client and signer; refuse to start
		// half-configured rather than trade with paper plumbing.
		log.Fatalf("main: live trading not configured, set DRY_RUN=true")
	}

	manager := lifecycle.NewManager(ec, client, wallet, store, bus, gate, lifecycle.Config{
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryBaseDelay,
		QueueSize:         cfg.QueueSize,
		ReconcileInterval: cfg.ReconcileInterval,
		SweepInterval:     cfg.SweepInterval,
		MaxOrderAge:       cfg.MaxOrderAge,
	})
	manager.Start(ctx)

	source := orchestrator.NewQueueSource()
	orch := orchestrator.New(ec, gate, nil, manager, client, store, bus, source, orchestrator.Config{
		CycleInterval:  cfg.CycleInterval,
		InitialBalance: cfg.InitialBalance,
		Account:        cfg.Account,
	})

	engine := execution.NewEngine(manager, client, gate, orch.Snapshot, bus, execution.DefaultConfig())
	orch.SetEngine(engine)

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("main: orchestrator start failed: %v", err)
	}

	if cfg.EnableFeed && cfg.FeedURL != "" {
		f := feed.New(cfg.FeedURL, bus)
		go f.Run(ctx)
	}

	srv := api.NewServer(ec, orch, manager, source, store, bus, api.SystemMeta{
		DryRun:  cfg.DryRun,
		Account: cfg.Account,
		Version: version,
	}, cfg.JWTSecret)
	srv.RunCtx = ctx
	go func() {
		if err := srv.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server failed: %v", err)
		}
	}()
	log.Printf("main: api listening on :%s", cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("main: received %s, shutting down", sig)

	orch.Stop(ctx)
	cancel()
	manager.Close()
	orch.Wait()
	log.Printf("main: shutdown complete")
}

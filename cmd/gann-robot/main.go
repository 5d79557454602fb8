package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahekanna/gann-robot/internal/api"
	"github.com/mahekanna/gann-robot/internal/coordinator"
	"github.com/mahekanna/gann-robot/internal/events"
	"github.com/mahekanna/gann-robot/internal/market"
	"github.com/mahekanna/gann-robot/internal/monitor"
	"github.com/mahekanna/gann-robot/internal/order"
	"github.com/mahekanna/gann-robot/internal/risk"
	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

const buildVersion = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	tc, err := config.LoadTrading(cfg.TradingConfigPath)
	if err != nil {
		log.Fatalf("trading config load failed: %v", err)
	}
	if cfg.InitialBalance > 0 {
		log.Printf("capital.total overridden by INITIAL_BALANCE: %.2f", cfg.InitialBalance)
		tc.Capital.Total = cfg.InitialBalance
	}
	log.Printf("trading config loaded: %d symbols, primary timeframe %s", len(tc.Symbols), tc.Timeframes.Primary)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	riskCtl, err := risk.NewController(tc.Risk, tc.Capital, database, time.Now())
	if err != nil {
		log.Fatalf("risk controller init failed: %v", err)
	}

	session, err := coordinator.NewSession(tc.Session)
	if err != nil {
		log.Fatalf("session config invalid: %v", err)
	}

	metrics := monitor.NewSystemMetrics()
	queue := order.NewQueue(256)

	// Execution path: paper gateway behind the async executor. Live broker
	// gateways plug in behind the same Gateway interface.
	if !cfg.PaperTrading {
		log.Println("live trading not configured, falling back to paper execution")
	}
	gateway := order.NewPaperGateway(order.PaperConfig{
		SlippageBps:  2,
		LatencyMinMs: 5,
		LatencyMaxMs: 40,
	})
	defer gateway.Close()

	executor := order.NewAsyncExecutor(gateway, database, bus,
		time.Duration(cfg.ExecTimeoutMs)*time.Millisecond, cfg.ExecWorkers)
	defer executor.Close()

	go queue.Drain(ctx, func(o order.Order) {
		executor.ExecuteAsync(ctx, o)
	})

	coord := coordinator.New(tc, riskCtl, session, queue, database, bus, metrics)
	coord.Start(ctx, gateway.Notifications())

	// Synthetic market data; a broker feed replaces this in production.
	symbols := make([]string, 0, len(tc.Symbols))
	for _, s := range tc.Symbols {
		symbols = append(symbols, s.Name)
	}
	feed := &market.MockFeed{
		Bus:        bus,
		Symbols:    symbols,
		Timeframe:  tc.Timeframes.Primary,
		StartPrice: 650,
		Step:       1.5,
		BaseVolume: 10000,
		Interval:   2 * time.Second,
	}
	go feed.Start(ctx)

	alerts := &monitor.Monitor{
		Bus:     bus,
		AlertFn: func(msg string) { log.Printf("[ALERT] %s", msg) },
	}
	go alerts.Start(ctx)

	server := api.NewServer(
		bus,
		database,
		riskCtl,
		coord,
		metrics,
		queue,
		gateway,
		api.SystemMeta{
			Paper:     true,
			Symbols:   symbols,
			Timeframe: tc.Timeframes.Primary,
			MockFeed:  true,
			Version:   buildVersion,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")

	coord.SquareOffAll()
	executor.WaitAll()
	cancel()
	coord.Wait()
}

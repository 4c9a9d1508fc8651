package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kjannette/kakeibo-whatif/internal/api"
	"github.com/kjannette/kakeibo-whatif/internal/config"
	"github.com/kjannette/kakeibo-whatif/internal/db"
	"github.com/kjannette/kakeibo-whatif/internal/external"
	"github.com/kjannette/kakeibo-whatif/internal/gateway"
	"github.com/kjannette/kakeibo-whatif/internal/notifications"
	"github.com/kjannette/kakeibo-whatif/internal/quota"
	"github.com/kjannette/kakeibo-whatif/internal/repository"
	"github.com/kjannette/kakeibo-whatif/internal/scheduler"
	"github.com/kjannette/kakeibo-whatif/internal/simulation"
)

const banner = `
╔══════════════════════════════════════╗
║      Kakeibo What-If Server v0.3     ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{DefaultSymbol: cfg.DefaultSymbol}

	// Cache storage
	var store gateway.Store
	switch cfg.CacheBackend {
	case "postgres":
		pool := connectDB(ctx, cfg)
		defer func() {
			pool.Close()
			fmt.Println("[DB] Connection pool closed")
		}()
		store = repository.NewQuoteCacheRepo(pool)
		deps.Expenses = repository.NewExpenseRepo(pool)
		deps.DB = pool
	case "sqlite":
		sqlite, err := repository.OpenSQLiteQuoteCache(cfg.CacheSQLitePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[CACHE] Open %s failed: %v\n", cfg.CacheSQLitePath, err)
			os.Exit(1)
		}
		defer sqlite.Close()
		store = sqlite
		fmt.Printf("[CACHE] SQLite quote cache at %s (expense ledger disabled)\n", cfg.CacheSQLitePath)
	default:
		store = repository.NewMemoryQuoteCache()
		fmt.Println("[CACHE] In-memory quote cache (expense ledger disabled)")
	}

	// Upstream
	guardian := quota.NewGuardian(quota.Limits{
		MaxCallsPerDay:    cfg.UpstreamMaxCallsPerDay,
		MaxCallsPerMinute: cfg.UpstreamMaxCallsPerMin,
	}, nil)
	timeout := time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
	provider, err := external.NewProvider(external.ProviderConfig{
		Name:         cfg.QuoteProvider,
		APIKey:       cfg.AlphaVantageAPIKey,
		IncludeDaily: cfg.QuoteIncludeDaily,
		Timeout:      timeout,
		Limiter:      guardian,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[QUOTES] %v\n", err)
		os.Exit(1)
	}

	// Notifications
	opts := gateway.Options{
		TTL:                time.Duration(cfg.QuoteCacheTTLHours) * time.Hour,
		FetchTimeout:       timeout,
		SyntheticBasePrice: cfg.SyntheticBasePrice,
	}
	notify := notifications.NewSender(cfg.WebhookURL, cfg.AppName)
	if notify.Enabled() {
		opts.Notifier = notify
	}

	gw := gateway.New(store, provider, opts)
	deps.Quotes = gw
	deps.Engine = simulation.New(nil)

	// 1. API server
	srv := api.NewServer(deps, cfg.APIPort, cfg.APIKey, cfg.CORSAllowOrigin)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	// 2. Cache warmer
	warmCfg := scheduler.WarmerConfig{
		Symbols:    cfg.WarmSymbols,
		Schedule:   cfg.WarmCron,
		RunOnStart: true,
		OnWarm: func(symbol string, res *gateway.SeriesResult) {
			fmt.Printf("[WARMER] %s warmed (%s), upstream budget left today: %s\n",
				symbol, res.Status, budgetLabel(guardian.Remaining()))
		},
	}
	if lister, ok := store.(scheduler.SymbolLister); ok {
		warmCfg.Cached = lister
	}
	warmer := scheduler.NewWarmer(gw, warmCfg)
	if err := warmer.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARMER] Start failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nAll services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	warmer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")

	gw.WaitNotifications()
	fmt.Println("Shutdown complete")
}

func connectDB(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
	pool, err := db.Connect(ctx, cfg.DSN(), db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
		os.Exit(1)
	}

	now, version, err := db.ServerInfo(ctx, pool)
	if err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "[DB] Test query failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("[DB] Connected to PostgreSQL %s at %s\n", version, now.Format(time.RFC3339))

	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "[DB] Migration failed: %v\n", err)
		os.Exit(1)
	}
	return pool
}

func budgetLabel(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d calls", n)
}

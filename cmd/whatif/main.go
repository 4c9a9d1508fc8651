// whatif runs investment what-if simulations from the terminal against a
// local SQLite quote cache.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kjannette/kakeibo-whatif/internal/config"
	"github.com/kjannette/kakeibo-whatif/internal/external"
	"github.com/kjannette/kakeibo-whatif/internal/gateway"
	"github.com/kjannette/kakeibo-whatif/internal/quota"
	"github.com/kjannette/kakeibo-whatif/internal/repository"
	"github.com/kjannette/kakeibo-whatif/internal/simulation"
)

// maxAmount keeps simulated valuations finite.
const maxAmount = 1e12

var (
	version   = "0.3.0"
	cachePath string
	provider  string
	offline   bool
	symbol    string
	years     int
	showSteps bool
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "whatif",
		Short: "What if you had invested instead?",
		Long: `whatif replays lump-sum, periodic and ledger-recorded investments against
historical monthly prices. Quotes are cached in a local SQLite file and fall
back to stale or synthetic data when the upstream provider is unavailable.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cachePath, "cache", cfg.CacheSQLitePath, "SQLite quote cache file")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", cfg.QuoteProvider, "Quote provider: alphavantage or yahoo")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Never call the upstream provider")
	rootCmd.PersistentFlags().StringVarP(&symbol, "symbol", "s", cfg.DefaultSymbol, "Ticker symbol")
	rootCmd.PersistentFlags().IntVarP(&years, "years", "y", 5, "Years ago the simulation starts")
	rootCmd.PersistentFlags().BoolVar(&showSteps, "steps", false, "Print every simulated month")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(quoteCmd(cfg))
	rootCmd.AddCommand(lumpCmd(cfg))
	rootCmd.AddCommand(periodicCmd(cfg))
	rootCmd.AddCommand(ledgerCmd(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("whatif version %s\n", version)
		},
	}
}

// session holds what one command invocation needs; close releases the
// cache file.
type session struct {
	gw     *gateway.Gateway
	engine *simulation.Engine
	close  func() error
}

func openSession(cfg *config.Config) (*session, error) {
	store, err := repository.OpenSQLiteQuoteCache(cachePath)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second
	var upstream external.Provider
	if !offline {
		upstream, err = external.NewProvider(external.ProviderConfig{
			Name:         provider,
			APIKey:       cfg.AlphaVantageAPIKey,
			IncludeDaily: cfg.QuoteIncludeDaily,
			Timeout:      timeout,
			Limiter: quota.NewGuardian(quota.Limits{
				MaxCallsPerMinute: cfg.UpstreamMaxCallsPerMin,
			}, nil),
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	gw := gateway.New(store, upstream, gateway.Options{
		TTL:                time.Duration(cfg.QuoteCacheTTLHours) * time.Hour,
		FetchTimeout:       timeout,
		SyntheticBasePrice: cfg.SyntheticBasePrice,
	})
	return &session{gw: gw, engine: simulation.New(nil), close: store.Close}, nil
}

// withSeries opens a session, resolves the --symbol series and hands both
// to fn.
func withSeries(cmd *cobra.Command, cfg *config.Config, fn func(s *session, res *gateway.SeriesResult) error) error {
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := s.gw.GetSeries(cmd.Context(), symbol)
	if err != nil {
		return err
	}
	return fn(s, res)
}

func quoteCmd(cfg *config.Config) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "quote [symbol]",
		Short: "Show the cached price series for a symbol",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				symbol = args[0]
			}
			if !refresh {
				return withSeries(cmd, cfg, func(_ *session, res *gateway.SeriesResult) error {
					printQuote(cmd.OutOrStdout(), res, time.Now())
					return nil
				})
			}

			s, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer s.close()
			res, err := s.gw.Refresh(cmd.Context(), symbol)
			if err != nil {
				return err
			}
			printQuote(cmd.OutOrStdout(), res, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cache TTL and fail instead of degrading")
	return cmd
}

func lumpCmd(cfg *config.Config) *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "lump",
		Short: "Invest once, N years ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSeries(cmd, cfg, func(s *session, res *gateway.SeriesResult) error {
				printStatus(cmd.OutOrStdout(), res, time.Now())
				printResult(cmd.OutOrStdout(), s.engine.LumpSum(res.Series, capAmount(amount), years), showSteps)
				return nil
			})
		},
	}
	cmd.Flags().Float64VarP(&amount, "amount", "a", 10000, "Amount invested")
	return cmd
}

func periodicCmd(cfg *config.Config) *cobra.Command {
	var budget float64
	cmd := &cobra.Command{
		Use:   "periodic",
		Short: "Spread a budget over equal monthly installments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSeries(cmd, cfg, func(s *session, res *gateway.SeriesResult) error {
				printStatus(cmd.OutOrStdout(), res, time.Now())
				printResult(cmd.OutOrStdout(), s.engine.Periodic(res.Series, capAmount(budget), years), showSteps)
				return nil
			})
		},
	}
	cmd.Flags().Float64VarP(&budget, "budget", "b", 10000, "Total budget spread over years*12 months")
	return cmd
}

func ledgerCmd(cfg *config.Config) *cobra.Command {
	var entries []string
	var file string
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Replay recorded monthly investments",
		Long: `Replay recorded monthly investments against the price series.
Months come from repeated --month YYYY-MM=AMOUNT flags and/or a YAML file
mapping YYYY-MM to amounts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amounts, err := loadLedger(entries, file)
			if err != nil {
				return err
			}
			return withSeries(cmd, cfg, func(s *session, res *gateway.SeriesResult) error {
				printStatus(cmd.OutOrStdout(), res, time.Now())
				printResult(cmd.OutOrStdout(), s.engine.Ledger(res.Series, amounts), showSteps)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&entries, "month", "m", nil, "Recorded investment as YYYY-MM=AMOUNT (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file of YYYY-MM: AMOUNT")
	return cmd
}

func capAmount(v float64) float64 {
	return math.Min(v, maxAmount)
}

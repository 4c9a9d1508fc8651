package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kjannette/kakeibo-whatif/internal/gateway"
	"github.com/kjannette/kakeibo-whatif/internal/models"
	"github.com/kjannette/kakeibo-whatif/internal/simulation"
)

func money(v float64) string {
	return humanize.CommafWithDigits(simulation.Round2(v), 2)
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", simulation.Round2(v))
}

func printStatus(w io.Writer, res *gateway.SeriesResult, now time.Time) {
	fmt.Fprintf(w, "%s via %s: %s, fetched %s\n", res.Series.Symbol, res.Series.Source, res.Status,
		humanize.RelTime(res.FetchedAt, now, "ago", "from now"))
	if res.Reason != "" {
		fmt.Fprintf(w, "  note: %s\n", res.Reason)
	}
	if res.Status.Degraded() {
		fmt.Fprintln(w, "  warning: figures below are not based on current market data")
	}
}

func printQuote(w io.Writer, res *gateway.SeriesResult, now time.Time) {
	printStatus(w, res, now)
	monthly := res.Series.Monthly
	fmt.Fprintf(w, "%d monthly points, %d daily points\n", len(monthly), len(res.Series.Daily))
	if len(monthly) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "month\topen\thigh\tlow\tclose\t")
	start := 0
	if len(monthly) > 12 {
		start = len(monthly) - 12
	}
	for _, p := range monthly[start:] {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", models.MonthKey(p.Date),
			money(p.Open), money(p.High), money(p.Low), money(p.Close))
	}
	tw.Flush()
}

func printResult(w io.Writer, r *models.SimulationResult, steps bool) {
	if len(r.Snapshots) == 0 {
		fmt.Fprintln(w, "Nothing to simulate: no usable price points for these inputs.")
		printUnmatched(w, r)
		return
	}

	fmt.Fprintf(w, "\n%s %s -> %s\n", r.Strategy, r.StartDate.Format(models.DateLayout), r.EndDate.Format(models.DateLayout))
	fmt.Fprintf(w, "  Invested:      %s\n", money(r.AmountInvested))
	fmt.Fprintf(w, "  Shares:        %.4f\n", r.SharesHeld)
	fmt.Fprintf(w, "  Price:         %s -> %s\n", money(r.StartPrice), money(r.CurrentPrice))
	fmt.Fprintf(w, "  Value now:     %s\n", money(r.CurrentValue))
	fmt.Fprintf(w, "  Profit:        %s (%s)\n", money(r.Profit), pct(r.ProfitPercent))
	fmt.Fprintf(w, "  Annualized:    %s\n", pct(r.AnnualizedReturnPercent))
	printUnmatched(w, r)

	if !steps {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\nmonth\tprice\tbought\tinvested\tvalue\tprofit\t")
	for _, s := range r.Snapshots {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", models.MonthKey(s.Date), money(s.Price),
			money(s.Purchased), money(s.Invested), money(s.Value), money(s.Profit))
	}
	tw.Flush()
}

func printUnmatched(w io.Writer, r *models.SimulationResult) {
	if len(r.UnmatchedMonths) > 0 {
		fmt.Fprintf(w, "  No price data for %d recorded month(s): %v\n", len(r.UnmatchedMonths), r.UnmatchedMonths)
	}
}

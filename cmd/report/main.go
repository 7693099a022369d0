package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"cryptoScalper/internal/adapters/logger"
	"cryptoScalper/internal/adapters/sqlite"
	"cryptoScalper/internal/domain"
	"cryptoScalper/internal/strategy/analytics"
	"cryptoScalper/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/scalper.db", "path to the scalper database")
	balance := flag.Float64("balance", 1000, "starting balance used for drawdown and return figures")
	symbol := flag.String("symbol", "", "only report trades for this symbol")
	since := flag.Duration("since", 0, "only report trades closed within this window (e.g. 24h); 0 reports everything")
	csvPath := flag.String("csv", "", "also export the selected trades to this CSV file")
	flag.Parse()

	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: logger.NewStdLogger(logger.LevelWarn),
	})
	if err != nil {
		log.Fatalf("Error opening database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	var trades []*domain.Trade
	switch {
	case *symbol != "":
		trades, err = repo.FindBySymbol(ctx, domain.NormalizeSymbol(*symbol), 0)
	case *since > 0:
		trades, err = repo.FindClosedSince(ctx, time.Now().Add(-*since))
	default:
		trades, err = repo.FindAllTrades(ctx)
	}
	if err != nil {
		log.Fatalf("Error reading trade history: %v", err)
	}
	if *symbol != "" && *since > 0 {
		trades = closedAfter(trades, time.Now().Add(-*since))
	}

	if len(trades) == 0 {
		log.Println("No closed trades found.")
		return
	}

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(trades, *csvPath); err != nil {
			log.Fatalf("Error writing CSV: %v", err)
		}
		log.Printf("Exported %d trades to %s", len(trades), *csvPath)
	}

	m := analytics.AnalyzePerformance(trades, *balance)
	printSummary(m)
	printBreakdowns(m)
}

func closedAfter(trades []*domain.Trade, cutoff time.Time) []*domain.Trade {
	out := trades[:0]
	for _, t := range trades {
		if !t.ExitTime.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func printSummary(m *analytics.PerformanceMetrics) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "Trades\t%d\n", m.TotalTrades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Net PnL\t%.4f\n", m.TotalProfit)
	fmt.Fprintf(w, "Fees paid\t%.4f\n", m.TotalFees)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Avg win / loss\t%.4f / %.4f\n", m.AverageWin, m.AverageLoss)
	fmt.Fprintf(w, "Expectancy\t%.4f\n", m.Expectancy)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Return\t%.2f%%\n", m.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Streaks (win/loss)\t%d / %d\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Avg holding time\t%s\n", m.AverageTradeDuration.Round(time.Second))
	fmt.Fprintf(w, "Scaled trades\t%d\n", m.ScaledTrades)
	w.Flush()
}

func printBreakdowns(m *analytics.PerformanceMetrics) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)

	fmt.Println("\n## By close reason")
	fmt.Fprintln(w, "Reason\tTrades\tWinRate\tPnL\t")
	reasons := make([]string, 0, len(m.ByReason))
	for r := range m.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		b := m.ByReason[domain.CloseReason(r)]
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.4f\t\n", r, b.Trades, b.WinRate()*100, b.PnL)
	}
	w.Flush()

	fmt.Println("\n## By symbol")
	fmt.Fprintln(w, "Symbol\tTrades\tWinRate\tPnL\t")
	symbols := make([]string, 0, len(m.BySymbol))
	for s := range m.BySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		b := m.BySymbol[s]
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.4f\t\n", s, b.Trades, b.WinRate()*100, b.PnL)
	}
	w.Flush()

	fmt.Println("\n## Daily")
	fmt.Fprintln(w, "Day\tPnL\t")
	for _, d := range m.GetDailyReturns() {
		fmt.Fprintf(w, "%s\t%.4f\t\n", d.Day.Format("2006-01-02"), d.Return)
	}
	w.Flush()
}

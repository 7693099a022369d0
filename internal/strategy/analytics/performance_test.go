package analytics

import (
	"math"
	"testing"
	"time"

	"cryptoScalper/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAnalyzePerformance(t *testing.T) {
	// Create test data
	initialBalance := 1000.0
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	trades := []*domain.Trade{
		{
			Symbol:      "ETHUSDT",
			EntryPrice:  2000,
			ExitPrice:   1980,
			Quantity:    0.5,
			EntryFee:    1,
			ExitFee:     0.99,
			PNL:         -11.99,
			EntryTime:   base.Add(2 * time.Hour),
			ExitTime:    base.Add(2*time.Hour + 10*time.Minute),
			CloseReason: domain.CloseReasonStopLoss,
		},
		{
			Symbol:      "BTCUSDT",
			EntryPrice:  50000,
			ExitPrice:   50500,
			Quantity:    0.01,
			EntryFee:    0.5,
			ExitFee:     0.505,
			PNL:         3.995,
			ScaleCount:  1,
			EntryTime:   base,
			ExitTime:    base.Add(20 * time.Minute),
			CloseReason: domain.CloseReasonTakeProfit,
		},
		{
			Symbol:      "BTCUSDT",
			EntryPrice:  50500,
			ExitPrice:   51000,
			Quantity:    0.02,
			PNL:         10,
			EntryTime:   base.Add(24 * time.Hour),
			ExitTime:    base.Add(24*time.Hour + 30*time.Minute),
			CloseReason: domain.CloseReasonTakeProfit,
		},
	}

	metrics := AnalyzePerformance(trades, initialBalance)

	// The input order is preserved.
	if trades[0].Symbol != "ETHUSDT" {
		t.Errorf("Expected input slice to keep its order")
	}

	if metrics.TotalTrades != 3 {
		t.Errorf("Expected 3 total trades, got %d", metrics.TotalTrades)
	}
	if metrics.WinningTrades != 2 || metrics.LosingTrades != 1 {
		t.Errorf("Expected 2 wins and 1 loss, got %d/%d", metrics.WinningTrades, metrics.LosingTrades)
	}
	if !almostEqual(metrics.TotalProfit, 2.005) {
		t.Errorf("Expected 2.005 total profit, got %f", metrics.TotalProfit)
	}
	if !almostEqual(metrics.FinalBalance, 1002.005) {
		t.Errorf("Expected final balance of 1002.005, got %f", metrics.FinalBalance)
	}
	if !almostEqual(metrics.TotalFees, 2.995) {
		t.Errorf("Expected 2.995 total fees, got %f", metrics.TotalFees)
	}
	if !almostEqual(metrics.ProfitFactor, 13.995/11.99) {
		t.Errorf("Expected profit factor %f, got %f", 13.995/11.99, metrics.ProfitFactor)
	}
	if !almostEqual(metrics.AverageWin, 13.995/2) {
		t.Errorf("Expected average win %f, got %f", 13.995/2, metrics.AverageWin)
	}
	if !almostEqual(metrics.AverageLoss, -11.99) {
		t.Errorf("Expected average loss -11.99, got %f", metrics.AverageLoss)
	}
	if metrics.MaxConsecutiveWins != 1 || metrics.MaxConsecutiveLosses != 1 {
		t.Errorf("Expected streaks of 1/1, got %d/%d", metrics.MaxConsecutiveWins, metrics.MaxConsecutiveLosses)
	}
	if metrics.ScaledTrades != 1 {
		t.Errorf("Expected 1 scaled trade, got %d", metrics.ScaledTrades)
	}
	if metrics.AverageTradeDuration != 20*time.Minute {
		t.Errorf("Expected 20m average duration, got %s", metrics.AverageTradeDuration)
	}

	// Peak 1003.995 after the first win, trough 992.005 after the loss.
	wantDD := (1003.995 - 992.005) / 1003.995
	if !almostEqual(metrics.MaxDrawdown, wantDD) {
		t.Errorf("Expected max drawdown %f, got %f", wantDD, metrics.MaxDrawdown)
	}
	if len(metrics.Drawdowns) != 1 {
		t.Fatalf("Expected 1 drawdown period, got %d", len(metrics.Drawdowns))
	}
	if len(metrics.EquityCurve) != 3 {
		t.Errorf("Expected 3 equity points, got %d", len(metrics.EquityCurve))
	}

	tp := metrics.ByReason[domain.CloseReasonTakeProfit]
	if tp == nil || tp.Trades != 2 || tp.WinRate() != 1 {
		t.Errorf("Unexpected take profit breakdown: %+v", tp)
	}
	btc := metrics.BySymbol["BTCUSDT"]
	if btc == nil || !almostEqual(btc.PnL, 13.995) {
		t.Errorf("Unexpected BTCUSDT breakdown: %+v", btc)
	}

	daily := metrics.GetDailyReturns()
	if len(daily) != 2 {
		t.Fatalf("Expected 2 daily returns, got %d", len(daily))
	}
	if !daily[0].Day.Before(daily[1].Day) {
		t.Errorf("Expected daily returns sorted by day")
	}
	if !almostEqual(daily[0].Return, 3.995-11.99) {
		t.Errorf("Expected first day return %f, got %f", 3.995-11.99, daily[0].Return)
	}
}

func TestAnalyzePerformance_NoTrades(t *testing.T) {
	metrics := AnalyzePerformance(nil, 500)
	if metrics.TotalTrades != 0 {
		t.Errorf("Expected 0 total trades, got %d", metrics.TotalTrades)
	}
	if metrics.FinalBalance != 500 {
		t.Errorf("Expected final balance of 500, got %f", metrics.FinalBalance)
	}
	if metrics.ProfitFactor != 0 || metrics.WinRate != 0 {
		t.Errorf("Expected zero ratios without trades")
	}
}

func TestAnalyzePerformance_OnlyWins(t *testing.T) {
	now := time.Now()
	trades := []*domain.Trade{
		{Symbol: "BTCUSDT", PNL: 5, EntryTime: now.Add(-time.Hour), ExitTime: now.Add(-50 * time.Minute)},
		nil,
		{Symbol: "BTCUSDT", PNL: 7, EntryTime: now.Add(-30 * time.Minute), ExitTime: now},
	}
	metrics := AnalyzePerformance(trades, 100)
	if metrics.TotalTrades != 2 {
		t.Errorf("Expected nil trades to be skipped, got %d trades", metrics.TotalTrades)
	}
	if metrics.MaxDrawdown != 0 || len(metrics.Drawdowns) != 0 {
		t.Errorf("Expected no drawdown, got %f", metrics.MaxDrawdown)
	}
	if metrics.ProfitFactor != 0 {
		t.Errorf("Expected profit factor 0 without losses, got %f", metrics.ProfitFactor)
	}
	if metrics.MaxConsecutiveWins != 2 {
		t.Errorf("Expected 2 consecutive wins, got %d", metrics.MaxConsecutiveWins)
	}
}

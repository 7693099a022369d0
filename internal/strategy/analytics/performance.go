package analytics

import (
	"math"
	"sort"
	"time"

	"cryptoScalper/internal/domain"
)

// PerformanceMetrics holds performance metrics over a set of closed trades
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64 // Net of fees
	GrossProfit        float64
	GrossLoss          float64 // Negative or zero
	TotalFees          float64
	MaxDrawdown        float64 // Fraction of the running peak balance
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	ScaledTrades         int
	DailyReturns         map[string]float64
	ByReason             map[domain.CloseReason]*Breakdown
	BySymbol             map[string]*Breakdown
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint
}

// Breakdown aggregates the trades sharing a close reason or a symbol.
type Breakdown struct {
	Trades int
	Wins   int
	PnL    float64
}

// WinRate returns the fraction of winning trades in the group.
func (b *Breakdown) WinRate() float64 {
	if b.Trades == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Trades)
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from closed trades. The
// input slice is not reordered.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance: initialBalance,
		DailyReturns: make(map[string]float64),
		ByReason:     make(map[domain.CloseReason]*Breakdown),
		BySymbol:     make(map[string]*Breakdown),
		Drawdowns:    make([]Drawdown, 0),
		EquityCurve:  make([]EquityPoint, 0),
	}

	ordered := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t != nil {
			ordered = append(ordered, t)
		}
	}
	if len(ordered) == 0 {
		return metrics
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	var currentBalance = initialBalance
	var peakBalance = initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration

	for _, trade := range ordered {
		metrics.TotalTrades++
		win := trade.PNL > 0
		if win {
			metrics.WinningTrades++
			metrics.GrossProfit += trade.PNL
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss += trade.PNL
			consecutiveLosses++
			consecutiveWins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		metrics.TotalFees += trade.EntryFee + trade.ExitFee
		if trade.ScaleCount > 0 {
			metrics.ScaledTrades++
		}
		totalDuration += trade.ExitTime.Sub(trade.EntryTime)

		addTo(metrics.ByReason, trade.CloseReason, trade.PNL, win)
		addTo(metrics.BySymbol, trade.Symbol, trade.PNL, win)
		metrics.DailyReturns[trade.ExitTime.UTC().Format("2006-01-02")] += trade.PNL

		currentBalance += trade.PNL
		metrics.TotalProfit += trade.PNL
		metrics.FinalBalance = currentBalance

		// Update drawdown tracking
		if currentBalance > peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = trade.ExitTime
				currentDrawdown.EndValue = currentBalance
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else if peakBalance > 0 {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if drawdown > 0 {
				if currentDrawdown == nil {
					currentDrawdown = &Drawdown{
						StartTime:  trade.ExitTime,
						StartValue: peakBalance,
						Depth:      drawdown,
					}
				} else {
					currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
				}
				metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
			}
		}

		point := EquityPoint{Time: trade.ExitTime, Value: currentBalance}
		if peakBalance > 0 {
			point.Drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.EquityCurve = append(metrics.EquityCurve, point)
	}

	// Close any open drawdown
	if currentDrawdown != nil {
		currentDrawdown.EndTime = ordered[len(ordered)-1].ExitTime
		currentDrawdown.EndValue = currentBalance
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss < 0 {
		metrics.ProfitFactor = metrics.GrossProfit / -metrics.GrossLoss
	}
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
		if metrics.MaxDrawdown > 0 {
			metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
		}
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(metrics.TotalTrades)
	metrics.Expectancy = metrics.TotalProfit / float64(metrics.TotalTrades)

	return metrics
}

func addTo[K comparable](groups map[K]*Breakdown, key K, pnl float64, win bool) {
	b, ok := groups[key]
	if !ok {
		b = &Breakdown{}
		groups[key] = b
	}
	b.Trades++
	b.PnL += pnl
	if win {
		b.Wins++
	}
}

// GetDailyReturns returns the daily returns as a sorted slice
func (m *PerformanceMetrics) GetDailyReturns() []DailyReturn {
	returns := make([]DailyReturn, 0, len(m.DailyReturns))
	for day, profit := range m.DailyReturns {
		date, _ := time.Parse("2006-01-02", day)
		returns = append(returns, DailyReturn{
			Day:    date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Day.Before(returns[j].Day)
	})
	return returns
}

// DailyReturn represents the realized pnl of one UTC day
type DailyReturn struct {
	Day    time.Time
	Return float64
}

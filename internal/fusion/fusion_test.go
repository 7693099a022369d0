package fusion

import (
	"math/rand"
	"testing"

	"cryptoScalper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(bidQty, askQty float64) *domain.OrderBook {
	return &domain.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []domain.PriceLevel{{Price: 99, Quantity: bidQty}},
		Asks:   []domain.PriceLevel{{Price: 101, Quantity: askQty}},
	}
}

func candles(n int, open, close, volume float64) []domain.Kline {
	out := make([]domain.Kline, n)
	for i := range out {
		out[i] = domain.Kline{Open: open, Close: close, High: max(open, close) + 1, Low: min(open, close) - 1, Volume: volume}
	}
	return out
}

func TestUnit_Compute(t *testing.T) {
	bearishThenDoji := append(candles(19, 101, 100, 10), domain.Kline{Open: 100, Close: 100, Volume: 10})

	tests := []struct {
		name     string
		in       Input
		wantBuy  float64
		wantSell float64
		want     domain.SignalCategory
	}{
		{
			name: "no inputs degrade to neutral",
			in:   Input{},
			want: domain.Neutral,
		},
		{
			name:    "order book alone is weak",
			in:      Input{OrderBook: book(60, 40)},
			wantBuy: 1,
			want:    domain.BuyWeak,
		},
		{
			name:    "imbalance inside threshold is ignored",
			in:      Input{OrderBook: book(51, 49)},
			wantBuy: 0,
			want:    domain.Neutral,
		},
		{
			name:    "book and delta volume are moderate",
			in:      Input{OrderBook: book(60, 40), Candles: candles(1, 100, 101, 10)},
			wantBuy: 2,
			want:    domain.BuyModerate,
		},
		{
			name:    "all three buy signals are aggressive",
			in:      Input{OrderBook: book(60, 40), Candles: candles(20, 100, 101, 10)},
			wantBuy: 3,
			want:    domain.BuyAggressive,
		},
		{
			name:    "lower band reinforces existing buy pressure",
			in:      Input{OrderBook: book(50, 50), Candles: candles(20, 100, 101, 10), Band: domain.BandBelowLower},
			wantBuy: 3,
			want:    domain.BuyAggressive,
		},
		{
			name:    "inner band adds half weight",
			in:      Input{OrderBook: book(60, 40), Candles: candles(1, 100, 101, 10), Band: domain.BandMiddleToLower},
			wantBuy: 2.5,
			want:    domain.BuyModerate,
		},
		{
			name: "band alone is not a factor",
			in:   Input{Band: domain.BandAboveUpper},
			want: domain.Neutral,
		},
		{
			name:     "sell side aggressive with upper band",
			in:       Input{OrderBook: book(40, 60), Candles: candles(20, 101, 100, 10), Band: domain.BandAboveUpper},
			wantSell: 4,
			want:     domain.SellAggressive,
		},
		{
			name:     "order book and cvd disagree",
			in:       Input{OrderBook: book(60, 40), Candles: bearishThenDoji},
			wantBuy:  1,
			wantSell: 1,
			want:     domain.Neutral,
		},
		{
			name:     "strong buy with any opposing factor is neutral",
			in:       Input{OrderBook: book(40, 60), Candles: candles(20, 100, 101, 10), Band: domain.BandBelowLower},
			wantBuy:  3,
			wantSell: 1,
			want:     domain.Neutral,
		},
	}

	u, err := NewUnit(DefaultConfig())
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := u.Compute(tt.in)
			assert.Equal(t, tt.want, sig.Category)
			assert.Equal(t, tt.wantBuy, sig.BuyFactors)
			assert.Equal(t, tt.wantSell, sig.SellFactors)
		})
	}
}

func TestUnit_ConflictingSubSignalsNeverEnter(t *testing.T) {
	u, err := NewUnit(DefaultConfig())
	require.NoError(t, err)

	in := Input{
		OrderBook: book(60, 40),
		Candles:   append(candles(19, 101, 100, 10), domain.Kline{Open: 100, Close: 100, Volume: 10}),
	}
	sig := u.Compute(in)
	assert.Equal(t, domain.BiasBuy, sig.OrderBookBias)
	assert.Equal(t, domain.BiasSell, sig.CVDBias)
	assert.Equal(t, domain.BiasNeutral, sig.DeltaVolumeBias)
	assert.Equal(t, domain.Neutral, sig.Category)
	assert.False(t, sig.Category.IsBuyAtLeastModerate())
}

func TestUnit_DepthIsLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OrderBookDepth = 2
	u, err := NewUnit(cfg)
	require.NoError(t, err)

	b := &domain.OrderBook{
		Bids: []domain.PriceLevel{{Price: 99, Quantity: 1}, {Price: 98, Quantity: 1}, {Price: 97, Quantity: 100}},
		Asks: []domain.PriceLevel{{Price: 101, Quantity: 1}, {Price: 102, Quantity: 1}},
	}
	sig := u.Compute(Input{OrderBook: b})
	assert.Equal(t, domain.BiasNeutral, sig.OrderBookBias)
	assert.Equal(t, 0.0, sig.OrderBookRatio)
}

func TestUnit_CategoryAlwaysDefined(t *testing.T) {
	u, err := NewUnit(DefaultConfig())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(42))
	bands := []domain.BandPosition{
		domain.BandAboveUpper, domain.BandBelowLower, domain.BandMiddleToUpper,
		domain.BandMiddleToLower, domain.BandPositionUnknown, "",
	}

	for i := 0; i < 2000; i++ {
		n := rng.Intn(30)
		cs := make([]domain.Kline, n)
		for j := range cs {
			open := 100 + rng.Float64()*2
			cs[j] = domain.Kline{Open: open, Close: open + rng.Float64()*2 - 1, Volume: rng.Float64() * 50}
		}
		var ob *domain.OrderBook
		if rng.Intn(4) > 0 {
			ob = book(rng.Float64()*100, rng.Float64()*100)
		}
		sig := u.Compute(Input{OrderBook: ob, Candles: cs, Band: bands[rng.Intn(len(bands))]})

		require.True(t, sig.Category.Valid(), "category %q", sig.Category)
		require.GreaterOrEqual(t, sig.BuyFactors, 0.0)
		require.GreaterOrEqual(t, sig.SellFactors, 0.0)
		if sig.BuyFactors > 0 && sig.SellFactors > 0 {
			require.Equal(t, domain.Neutral, sig.Category)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.CVDLookback = 0
	_, err := NewUnit(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.OrderBookThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

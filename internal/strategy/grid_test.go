package strategy

import (
	"testing"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// newGridEnv builds a paper exchange at 2400 and a grid over 1920..2880
// with 11 levels (step 96) and 2 active levels per side.
func newGridEnv(t *testing.T) (*GridStrategy, *exchange.PaperExchange) {
	t.Helper()
	ex := exchange.NewPaperExchange(testLogger())
	require.NoError(t, ex.Connect())
	ex.SetPrice("ETHUSDT", 2400)

	cfg := models.StrategyConfig{
		Symbol:         "ETHUSDT",
		Investment:     1100,
		InvestmentUnit: models.UnitUSD,
		Metadata: map[string]interface{}{
			"grid_quantity": 11,
			"grid_mode":     "arithmetic",
			"active_levels": 2,
		},
	}
	s, err := NewGridStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	return s, ex
}

func TestGridStartPlacesActiveSelection(t *testing.T) {
	s, ex := newGridEnv(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	// 2 buys below 2400 (2304, 2208) and 2 sells above (2496, 2592).
	// The level at exactly 2400 is on neither side.
	assert.Equal(t, 4, ex.OpenOrderCount("ETHUSDT"))

	open, err := ex.GetOpenOrders("ETHUSDT")
	require.NoError(t, err)
	prices := map[float64]models.Side{}
	for _, o := range open {
		prices[o.Price] = o.Side
	}
	assert.Equal(t, models.Buy, prices[2304])
	assert.Equal(t, models.Buy, prices[2208])
	assert.Equal(t, models.Sell, prices[2496])
	assert.Equal(t, models.Sell, prices[2592])
}

func TestGridFillTriggersCleanSlateReplacement(t *testing.T) {
	s, ex := newGridEnv(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	var placed, filled int
	s.Events().On(EventOrderPlaced, func(interface{}) { placed++ })
	s.Events().On(EventOrderFilled, func(interface{}) { filled++ })

	// Drop to 2300: only the 2304 buy crosses.
	ex.SetPrice("ETHUSDT", 2300)

	assert.Equal(t, 1, filled)
	assert.True(t, s.ExecutedIndices()[4], "level index 4 (2304) should be marked executed")

	// Clean slate around the fill price 2304: buys 2208 and 2112, sells
	// 2400 and 2496. The filled level itself sits exactly at the
	// reference and is excluded by the strict inequality.
	assert.Equal(t, 4, ex.OpenOrderCount("ETHUSDT"))
	open, _ := ex.GetOpenOrders("ETHUSDT")
	prices := map[float64]models.Side{}
	for _, o := range open {
		prices[o.Price] = o.Side
	}
	assert.Equal(t, models.Buy, prices[2208])
	assert.Equal(t, models.Buy, prices[2112])
	assert.Equal(t, models.Sell, prices[2400])
	assert.Equal(t, models.Sell, prices[2496])
	assert.Equal(t, 4, placed)

	// Live level indices stay disjoint from the executed set.
	for idx := range s.LiveLevelIndices() {
		assert.False(t, s.ExecutedIndices()[idx], "index %d is both live and executed", idx)
	}

	// 1100 USD over 11 levels is 100 USD per order.
	st := s.State()
	assert.Equal(t, 1, st.TradeCount)
	assert.InDelta(t, 100.0, st.BuyVolumeUSD, 1e-6)
	assert.Greater(t, st.TotalPosition, 0.0)
}

func TestGridRoundTripRealizesProfit(t *testing.T) {
	s, ex := newGridEnv(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	// Buy at 2304 on the way down, then rally through the 2400 sell the
	// reconciliation placed one level above.
	ex.SetPrice("ETHUSDT", 2300)
	ex.SetPrice("ETHUSDT", 2405)

	st := s.State()
	assert.Equal(t, 2, st.TradeCount)
	assert.Greater(t, st.TotalProfit, 0.0, "selling above the average entry realizes profit")
	assert.InDelta(t, (2400-2304)*(100.0/2400), st.TotalProfit, 1e-9)
}

func TestGridSellWithoutInventoryStaysFlat(t *testing.T) {
	s, ex := newGridEnv(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	// Rally straight into the 2496 sell before any buy accumulated
	// inventory: no profit is booked and the base amount stays at zero.
	ex.SetPrice("ETHUSDT", 2500)

	st := s.State()
	assert.Equal(t, 1, st.TradeCount)
	assert.Zero(t, st.TotalProfit)
	assert.GreaterOrEqual(t, s.Statistics()["base_amount"].(float64), 0.0)
	assert.Zero(t, s.Statistics()["avg_entry"].(float64))
}

func TestGridBatchCap(t *testing.T) {
	ex := exchange.NewPaperExchange(testLogger())
	require.NoError(t, ex.Connect())
	ex.SetPrice("ETHUSDT", 2400)

	cfg := models.StrategyConfig{
		Symbol:         "ETHUSDT",
		Investment:     3000,
		InvestmentUnit: models.UnitUSD,
		Metadata: map[string]interface{}{
			"grid_quantity": 30,
			"active_levels": 10,
		},
	}
	s, err := NewGridStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	// 10 per side would be 20 orders; the batch cap discards the excess.
	assert.Equal(t, 10, ex.OpenOrderCount("ETHUSDT"))
}

func TestGridReconnectionRecovery(t *testing.T) {
	s, ex := newGridEnv(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Equal(t, 4, ex.OpenOrderCount("ETHUSDT"))

	// A reconnect discards the order bookkeeping and re-places from the
	// current logical state.
	ex.EmitEvent(exchange.EventReconnected, nil)
	assert.Equal(t, 4, ex.OpenOrderCount("ETHUSDT"))
	assert.Len(t, s.LiveLevelIndices(), 4)
}

func TestGridStopCancelsEverything(t *testing.T) {
	s, ex := newGridEnv(t)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	assert.Equal(t, 0, ex.OpenOrderCount("ETHUSDT"))
	assert.False(t, s.State().IsActive)

	// Streams are gone: a price move after Stop fills nothing and reaches
	// no handler.
	ex.SetPrice("ETHUSDT", 1000)
	assert.Equal(t, 0, s.State().TradeCount)
}

func TestGridConfigValidation(t *testing.T) {
	ex := exchange.NewPaperExchange(testLogger())
	base := models.StrategyConfig{Symbol: "ETHUSDT", Investment: 1000, InvestmentUnit: models.UnitUSD}

	cases := []struct {
		name string
		meta map[string]interface{}
	}{
		{"too few levels", map[string]interface{}{"grid_quantity": 1, "active_levels": 2}},
		{"active levels zero", map[string]interface{}{"grid_quantity": 10, "active_levels": 0}},
		{"active levels over cap", map[string]interface{}{"grid_quantity": 10, "active_levels": 11}},
		{"bad mode", map[string]interface{}{"grid_quantity": 10, "active_levels": 2, "grid_mode": "fibonacci"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Metadata = tc.meta
			_, err := NewGridStrategy(cfg, ex, testLogger())
			var cfgErr *models.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestGridStartRequiresInitialize(t *testing.T) {
	s, _ := newGridEnv(t)
	assert.Error(t, s.Start())
}

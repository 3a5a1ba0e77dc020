package strategy

import (
	"testing"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMartingaleEnv(t *testing.T, meta map[string]interface{}) (*MartingaleStrategy, *exchange.PaperExchange) {
	t.Helper()
	ex := exchange.NewPaperExchange(testLogger())
	require.NoError(t, ex.Connect())
	ex.SetPrice("SOLUSDT", 100)

	if meta == nil {
		meta = map[string]interface{}{
			"base_order_size":       10,
			"step_multiplier":       2.0,
			"max_orders":            4,
			"price_drop_percentage": 5,
			"profit_percentage":     3,
		}
	}
	cfg := models.StrategyConfig{
		Symbol:         "SOLUSDT",
		Investment:     1000,
		InvestmentUnit: models.UnitUSD,
		Metadata:       meta,
	}
	s, err := NewMartingaleStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s, ex
}

func TestMartingaleEntryOnDrop(t *testing.T) {
	s, ex := newMartingaleEnv(t, nil)

	// 4% down from the reference high of 100: no entry yet.
	ex.SetPrice("SOLUSDT", 96)
	assert.Zero(t, s.State().TradeCount)

	// 6% down crosses the 5% trigger.
	ex.SetPrice("SOLUSDT", 94)
	st := s.State()
	assert.Equal(t, 1, st.TradeCount)
	assert.InDelta(t, 10.0/94, st.TotalPosition, 1e-12)
	assert.InDelta(t, 20, s.NextOrderUSD(), 1e-9, "next entry doubles after the first fill")
}

func TestMartingaleReferenceHighRatchets(t *testing.T) {
	s, ex := newMartingaleEnv(t, nil)

	// A rally moves the reference, so the entry trigger moves with it.
	ex.SetPrice("SOLUSDT", 120)
	ex.SetPrice("SOLUSDT", 110) // 8.3% off 120, inside no 5%-of-100 logic
	assert.Equal(t, 1, s.State().TradeCount, "entry must trigger off the ratcheted high")
}

func TestMartingaleSizeSequence(t *testing.T) {
	s, ex := newMartingaleEnv(t, nil)

	ex.SetPrice("SOLUSDT", 94) // entry 1: 10 USD
	ex.SetPrice("SOLUSDT", 89) // entry 2: 20 USD (94 * 0.95 = 89.3)
	ex.SetPrice("SOLUSDT", 84) // entry 3: 40 USD (89 * 0.95 = 84.55)

	assert.Equal(t, 3, s.State().TradeCount)
	assert.InDelta(t, 80, s.NextOrderUSD(), 1e-9)

	stats := s.Statistics()
	assert.Equal(t, 3, stats["sequence_orders"])
	assert.InDelta(t, 70, stats["invested_usd"].(float64), 1e-9)
}

func TestMartingaleMaxOrdersGate(t *testing.T) {
	s, ex := newMartingaleEnv(t, map[string]interface{}{
		"base_order_size":       10,
		"step_multiplier":       2.0,
		"max_orders":            2,
		"price_drop_percentage": 5,
		"profit_percentage":     50, // keep the exit out of the way
	})

	ex.SetPrice("SOLUSDT", 94)
	ex.SetPrice("SOLUSDT", 89)
	ex.SetPrice("SOLUSDT", 84) // third entry blocked
	ex.SetPrice("SOLUSDT", 79)

	assert.Equal(t, 2, s.State().TradeCount)
}

func TestMartingaleCapitalCap(t *testing.T) {
	ex := exchange.NewPaperExchange(testLogger())
	require.NoError(t, ex.Connect())
	ex.SetPrice("SOLUSDT", 100)

	cfg := models.StrategyConfig{
		Symbol:         "SOLUSDT",
		Investment:     20,
		InvestmentUnit: models.UnitUSD,
		Metadata: map[string]interface{}{
			"base_order_size":       10,
			"step_multiplier":       2.0,
			"max_orders":            5,
			"price_drop_percentage": 5,
			"profit_percentage":     50,
			"max_position_multiple": 1.0, // cap at 20 USD invested
		},
	}
	s, err := NewMartingaleStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	defer s.Stop()

	ex.SetPrice("SOLUSDT", 94) // 10 USD in, 10 headroom
	ex.SetPrice("SOLUSDT", 89) // next is 20 USD, 10+20 > 20: blocked

	assert.Equal(t, 1, s.State().TradeCount)
}

func TestMartingaleExitResetsSequence(t *testing.T) {
	s, ex := newMartingaleEnv(t, nil)

	var completed int
	s.Events().On(EventSequenceComplete, func(interface{}) { completed++ })

	ex.SetPrice("SOLUSDT", 94)
	ex.SetPrice("SOLUSDT", 89)

	stats := s.Statistics()
	target := stats["profit_target"].(float64)
	require.Greater(t, target, 0.0)

	// Rally through the profit target: full exit at market.
	exitPrice := target + 1
	ex.SetPrice("SOLUSDT", exitPrice)

	require.Equal(t, 1, completed)
	st := s.State()
	assert.InDelta(t, 0, st.TotalPosition, 1e-12)
	assert.Greater(t, st.TotalProfit, 0.0)

	stats = s.Statistics()
	assert.Equal(t, 0, stats["sequence_orders"])
	assert.InDelta(t, 0, stats["invested_usd"].(float64), 1e-9)
	assert.InDelta(t, 0, stats["avg_entry"].(float64), 1e-9)
	assert.InDelta(t, 10, s.NextOrderUSD(), 1e-9, "sequence sizing restarts at the base order")

	// The exit price seeds the next reference high: a fresh 5% drop
	// opens a new sequence at the base size.
	ex.SetPrice("SOLUSDT", exitPrice*0.94)
	assert.InDelta(t, 20, s.NextOrderUSD(), 1e-9)
	assert.Equal(t, 1, s.Statistics()["sequence_orders"])
}

func TestMartingaleGroupedParameterKeys(t *testing.T) {
	ex := exchange.NewPaperExchange(testLogger())
	require.NoError(t, ex.Connect())
	ex.SetPrice("SOLUSDT", 100)

	// The grouped surface: entry_trigger / exit_strategy /
	// safety_controls instead of flat keys.
	cfg := models.StrategyConfig{
		Symbol:         "SOLUSDT",
		Investment:     1000,
		InvestmentUnit: models.UnitUSD,
		Metadata: map[string]interface{}{
			"base_order_size": 10,
			"step_multiplier": 2.0,
			"max_orders":      4,
			"entry_trigger":   map[string]interface{}{"price_drop_percentage": 5},
			"exit_strategy":   map[string]interface{}{"profit_percentage": 3},
			"safety_controls": map[string]interface{}{"max_position_multiple": 1.5},
		},
	}
	s, err := NewMartingaleStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	assert.InDelta(t, 5, s.priceDropPct, 1e-9)
	assert.InDelta(t, 3, s.profitPct, 1e-9)
	assert.InDelta(t, 1.5, s.maxPosMultiple, 1e-9)

	// Grouped values win over flat leftovers.
	cfg.Metadata["price_drop_percentage"] = 9
	s, err = NewMartingaleStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	assert.InDelta(t, 5, s.priceDropPct, 1e-9)
}

func TestMartingaleConfigValidation(t *testing.T) {
	ex := exchange.NewPaperExchange(testLogger())
	base := models.StrategyConfig{Symbol: "SOLUSDT", Investment: 1000, InvestmentUnit: models.UnitUSD}

	cases := []struct {
		name string
		meta map[string]interface{}
	}{
		{"multiplier too small", map[string]interface{}{"base_order_size": 10, "step_multiplier": 1.0, "max_orders": 4, "price_drop_percentage": 5, "profit_percentage": 3}},
		{"multiplier too large", map[string]interface{}{"base_order_size": 10, "step_multiplier": 5.5, "max_orders": 4, "price_drop_percentage": 5, "profit_percentage": 3}},
		{"too few orders", map[string]interface{}{"base_order_size": 10, "step_multiplier": 2.0, "max_orders": 1, "price_drop_percentage": 5, "profit_percentage": 3}},
		{"too many orders", map[string]interface{}{"base_order_size": 10, "step_multiplier": 2.0, "max_orders": 11, "price_drop_percentage": 5, "profit_percentage": 3}},
		{"no base size", map[string]interface{}{"step_multiplier": 2.0, "max_orders": 4, "price_drop_percentage": 5, "profit_percentage": 3}},
		{"no drop", map[string]interface{}{"base_order_size": 10, "step_multiplier": 2.0, "max_orders": 4, "profit_percentage": 3}},
		{"no profit", map[string]interface{}{"base_order_size": 10, "step_multiplier": 2.0, "max_orders": 4, "price_drop_percentage": 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.Metadata = tc.meta
			_, err := NewMartingaleStrategy(cfg, ex, testLogger())
			var cfgErr *models.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

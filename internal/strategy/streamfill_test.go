package strategy

import (
	"sync"
	"testing"
	"time"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamFillExchange wraps the paper exchange with the live venue's fill
// contract: a placement succeeds without an inline fill and executions
// arrive only through the fill stream, once the test flushes them.
type streamFillExchange struct {
	*exchange.PaperExchange
	mu      sync.Mutex
	pending []models.Fill
}

func newStreamFillExchange(t *testing.T) *streamFillExchange {
	t.Helper()
	p := exchange.NewPaperExchange(testLogger())
	require.NoError(t, p.Connect())
	return &streamFillExchange{PaperExchange: p}
}

func (x *streamFillExchange) PlaceOrder(req models.OrderRequest) (*models.OrderResponse, error) {
	resp, err := x.PaperExchange.PlaceOrder(req)
	if err != nil || resp == nil || !resp.ImmediatelyFilled {
		return resp, err
	}
	x.mu.Lock()
	x.pending = append(x.pending, models.Fill{
		Symbol:        req.Symbol,
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Side:          req.Side,
		Size:          resp.FillSize,
		Price:         resp.FillPrice,
		Timestamp:     time.Now(),
	})
	x.mu.Unlock()
	resp.ImmediatelyFilled = false
	resp.FillPrice = 0
	resp.FillSize = 0
	return resp, nil
}

// flushFills delivers the queued execution reports, the way the user
// data stream would between decision cycles.
func (x *streamFillExchange) flushFills() {
	x.mu.Lock()
	fills := x.pending
	x.pending = nil
	x.mu.Unlock()
	for _, f := range fills {
		x.EmitFill(f)
	}
}

func TestDCAAppliesFillsFromStream(t *testing.T) {
	ex := newStreamFillExchange(t)
	ex.SetPrice("BTCUSDT", 40000)

	cfg := models.StrategyConfig{
		Symbol:         "BTCUSDT",
		Investment:     5000,
		InvestmentUnit: models.UnitUSD,
		Metadata:       map[string]interface{}{"interval_hours": 24, "order_size": 50},
	}
	s, err := NewDCAStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	s.tick()

	// Placed but not executed yet: nothing on the books, and a second
	// tick before the report lands must not double-buy.
	assert.Zero(t, s.State().TradeCount)
	assert.Zero(t, s.State().TotalPosition)
	s.tick()
	assert.Equal(t, 1, s.Statistics()["total_orders"])

	ex.flushFills()

	st := s.State()
	assert.Equal(t, 1, st.TradeCount)
	assert.InDelta(t, 0.00125, st.TotalPosition, 1e-12)
	assert.InDelta(t, 40000, s.AverageCost(), 1e-9)
}

func TestDCAIgnoresFillsFromOtherStrategies(t *testing.T) {
	ex := newStreamFillExchange(t)
	ex.SetPrice("BTCUSDT", 40000)

	cfg := models.StrategyConfig{
		Symbol:         "BTCUSDT",
		Investment:     5000,
		InvestmentUnit: models.UnitUSD,
		Metadata:       map[string]interface{}{"interval_hours": 24, "order_size": 50},
	}
	s, err := NewDCAStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	// An execution report for an order this strategy never placed.
	ex.EmitFill(models.Fill{
		Symbol:        "BTCUSDT",
		OrderID:       "77",
		ClientOrderID: "x-other-bot",
		Side:          models.Buy,
		Size:          0.5,
		Price:         40000,
		Timestamp:     time.Now(),
	})

	assert.Zero(t, s.State().TradeCount)
	assert.Zero(t, s.State().TotalPosition)
	assert.Zero(t, s.AverageCost())
}

func TestMartingaleAdvancesSequenceFromStream(t *testing.T) {
	ex := newStreamFillExchange(t)
	ex.SetPrice("SOLUSDT", 100)

	cfg := models.StrategyConfig{
		Symbol:         "SOLUSDT",
		Investment:     1000,
		InvestmentUnit: models.UnitUSD,
		Metadata: map[string]interface{}{
			"base_order_size":       10,
			"step_multiplier":       2.0,
			"max_orders":            4,
			"price_drop_percentage": 5,
			"profit_percentage":     50,
		},
	}
	s, err := NewMartingaleStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	// Entry placed at the trigger; the report is still in transit, so
	// the sequence has not advanced and a further drop places nothing.
	ex.SetPrice("SOLUSDT", 94)
	assert.Zero(t, s.State().TradeCount)
	assert.InDelta(t, 10, s.NextOrderUSD(), 1e-9)
	ex.SetPrice("SOLUSDT", 93)
	assert.Zero(t, s.State().TradeCount)

	ex.flushFills()
	assert.Equal(t, 1, s.State().TradeCount)
	assert.InDelta(t, 20, s.NextOrderUSD(), 1e-9, "the step doubles once the entry is confirmed")

	// Next drop from the confirmed entry price adds the 20 USD step,
	// not another base order.
	ex.SetPrice("SOLUSDT", 88)
	ex.flushFills()

	stats := s.Statistics()
	assert.Equal(t, 2, stats["sequence_orders"])
	assert.InDelta(t, 30, stats["invested_usd"].(float64), 1e-9)
	assert.InDelta(t, 40, s.NextOrderUSD(), 1e-9)
}

func TestPortfolioAppliesRebalanceFillsFromStream(t *testing.T) {
	ex := newStreamFillExchange(t)
	ex.SetPrice("AUSDT", 100)
	ex.SetPrice("BUSDT", 100)

	cfg := models.StrategyConfig{
		Investment:     2000,
		InvestmentUnit: models.UnitUSD,
		Metadata: map[string]interface{}{
			"target_allocations":   map[string]interface{}{"AUSDT": 0.5, "BUSDT": 0.5},
			"rebalance_threshold":  0.05,
			"min_rebalance_amount": 1,
		},
	}
	s, err := NewPortfolioStrategy(cfg, ex, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	s.CheckRebalance()
	require.Len(t, s.History(), 1)

	// Orders are out but unconfirmed: holdings and cash are unchanged.
	holdings := s.Holdings()
	assert.Zero(t, holdings["AUSDT"])
	assert.Zero(t, holdings["BUSDT"])
	assert.InDelta(t, 2000, s.Statistics()["quote_balance"].(float64), 1e-9)

	ex.flushFills()

	holdings = s.Holdings()
	assert.InDelta(t, 10, holdings["AUSDT"], 1e-9)
	assert.InDelta(t, 10, holdings["BUSDT"], 1e-9)
	assert.InDelta(t, 0, s.Statistics()["quote_balance"].(float64), 1e-9)
	assert.InDelta(t, 0, s.MaxDrift(), 1e-9, "confirmed fills close the drift, so no re-rebalance")
}

package grid

import (
	"testing"

	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateArithmetic(t *testing.T) {
	cfg := Config{Quantity: 10, Mode: Arithmetic}
	set, err := Generate(cfg, 2400)
	require.NoError(t, err)

	// Bounds default to ±20% of the reference price.
	assert.InDelta(t, 1920.0, set.LowerBound, 1e-9)
	assert.InDelta(t, 2880.0, set.UpperBound, 1e-9)
	require.Len(t, set.Levels, 10)

	// 10 arithmetic levels over [1920, 2880]: constant step of 96.
	assert.InDelta(t, 1920.0, set.Levels[0].Price, 1e-9)
	assert.InDelta(t, 2880.0, set.Levels[9].Price, 1e-9)
	for i := 1; i < 10; i++ {
		step := set.Levels[i].Price - set.Levels[i-1].Price
		assert.InDelta(t, 96.0, step, 0.02, "step between levels %d and %d", i-1, i)
	}

	// Side is fixed relative to the reference price.
	for _, lvl := range set.Levels {
		if lvl.Price < 2400 {
			assert.Equal(t, models.Buy, lvl.Side, "level %d at %v", lvl.Index, lvl.Price)
		} else {
			assert.Equal(t, models.Sell, lvl.Side, "level %d at %v", lvl.Index, lvl.Price)
		}
	}
}

func TestGenerateGeometric(t *testing.T) {
	cfg := Config{Quantity: 5, Mode: Geometric, LowerBound: 100, UpperBound: 1600}
	set, err := Generate(cfg, 400)
	require.NoError(t, err)
	require.Len(t, set.Levels, 5)

	// ratio = (1600/100)^(1/4) = 2, so levels are 100, 200, 400, 800, 1600.
	expected := []float64{100, 200, 400, 800, 1600}
	for i, lvl := range set.Levels {
		assert.InDelta(t, expected[i], lvl.Price, 0.01, "level %d", i)
	}
	for i := 1; i < len(set.Levels); i++ {
		ratio := set.Levels[i].Price / set.Levels[i-1].Price
		assert.InDelta(t, 2.0, ratio, 0.001)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{Quantity: 25, Mode: Geometric}
	first, err := Generate(cfg, 43211.37)
	require.NoError(t, err)
	second, err := Generate(cfg, 43211.37)
	require.NoError(t, err)

	require.Equal(t, first.NearestIndex, second.NearestIndex)
	for i := range first.Levels {
		assert.Equal(t, first.Levels[i], second.Levels[i], "level %d must be identical across generations", i)
	}
	for _, lvl := range first.Levels {
		assert.GreaterOrEqual(t, lvl.Price, RoundPrice(first.LowerBound*0.999))
		assert.LessOrEqual(t, lvl.Price, RoundPrice(first.UpperBound*1.001))
	}
}

func TestGenerateNearestIndex(t *testing.T) {
	cfg := Config{Quantity: 11, Mode: Arithmetic, LowerBound: 100, UpperBound: 200}
	set, err := Generate(cfg, 152)
	require.NoError(t, err)
	// Levels are 100,110,...,200; 150 (index 5) is closest to 152.
	assert.Equal(t, 5, set.NearestIndex)
}

func TestGenerateExplicitBounds(t *testing.T) {
	cfg := Config{Quantity: 4, Mode: Arithmetic, LowerBound: 50, UpperBound: 80}
	set, err := Generate(cfg, 60)
	require.NoError(t, err)
	assert.Equal(t, 50.0, set.LowerBound)
	assert.Equal(t, 80.0, set.UpperBound)
	assert.InDelta(t, 50.0, set.Levels[0].Price, 1e-9)
	assert.InDelta(t, 80.0, set.Levels[3].Price, 1e-9)
}

func TestGenerateConfigErrors(t *testing.T) {
	var cfgErr *models.ConfigError

	_, err := Generate(Config{Quantity: 1, Mode: Arithmetic}, 100)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Generate(Config{Quantity: 5, Mode: Arithmetic, LowerBound: 200, UpperBound: 100}, 150)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Generate(Config{Quantity: 5, Mode: "fibonacci"}, 100)
	require.Error(t, err)
	assert.ErrorAs(t, err, &cfgErr)

	_, err = Generate(Config{Quantity: 5, Mode: Arithmetic}, 0)
	require.Error(t, err, "no reference price and no explicit bounds")
}

func TestRoundPriceTiers(t *testing.T) {
	// 1 decimal above 10000, 2 above 1000, 4 above 1, 8 below 1.
	assert.Equal(t, 43211.4, RoundPrice(43211.37))
	assert.Equal(t, 2400.57, RoundPrice(2400.5678))
	assert.Equal(t, 12.3457, RoundPrice(12.345678))
	assert.Equal(t, 0.00001235, RoundPrice(0.0000123456))
}

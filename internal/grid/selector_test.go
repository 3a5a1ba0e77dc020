package grid

import (
	"testing"

	"multi-strategy-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGenerate(t *testing.T, cfg Config, ref float64) *Set {
	t.Helper()
	set, err := Generate(cfg, ref)
	require.NoError(t, err)
	return set
}

func TestSelectActiveNearestFirst(t *testing.T) {
	// Levels at 1920, 2016, ..., 2880 (step 96), reference 2400.
	set := mustGenerate(t, Config{Quantity: 10, Mode: Arithmetic}, 2400)

	sel := SelectActive(set.Levels, 2400, 2, nil)
	require.Len(t, sel.Levels, 4)
	require.Len(t, sel.Indices, 4)

	var buys, sells []Level
	for _, lvl := range sel.Levels {
		if lvl.Side == models.Buy {
			buys = append(buys, lvl)
		} else {
			sells = append(sells, lvl)
		}
	}
	require.Len(t, buys, 2)
	require.Len(t, sells, 2)

	// Nearest-to-market first: 2304 and 2208 below, 2496 and 2592 above.
	assert.InDelta(t, 2304.0, buys[0].Price, 0.05)
	assert.InDelta(t, 2208.0, buys[1].Price, 0.05)
	assert.InDelta(t, 2496.0, sells[0].Price, 0.05)
	assert.InDelta(t, 2592.0, sells[1].Price, 0.05)
}

func TestSelectActiveExcludesExecuted(t *testing.T) {
	set := mustGenerate(t, Config{Quantity: 10, Mode: Arithmetic}, 2400)

	// Exclude the two nearest buy levels; the next two down must be taken.
	executed := map[int]bool{4: true, 3: true} // 2304, 2208
	sel := SelectActive(set.Levels, 2400, 2, executed)

	for idx := range sel.Indices {
		assert.False(t, executed[idx], "selection must never return an executed index")
	}
	var buyPrices []float64
	for _, lvl := range sel.Levels {
		if lvl.Side == models.Buy {
			buyPrices = append(buyPrices, lvl.Price)
		}
	}
	require.Len(t, buyPrices, 2)
	assert.InDelta(t, 2112.0, buyPrices[0], 0.05)
	assert.InDelta(t, 2016.0, buyPrices[1], 0.05)
}

func TestSelectActiveRespectsPerSideCap(t *testing.T) {
	set := mustGenerate(t, Config{Quantity: 30, Mode: Arithmetic}, 2400)
	for perSide := 1; perSide <= 10; perSide++ {
		sel := SelectActive(set.Levels, 2400, perSide, nil)
		var buys, sells int
		for _, lvl := range sel.Levels {
			if lvl.Side == models.Buy {
				buys++
			} else {
				sells++
			}
		}
		assert.LessOrEqual(t, buys, perSide)
		assert.LessOrEqual(t, sells, perSide)
	}
}

func TestSelectActivePriceOffGrid(t *testing.T) {
	// Price above the entire grid: only buy candidates remain.
	set := mustGenerate(t, Config{Quantity: 10, Mode: Arithmetic, LowerBound: 100, UpperBound: 200}, 150)
	sel := SelectActive(set.Levels, 500, 3, nil)
	require.Len(t, sel.Levels, 3)
	for _, lvl := range sel.Levels {
		assert.Equal(t, models.Buy, lvl.Side)
	}
}

func TestSelectActiveFewerAvailableThanRequested(t *testing.T) {
	set := mustGenerate(t, Config{Quantity: 4, Mode: Arithmetic, LowerBound: 100, UpperBound: 200}, 120)
	sel := SelectActive(set.Levels, 120, 5, nil)
	// Only one level below 120 (100) and three above; no padding happens.
	assert.Len(t, sel.Levels, 4)
}

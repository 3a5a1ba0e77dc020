package grid

import (
	"math"

	"multi-strategy-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Mode selects how level prices are spaced between the bounds.
type Mode string

const (
	Arithmetic Mode = "arithmetic"
	Geometric  Mode = "geometric"
)

// Config describes a grid. Bounds are optional; when absent they default
// to ±20% around the reference price at generation time.
type Config struct {
	Spacing      float64 `json:"spacing,omitempty"` // informational, % between levels
	Quantity     int     `json:"quantity"`          // number of levels, >= 2
	Mode         Mode    `json:"mode"`
	UpperBound   float64 `json:"upper_bound,omitempty"`
	LowerBound   float64 `json:"lower_bound,omitempty"`
	ActiveLevels int     `json:"active_levels"` // per side, 1-10
}

// Level is a single price point with a fixed side label. The side is
// decided once, relative to the reference price at generation time, and
// is never re-evaluated.
type Level struct {
	Price float64     `json:"price"`
	Side  models.Side `json:"side"`
	Index int         `json:"index"`
}

// Set is the full generated grid: every level in ascending index order,
// the effective bounds, and the index of the level nearest the reference
// price.
type Set struct {
	Levels       []Level `json:"levels"`
	UpperBound   float64 `json:"upper_bound"`
	LowerBound   float64 `json:"lower_bound"`
	NearestIndex int     `json:"nearest_index"`
}

// Generate builds the deterministic level set for a config and reference
// price. Identical inputs always produce an identical set: the initial
// placement and every post-fill replacement must agree on level identity
// without any shared mutable state.
func Generate(cfg Config, refPrice float64) (*Set, error) {
	if refPrice <= 0 && (cfg.UpperBound == 0 || cfg.LowerBound == 0) {
		return nil, models.NewConfigError("reference_price", "must be positive when bounds are not explicit, got %v", refPrice)
	}
	if cfg.Quantity < 2 {
		return nil, models.NewConfigError("grid_quantity", "need at least 2 levels, got %d", cfg.Quantity)
	}

	upper, lower := cfg.UpperBound, cfg.LowerBound
	if upper == 0 {
		upper = refPrice * 1.2
	}
	if lower == 0 {
		lower = refPrice * 0.8
	}
	if upper <= lower {
		return nil, models.NewConfigError("bounds", "upper bound %v must be greater than lower bound %v", upper, lower)
	}
	if lower <= 0 {
		return nil, models.NewConfigError("lower_bound", "must be positive, got %v", lower)
	}

	mode := cfg.Mode
	if mode == "" {
		mode = Arithmetic
	}

	n := cfg.Quantity
	levels := make([]Level, 0, n)

	var ratio, step float64
	switch mode {
	case Arithmetic:
		step = (upper - lower) / float64(n-1)
	case Geometric:
		ratio = math.Pow(upper/lower, 1/float64(n-1))
	default:
		return nil, models.NewConfigError("grid_mode", "unknown mode %q", mode)
	}

	nearest := 0
	nearestDist := math.MaxFloat64
	for i := 0; i < n; i++ {
		var price float64
		if mode == Arithmetic {
			price = lower + float64(i)*step
		} else {
			price = lower * math.Pow(ratio, float64(i))
		}
		price = RoundPrice(price)

		side := models.Sell
		if price < refPrice {
			side = models.Buy
		}
		levels = append(levels, Level{Price: price, Side: side, Index: i})

		if d := math.Abs(price - refPrice); d < nearestDist {
			nearestDist = d
			nearest = i
		}
	}

	return &Set{
		Levels:       levels,
		UpperBound:   upper,
		LowerBound:   lower,
		NearestIndex: nearest,
	}, nil
}

// RoundPrice rounds a price to a tier-dependent precision, coarser for
// higher-priced assets. Rounding goes through decimal so that repeated
// generations cannot drift apart on float representation.
func RoundPrice(price float64) float64 {
	places := pricePrecision(price)
	rounded, _ := decimal.NewFromFloat(price).Round(places).Float64()
	return rounded
}

func pricePrecision(price float64) int32 {
	switch {
	case price >= 10000:
		return 1
	case price >= 1000:
		return 2
	case price >= 1:
		return 4
	default:
		return 8
	}
}

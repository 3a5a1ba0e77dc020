// Package sizing holds the pure order-size calculators. Every function
// converts a configured investment amount into a base-asset order size;
// nothing here touches strategy state or the exchange.
package sizing

import (
	"math"

	"multi-strategy-bot-go/internal/models"
)

// GridLevelSize returns the base-asset size of one grid order. A USD
// investment is split evenly across the levels and converted at the level
// price; an asset investment is split evenly as-is.
func GridLevelSize(investment float64, unit models.InvestmentUnit, levelCount int, levelPrice float64) float64 {
	if levelCount <= 0 || investment <= 0 {
		return 0
	}
	perLevel := investment / float64(levelCount)
	if unit == models.UnitAsset {
		return perLevel
	}
	if levelPrice <= 0 {
		return 0
	}
	return perLevel / levelPrice
}

// DCAOrderSize converts the configured USD order size into base units at
// the current price, after clamping the USD amount to [minUSD, maxUSD].
func DCAOrderSize(orderUSD, minUSD, maxUSD, price float64) float64 {
	if price <= 0 {
		return 0
	}
	usd := orderUSD
	if minUSD > 0 && usd < minUSD {
		usd = minUSD
	}
	if maxUSD > 0 && usd > maxUSD {
		usd = maxUSD
	}
	return usd / price
}

// MartingaleOrderUSD returns the USD size of the k-th sequence entry:
// base * multiplier^k, where k is the number of entries already placed.
func MartingaleOrderUSD(baseUSD, multiplier float64, ordersPlaced int) float64 {
	if baseUSD <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return baseUSD * math.Pow(multiplier, float64(ordersPlaced))
}

// PortfolioOrderUnits converts a USD rebalance delta into units of the
// asset at its current price. The sign of the delta decides the side; the
// returned size is always positive.
func PortfolioOrderUnits(deltaUSD, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Abs(deltaUSD) / price
}

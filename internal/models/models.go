package models

import (
	"fmt"
	"time"
)

// Side defines the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// BotType identifies a strategy family. Unknown values resolve to the
// volume-tracking placeholder strategy.
type BotType string

const (
	BotTypeGrid        BotType = "grid"
	BotTypeDCA         BotType = "dca"
	BotTypeMartingale  BotType = "martingale"
	BotTypePortfolio   BotType = "portfolio"
	BotTypePlaceholder BotType = "placeholder"
)

// InvestmentUnit declares whether the configured investment size is
// denominated in quote currency (USD) or in the base asset.
type InvestmentUnit string

const (
	UnitUSD   InvestmentUnit = "USD"
	UnitAsset InvestmentUnit = "asset"
)

// OrderRequest is the engine-side shape of an order sent to the exchange.
type OrderRequest struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price,omitempty"` // zero for market orders
	Type          OrderType `json:"type"`
	ReduceOnly    bool      `json:"reduce_only,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// OrderResponse is the per-order result of a placement call. A simulated or
// synchronous venue may report a market fill inline via ImmediatelyFilled
// instead of the fill stream.
type OrderResponse struct {
	Success           bool    `json:"success"`
	OrderID           string  `json:"order_id,omitempty"`
	ClientOrderID     string  `json:"client_order_id,omitempty"`
	Error             string  `json:"error,omitempty"`
	ImmediatelyFilled bool    `json:"immediately_filled,omitempty"`
	FillPrice         float64 `json:"fill_price,omitempty"`
	FillSize          float64 `json:"fill_size,omitempty"`
}

// Fill is a normalized execution report from the exchange.
type Fill struct {
	Symbol        string    `json:"symbol"`
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Side          Side      `json:"side"`
	Size          float64   `json:"size"`
	Price         float64   `json:"price"`
	Timestamp     time.Time `json:"timestamp"`
}

// OpenOrder describes a resting order as reported by the exchange.
type OpenOrder struct {
	Symbol        string  `json:"symbol"`
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	Side          Side    `json:"side"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price"`
}

// StrategyConfig holds the parameters a strategy instance runs with.
// It is immutable for the lifetime of a run; changes go through the
// strategy's UpdateConfig, which stops, applies and restarts.
type StrategyConfig struct {
	Symbol         string         `json:"symbol"`
	Investment     float64        `json:"investment"`
	InvestmentUnit InvestmentUnit `json:"investment_unit"`
	MaxPosition    float64        `json:"max_position,omitempty"`
	StopLossPct    float64        `json:"stop_loss_pct,omitempty"`
	TakeProfitPct  float64        `json:"take_profit_pct,omitempty"`
	// Metadata carries the strategy-specific keys (grid spacing, DCA
	// interval, target allocations, ...). Each strategy parses and
	// validates its own section at construction.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ConfigPatch is a partial configuration update. Nil fields are left
// untouched; Metadata entries are merged key by key.
type ConfigPatch struct {
	Investment    *float64               `json:"investment,omitempty"`
	MaxPosition   *float64               `json:"max_position,omitempty"`
	StopLossPct   *float64               `json:"stop_loss_pct,omitempty"`
	TakeProfitPct *float64               `json:"take_profit_pct,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Apply merges the patch into a config.
func (p ConfigPatch) Apply(cfg *StrategyConfig) {
	if p.Investment != nil {
		cfg.Investment = *p.Investment
	}
	if p.MaxPosition != nil {
		cfg.MaxPosition = *p.MaxPosition
	}
	if p.StopLossPct != nil {
		cfg.StopLossPct = *p.StopLossPct
	}
	if p.TakeProfitPct != nil {
		cfg.TakeProfitPct = *p.TakeProfitPct
	}
	if len(p.Metadata) > 0 {
		if cfg.Metadata == nil {
			cfg.Metadata = make(map[string]interface{}, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			cfg.Metadata[k] = v
		}
	}
}

// StrategyState is the read-only snapshot a strategy exposes to callers.
// The owning strategy is the only writer.
type StrategyState struct {
	IsActive       bool    `json:"is_active"`
	CurrentPrice   float64 `json:"current_price"`
	TotalPosition  float64 `json:"total_position"` // signed base-asset amount
	TotalProfit    float64 `json:"total_profit"`
	TradeCount     int     `json:"trade_count"`
	TotalVolume    float64 `json:"total_volume"` // base asset
	BuyVolume      float64 `json:"buy_volume"`
	SellVolume     float64 `json:"sell_volume"`
	TotalVolumeUSD float64 `json:"total_volume_usd"`
	BuyVolumeUSD   float64 `json:"buy_volume_usd"`
	SellVolumeUSD  float64 `json:"sell_volume_usd"`
}

// RebalanceOrder is one leg of a portfolio rebalance, sized in the
// asset's native units.
type RebalanceOrder struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Units    float64 `json:"units"`
	DeltaUSD float64 `json:"delta_usd"`
}

// RebalanceEvent is one entry in the portfolio rebalance history log.
type RebalanceEvent struct {
	Timestamp time.Time        `json:"timestamp"`
	MaxDrift  float64          `json:"max_drift"`
	Orders    []RebalanceOrder `json:"orders"`
}

// Signal is emitted when a strategy detects a stop-loss or take-profit
// condition. The engine only emits the signal; the closing order is the
// caller's decision.
type Signal struct {
	Type     string  `json:"type"` // "stop_loss" | "take_profit"
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	AvgCost  float64 `json:"avg_cost"`
	Position float64 `json:"position"`
}

// ConfigError marks a fatal configuration problem. Strategies refuse to
// construct or initialize on one.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for a named field.
func NewConfigError(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

package models

// Config is the top-level application configuration loaded from the JSON
// config file.
type Config struct {
	LiveAPIURL    string `json:"live_api_url,omitempty"`
	LiveWSURL     string `json:"live_ws_url,omitempty"`
	TestnetAPIURL string `json:"testnet_api_url,omitempty"`
	TestnetWSURL  string `json:"testnet_ws_url,omitempty"`
	IsTestnet     bool   `json:"is_testnet"`

	TradeLogPath      string `json:"trade_log_path,omitempty"`
	ReportIntervalSec int    `json:"report_interval_sec,omitempty"`

	LogConfig LogConfig   `json:"log"`
	Bots      []BotConfig `json:"bots"`
}

// LogConfig controls the zap/lumberjack logging setup.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // max size of one log file (MB)
	MaxBackups int    `json:"max_backups"` // rotated files to keep
	MaxAge     int    `json:"max_age"`     // days to keep rotated files
	Compress   bool   `json:"compress"`
}

// BotConfig declares one bot instance. The current shape nests the
// strategy-specific keys under "strategy"; older config files carried
// them flat at the top level. The orchestrator normalizes both shapes
// into a StrategyConfig before construction.
type BotConfig struct {
	ID             string         `json:"id"`
	Type           BotType        `json:"type"`
	Symbol         string         `json:"symbol"`
	Investment     float64        `json:"investment"`
	InvestmentUnit InvestmentUnit `json:"investment_unit,omitempty"`
	MaxPosition    float64        `json:"max_position,omitempty"`
	StopLossPct    float64        `json:"stop_loss_pct,omitempty"`
	TakeProfitPct  float64        `json:"take_profit_pct,omitempty"`

	// Current shape.
	Strategy map[string]interface{} `json:"strategy,omitempty"`

	// Legacy flat shape, kept for configs written before the nested
	// strategy section existed.
	GridSpacing    float64 `json:"grid_spacing,omitempty"`
	GridQuantity   int     `json:"grid_quantity,omitempty"`
	GridMode       string  `json:"grid_mode,omitempty"`
	UpperBound     float64 `json:"upper_bound,omitempty"`
	LowerBound     float64 `json:"lower_bound,omitempty"`
	ActiveLevels   int     `json:"active_levels,omitempty"`
	IntervalHours  float64 `json:"interval_hours,omitempty"`
	OrderSize      float64 `json:"order_size,omitempty"`
	MaxOrders      int     `json:"max_orders,omitempty"`
	MaxDailyOrders int     `json:"max_daily_orders,omitempty"`
	MinOrderSize   float64 `json:"min_order_size,omitempty"`
	MaxOrderSize   float64 `json:"max_order_size,omitempty"`
}

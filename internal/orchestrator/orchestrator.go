// Package orchestrator owns the bot fleet: it normalizes bot configs,
// constructs strategies through the factory, runs their lifecycles and
// feeds the trade log from their events.
package orchestrator

import (
	"fmt"
	"sync"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/strategy"
	"multi-strategy-bot-go/internal/tradelog"

	"go.uber.org/zap"
)

// Bot pairs a configured bot ID with its running strategy.
type Bot struct {
	ID       string
	Strategy strategy.Strategy
}

// Orchestrator constructs and supervises all configured bots against a
// shared exchange connection.
type Orchestrator struct {
	ex  exchange.Exchange
	rec tradelog.Recorder
	log *zap.SugaredLogger

	mu   sync.RWMutex
	bots []*Bot
}

// New builds every bot in the config. A bot whose strategy parameters
// fail validation aborts construction; a half-built fleet is worse than
// a clean error at startup.
func New(cfg *models.Config, ex exchange.Exchange, rec tradelog.Recorder, log *zap.SugaredLogger) (*Orchestrator, error) {
	if rec == nil {
		rec = tradelog.NewNopRecorder()
	}
	o := &Orchestrator{ex: ex, rec: rec, log: log}

	for _, bc := range cfg.Bots {
		s, err := strategy.New(bc.Type, NormalizeBotConfig(bc), ex, log)
		if err != nil {
			return nil, fmt.Errorf("bot %q: %w", bc.ID, err)
		}
		bot := &Bot{ID: bc.ID, Strategy: s}
		o.attachRecorder(bot)
		o.bots = append(o.bots, bot)
	}
	return o, nil
}

// NormalizeBotConfig flattens a BotConfig into the StrategyConfig the
// factory consumes. The nested strategy section wins; legacy flat fields
// fill in anything it does not set.
func NormalizeBotConfig(bc models.BotConfig) models.StrategyConfig {
	meta := make(map[string]interface{})

	put := func(key string, value interface{}, zero bool) {
		if zero {
			return
		}
		meta[key] = value
	}
	put("grid_spacing", bc.GridSpacing, bc.GridSpacing == 0)
	put("grid_quantity", bc.GridQuantity, bc.GridQuantity == 0)
	put("grid_mode", bc.GridMode, bc.GridMode == "")
	put("upper_bound", bc.UpperBound, bc.UpperBound == 0)
	put("lower_bound", bc.LowerBound, bc.LowerBound == 0)
	put("active_levels", bc.ActiveLevels, bc.ActiveLevels == 0)
	put("interval_hours", bc.IntervalHours, bc.IntervalHours == 0)
	put("order_size", bc.OrderSize, bc.OrderSize == 0)
	put("max_orders", bc.MaxOrders, bc.MaxOrders == 0)
	put("max_daily_orders", bc.MaxDailyOrders, bc.MaxDailyOrders == 0)
	put("min_order_size", bc.MinOrderSize, bc.MinOrderSize == 0)
	put("max_order_size", bc.MaxOrderSize, bc.MaxOrderSize == 0)

	for k, v := range bc.Strategy {
		meta[k] = v
	}

	unit := bc.InvestmentUnit
	if unit == "" {
		unit = models.UnitUSD
	}
	return models.StrategyConfig{
		Symbol:         bc.Symbol,
		Investment:     bc.Investment,
		InvestmentUnit: unit,
		MaxPosition:    bc.MaxPosition,
		StopLossPct:    bc.StopLossPct,
		TakeProfitPct:  bc.TakeProfitPct,
		Metadata:       meta,
	}
}

// attachRecorder wires a bot's fill and rebalance events into the trade
// log. Recording failures are logged, never propagated into the
// strategy's cycle.
func (o *Orchestrator) attachRecorder(bot *Bot) {
	id := bot.ID
	bot.Strategy.Events().On(strategy.EventOrderFilled, func(payload interface{}) {
		fill, ok := payload.(models.Fill)
		if !ok {
			return
		}
		if err := o.rec.RecordFill(id, fill); err != nil {
			o.log.Warnw("trade log write failed", "bot", id, "err", err)
		}
	})
	bot.Strategy.Events().On(strategy.EventRebalanced, func(payload interface{}) {
		event, ok := payload.(models.RebalanceEvent)
		if !ok {
			return
		}
		if err := o.rec.RecordRebalance(id, event); err != nil {
			o.log.Warnw("trade log write failed", "bot", id, "err", err)
		}
	})
	bot.Strategy.Events().On(strategy.EventError, func(payload interface{}) {
		o.log.Errorw("strategy error", "bot", id, "err", payload)
	})
}

// StartAll initializes and starts every bot. One bot failing does not
// keep the rest from running; failures are collected and reported.
func (o *Orchestrator) StartAll() error {
	o.mu.RLock()
	bots := o.bots
	o.mu.RUnlock()

	var failed []string
	for _, bot := range bots {
		if err := bot.Strategy.Initialize(); err != nil {
			o.log.Errorw("bot failed to initialize", "bot", bot.ID, "err", err)
			failed = append(failed, bot.ID)
			continue
		}
		if err := bot.Strategy.Start(); err != nil {
			o.log.Errorw("bot failed to start", "bot", bot.ID, "err", err)
			failed = append(failed, bot.ID)
			continue
		}
		o.log.Infow("bot started", "bot", bot.ID, "type", bot.Strategy.Type(), "symbol", bot.Strategy.Symbol())
	}
	if len(failed) == len(bots) && len(bots) > 0 {
		return fmt.Errorf("no bot started, failed: %v", failed)
	}
	if len(failed) > 0 {
		o.log.Warnw("running with a partial fleet", "failed", failed)
	}
	return nil
}

// StopAll stops every running bot.
func (o *Orchestrator) StopAll() {
	o.mu.RLock()
	bots := o.bots
	o.mu.RUnlock()

	for _, bot := range bots {
		if err := bot.Strategy.Stop(); err != nil {
			o.log.Warnw("bot failed to stop cleanly", "bot", bot.ID, "err", err)
		}
	}
}

// Bots returns the fleet.
func (o *Orchestrator) Bots() []*Bot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Bot, len(o.bots))
	copy(out, o.bots)
	return out
}

// Bot looks a bot up by its configured ID.
func (o *Orchestrator) Bot(id string) (*Bot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, bot := range o.bots {
		if bot.ID == id {
			return bot, true
		}
	}
	return nil, false
}

// UpdateBotConfig applies a config patch to one bot.
func (o *Orchestrator) UpdateBotConfig(id string, patch models.ConfigPatch) error {
	bot, ok := o.Bot(id)
	if !ok {
		return fmt.Errorf("unknown bot %q", id)
	}
	return bot.Strategy.UpdateConfig(patch)
}

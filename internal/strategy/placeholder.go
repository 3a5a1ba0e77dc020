package strategy

import (
	"fmt"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"

	"go.uber.org/zap"
)

// PlaceholderStrategy stands in for bot types that have no trading
// logic yet. It tracks prices and volume from the streams but never
// places an order, so an unknown type in the config degrades to a
// passive observer instead of an error.
type PlaceholderStrategy struct {
	base
}

// NewPlaceholderStrategy builds a passive strategy under the given type
// label.
func NewPlaceholderStrategy(botType models.BotType, cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) *PlaceholderStrategy {
	return &PlaceholderStrategy{base: newBase(botType, cfg, ex, log)}
}

func (s *PlaceholderStrategy) Initialize() error {
	if err := s.ensureConnected(); err != nil {
		return fmt.Errorf("exchange connect failed: %w", err)
	}
	cfg := s.config()
	if cfg.Symbol != "" {
		if price, err := s.ex.GetPrice(cfg.Symbol); err == nil {
			s.setCurrentPrice(price)
		}
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.events.Emit(EventInitialized, nil)
	return nil
}

func (s *PlaceholderStrategy) Start() error {
	if s.isActive() {
		return fmt.Errorf("placeholder strategy is already running")
	}
	cfg := s.config()
	if cfg.Symbol != "" {
		priceSub, err := s.ex.SubscribePrices(cfg.Symbol, s.OnPriceUpdate)
		if err != nil {
			return fmt.Errorf("price subscription failed: %w", err)
		}
		s.trackSub(priceSub)
		fillSub, err := s.ex.SubscribeFills(cfg.Symbol, s.OnFill)
		if err != nil {
			s.releaseSubs()
			return fmt.Errorf("fill subscription failed: %w", err)
		}
		s.trackSub(fillSub)
	}
	s.setActive(true)
	s.events.Emit(EventStarted, nil)
	s.log.Info("placeholder strategy started, observing only")
	return nil
}

func (s *PlaceholderStrategy) Stop() error {
	if !s.isActive() {
		return nil
	}
	s.setActive(false)
	s.releaseSubs()
	s.events.Emit(EventStopped, nil)
	return nil
}

func (s *PlaceholderStrategy) UpdateConfig(patch models.ConfigPatch) error {
	return s.updateConfig(s, patch, nil)
}

func (s *PlaceholderStrategy) OnPriceUpdate(_ string, price float64) {
	s.setCurrentPrice(price)
}

// OnFill only keeps the volume counters; the placeholder has no position
// logic of its own.
func (s *PlaceholderStrategy) OnFill(fill models.Fill) {
	s.applyFillVolumes(fill)
}

func (s *PlaceholderStrategy) Statistics() map[string]interface{} {
	st := s.State()
	return map[string]interface{}{
		"trade_count":      st.TradeCount,
		"total_volume":     st.TotalVolume,
		"total_volume_usd": st.TotalVolumeUSD,
	}
}

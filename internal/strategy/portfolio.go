package strategy

import (
	"fmt"
	"math"
	"sort"
	"time"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/sizing"

	"go.uber.org/zap"
)

// allocationTolerance is the slack allowed when checking that the target
// weights sum to 1.
const allocationTolerance = 0.001

// assetState tracks one portfolio constituent.
type assetState struct {
	amount  float64 // held units
	price   float64
	value   float64
	target  float64 // configured weight
	current float64 // observed weight
	drift   float64 // |current - target|
}

// PortfolioStrategy holds a basket of assets at target weights and
// rebalances with market orders when the worst drift crosses the
// threshold. Unallocated capital sits in the quote balance and counts
// toward total value.
type PortfolioStrategy struct {
	base

	targets            map[string]float64
	driftThreshold     float64
	rebalanceInterval  time.Duration
	minRebalanceAmount float64
	refreshInterval    time.Duration

	assets        map[string]*assetState
	quoteBalance  float64
	maxDrift      float64
	lastRebalance time.Time
	history       []models.RebalanceEvent
}

// NewPortfolioStrategy validates the allocation table and builds the
// strategy.
func NewPortfolioStrategy(cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) (*PortfolioStrategy, error) {
	s := &PortfolioStrategy{
		base:   newBase(models.BotTypePortfolio, cfg, ex, log),
		assets: make(map[string]*assetState),
	}
	if err := s.loadParams(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PortfolioStrategy) loadParams() error {
	cfg := s.config()
	meta := cfg.Metadata

	targets := metaFloatMap(meta, "target_allocations")
	if len(targets) < 2 || len(targets) > 10 {
		return models.NewConfigError("target_allocations", "need between 2 and 10 assets, got %d", len(targets))
	}
	var sum float64
	for sym, w := range targets {
		if w <= 0 || w >= 1 {
			return models.NewConfigError("target_allocations", "weight for %s must be in (0, 1), got %v", sym, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > allocationTolerance {
		return models.NewConfigError("target_allocations", "weights sum to %v, want 1 within ±%v", sum, allocationTolerance)
	}

	// rebalance_threshold is the documented key, drift_threshold the
	// legacy spelling.
	threshold := metaFloat(meta, "rebalance_threshold", metaFloat(meta, "drift_threshold", 0.05))
	if threshold < 0.01 || threshold > 0.20 {
		return models.NewConfigError("rebalance_threshold", "must be between 0.01 and 0.20, got %v", threshold)
	}

	intervalHours := metaInt(meta, "rebalance_interval_hours", 24)
	if intervalHours < 1 {
		return models.NewConfigError("rebalance_interval_hours", "must be at least 1, got %d", intervalHours)
	}
	minAmount := metaFloat(meta, "min_rebalance_amount", 10)
	refreshSec := metaInt(meta, "refresh_interval_sec", 30)
	if refreshSec < 1 {
		refreshSec = 30
	}

	s.mu.Lock()
	s.targets = targets
	s.driftThreshold = threshold
	s.rebalanceInterval = time.Duration(intervalHours) * time.Hour
	s.minRebalanceAmount = minAmount
	s.refreshInterval = time.Duration(refreshSec) * time.Second
	for sym, w := range targets {
		if _, ok := s.assets[sym]; !ok {
			s.assets[sym] = &assetState{}
		}
		s.assets[sym].target = w
	}
	for sym := range s.assets {
		if _, ok := targets[sym]; !ok {
			delete(s.assets, sym)
		}
	}
	s.mu.Unlock()
	return nil
}

// Initialize connects and prices every constituent. The configured
// investment funds the quote balance; the first rebalance buys into the
// targets from there.
func (s *PortfolioStrategy) Initialize() error {
	if err := s.ensureConnected(); err != nil {
		return fmt.Errorf("exchange connect failed: %w", err)
	}

	cfg := s.config()
	s.mu.Lock()
	if s.quoteBalance == 0 && len(s.history) == 0 {
		s.quoteBalance = cfg.Investment
	}
	symbols := make([]string, 0, len(s.assets))
	for sym := range s.assets {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	for _, sym := range symbols {
		price, err := s.ex.GetPrice(sym)
		if err != nil {
			return fmt.Errorf("failed to fetch price for %s: %w", sym, err)
		}
		s.mu.Lock()
		s.assets[sym].price = price
		s.mu.Unlock()
	}
	s.refreshAllocations()

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.events.Emit(EventInitialized, nil)
	return nil
}

func (s *PortfolioStrategy) Start() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("portfolio strategy is not initialized")
	}
	if s.state.IsActive {
		s.mu.Unlock()
		return fmt.Errorf("portfolio strategy is already running")
	}
	s.stopCh = make(chan struct{})
	refresh := s.refreshInterval
	symbols := make([]string, 0, len(s.assets))
	for sym := range s.assets {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	for _, sym := range symbols {
		priceSub, err := s.ex.SubscribePrices(sym, s.OnPriceUpdate)
		if err != nil {
			s.releaseSubs()
			return fmt.Errorf("price subscription for %s failed: %w", sym, err)
		}
		s.trackSub(priceSub)
		fillSub, err := s.ex.SubscribeFills(sym, s.OnFill)
		if err != nil {
			s.releaseSubs()
			return fmt.Errorf("fill subscription for %s failed: %w", sym, err)
		}
		s.trackSub(fillSub)
	}

	go s.run(refresh)

	s.setActive(true)
	s.events.Emit(EventStarted, nil)
	s.log.Infow("portfolio strategy started", "assets", len(symbols), "threshold", s.driftThreshold)
	return nil
}

func (s *PortfolioStrategy) Stop() error {
	if !s.isActive() {
		return nil
	}
	s.setActive(false)

	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.mu.Unlock()

	s.releaseSubs()
	s.events.Emit(EventStopped, nil)
	s.log.Info("portfolio strategy stopped")
	return nil
}

func (s *PortfolioStrategy) UpdateConfig(patch models.ConfigPatch) error {
	return s.updateConfig(s, patch, s.loadParams)
}

// OnPriceUpdate reprices one constituent and refreshes the allocation
// table. It never triggers a rebalance by itself; that is the check
// loop's job, so the interval rate limit holds.
func (s *PortfolioStrategy) OnPriceUpdate(symbol string, price float64) {
	s.mu.Lock()
	if a, ok := s.assets[symbol]; ok {
		a.price = price
	}
	s.mu.Unlock()
	s.refreshAllocations()
}

// OnFill folds an execution reported through the fill stream into the
// holdings; fills placed by other strategies on a shared symbol are
// ignored.
func (s *PortfolioStrategy) OnFill(fill models.Fill) {
	if !s.takeOrder(fill) {
		return
	}
	s.applyRebalanceFill(fill)
	s.refreshAllocations()
}

func (s *PortfolioStrategy) run(refresh time.Duration) {
	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()
	if stopCh == nil {
		return
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.isActive() {
				return
			}
			s.refreshPrices()
			s.guarded("rebalance-check", s.CheckRebalance)
		case <-stopCh:
			return
		}
	}
}

func (s *PortfolioStrategy) refreshPrices() {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.assets))
	for sym := range s.assets {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()

	for _, sym := range symbols {
		price, err := s.ex.GetPrice(sym)
		if err != nil {
			s.log.Warnw("price refresh failed", "symbol", sym, "err", err)
			continue
		}
		s.mu.Lock()
		s.assets[sym].price = price
		s.mu.Unlock()
	}
	s.refreshAllocations()
}

// refreshAllocations recomputes values, weights and drift from the
// current prices.
func (s *PortfolioStrategy) refreshAllocations() {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.quoteBalance
	for _, a := range s.assets {
		a.value = a.amount * a.price
		total += a.value
	}
	s.maxDrift = 0
	for _, a := range s.assets {
		if total > 0 {
			a.current = a.value / total
		} else {
			a.current = 0
		}
		a.drift = math.Abs(a.current - a.target)
		if a.drift > s.maxDrift {
			s.maxDrift = a.drift
		}
	}
}

// CheckRebalance runs one drift check and rebalances if the threshold
// and the interval rate limit both allow it.
func (s *PortfolioStrategy) CheckRebalance() {
	s.mu.RLock()
	maxDrift := s.maxDrift
	threshold := s.driftThreshold
	last := s.lastRebalance
	interval := s.rebalanceInterval
	s.mu.RUnlock()

	if maxDrift < threshold {
		return
	}
	if !last.IsZero() && time.Since(last) < interval {
		s.log.Debugw("rebalance deferred by interval", "max_drift", maxDrift, "since_last", time.Since(last))
		return
	}
	s.rebalance()
}

// rebalance computes the per-asset USD deltas against the target weights
// and executes them with market orders, sells before buys so the quote
// balance is replenished first.
func (s *PortfolioStrategy) rebalance() {
	s.mu.RLock()
	total := s.quoteBalance
	for _, a := range s.assets {
		total += a.value
	}
	type leg struct {
		symbol string
		delta  float64 // target value - current value
		price  float64
	}
	legs := make([]leg, 0, len(s.assets))
	for sym, a := range s.assets {
		delta := a.target*total - a.value
		if math.Abs(delta) < s.minRebalanceAmount {
			continue
		}
		legs = append(legs, leg{symbol: sym, delta: delta, price: a.price})
	}
	preDrift := s.maxDrift
	s.mu.RUnlock()

	if len(legs) == 0 {
		return
	}
	// Sells first; within a side, biggest move first.
	sort.Slice(legs, func(i, j int) bool {
		if (legs[i].delta < 0) != (legs[j].delta < 0) {
			return legs[i].delta < 0
		}
		return math.Abs(legs[i].delta) > math.Abs(legs[j].delta)
	})

	event := models.RebalanceEvent{Timestamp: time.Now(), MaxDrift: preDrift}
	for _, l := range legs {
		units := sizing.PortfolioOrderUnits(l.delta, l.price)
		if units <= 0 {
			continue
		}
		side := models.Buy
		if l.delta < 0 {
			side = models.Sell
		}
		req := models.OrderRequest{
			Symbol:        l.symbol,
			Side:          side,
			Size:          units,
			Type:          models.Market,
			ClientOrderID: models.NewClientOrderID(),
		}
		resp, err := s.ex.PlaceOrder(req)
		if err != nil || !resp.Success {
			s.log.Warnw("rebalance leg failed", "symbol", l.symbol, "side", side, "err", err, "resp_err", respError(resp))
			continue
		}
		s.events.Emit(EventOrderPlaced, req)
		if resp.ImmediatelyFilled {
			s.applyRebalanceFill(models.Fill{
				Symbol:    l.symbol,
				OrderID:   resp.OrderID,
				Side:      side,
				Size:      resp.FillSize,
				Price:     resp.FillPrice,
				Timestamp: time.Now(),
			})
		} else {
			s.trackOrder(orderKey(resp, req))
		}
		event.Orders = append(event.Orders, models.RebalanceOrder{
			Symbol: l.symbol, Side: side, Units: units, DeltaUSD: l.delta,
		})
	}
	if len(event.Orders) == 0 {
		return
	}

	s.mu.Lock()
	s.lastRebalance = event.Timestamp
	s.history = append(s.history, event)
	s.mu.Unlock()

	s.refreshAllocations()
	s.events.Emit(EventRebalanced, event)
	s.log.Infow("portfolio rebalanced", "legs", len(event.Orders), "max_drift", preDrift)
}

// applyRebalanceFill folds an inline fill without re-entering the
// allocation refresh per leg; the caller refreshes once at the end.
func (s *PortfolioStrategy) applyRebalanceFill(fill models.Fill) {
	s.mu.Lock()
	if a, ok := s.assets[fill.Symbol]; ok {
		usd := fill.Size * fill.Price
		if fill.Side == models.Buy {
			a.amount += fill.Size
			s.quoteBalance -= usd
		} else {
			a.amount -= fill.Size
			s.quoteBalance += usd
		}
		a.price = fill.Price
	}
	s.mu.Unlock()
	s.applyFillVolumes(fill)
}

// MaxDrift reports the worst absolute allocation drift.
func (s *PortfolioStrategy) MaxDrift() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxDrift
}

// Allocations reports the current weight per asset.
func (s *PortfolioStrategy) Allocations() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.assets))
	for sym, a := range s.assets {
		out[sym] = a.current
	}
	return out
}

// Holdings reports the held units per asset.
func (s *PortfolioStrategy) Holdings() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.assets))
	for sym, a := range s.assets {
		out[sym] = a.amount
	}
	return out
}

// History returns a copy of the rebalance log.
func (s *PortfolioStrategy) History() []models.RebalanceEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RebalanceEvent, len(s.history))
	copy(out, s.history)
	return out
}

func (s *PortfolioStrategy) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.quoteBalance
	for _, a := range s.assets {
		total += a.value
	}
	return map[string]interface{}{
		"assets":         len(s.assets),
		"total_value":    total,
		"quote_balance":  s.quoteBalance,
		"max_drift":      s.maxDrift,
		"rebalances":     len(s.history),
		"last_rebalance": s.lastRebalance,
	}
}

package strategy

import (
	"fmt"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/grid"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/sizing"

	"go.uber.org/zap"
)

// maxBatchOrders is the hard safety cap on one placement batch. Excess
// requests are discarded, never queued.
const maxBatchOrders = 10

// gridOrder tracks one live order and the level index backing it.
type gridOrder struct {
	price      float64
	side       models.Side
	size       float64
	levelIndex int
}

// GridStrategy places limit orders on a deterministic price grid and
// reconciles with a clean slate after every fill: cancel everything,
// re-select the active levels against the fresh price, re-place.
type GridStrategy struct {
	base

	gridCfg grid.Config
	set     *grid.Set

	// liveOrders maps orderID -> backing level. Its level indices stay
	// disjoint from the executed set: an index moves from live to
	// executed exactly once, on fill.
	liveOrders map[string]gridOrder
	executed   map[int]bool

	baseAmount   float64
	quoteBalance float64
	avgEntry     float64
}

// NewGridStrategy validates the grid parameters and builds the strategy.
func NewGridStrategy(cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) (*GridStrategy, error) {
	s := &GridStrategy{
		base:       newBase(models.BotTypeGrid, cfg, ex, log),
		liveOrders: make(map[string]gridOrder),
		executed:   make(map[int]bool),
	}
	if err := s.loadParams(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GridStrategy) loadParams() error {
	cfg := s.config()
	meta := cfg.Metadata

	gc := grid.Config{
		Spacing:      metaFloat(meta, "grid_spacing", 0),
		Quantity:     metaInt(meta, "grid_quantity", 0),
		Mode:         grid.Mode(metaString(meta, "grid_mode", string(grid.Arithmetic))),
		UpperBound:   metaFloat(meta, "upper_bound", 0),
		LowerBound:   metaFloat(meta, "lower_bound", 0),
		ActiveLevels: metaInt(meta, "active_levels", 2),
	}
	if gc.Quantity < 2 {
		return models.NewConfigError("grid_quantity", "need at least 2 levels, got %d", gc.Quantity)
	}
	if gc.ActiveLevels < 1 || gc.ActiveLevels > 10 {
		return models.NewConfigError("active_levels", "must be between 1 and 10, got %d", gc.ActiveLevels)
	}
	if gc.Mode != grid.Arithmetic && gc.Mode != grid.Geometric {
		return models.NewConfigError("grid_mode", "unknown mode %q", gc.Mode)
	}

	s.mu.Lock()
	s.gridCfg = gc
	s.mu.Unlock()
	return nil
}

// Initialize connects, observes the current price and generates the level
// set. A generation failure is a configuration error: the strategy never
// starts.
func (s *GridStrategy) Initialize() error {
	if err := s.ensureConnected(); err != nil {
		return fmt.Errorf("exchange connect failed: %w", err)
	}

	cfg := s.config()
	price, err := s.ex.GetPrice(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch current price for %s: %w", cfg.Symbol, err)
	}

	s.mu.RLock()
	gc := s.gridCfg
	s.mu.RUnlock()

	set, err := grid.Generate(gc, price)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.set = set
	s.state.CurrentPrice = price
	s.initialized = true
	s.mu.Unlock()

	s.log.Infow("grid generated",
		"levels", len(set.Levels), "lower", set.LowerBound, "upper", set.UpperBound,
		"nearest_index", set.NearestIndex)
	s.events.Emit(EventInitialized, nil)
	return nil
}

// Start cancels any stray orders for the symbol, places the initial
// active selection and subscribes to the price and fill streams.
func (s *GridStrategy) Start() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("grid strategy is not initialized")
	}
	if s.state.IsActive {
		s.mu.Unlock()
		return fmt.Errorf("grid strategy is already running")
	}
	price := s.state.CurrentPrice
	set := s.set
	gc := s.gridCfg
	s.mu.Unlock()

	cfg := s.config()
	if err := s.ex.CancelAllOrders(cfg.Symbol); err != nil {
		s.log.Warnw("failed to cancel stray orders on start", "err", err)
	}

	sel := grid.SelectActive(set.Levels, price, gc.ActiveLevels, s.executedSnapshot())
	s.placeSelection(sel)

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
	s.trackSub(s.ex.On(exchange.EventReconnected, func(interface{}) { s.onReconnected() }))

	s.setActive(true)
	s.events.Emit(EventStarted, nil)
	s.log.Info("grid strategy started")
	return nil
}

// Stop cancels all live orders, clears the in-memory order map and
// unsubscribes from the feeds.
func (s *GridStrategy) Stop() error {
	if !s.isActive() {
		return nil
	}
	s.setActive(false)

	s.cancelLiveOrders()
	s.releaseSubs()

	s.events.Emit(EventStopped, nil)
	s.log.Info("grid strategy stopped")
	return nil
}

func (s *GridStrategy) UpdateConfig(patch models.ConfigPatch) error {
	return s.updateConfig(s, patch, s.loadParams)
}

// OnPriceUpdate records the fresh price. The grid acts on fills, not on
// every tick.
func (s *GridStrategy) OnPriceUpdate(_ string, price float64) {
	s.setCurrentPrice(price)
}

// OnFill is the reconciliation entry point. A fill arriving while a
// previous one is still being handled is dropped by the guard.
func (s *GridStrategy) OnFill(fill models.Fill) {
	if !s.isActive() {
		return
	}
	s.guarded("fill", func() { s.handleFill(fill) })
}

func (s *GridStrategy) handleFill(fill models.Fill) {
	s.mu.Lock()
	order, ok := s.liveOrders[fill.OrderID]
	if !ok {
		s.mu.Unlock()
		return // not one of ours
	}
	delete(s.liveOrders, fill.OrderID)
	s.executed[order.levelIndex] = true

	if fill.Side == models.Buy {
		newBase := s.baseAmount + fill.Size
		if newBase > 0 {
			s.avgEntry = (s.avgEntry*s.baseAmount + fill.Price*fill.Size) / newBase
		}
		s.baseAmount = newBase
		s.quoteBalance -= fill.Size * fill.Price
	} else {
		// Profit is attributed only to inventory bought this session; a
		// sell without backing inventory cannot drive the base amount
		// negative.
		closed := fill.Size
		if closed > s.baseAmount {
			closed = s.baseAmount
		}
		if closed > 0 {
			s.state.TotalProfit += (fill.Price - s.avgEntry) * closed
		}
		s.baseAmount -= closed
		if s.baseAmount == 0 {
			s.avgEntry = 0
		}
		s.quoteBalance += fill.Size * fill.Price
	}
	s.mu.Unlock()

	s.applyFillVolumes(fill)
	s.log.Infow("grid level filled",
		"level", order.levelIndex, "side", fill.Side, "price", fill.Price, "size", fill.Size)

	// Clean-slate cycle: cancel every other live order, then re-select
	// around the fill price with an empty executed set so previously
	// executed levels are eligible again. The strict price inequality
	// keeps the just-filled level itself out of the new selection.
	s.cancelLiveOrders()
	s.reconcileAt(fill.Price)
}

// placeSelection places one limit order per selected level, capped at
// maxBatchOrders. Individual failures are logged and skipped; they never
// abort the batch.
func (s *GridStrategy) placeSelection(sel grid.Selection) {
	levels := sel.Levels
	if len(levels) > maxBatchOrders {
		s.log.Warnw("placement batch over the safety cap, discarding excess",
			"requested", len(levels), "cap", maxBatchOrders)
		levels = levels[:maxBatchOrders]
	}

	cfg := s.config()
	s.mu.RLock()
	quantity := s.gridCfg.Quantity
	s.mu.RUnlock()

	reqs := make([]models.OrderRequest, 0, len(levels))
	meta := make([]grid.Level, 0, len(levels))
	for _, lvl := range levels {
		size := sizing.GridLevelSize(cfg.Investment, cfg.InvestmentUnit, quantity, lvl.Price)
		if size <= 0 {
			continue
		}
		reqs = append(reqs, models.OrderRequest{
			Symbol:        cfg.Symbol,
			Side:          lvl.Side,
			Size:          size,
			Price:         lvl.Price,
			Type:          models.Limit,
			ClientOrderID: models.NewClientOrderID(),
		})
		meta = append(meta, lvl)
	}

	responses := s.ex.PlaceOrders(reqs)
	for i, resp := range responses {
		if !resp.Success {
			s.log.Warnw("order placement failed, skipping level",
				"level", meta[i].Index, "price", meta[i].Price, "err", resp.Error)
			continue
		}
		s.mu.Lock()
		s.liveOrders[resp.OrderID] = gridOrder{
			price:      meta[i].Price,
			side:       meta[i].Side,
			size:       reqs[i].Size,
			levelIndex: meta[i].Index,
		}
		s.mu.Unlock()
		s.events.Emit(EventOrderPlaced, reqs[i])
	}
}

// cancelLiveOrders cancels everything in the live-order map and clears
// it. Per-order cancellation failures are logged and skipped.
func (s *GridStrategy) cancelLiveOrders() {
	cfg := s.config()

	s.mu.Lock()
	ids := make([]string, 0, len(s.liveOrders))
	for id := range s.liveOrders {
		ids = append(ids, id)
	}
	s.liveOrders = make(map[string]gridOrder)
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	for i, err := range s.ex.CancelOrders(cfg.Symbol, ids) {
		if err != nil {
			s.log.Warnw("order cancellation failed, skipping", "order_id", ids[i], "err", err)
		}
	}
}

// onReconnected is the Running -> Running recovery path: stale order
// bookkeeping is discarded and the grid is re-placed from the current
// logical state.
func (s *GridStrategy) onReconnected() {
	if !s.isActive() {
		return
	}
	s.guarded("reconnected", func() {
		s.log.Info("reconnected, re-placing grid")
		cfg := s.config()
		if err := s.ex.CancelAllOrders(cfg.Symbol); err != nil {
			s.log.Warnw("cancel-all during recovery failed", "err", err)
		}
		s.mu.Lock()
		s.liveOrders = make(map[string]gridOrder)
		price := s.state.CurrentPrice
		s.mu.Unlock()
		s.reconcileAt(price)
	})
}

func (s *GridStrategy) reconcileAt(price float64) {
	s.mu.RLock()
	set := s.set
	gc := s.gridCfg
	s.mu.RUnlock()
	sel := grid.SelectActive(set.Levels, price, gc.ActiveLevels, map[int]bool{})
	s.placeSelection(sel)
}

func (s *GridStrategy) executedSnapshot() map[int]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[int]bool, len(s.executed))
	for k, v := range s.executed {
		snap[k] = v
	}
	return snap
}

// Statistics reports the grid-specific view of the run.
func (s *GridStrategy) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := map[string]interface{}{
		"live_orders":    len(s.liveOrders),
		"executed_count": len(s.executed),
		"base_amount":    s.baseAmount,
		"quote_balance":  s.quoteBalance,
		"avg_entry":      s.avgEntry,
		"total_profit":   s.state.TotalProfit,
	}
	if s.set != nil {
		stats["level_count"] = len(s.set.Levels)
		stats["lower_bound"] = s.set.LowerBound
		stats["upper_bound"] = s.set.UpperBound
	}
	return stats
}

// LiveLevelIndices exposes the indices currently backed by live orders,
// used by tests to check the live/executed disjointness invariant.
func (s *GridStrategy) LiveLevelIndices() map[int]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]bool, len(s.liveOrders))
	for _, o := range s.liveOrders {
		out[o.levelIndex] = true
	}
	return out
}

// ExecutedIndices exposes the executed-level set.
func (s *GridStrategy) ExecutedIndices() map[int]bool {
	return s.executedSnapshot()
}

package strategy

import (
	"fmt"
	"time"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/sizing"

	"go.uber.org/zap"
)

// martingaleEntry is one sequence buy.
type martingaleEntry struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	USD       float64   `json:"usd"`
	Timestamp time.Time `json:"timestamp"`
}

// MartingaleStrategy runs buy sequences with geometrically growing
// sizes. Out of position it waits for a drop from the tracked reference
// high; in position it adds on further drops from the last entry and
// exits the whole position at the profit target.
type MartingaleStrategy struct {
	base

	stepMultiplier float64
	maxSeqOrders   int
	baseOrderUSD   float64
	priceDropPct   float64
	profitPct      float64
	maxPosMultiple float64
	pollInterval   time.Duration

	seqOrders      []martingaleEntry
	invested       float64
	position       float64
	avgEntry       float64
	profitTarget   float64
	lastEntryPrice float64
	nextOrderUSD   float64
	entryRef       float64 // highest price seen while out of position
	sequencesDone  int
}

// NewMartingaleStrategy validates the sequence parameters and builds the
// strategy.
func NewMartingaleStrategy(cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) (*MartingaleStrategy, error) {
	s := &MartingaleStrategy{base: newBase(models.BotTypeMartingale, cfg, ex, log)}
	if err := s.loadParams(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MartingaleStrategy) loadParams() error {
	meta := s.config().Metadata

	mult := metaFloat(meta, "step_multiplier", 2.0)
	maxOrders := metaInt(meta, "max_orders", 5)
	baseUSD := metaFloat(meta, "base_order_size", 0)
	dropPct := metaGroupFloat(meta, "entry_trigger", "price_drop_percentage", 0)
	profitPct := metaGroupFloat(meta, "exit_strategy", "profit_percentage", 0)
	posMult := metaGroupFloat(meta, "safety_controls", "max_position_multiple", 0)
	pollSec := metaInt(meta, "poll_interval_sec", 10)

	if mult < 1.1 || mult > 5.0 {
		return models.NewConfigError("step_multiplier", "must be between 1.1 and 5.0, got %v", mult)
	}
	if maxOrders < 2 || maxOrders > 10 {
		return models.NewConfigError("max_orders", "must be between 2 and 10, got %d", maxOrders)
	}
	if baseUSD <= 0 {
		return models.NewConfigError("base_order_size", "must be positive, got %v", baseUSD)
	}
	if dropPct <= 0 {
		return models.NewConfigError("price_drop_percentage", "must be positive, got %v", dropPct)
	}
	if profitPct <= 0 {
		return models.NewConfigError("profit_percentage", "must be positive, got %v", profitPct)
	}
	if pollSec < 1 {
		pollSec = 10
	}

	s.mu.Lock()
	s.stepMultiplier = mult
	s.maxSeqOrders = maxOrders
	s.baseOrderUSD = baseUSD
	s.priceDropPct = dropPct
	s.profitPct = profitPct
	s.maxPosMultiple = posMult
	s.pollInterval = time.Duration(pollSec) * time.Second
	if s.nextOrderUSD == 0 {
		s.nextOrderUSD = baseUSD
	}
	s.mu.Unlock()
	return nil
}

func (s *MartingaleStrategy) Initialize() error {
	if err := s.ensureConnected(); err != nil {
		return fmt.Errorf("exchange connect failed: %w", err)
	}
	cfg := s.config()
	price, err := s.ex.GetPrice(cfg.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch current price for %s: %w", cfg.Symbol, err)
	}

	s.mu.Lock()
	s.state.CurrentPrice = price
	if s.entryRef == 0 {
		s.entryRef = price
	}
	s.initialized = true
	s.mu.Unlock()

	s.events.Emit(EventInitialized, nil)
	return nil
}

func (s *MartingaleStrategy) Start() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("martingale strategy is not initialized")
	}
	if s.state.IsActive {
		s.mu.Unlock()
		return fmt.Errorf("martingale strategy is already running")
	}
	s.stopCh = make(chan struct{})
	poll := s.pollInterval
	s.mu.Unlock()

	cfg := s.config()
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

	go s.run(poll)

	s.setActive(true)
	s.events.Emit(EventStarted, nil)
	s.log.Infow("martingale strategy started",
		"base_usd", s.baseOrderUSD, "multiplier", s.stepMultiplier, "max_orders", s.maxSeqOrders)
	return nil
}

func (s *MartingaleStrategy) Stop() error {
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
	s.log.Info("martingale strategy stopped")
	return nil
}

func (s *MartingaleStrategy) UpdateConfig(patch models.ConfigPatch) error {
	return s.updateConfig(s, patch, s.loadParams)
}

// OnPriceUpdate feeds the decision cycle directly, in addition to the
// poll loop, so the paper exchange's synchronous ticks drive the state
// machine in tests.
func (s *MartingaleStrategy) OnPriceUpdate(_ string, price float64) {
	s.setCurrentPrice(price)
	if !s.isActive() {
		return
	}
	s.guarded("price", func() { s.evaluate(price) })
}

// OnFill advances the sequence from executions reported through the
// fill stream; fills belonging to other strategies are ignored.
func (s *MartingaleStrategy) OnFill(fill models.Fill) {
	if !s.takeOrder(fill) {
		return
	}
	s.guarded("fill", func() { s.applyFill(fill) })
}

func (s *MartingaleStrategy) run(poll time.Duration) {
	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()
	if stopCh == nil {
		return
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.isActive() {
				return
			}
			cfg := s.config()
			price, err := s.ex.GetPrice(cfg.Symbol)
			if err != nil {
				s.log.Warnw("poll skipped, price unavailable", "err", err)
				continue
			}
			s.setCurrentPrice(price)
			s.guarded("poll", func() { s.evaluate(price) })
		case <-stopCh:
			return
		}
	}
}

// evaluate is one decision cycle at the given price.
func (s *MartingaleStrategy) evaluate(price float64) {
	s.mu.Lock()
	inPosition := s.position > 0

	if !inPosition {
		// Track the reference high; enter on a configured drop from it.
		if price > s.entryRef {
			s.entryRef = price
		}
		trigger := s.entryRef * (1 - s.priceDropPct/100)
		if price > trigger {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.placeEntry(price)
		return
	}

	// In position: exit first, then consider adding.
	if price >= s.profitTarget {
		s.mu.Unlock()
		s.placeExit(price)
		return
	}
	reentry := s.lastEntryPrice * (1 - s.priceDropPct/100)
	if price > reentry {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.placeEntry(price)
}

// placeEntry places the next sequence buy if the order-count and
// invested-capital gates allow it.
func (s *MartingaleStrategy) placeEntry(price float64) {
	cfg := s.config()

	s.mu.RLock()
	ordersPlaced := len(s.seqOrders)
	maxOrders := s.maxSeqOrders
	nextUSD := s.nextOrderUSD
	invested := s.invested
	posMult := s.maxPosMultiple
	s.mu.RUnlock()

	if ordersPlaced >= maxOrders {
		return
	}
	// One order in flight at a time; the next decision waits for the
	// execution report.
	if s.pendingOrderCount() > 0 {
		return
	}
	if posMult > 0 && invested+nextUSD > cfg.Investment*posMult {
		s.log.Debugw("entry skipped, capital cap reached",
			"invested", invested, "next_usd", nextUSD, "cap", cfg.Investment*posMult)
		return
	}
	if price <= 0 {
		return
	}

	size := nextUSD / price
	req := models.OrderRequest{
		Symbol:        cfg.Symbol,
		Side:          models.Buy,
		Size:          size,
		Type:          models.Market,
		ClientOrderID: models.NewClientOrderID(),
	}
	resp, err := s.ex.PlaceOrder(req)
	if err != nil || !resp.Success {
		s.log.Warnw("sequence entry failed", "err", err, "resp_err", respError(resp))
		return
	}

	s.events.Emit(EventOrderPlaced, req)
	s.log.Infow("sequence entry placed", "order", ordersPlaced+1, "usd", nextUSD, "price", price)

	if resp.ImmediatelyFilled {
		s.applyFill(models.Fill{
			Symbol:    cfg.Symbol,
			OrderID:   resp.OrderID,
			Side:      models.Buy,
			Size:      resp.FillSize,
			Price:     resp.FillPrice,
			Timestamp: time.Now(),
		})
		return
	}
	s.trackOrder(orderKey(resp, req))
}

// placeExit sells the full position at market.
func (s *MartingaleStrategy) placeExit(price float64) {
	cfg := s.config()

	s.mu.RLock()
	size := s.position
	s.mu.RUnlock()
	if size <= 0 || s.pendingOrderCount() > 0 {
		return
	}

	req := models.OrderRequest{
		Symbol:        cfg.Symbol,
		Side:          models.Sell,
		Size:          size,
		Type:          models.Market,
		ReduceOnly:    true,
		ClientOrderID: models.NewClientOrderID(),
	}
	resp, err := s.ex.PlaceOrder(req)
	if err != nil || !resp.Success {
		s.log.Warnw("sequence exit failed", "err", err, "resp_err", respError(resp))
		return
	}

	s.events.Emit(EventOrderPlaced, req)
	s.log.Infow("sequence exit placed", "size", size, "price", price)

	if resp.ImmediatelyFilled {
		s.applyFill(models.Fill{
			Symbol:    cfg.Symbol,
			OrderID:   resp.OrderID,
			Side:      models.Sell,
			Size:      resp.FillSize,
			Price:     resp.FillPrice,
			Timestamp: time.Now(),
		})
		return
	}
	s.trackOrder(orderKey(resp, req))
}

func (s *MartingaleStrategy) applyFill(fill models.Fill) {
	s.mu.Lock()
	if fill.Side == models.Buy {
		usd := fill.Size * fill.Price
		s.seqOrders = append(s.seqOrders, martingaleEntry{
			Price: fill.Price, Size: fill.Size, USD: usd, Timestamp: fill.Timestamp,
		})
		newPos := s.position + fill.Size
		s.invested += usd
		if newPos > 0 {
			s.avgEntry = s.invested / newPos
		}
		s.position = newPos
		s.lastEntryPrice = fill.Price
		s.profitTarget = s.avgEntry * (1 + s.profitPct/100)
		s.nextOrderUSD = sizing.MartingaleOrderUSD(s.baseOrderUSD, s.stepMultiplier, len(s.seqOrders))
		s.mu.Unlock()

		s.applyFillVolumes(fill)
		s.log.Infow("sequence entry filled",
			"entries", len(s.seqOrders), "avg_entry", s.avgEntry, "target", s.profitTarget)
		return
	}

	s.state.TotalProfit += (fill.Price - s.avgEntry) * fill.Size
	s.position -= fill.Size
	if s.position <= 1e-12 {
		// Full exit: reset the sequence and start hunting from here.
		s.position = 0
		s.invested = 0
		s.avgEntry = 0
		s.profitTarget = 0
		s.lastEntryPrice = 0
		s.seqOrders = nil
		s.nextOrderUSD = s.baseOrderUSD
		s.entryRef = fill.Price
		s.sequencesDone++
		done := s.sequencesDone
		s.mu.Unlock()

		s.applyFillVolumes(fill)
		s.events.Emit(EventSequenceComplete, fill)
		s.log.Infow("sequence complete", "sequences", done, "exit_price", fill.Price)
		return
	}
	s.mu.Unlock()
	s.applyFillVolumes(fill)
}

// NextOrderUSD reports the size of the next sequence entry.
func (s *MartingaleStrategy) NextOrderUSD() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOrderUSD
}

func (s *MartingaleStrategy) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"sequence_orders": len(s.seqOrders),
		"sequences_done":  s.sequencesDone,
		"invested_usd":    s.invested,
		"position":        s.position,
		"avg_entry":       s.avgEntry,
		"profit_target":   s.profitTarget,
		"next_order_usd":  s.nextOrderUSD,
		"total_profit":    s.state.TotalProfit,
	}
}

package strategy

import (
	"fmt"
	"time"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/sizing"

	"go.uber.org/zap"
)

// dcaEntry is one accumulation buy kept for the average-cost record.
type dcaEntry struct {
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// DCAStrategy buys a fixed USD amount on a fixed schedule. It holds no
// resting orders; every tick is a market buy, gated by the order-count
// and position limits.
type DCAStrategy struct {
	base

	intervalHours  int
	orderUSD       float64
	minOrderUSD    float64
	maxOrderUSD    float64
	maxOrders      int
	maxDailyOrders int

	totalOrders int
	dailyOrders int
	invested    float64
	position    float64
	avgCost     float64
	entries     []dcaEntry
}

// NewDCAStrategy validates the schedule parameters and builds the strategy.
func NewDCAStrategy(cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) (*DCAStrategy, error) {
	s := &DCAStrategy{base: newBase(models.BotTypeDCA, cfg, ex, log)}
	if err := s.loadParams(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DCAStrategy) loadParams() error {
	cfg := s.config()
	meta := cfg.Metadata

	interval := metaInt(meta, "interval_hours", 24)
	orderUSD := metaFloat(meta, "order_size", 0)
	minUSD := metaFloat(meta, "min_order_size", 0)
	maxUSD := metaFloat(meta, "max_order_size", 0)
	maxOrders := metaInt(meta, "max_orders", 0)
	maxDaily := metaInt(meta, "max_daily_orders", 0)

	if interval < 1 || interval > 168 {
		return models.NewConfigError("interval_hours", "must be between 1 and 168, got %d", interval)
	}
	if orderUSD <= 0 {
		return models.NewConfigError("order_size", "must be positive, got %v", orderUSD)
	}
	if minUSD > 0 && minUSD > orderUSD {
		return models.NewConfigError("min_order_size", "minimum %v exceeds order size %v", minUSD, orderUSD)
	}
	if maxUSD > 0 && maxUSD < orderUSD {
		return models.NewConfigError("max_order_size", "maximum %v is below order size %v", maxUSD, orderUSD)
	}

	s.mu.Lock()
	s.intervalHours = interval
	s.orderUSD = orderUSD
	s.minOrderUSD = minUSD
	s.maxOrderUSD = maxUSD
	s.maxOrders = maxOrders
	s.maxDailyOrders = maxDaily
	s.mu.Unlock()
	return nil
}

func (s *DCAStrategy) Initialize() error {
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
	s.initialized = true
	s.mu.Unlock()

	s.events.Emit(EventInitialized, nil)
	return nil
}

// Start subscribes to the price stream and launches the accumulation
// loop. The first buy happens one full interval after Start, not
// immediately.
func (s *DCAStrategy) Start() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return fmt.Errorf("dca strategy is not initialized")
	}
	if s.state.IsActive {
		s.mu.Unlock()
		return fmt.Errorf("dca strategy is already running")
	}
	s.stopCh = make(chan struct{})
	interval := time.Duration(s.intervalHours) * time.Hour
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

	go s.run(interval)

	s.setActive(true)
	s.events.Emit(EventStarted, nil)
	s.log.Infow("dca strategy started", "interval_hours", s.intervalHours, "order_usd", s.orderUSD)
	return nil
}

func (s *DCAStrategy) Stop() error {
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
	s.log.Info("dca strategy stopped")
	return nil
}

func (s *DCAStrategy) UpdateConfig(patch models.ConfigPatch) error {
	return s.updateConfig(s, patch, s.loadParams)
}

// OnPriceUpdate tracks the price and checks the stop-loss / take-profit
// thresholds against the average cost.
func (s *DCAStrategy) OnPriceUpdate(_ string, price float64) {
	s.setCurrentPrice(price)
	if !s.isActive() {
		return
	}
	s.checkSignals(price)
}

// OnFill folds executions reported through the fill stream. Buys move
// the average cost; sells reduce the position and leave it untouched.
// Fills for orders placed by another strategy on the same symbol are
// ignored.
func (s *DCAStrategy) OnFill(fill models.Fill) {
	if !s.takeOrder(fill) {
		return
	}
	s.guarded("fill", func() { s.applyFill(fill) })
}

// run is the schedule loop: one ticker for the buy interval, one timer
// chain for the local-midnight reset of the daily counter.
func (s *DCAStrategy) run(interval time.Duration) {
	s.mu.RLock()
	stopCh := s.stopCh
	s.mu.RUnlock()
	if stopCh == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	midnight := time.NewTimer(untilNextMidnight(time.Now()))
	defer midnight.Stop()

	for {
		select {
		case <-ticker.C:
			s.guarded("tick", s.tick)
		case <-midnight.C:
			s.mu.Lock()
			s.dailyOrders = 0
			s.mu.Unlock()
			midnight.Reset(untilNextMidnight(time.Now()))
		case <-stopCh:
			return
		}
	}
}

func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
	return time.Until(next)
}

// tick is one scheduled accumulation attempt. A gated tick is skipped
// silently; the schedule keeps running.
func (s *DCAStrategy) tick() {
	if !s.isActive() {
		return
	}
	cfg := s.config()

	s.mu.RLock()
	total, daily := s.totalOrders, s.dailyOrders
	maxTotal, maxDaily := s.maxOrders, s.maxDailyOrders
	position := s.position
	orderUSD, minUSD, maxUSD := s.orderUSD, s.minOrderUSD, s.maxOrderUSD
	s.mu.RUnlock()

	if maxTotal > 0 && total >= maxTotal {
		s.log.Debugw("tick skipped, lifetime order limit reached", "total", total)
		return
	}
	if maxDaily > 0 && daily >= maxDaily {
		s.log.Debugw("tick skipped, daily order limit reached", "daily", daily)
		return
	}
	if cfg.MaxPosition > 0 && position >= cfg.MaxPosition {
		s.log.Debugw("tick skipped, position limit reached", "position", position)
		return
	}
	if s.pendingOrderCount() > 0 {
		s.log.Debugw("tick skipped, previous order still awaiting execution")
		return
	}

	price, err := s.ex.GetPrice(cfg.Symbol)
	if err != nil {
		s.log.Warnw("tick skipped, price unavailable", "err", err)
		return
	}

	size := sizing.DCAOrderSize(orderUSD, minUSD, maxUSD, price)
	if size <= 0 {
		return
	}

	req := models.OrderRequest{
		Symbol:        cfg.Symbol,
		Side:          models.Buy,
		Size:          size,
		Type:          models.Market,
		ClientOrderID: models.NewClientOrderID(),
	}
	resp, err := s.ex.PlaceOrder(req)
	if err != nil || !resp.Success {
		s.log.Warnw("scheduled buy failed", "err", err, "resp_err", respError(resp))
		return
	}

	s.mu.Lock()
	s.totalOrders++
	s.dailyOrders++
	s.mu.Unlock()

	s.events.Emit(EventOrderPlaced, req)
	s.log.Infow("scheduled buy placed", "size", size, "price", price)

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
	// The venue reports the execution through the fill stream.
	s.trackOrder(orderKey(resp, req))
}

// orderKey identifies an order across the placement response and the
// fill stream.
func orderKey(resp *models.OrderResponse, req models.OrderRequest) string {
	if resp != nil && resp.ClientOrderID != "" {
		return resp.ClientOrderID
	}
	return req.ClientOrderID
}

func respError(resp *models.OrderResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Error
}

func (s *DCAStrategy) applyFill(fill models.Fill) {
	s.mu.Lock()
	if fill.Side == models.Buy {
		s.invested += fill.Size * fill.Price
		s.position += fill.Size
		if s.position > 0 {
			s.avgCost = s.invested / s.position
		}
		s.entries = append(s.entries, dcaEntry{Price: fill.Price, Size: fill.Size, Timestamp: fill.Timestamp})
	} else {
		// A sell realizes profit against the average cost but does not
		// change it for the remaining position.
		s.state.TotalProfit += (fill.Price - s.avgCost) * fill.Size
		s.position -= fill.Size
		s.invested -= fill.Size * s.avgCost
		if s.position <= 0 {
			s.position = 0
			s.invested = 0
		}
	}
	avg := s.avgCost
	s.mu.Unlock()

	s.applyFillVolumes(fill)
	s.log.Infow("dca fill applied", "side", fill.Side, "size", fill.Size, "price", fill.Price, "avg_cost", avg)
	s.checkSignals(fill.Price)
}

// checkSignals emits stop-loss / take-profit signals against the average
// cost. The strategy never closes the position itself.
func (s *DCAStrategy) checkSignals(price float64) {
	cfg := s.config()
	s.mu.RLock()
	avg := s.avgCost
	position := s.position
	s.mu.RUnlock()
	if position <= 0 || avg <= 0 {
		return
	}

	if cfg.StopLossPct > 0 && price <= avg*(1-cfg.StopLossPct/100) {
		s.events.Emit(EventSignal, models.Signal{
			Type: "stop_loss", Symbol: cfg.Symbol, Price: price, AvgCost: avg, Position: position,
		})
	}
	if cfg.TakeProfitPct > 0 && price >= avg*(1+cfg.TakeProfitPct/100) {
		s.events.Emit(EventSignal, models.Signal{
			Type: "take_profit", Symbol: cfg.Symbol, Price: price, AvgCost: avg, Position: position,
		})
	}
}

// AverageCost reports the volume-weighted entry price of the open position.
func (s *DCAStrategy) AverageCost() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.avgCost
}

func (s *DCAStrategy) Statistics() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"total_orders": s.totalOrders,
		"daily_orders": s.dailyOrders,
		"invested_usd": s.invested,
		"position":     s.position,
		"avg_cost":     s.avgCost,
		"entry_count":  len(s.entries),
		"total_profit": s.state.TotalProfit,
	}
}

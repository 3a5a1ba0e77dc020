package strategy

import (
	"fmt"
	"sync"
	"sync/atomic"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Strategy is the contract every strategy family implements. Lifecycle is
// Uninitialized -> Initialized -> Running -> Stopped; Initialize and Start
// are separate so a caller can construct and validate without trading.
type Strategy interface {
	ID() string
	Type() models.BotType
	Symbol() string

	Initialize() error
	Start() error
	Stop() error

	// UpdateConfig applies a partial config change. If the strategy is
	// running it is stopped, mutated and restarted.
	UpdateConfig(patch models.ConfigPatch) error

	OnPriceUpdate(symbol string, price float64)
	OnFill(fill models.Fill)

	State() models.StrategyState
	Statistics() map[string]interface{}
	Events() *Events
}

// New maps a bot type to a concrete strategy. Unknown or not-yet-implemented
// types resolve to the placeholder strategy so the orchestrator can treat
// every bot uniformly.
func New(botType models.BotType, cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) (Strategy, error) {
	switch botType {
	case models.BotTypeGrid:
		return NewGridStrategy(cfg, ex, log)
	case models.BotTypeDCA:
		return NewDCAStrategy(cfg, ex, log)
	case models.BotTypeMartingale:
		return NewMartingaleStrategy(cfg, ex, log)
	case models.BotTypePortfolio:
		return NewPortfolioStrategy(cfg, ex, log)
	default:
		log.Warnf("bot type %q is not implemented, falling back to placeholder", botType)
		return NewPlaceholderStrategy(botType, cfg, ex, log), nil
	}
}

// base carries the state and plumbing shared by all strategies. Each
// strategy instance is a single logical actor: asynchronous price, fill
// and timer events are admitted one at a time through the processing
// guard, and an event arriving while another is in flight is dropped,
// not queued.
type base struct {
	id      string
	botType models.BotType
	ex      exchange.Exchange
	log     *zap.SugaredLogger
	events  *Events

	mu          sync.RWMutex
	cfg         models.StrategyConfig
	state       models.StrategyState
	initialized bool

	// subs are the exchange stream registrations held while running;
	// pendingOrders keys the client order IDs awaiting an execution
	// report, so a shared fill stream only feeds back our own orders.
	subs          []exchange.Subscription
	pendingOrders map[string]bool

	processing atomic.Bool
	stopCh     chan struct{}
}

func newBase(botType models.BotType, cfg models.StrategyConfig, ex exchange.Exchange, log *zap.SugaredLogger) base {
	id := uuid.NewString()
	return base{
		id:      id,
		botType: botType,
		cfg:     cfg,
		ex:      ex,
		log:     log.With("strategy", string(botType), "id", id[:8], "symbol", cfg.Symbol),
		events:  newEvents(),
	}
}

func (b *base) ID() string           { return b.id }
func (b *base) Type() models.BotType { return b.botType }
func (b *base) Events() *Events      { return b.events }

func (b *base) Symbol() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg.Symbol
}

// State returns a copy of the current snapshot; the owning strategy is
// the only writer.
func (b *base) State() models.StrategyState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *base) config() models.StrategyConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

func (b *base) isActive() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.IsActive
}

// guarded runs fn under the per-instance processing guard. If another
// event is already being handled the new one is dropped, so there is at
// most one in-flight decision cycle per instance. Panics inside fn are converted
// into error events so one faulty cycle cannot crash the instance.
func (b *base) guarded(name string, fn func()) {
	if !b.processing.CompareAndSwap(false, true) {
		b.log.Debugw("event dropped, handler busy", "event", name)
		return
	}
	defer b.processing.Store(false)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s handler panicked: %v", name, r)
			b.log.Errorw("handler panic recovered", "event", name, "panic", r)
			b.events.Emit(EventError, err)
		}
	}()
	fn()
}

// applyFillVolumes folds a fill into the common state counters and emits
// the orderFilled event. Callers hold no locks.
func (b *base) applyFillVolumes(fill models.Fill) {
	usd := fill.Size * fill.Price
	b.mu.Lock()
	b.state.TradeCount++
	b.state.TotalVolume += fill.Size
	b.state.TotalVolumeUSD += usd
	b.state.CurrentPrice = fill.Price
	if fill.Side == models.Buy {
		b.state.BuyVolume += fill.Size
		b.state.BuyVolumeUSD += usd
		b.state.TotalPosition += fill.Size
	} else {
		b.state.SellVolume += fill.Size
		b.state.SellVolumeUSD += usd
		b.state.TotalPosition -= fill.Size
	}
	b.mu.Unlock()
	b.events.Emit(EventOrderFilled, fill)
}

func (b *base) setCurrentPrice(price float64) {
	b.mu.Lock()
	b.state.CurrentPrice = price
	b.mu.Unlock()
}

func (b *base) setActive(active bool) {
	b.mu.Lock()
	b.state.IsActive = active
	b.mu.Unlock()
}

// updateConfig implements the stop -> apply -> restart cycle shared by
// every strategy. reload revalidates the strategy-specific parameters
// after the patch lands.
func (b *base) updateConfig(s Strategy, patch models.ConfigPatch, reload func() error) error {
	wasActive := b.isActive()
	if wasActive {
		if err := s.Stop(); err != nil {
			return fmt.Errorf("failed to stop for config update: %w", err)
		}
	}

	b.mu.Lock()
	patch.Apply(&b.cfg)
	b.mu.Unlock()

	if reload != nil {
		if err := reload(); err != nil {
			return err
		}
	}

	if wasActive {
		if err := s.Initialize(); err != nil {
			return err
		}
		return s.Start()
	}
	return nil
}

// trackSub remembers a stream registration for release on Stop.
func (b *base) trackSub(sub exchange.Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// releaseSubs cancels every tracked registration. Other strategies
// sharing the exchange keep theirs.
func (b *base) releaseSubs() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

// trackOrder marks a client order ID as ours, pending execution.
func (b *base) trackOrder(id string) {
	if id == "" {
		return
	}
	b.mu.Lock()
	if b.pendingOrders == nil {
		b.pendingOrders = make(map[string]bool)
	}
	b.pendingOrders[id] = true
	b.mu.Unlock()
}

// pendingOrderCount reports how many orders await an execution report.
func (b *base) pendingOrderCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pendingOrders)
}

// takeOrder claims an execution report. It returns false for fills that
// belong to another strategy trading the same symbol.
func (b *base) takeOrder(fill models.Fill) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pendingOrders[fill.ClientOrderID] {
		return false
	}
	delete(b.pendingOrders, fill.ClientOrderID)
	return true
}

// ensureConnected connects the exchange on first use.
func (b *base) ensureConnected() error {
	if b.ex.IsConnected() {
		return nil
	}
	return b.ex.Connect()
}

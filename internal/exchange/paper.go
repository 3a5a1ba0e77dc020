package exchange

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/models"

	"go.uber.org/zap"
)

// PaperExchange simulates an exchange in memory: market orders fill at
// the current price and are reported inline via ImmediatelyFilled, limit
// orders rest until a price update crosses them. It backs the test suite
// and the paper trading mode, where it is fed real prices.
type PaperExchange struct {
	mu        sync.Mutex
	connected bool
	nextID    int64
	nextSubID int64
	prices    map[string]float64
	orders    map[string]*paperOrder
	priceSubs map[string]map[int64]PriceCallback
	fillSubs  map[string]map[int64]FillCallback
	events    map[string]map[int64]EventCallback
	logger    *zap.SugaredLogger
}

type paperOrder struct {
	id            string
	clientOrderID string
	symbol        string
	side          models.Side
	size          float64
	price         float64
}

// NewPaperExchange creates an empty simulated exchange.
func NewPaperExchange(logger *zap.SugaredLogger) *PaperExchange {
	return &PaperExchange{
		prices:    make(map[string]float64),
		orders:    make(map[string]*paperOrder),
		priceSubs: make(map[string]map[int64]PriceCallback),
		fillSubs:  make(map[string]map[int64]FillCallback),
		events:    make(map[string]map[int64]EventCallback),
		logger:    logger,
	}
}

func (p *PaperExchange) Connect() error {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *PaperExchange) Disconnect() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

func (p *PaperExchange) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SetPrice moves the simulated market: resting limit orders crossed by
// the new price are filled at their limit price, then price subscribers
// are notified. Callbacks run outside the exchange lock so that a
// strategy reacting to a fill can place and cancel orders re-entrantly.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price

	var filled []*paperOrder
	for id, o := range p.orders {
		if o.symbol != symbol {
			continue
		}
		if (o.side == models.Buy && price <= o.price) || (o.side == models.Sell && price >= o.price) {
			filled = append(filled, o)
			delete(p.orders, id)
		}
	}
	// Stable dispatch order for tests.
	sort.Slice(filled, func(i, j int) bool {
		a, _ := strconv.ParseInt(filled[i].id, 10, 64)
		b, _ := strconv.ParseInt(filled[j].id, 10, 64)
		return a < b
	})

	fillCBs := sortedCallbacks(p.fillSubs[symbol])
	priceCBs := sortedCallbacks(p.priceSubs[symbol])
	p.mu.Unlock()

	for _, o := range filled {
		fill := models.Fill{
			Symbol:        o.symbol,
			OrderID:       o.id,
			ClientOrderID: o.clientOrderID,
			Side:          o.side,
			Size:          o.size,
			Price:         o.price,
			Timestamp:     time.Now(),
		}
		for _, cb := range fillCBs {
			cb(fill)
		}
	}
	for _, cb := range priceCBs {
		cb(symbol, price)
	}
}

func (p *PaperExchange) GetPrice(symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for symbol %s", symbol)
	}
	return price, nil
}

func (p *PaperExchange) SubscribePrices(symbol string, cb PriceCallback) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.priceSubs[symbol] == nil {
		p.priceSubs[symbol] = make(map[int64]PriceCallback)
	}
	p.nextSubID++
	id := p.nextSubID
	p.priceSubs[symbol][id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.priceSubs[symbol], id)
	}, nil
}

func (p *PaperExchange) PlaceOrder(req models.OrderRequest) (*models.OrderResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return nil, fmt.Errorf("paper exchange is not connected")
	}
	if req.Size <= 0 {
		return &models.OrderResponse{Success: false, Error: "order size must be positive"}, nil
	}

	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)

	if req.Type == models.Market {
		price, ok := p.prices[req.Symbol]
		if !ok {
			return &models.OrderResponse{Success: false, Error: "no market price for " + req.Symbol}, nil
		}
		return &models.OrderResponse{
			Success:           true,
			OrderID:           id,
			ClientOrderID:     req.ClientOrderID,
			ImmediatelyFilled: true,
			FillPrice:         price,
			FillSize:          req.Size,
		}, nil
	}

	if req.Price <= 0 {
		return &models.OrderResponse{Success: false, Error: "limit order needs a price"}, nil
	}
	p.orders[id] = &paperOrder{
		id:            id,
		clientOrderID: req.ClientOrderID,
		symbol:        req.Symbol,
		side:          req.Side,
		size:          req.Size,
		price:         req.Price,
	}
	return &models.OrderResponse{Success: true, OrderID: id, ClientOrderID: req.ClientOrderID}, nil
}

func (p *PaperExchange) PlaceOrders(reqs []models.OrderRequest) []models.OrderResponse {
	responses := make([]models.OrderResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := p.PlaceOrder(req)
		if err != nil {
			responses = append(responses, models.OrderResponse{Success: false, Error: err.Error()})
			continue
		}
		responses = append(responses, *resp)
	}
	return responses
}

func (p *PaperExchange) CancelOrder(symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || o.symbol != symbol {
		return fmt.Errorf("order %s not found for %s", orderID, symbol)
	}
	delete(p.orders, orderID)
	return nil
}

func (p *PaperExchange) CancelOrders(symbol string, orderIDs []string) []error {
	errs := make([]error, len(orderIDs))
	for i, id := range orderIDs {
		errs[i] = p.CancelOrder(symbol, id)
	}
	return errs
}

func (p *PaperExchange) CancelAllOrders(symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, o := range p.orders {
		if o.symbol == symbol {
			delete(p.orders, id)
		}
	}
	return nil
}

func (p *PaperExchange) GetOpenOrders(symbol string) ([]models.OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []models.OpenOrder
	for _, o := range p.orders {
		if symbol != "" && o.symbol != symbol {
			continue
		}
		open = append(open, models.OpenOrder{
			Symbol:        o.symbol,
			OrderID:       o.id,
			ClientOrderID: o.clientOrderID,
			Side:          o.side,
			Size:          o.size,
			Price:         o.price,
		})
	}
	sort.Slice(open, func(i, j int) bool { return open[i].OrderID < open[j].OrderID })
	return open, nil
}

func (p *PaperExchange) SubscribeFills(symbol string, cb FillCallback) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fillSubs[symbol] == nil {
		p.fillSubs[symbol] = make(map[int64]FillCallback)
	}
	p.nextSubID++
	id := p.nextSubID
	p.fillSubs[symbol][id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.fillSubs[symbol], id)
	}, nil
}

func (p *PaperExchange) On(event string, cb EventCallback) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events[event] == nil {
		p.events[event] = make(map[int64]EventCallback)
	}
	p.nextSubID++
	id := p.nextSubID
	p.events[event][id] = cb
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.events[event], id)
	}
}

// EmitEvent injects a connection lifecycle event, used by tests to drive
// the reconnection recovery path.
func (p *PaperExchange) EmitEvent(event string, payload interface{}) {
	p.mu.Lock()
	cbs := sortedCallbacks(p.events[event])
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

// EmitFill injects an execution report for the fill subscribers, used by
// tests that simulate a venue reporting fills asynchronously instead of
// inline with the placement response.
func (p *PaperExchange) EmitFill(fill models.Fill) {
	p.mu.Lock()
	cbs := sortedCallbacks(p.fillSubs[fill.Symbol])
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(fill)
	}
}

// OpenOrderCount reports the number of resting orders for a symbol.
func (p *PaperExchange) OpenOrderCount(symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, o := range p.orders {
		if o.symbol == symbol {
			n++
		}
	}
	return n
}

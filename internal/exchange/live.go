package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"multi-strategy-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 5 * time.Second
	keepaliveInterval = 30 * time.Minute
	requestTimeout    = 10 * time.Second
)

// LiveExchange implements Exchange against Binance spot: REST through
// go-binance, the aggTrade price stream and the user-data fill stream
// through raw websockets.
type LiveExchange struct {
	client    *binance.Client
	wsBaseURL string
	logger    *zap.SugaredLogger

	mu         sync.Mutex
	connected  bool
	nextSubID  int64
	priceSubs  map[string]map[int64]PriceCallback
	fillSubs   map[string]map[int64]FillCallback
	events     map[string]map[int64]EventCallback
	priceStops map[string]chan struct{}
	listenKey  string
	userStop   chan struct{}
}

// NewLiveExchange builds a LiveExchange. baseURL and wsBaseURL switch
// between production and testnet endpoints.
func NewLiveExchange(apiKey, secretKey, baseURL, wsBaseURL string, logger *zap.SugaredLogger) *LiveExchange {
	client := binance.NewClient(apiKey, secretKey)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &LiveExchange{
		client:     client,
		wsBaseURL:  strings.TrimSuffix(wsBaseURL, "/"),
		logger:     logger,
		priceSubs:  make(map[string]map[int64]PriceCallback),
		fillSubs:   make(map[string]map[int64]FillCallback),
		events:     make(map[string]map[int64]EventCallback),
		priceStops: make(map[string]chan struct{}),
	}
}

func (e *LiveExchange) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// Connect verifies REST reachability and opens the user-data stream that
// carries execution reports.
func (e *LiveExchange) Connect() error {
	ctx, cancel := e.ctx()
	defer cancel()
	if err := e.client.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping failed: %w", err)
	}

	listenKey, err := e.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to start user data stream: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.listenKey = listenKey
	e.userStop = make(chan struct{})
	stop := e.userStop
	e.mu.Unlock()

	go e.userStreamLoop(stop)
	go e.keepaliveLoop(stop)
	return nil
}

func (e *LiveExchange) Disconnect() error {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return nil
	}
	e.connected = false
	if e.userStop != nil {
		close(e.userStop)
		e.userStop = nil
	}
	for symbol, stop := range e.priceStops {
		close(stop)
		delete(e.priceStops, symbol)
	}
	listenKey := e.listenKey
	e.mu.Unlock()

	if listenKey != "" {
		ctx, cancel := e.ctx()
		defer cancel()
		if err := e.client.NewCloseUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
			e.logger.Warnf("failed to close user data stream: %v", err)
		}
	}
	return nil
}

func (e *LiveExchange) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *LiveExchange) GetPrice(symbol string) (float64, error) {
	ctx, cancel := e.ctx()
	defer cancel()
	prices, err := e.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return price, nil
}

// SubscribePrices registers a callback on the per-symbol aggTrade
// stream, dialing it for the first subscriber. The reader loop redials
// on any error until the last subscriber for the symbol is gone.
func (e *LiveExchange) SubscribePrices(symbol string, cb PriceCallback) (Subscription, error) {
	e.mu.Lock()
	if e.priceSubs[symbol] == nil {
		e.priceSubs[symbol] = make(map[int64]PriceCallback)
	}
	e.nextSubID++
	id := e.nextSubID
	e.priceSubs[symbol][id] = cb

	var stop chan struct{}
	if _, streaming := e.priceStops[symbol]; !streaming {
		stop = make(chan struct{})
		e.priceStops[symbol] = stop
	}
	e.mu.Unlock()

	if stop != nil {
		go e.priceStreamLoop(symbol, stop)
	}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.priceSubs[symbol], id)
		if len(e.priceSubs[symbol]) == 0 {
			delete(e.priceSubs, symbol)
			if stop, ok := e.priceStops[symbol]; ok {
				close(stop)
				delete(e.priceStops, symbol)
			}
		}
	}, nil
}

func (e *LiveExchange) priceStreamLoop(symbol string, stop chan struct{}) {
	url := fmt.Sprintf("%s/ws/%s@aggTrade", e.wsBaseURL, strings.ToLower(symbol))
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			e.logger.Warnf("price stream dial failed for %s: %v, retrying in %s", symbol, err, reconnectDelay)
			if !sleepOrStop(reconnectDelay, stop) {
				return
			}
			continue
		}

		if err := e.readPriceStream(symbol, conn, stop); err != nil {
			e.logger.Warnf("price stream for %s dropped: %v", symbol, err)
		}
		conn.Close()
		if !sleepOrStop(reconnectDelay, stop) {
			return
		}
	}
}

func (e *LiveExchange) readPriceStream(symbol string, conn *websocket.Conn, stop chan struct{}) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go pingLoop(conn, stop)

	for {
		select {
		case <-stop:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ticker struct {
			Price json.Number `json:"p"`
		}
		if err := json.Unmarshal(message, &ticker); err != nil {
			e.logger.Warnf("unparsable aggTrade message for %s: %v", symbol, err)
			continue
		}
		price, err := ticker.Price.Float64()
		if err != nil {
			continue
		}

		e.mu.Lock()
		cbs := sortedCallbacks(e.priceSubs[symbol])
		e.mu.Unlock()
		for _, cb := range cbs {
			cb(symbol, price)
		}
	}
}

// executionReport is the spot user-data stream order update payload.
type executionReport struct {
	EventType     string `json:"e"`
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	ExecType      string `json:"x"`
	OrderStatus   string `json:"X"`
	OrderID       int64  `json:"i"`
	LastQty       string `json:"l"`
	LastPrice     string `json:"L"`
	TradeTime     int64  `json:"T"`
}

func (e *LiveExchange) userStreamLoop(stop chan struct{}) {
	first := true
	for {
		select {
		case <-stop:
			return
		default:
		}

		e.mu.Lock()
		listenKey := e.listenKey
		e.mu.Unlock()

		url := fmt.Sprintf("%s/ws/%s", e.wsBaseURL, listenKey)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			e.logger.Warnf("user stream dial failed: %v, retrying in %s", err, reconnectDelay)
			if !sleepOrStop(reconnectDelay, stop) {
				return
			}
			continue
		}

		if !first {
			e.emit(EventReconnected, nil)
		}
		first = false
		if err := e.readUserStream(conn, stop); err != nil {
			e.logger.Warnf("user stream dropped: %v", err)
			e.emit(EventDisconnected, err)
		}
		conn.Close()

		// The listen key may have expired with the connection.
		if e.IsConnected() {
			ctx, cancel := e.ctx()
			newKey, err := e.client.NewStartUserStreamService().Do(ctx)
			cancel()
			if err != nil {
				e.logger.Errorf("failed to refresh listen key: %v", err)
			} else {
				e.mu.Lock()
				e.listenKey = newKey
				e.mu.Unlock()
			}
		}
		if !sleepOrStop(reconnectDelay, stop) {
			return
		}
	}
}

func (e *LiveExchange) readUserStream(conn *websocket.Conn, stop chan struct{}) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go pingLoop(conn, stop)

	for {
		select {
		case <-stop:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var report executionReport
		if err := json.Unmarshal(message, &report); err != nil {
			continue
		}
		if report.EventType != "executionReport" || report.ExecType != "TRADE" {
			continue
		}

		qty, err1 := strconv.ParseFloat(report.LastQty, 64)
		price, err2 := strconv.ParseFloat(report.LastPrice, 64)
		if err1 != nil || err2 != nil || qty <= 0 {
			continue
		}

		fill := models.Fill{
			Symbol:        report.Symbol,
			OrderID:       strconv.FormatInt(report.OrderID, 10),
			ClientOrderID: report.ClientOrderID,
			Side:          models.Side(report.Side),
			Size:          qty,
			Price:         price,
			Timestamp:     time.UnixMilli(report.TradeTime),
		}

		e.mu.Lock()
		cbs := sortedCallbacks(e.fillSubs[report.Symbol])
		e.mu.Unlock()
		for _, cb := range cbs {
			cb(fill)
		}
	}
}

func (e *LiveExchange) keepaliveLoop(stop chan struct{}) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			listenKey := e.listenKey
			e.mu.Unlock()
			ctx, cancel := e.ctx()
			err := e.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx)
			cancel()
			if err != nil {
				e.logger.Warnf("user stream keepalive failed: %v", err)
			}
		}
	}
}

func (e *LiveExchange) PlaceOrder(req models.OrderRequest) (*models.OrderResponse, error) {
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = models.NewClientOrderID()
	}

	svc := e.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(formatFloat(req.Size)).
		NewClientOrderID(clientOrderID)

	if req.Type == models.Market {
		svc = svc.Type(binance.OrderTypeMarket)
	} else {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	}

	ctx, cancel := e.ctx()
	defer cancel()
	res, err := svc.Do(ctx)
	if err != nil {
		// Rejections come back as API errors; the transport itself is fine.
		return &models.OrderResponse{Success: false, ClientOrderID: clientOrderID, Error: err.Error()}, nil
	}

	// Live fills are always delivered through the user-data stream, so
	// ImmediatelyFilled stays false even for market orders.
	return &models.OrderResponse{
		Success:       true,
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
	}, nil
}

func (e *LiveExchange) PlaceOrders(reqs []models.OrderRequest) []models.OrderResponse {
	responses := make([]models.OrderResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := e.PlaceOrder(req)
		if err != nil {
			responses = append(responses, models.OrderResponse{Success: false, Error: err.Error()})
			continue
		}
		responses = append(responses, *resp)
	}
	return responses
}

func (e *LiveExchange) CancelOrder(symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	ctx, cancel := e.ctx()
	defer cancel()
	_, err = e.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	return err
}

func (e *LiveExchange) CancelOrders(symbol string, orderIDs []string) []error {
	errs := make([]error, len(orderIDs))
	for i, id := range orderIDs {
		errs[i] = e.CancelOrder(symbol, id)
	}
	return errs
}

func (e *LiveExchange) CancelAllOrders(symbol string) error {
	ctx, cancel := e.ctx()
	defer cancel()
	_, err := e.client.NewCancelOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil && strings.Contains(err.Error(), "Unknown order") {
		// Nothing was open; not an error for our purposes.
		return nil
	}
	return err
}

func (e *LiveExchange) GetOpenOrders(symbol string) ([]models.OpenOrder, error) {
	ctx, cancel := e.ctx()
	defer cancel()
	orders, err := e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders for %s: %w", symbol, err)
	}
	open := make([]models.OpenOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		open = append(open, models.OpenOrder{
			Symbol:        o.Symbol,
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Side:          models.Side(o.Side),
			Size:          qty,
			Price:         price,
		})
	}
	return open, nil
}

func (e *LiveExchange) SubscribeFills(symbol string, cb FillCallback) (Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fillSubs[symbol] == nil {
		e.fillSubs[symbol] = make(map[int64]FillCallback)
	}
	e.nextSubID++
	id := e.nextSubID
	e.fillSubs[symbol][id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.fillSubs[symbol], id)
	}, nil
}

func (e *LiveExchange) On(event string, cb EventCallback) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.events[event] == nil {
		e.events[event] = make(map[int64]EventCallback)
	}
	e.nextSubID++
	id := e.nextSubID
	e.events[event][id] = cb
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.events[event], id)
	}
}

func (e *LiveExchange) emit(event string, payload interface{}) {
	e.mu.Lock()
	cbs := sortedCallbacks(e.events[event])
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

func pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// sleepOrStop waits d, returning false if the stop channel closed first.
func sleepOrStop(d time.Duration, stop chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

package exchange

import (
	"sort"

	"multi-strategy-bot-go/internal/models"
)

// Connection lifecycle events. Subscription is explicit: each strategy
// registers exactly the callbacks it needs, keyed by symbol, instead of
// listening on an ambient bus.
const (
	EventReconnected  = "reconnected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// PriceCallback receives ticker updates for a subscribed symbol.
type PriceCallback func(symbol string, price float64)

// FillCallback receives execution reports for a subscribed symbol.
type FillCallback func(fill models.Fill)

// EventCallback receives connection lifecycle notifications.
type EventCallback func(payload interface{})

// Subscription detaches the callback it was returned for. Several
// strategies can share one symbol or event on the same exchange, so a
// subscriber releases only its own registration. Calling it more than
// once is harmless.
type Subscription func()

// Exchange is the single collaborator contract the strategy engine
// consumes. Implementations: LiveExchange (Binance REST + websocket) and
// PaperExchange (in-memory simulation).
type Exchange interface {
	Connect() error
	Disconnect() error
	IsConnected() bool

	GetPrice(symbol string) (float64, error)
	SubscribePrices(symbol string, cb PriceCallback) (Subscription, error)

	// PlaceOrder returns a transport error only when the venue could not
	// be reached at all; a rejected order comes back as a response with
	// Success=false.
	PlaceOrder(req models.OrderRequest) (*models.OrderResponse, error)
	// PlaceOrders places a batch; the response slice is index-aligned
	// with the requests and each element carries its own Success/Error.
	PlaceOrders(reqs []models.OrderRequest) []models.OrderResponse

	CancelOrder(symbol, orderID string) error
	CancelOrders(symbol string, orderIDs []string) []error
	CancelAllOrders(symbol string) error
	GetOpenOrders(symbol string) ([]models.OpenOrder, error)

	SubscribeFills(symbol string, cb FillCallback) (Subscription, error)

	On(event string, cb EventCallback) Subscription
}

// sortedCallbacks snapshots a subscriber registry in registration order
// so dispatch is deterministic.
func sortedCallbacks[T any](m map[int64]T) []T {
	if len(m) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

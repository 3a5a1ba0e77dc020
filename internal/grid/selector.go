package grid

import (
	"sort"

	"multi-strategy-bot-go/internal/models"
)

// Selection is the result of picking the active levels around the
// current price.
type Selection struct {
	Levels  []Level
	Indices map[int]bool // union of the selected level indices
}

// SelectActive picks the perSide nearest unexecuted buy levels below the
// current price and the perSide nearest unexecuted sell levels above it.
// The side of a returned level follows this partition against the current
// price (the static generation-time label stays on the Set untouched).
// Callers re-run this from scratch after every fill with a fresh price;
// it never patches a previous selection, so logical grid state and placed
// orders cannot drift apart.
func SelectActive(levels []Level, currentPrice float64, perSide int, executed map[int]bool) Selection {
	var buys, sells []Level
	for _, lvl := range levels {
		if executed[lvl.Index] {
			continue
		}
		switch {
		case lvl.Price < currentPrice:
			lvl.Side = models.Buy
			buys = append(buys, lvl)
		case lvl.Price > currentPrice:
			lvl.Side = models.Sell
			sells = append(sells, lvl)
		}
	}

	// Nearest-to-market first.
	sort.Slice(buys, func(i, j int) bool { return buys[i].Price > buys[j].Price })
	sort.Slice(sells, func(i, j int) bool { return sells[i].Price < sells[j].Price })

	if perSide < len(buys) {
		buys = buys[:perSide]
	}
	if perSide < len(sells) {
		sells = sells[:perSide]
	}

	sel := Selection{
		Levels:  make([]Level, 0, len(buys)+len(sells)),
		Indices: make(map[int]bool, len(buys)+len(sells)),
	}
	for _, lvl := range buys {
		sel.Levels = append(sel.Levels, lvl)
		sel.Indices[lvl.Index] = true
	}
	for _, lvl := range sells {
		sel.Levels = append(sel.Levels, lvl)
		sel.Indices[lvl.Index] = true
	}
	return sel
}

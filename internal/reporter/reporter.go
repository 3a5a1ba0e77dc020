// Package reporter renders a periodic status table of the bot fleet.
package reporter

import (
	"fmt"
	"time"

	"multi-strategy-bot-go/internal/orchestrator"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"go.uber.org/zap"
)

// Reporter prints the fleet snapshot on a fixed interval.
type Reporter struct {
	orch     *orchestrator.Orchestrator
	log      *zap.SugaredLogger
	interval time.Duration
	stopCh   chan struct{}
}

// New builds a reporter over the orchestrator's fleet.
func New(orch *orchestrator.Orchestrator, interval time.Duration, log *zap.SugaredLogger) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reporter{orch: orch, log: log, interval: interval}
}

// Start launches the reporting loop.
func (r *Reporter) Start() {
	r.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Report()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the reporting loop.
func (r *Reporter) Stop() {
	if r.stopCh != nil {
		close(r.stopCh)
		r.stopCh = nil
	}
}

// Report renders the current snapshot into the log.
func (r *Reporter) Report() {
	r.log.Infof("fleet status:\n%s", Render(r.orch.Bots()))
}

// Render builds the fleet status table.
func Render(bots []*orchestrator.Bot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"BOT", "TYPE", "SYMBOL", "ACTIVE", "PRICE", "POSITION", "PROFIT", "TRADES", "VOLUME USD"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "PRICE", Align: text.AlignRight},
		{Name: "POSITION", Align: text.AlignRight},
		{Name: "PROFIT", Align: text.AlignRight},
		{Name: "TRADES", Align: text.AlignRight},
		{Name: "VOLUME USD", Align: text.AlignRight},
	})

	var totalProfit, totalVolume float64
	var totalTrades int
	for _, bot := range bots {
		st := bot.Strategy.State()
		t.AppendRow(table.Row{
			bot.ID,
			string(bot.Strategy.Type()),
			bot.Strategy.Symbol(),
			st.IsActive,
			fmt.Sprintf("%.4f", st.CurrentPrice),
			fmt.Sprintf("%.8f", st.TotalPosition),
			fmt.Sprintf("%.2f", st.TotalProfit),
			st.TradeCount,
			fmt.Sprintf("%.2f", st.TotalVolumeUSD),
		})
		totalProfit += st.TotalProfit
		totalVolume += st.TotalVolumeUSD
		totalTrades += st.TradeCount
	}
	t.AppendFooter(table.Row{
		"TOTAL", "", "", "", "", "",
		fmt.Sprintf("%.2f", totalProfit),
		totalTrades,
		fmt.Sprintf("%.2f", totalVolume),
	})
	return t.Render()
}

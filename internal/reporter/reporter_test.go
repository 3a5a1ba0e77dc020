package reporter

import (
	"testing"

	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRenderFleetTable(t *testing.T) {
	log := zap.NewNop().Sugar()
	ex := exchange.NewPaperExchange(log)
	require.NoError(t, ex.Connect())
	ex.SetPrice("ETHUSDT", 2400)

	cfg := &models.Config{Bots: []models.BotConfig{
		{
			ID:         "grid-1",
			Type:       models.BotTypeGrid,
			Symbol:     "ETHUSDT",
			Investment: 1100,
			Strategy:   map[string]interface{}{"grid_quantity": 11, "active_levels": 2},
		},
	}}
	o, err := orchestrator.New(cfg, ex, nil, log)
	require.NoError(t, err)
	require.NoError(t, o.StartAll())
	defer o.StopAll()

	out := Render(o.Bots())
	assert.Contains(t, out, "grid-1")
	assert.Contains(t, out, "grid")
	assert.Contains(t, out, "ETHUSDT")
	assert.Contains(t, out, "TOTAL")
}

func TestRenderEmptyFleet(t *testing.T) {
	out := Render(nil)
	assert.Contains(t, out, "BOT")
	assert.Contains(t, out, "TOTAL")
}

// Package tradelog persists the trading activity of every bot: fills and
// portfolio rebalances, keyed by bot ID. Recording is asynchronous so a
// slow disk never stalls a strategy's decision cycle.
package tradelog

import "multi-strategy-bot-go/internal/models"

// Recorder defines the interface for trade activity persistence.
// It abstracts the underlying storage mechanism from the strategies
// and the orchestrator.
type Recorder interface {
	// RecordFill appends one execution for a bot.
	RecordFill(botID string, fill models.Fill) error

	// RecordRebalance appends one portfolio rebalance event for a bot.
	RecordRebalance(botID string, event models.RebalanceEvent) error

	// Fills returns up to limit of the most recent fills for a bot,
	// newest first. limit <= 0 means no limit.
	Fills(botID string, limit int) ([]models.Fill, error)

	// Close flushes pending writes and closes the store.
	Close() error
}

// nopRecorder discards everything; it backs runs with no log path
// configured.
type nopRecorder struct{}

// NewNopRecorder returns a Recorder that keeps nothing.
func NewNopRecorder() Recorder { return nopRecorder{} }

func (nopRecorder) RecordFill(string, models.Fill) error                { return nil }
func (nopRecorder) RecordRebalance(string, models.RebalanceEvent) error { return nil }
func (nopRecorder) Fills(string, int) ([]models.Fill, error)            { return nil, nil }
func (nopRecorder) Close() error                                        { return nil }

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"multi-strategy-bot-go/internal/models"
)

// LoadConfig reads the JSON config file into a Config and applies a few
// basic sanity checks that would otherwise fail much later at runtime.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if len(cfg.Bots) == 0 {
		return nil, fmt.Errorf("config %s declares no bots", path)
	}
	seen := make(map[string]bool, len(cfg.Bots))
	for i := range cfg.Bots {
		b := &cfg.Bots[i]
		if b.ID == "" {
			return nil, fmt.Errorf("bots[%d] is missing an id", i)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("duplicate bot id %q", b.ID)
		}
		seen[b.ID] = true
		if b.InvestmentUnit == "" {
			b.InvestmentUnit = models.UnitUSD
		}
	}

	return cfg, nil
}

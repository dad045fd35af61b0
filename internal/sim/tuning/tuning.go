package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz     int `yaml:"tick_rate_hz"`
	MaxOfferItems  int `yaml:"max_offer_items"`
	StartingSpark  int `yaml:"starting_spark"`
	InventorySlots int `yaml:"inventory_slots"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	RequestTradeWindowTicks int `yaml:"request_trade_window_ticks"`
	RequestTradeMax         int `yaml:"request_trade_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      5,
		MaxOfferItems:   6,
		StartingSpark:   100,
		InventorySlots:  36,
		RateLimits: RateLimits{
			RequestTradeWindowTicks: 100,
			RequestTradeMax:         10,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Package config loads the tool's tunables from the environment. Only the
// verifier's budgets are configurable; the VM intentionally has no runtime
// knobs, so everything enforced at execution time is decided before the
// blob ever reaches it.
package config

import (
	"github.com/caarlos0/env/v6"

	"github.com/srdglang/srdg/lang/verifier"
)

// Config holds every environment-configurable value. Defaults match
// verifier.DefaultBudgets.
type Config struct {
	PrintBudget  int `env:"SRDG_PRINT_BUDGET" envDefault:"1000"`
	MutateBudget int `env:"SRDG_MUTATE_BUDGET" envDefault:"1000"`
	LoopFuel     int `env:"SRDG_LOOP_FUEL" envDefault:"10000"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Budgets returns the verifier budgets this configuration selects.
func (c *Config) Budgets() verifier.Budgets {
	return verifier.Budgets{
		Print:    c.PrintBudget,
		Mutate:   c.MutateBudget,
		LoopFuel: c.LoopFuel,
	}
}

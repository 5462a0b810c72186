// Copyright (c) 2025 The VeChainThor developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package thor

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configurable parameters of the engine. Values left zero
// in a config file fall back to the defaults.
type Config struct {
	LeaseDuration       int64   `yaml:"leaseDuration"`       // seconds a lock stays active without renewal.
	OpcodesPerIteration uint64  `yaml:"opcodesPerIteration"` // opcode cap of one Execute iteration.
	ComputeBudget       uint64  `yaml:"computeBudget"`       // steps one invocation may spend.
	AllocationBudget    int     `yaml:"allocationBudget"`    // bytes of account growth per invocation.
	ChainID             uint64  `yaml:"chainId"`
	FlatFee             uint64  `yaml:"flatFee"` // charged per signature, in wei.
	FeeRecipient        Address `yaml:"feeRecipient"`
}

// DefaultConfig returns the config with default values.
func DefaultConfig() Config {
	return Config{
		LeaseDuration:       DefaultLeaseDuration,
		OpcodesPerIteration: DefaultOpcodesPerIteration,
		ComputeBudget:       DefaultComputeBudget,
		AllocationBudget:    DefaultAllocationBudget,
		ChainID:             1,
	}
}

// LoadConfig reads config from the yaml file at path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.LeaseDuration == 0 {
		c.LeaseDuration = def.LeaseDuration
	}
	if c.OpcodesPerIteration == 0 {
		c.OpcodesPerIteration = def.OpcodesPerIteration
	}
	if c.ComputeBudget == 0 {
		c.ComputeBudget = def.ComputeBudget
	}
	if c.AllocationBudget == 0 {
		c.AllocationBudget = def.AllocationBudget
	}
}

// Validate checks the relations between the parameters.
// The lease must outlast at least one iteration, so it can never be zero.
func (c *Config) Validate() error {
	if c.LeaseDuration <= 0 {
		return errors.New("lease duration must be positive")
	}
	if c.OpcodesPerIteration == 0 {
		return errors.New("opcodes per iteration must be positive")
	}
	if c.ComputeBudget < c.OpcodesPerIteration {
		return errors.Errorf("compute budget %d is less than opcodes per iteration %d", c.ComputeBudget, c.OpcodesPerIteration)
	}
	if c.AllocationBudget < 64 || c.AllocationBudget > MaxAccountDataIncrease {
		return errors.Errorf("allocation budget %d out of range", c.AllocationBudget)
	}
	return nil
}

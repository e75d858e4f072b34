package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/core"
	"escrowd/crypto"
	"escrowd/native/escrow"
	"escrowd/native/staking"
)

type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

type AllocationConfig struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

type GenesisConfig struct {
	Tokens      []TokenConfig      `toml:"Tokens"`
	Allocations []AllocationConfig `toml:"Allocations"`
}

type EscrowConfig struct {
	RejectZeroAmount bool `toml:"RejectZeroAmount"`
	RejectSelfSwap   bool `toml:"RejectSelfSwap"`
}

type StakingConfig struct {
	PointsPerStake uint8  `toml:"PointsPerStake"`
	MaxStake       uint8  `toml:"MaxStake"`
	FreezePeriod   uint32 `toml:"FreezePeriod"`
}

type Config struct {
	RPCAddress     string        `toml:"RPCAddress"`
	DataDir        string        `toml:"DataDir"`
	NativeToken    string        `toml:"NativeToken"`
	RecordReserve  string        `toml:"RecordReserve"`
	HoldingReserve string        `toml:"HoldingReserve"`
	Escrow         EscrowConfig  `toml:"Escrow"`
	Staking        StakingConfig `toml:"Staking"`
	Genesis        GenesisConfig `toml:"Genesis"`
}

// Load reads the configuration from the given path, creating a default file
// on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrowd-data"
	}
	if strings.TrimSpace(cfg.NativeToken) == "" {
		cfg.NativeToken = "ESC"
	}
	if strings.TrimSpace(cfg.RecordReserve) == "" {
		cfg.RecordReserve = "0"
	}
	if strings.TrimSpace(cfg.HoldingReserve) == "" {
		cfg.HoldingReserve = "0"
	}
	if cfg.Staking.MaxStake == 0 {
		cfg.Staking.MaxStake = 8
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8545",
		DataDir:        "./escrowd-data",
		NativeToken:    "ESC",
		RecordReserve:  "1000",
		HoldingReserve: "500",
		Staking: StakingConfig{
			PointsPerStake: 1,
			MaxStake:       8,
			FreezePeriod:   86400,
		},
		Genesis: GenesisConfig{
			Tokens: []TokenConfig{
				{Symbol: "ESC", Name: "Escrow Coin", Decimals: 18},
			},
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}

func parseReserve(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: %s: invalid amount %q", field, value)
	}
	return amount, nil
}

// NodeConfig converts the file representation into the node's runtime
// configuration, decoding bech32 addresses and decimal amounts.
func (c *Config) NodeConfig() (core.Config, error) {
	recordReserve, err := parseReserve("RecordReserve", c.RecordReserve)
	if err != nil {
		return core.Config{}, err
	}
	holdingReserve, err := parseReserve("HoldingReserve", c.HoldingReserve)
	if err != nil {
		return core.Config{}, err
	}
	genesis := core.Genesis{}
	for _, token := range c.Genesis.Tokens {
		genesis.Tokens = append(genesis.Tokens, core.GenesisToken{
			Symbol:   token.Symbol,
			Name:     token.Name,
			Decimals: token.Decimals,
		})
	}
	for _, alloc := range c.Genesis.Allocations {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return core.Config{}, fmt.Errorf("config: allocation address: %w", err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return core.Config{}, fmt.Errorf("config: allocation amount %q invalid", alloc.Amount)
		}
		genesis.Allocations = append(genesis.Allocations, core.GenesisAllocation{
			Address: addr.Bytes(),
			Token:   alloc.Token,
			Amount:  amount,
		})
	}
	return core.Config{
		NativeToken:    c.NativeToken,
		RecordReserve:  recordReserve,
		HoldingReserve: holdingReserve,
		EscrowPolicy: escrow.Policy{
			RejectZeroAmount: c.Escrow.RejectZeroAmount,
			RejectSelfSwap:   c.Escrow.RejectSelfSwap,
		},
		Staking: staking.Config{
			PointsPerStake: c.Staking.PointsPerStake,
			MaxStake:       c.Staking.MaxStake,
			FreezePeriod:   c.Staking.FreezePeriod,
		},
		Genesis: genesis,
	}, nil
}

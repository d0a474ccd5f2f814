// (c) 2024, Chainbridge Relay Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relaycfg bootstraps the relay's configuration from flags,
// environment variables, a config file, and — mirroring
// original_source/src/consul_config.rs — an optional remote key-value
// tier, then validates the startup constraints spec.md §6 enumerates.
package relaycfg

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/chainbridge/relay/internal/relayerr"
)

// ChainConfig is the per-chain configuration block (homechain/sidechain).
type ChainConfig struct {
	Name            string
	WSURI           string
	Token           common.Address
	Relay           common.Address
	Confirmations   uint64
	AnchorFrequency uint64
	Interval        uint64
	Timeout         time.Duration
	GasLimit        uint64
	GasFloor        *big.Int
	GasCeiling      *big.Int
	ChainID         *big.Int
	Retries         int
}

// Config is the complete, validated relay configuration.
type Config struct {
	Account  common.Address
	Password string
	KeyDir   string

	Home ChainConfig
	Side ChainConfig

	Port       uint16
	LogBackend string // "raw" or "json"
}

// BindFlags registers every flag Load reads, with the defaults spec.md §6
// implies. Call before pflag.Parse().
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a TOML/YAML/JSON config file")
	fs.String("account", "", "operator account address")
	fs.String("password", "", "operator account keyfile password")
	fs.String("keydir", "./keystore", "operator keyfile directory")
	fs.String("log-backend", "raw", "log backend: raw|json")
	fs.Uint16("endpoint-port", 8080, "status/query HTTP port")

	fs.String("consul-addr", "", "optional Consul address for remote configuration")
	fs.String("consul-key-prefix", "relay/config", "Consul KV prefix to read remote configuration from")

	for _, chain := range []string{"homechain", "sidechain"} {
		fs.String(chain+".ws_uri", "", chain+" WebSocket RPC URI")
		fs.String(chain+".token", "", chain+" bridged token address")
		fs.String(chain+".relay", "", chain+" relay contract address")
		fs.Uint64(chain+".confirmations", 12, chain+" confirmations required")
		fs.Uint64(chain+".anchor_frequency", 0, chain+" anchor frequency (side chain only)")
		fs.Uint64(chain+".interval", 100, chain+" past-rescan interval, in blocks")
		fs.Uint64(chain+".timeout", 30, chain+" subscription idle timeout, in seconds")
		fs.Uint64(chain+".gas_limit", 200000, chain+" fixed gas limit")
		fs.String(chain+".gas_floor", "", chain+" gas price floor, in wei (optional)")
		fs.String(chain+".gas_ceiling", "", chain+" gas price ceiling, in wei (optional)")
		fs.Uint64(chain+".chain_id", 0, chain+" EIP-155 chain id")
		fs.Int(chain+".retries", 3, chain+" transaction retry budget")
	}
}

// Load reads Config out of v, which must already have flags bound (via
// BindFlags + v.BindPFlags), a config file set if one is wanted
// (v.SetConfigFile / AddConfigPath), and environment variables enabled
// (v.SetEnvPrefix("RELAY"); v.AutomaticEnv()). If consul-addr is set, a
// Consul remote provider is added; viper ranks it below flags, environment
// variables and the config file, above flag defaults.
func Load(v *viper.Viper) (*Config, error) {
	if addr := v.GetString("consul-addr"); addr != "" {
		if err := loadRemote(v, addr, v.GetString("consul-key-prefix")); err != nil {
			return nil, err
		}
	}

	account, err := parseAddress(v.GetString("account"))
	if err != nil {
		return nil, fmt.Errorf("relaycfg: account: %w", err)
	}

	home, err := loadChain(v, "homechain")
	if err != nil {
		return nil, err
	}
	side, err := loadChain(v, "sidechain")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Account:    account,
		Password:   v.GetString("password"),
		KeyDir:     v.GetString("keydir"),
		Home:       home,
		Side:       side,
		Port:       uint16(v.GetUint("endpoint-port")),
		LogBackend: v.GetString("log-backend"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadChain(v *viper.Viper, chain string) (ChainConfig, error) {
	token, err := parseAddress(v.GetString(chain + ".token"))
	if err != nil {
		return ChainConfig{}, fmt.Errorf("relaycfg: %s.token: %w", chain, err)
	}
	relayAddr, err := parseAddress(v.GetString(chain + ".relay"))
	if err != nil {
		return ChainConfig{}, fmt.Errorf("relaycfg: %s.relay: %w", chain, err)
	}

	floor, err := parseOptionalBigInt(v.GetString(chain + ".gas_floor"))
	if err != nil {
		return ChainConfig{}, fmt.Errorf("relaycfg: %s.gas_floor: %w", chain, err)
	}
	ceiling, err := parseOptionalBigInt(v.GetString(chain + ".gas_ceiling"))
	if err != nil {
		return ChainConfig{}, fmt.Errorf("relaycfg: %s.gas_ceiling: %w", chain, err)
	}

	return ChainConfig{
		Name:            chain,
		WSURI:           v.GetString(chain + ".ws_uri"),
		Token:           token,
		Relay:           relayAddr,
		Confirmations:   v.GetUint64(chain + ".confirmations"),
		AnchorFrequency: v.GetUint64(chain + ".anchor_frequency"),
		Interval:        v.GetUint64(chain + ".interval"),
		Timeout:         time.Duration(v.GetUint64(chain+".timeout")) * time.Second,
		GasLimit:        v.GetUint64(chain + ".gas_limit"),
		GasFloor:        floor,
		GasCeiling:      ceiling,
		ChainID:         new(big.Int).SetUint64(v.GetUint64(chain + ".chain_id")),
		Retries:         v.GetInt(chain + ".retries"),
	}, nil
}

// Validate enforces spec.md §6's startup constraints. Per the enumerated
// configuration, anchor_frequency only matters on the side chain (the
// anchor pipeline watches side-chain heads), so only Side is checked.
func (c *Config) Validate() error {
	if c.Side.AnchorFrequency == 0 {
		return relayerr.ErrInvalidAnchorFrequency
	}
	if c.Side.Confirmations >= c.Side.AnchorFrequency {
		return relayerr.ErrInvalidConfirmations
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseOptionalBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

// loadRemote wires a Consul remote-KV tier into v, below the local
// sources, mirroring original_source/src/consul_config.rs. A failure to add
// the provider or to read the JSON document at keyPrefix surfaces as
// relayerr.ErrMissingRemoteKey.
func loadRemote(v *viper.Viper, addr, keyPrefix string) error {
	v.SetConfigType("json")
	if err := v.AddRemoteProvider("consul", addr, keyPrefix); err != nil {
		return fmt.Errorf("%w: add provider: %s", relayerr.ErrMissingRemoteKey, err)
	}
	if err := v.ReadRemoteConfig(); err != nil {
		return fmt.Errorf("%w: %s", relayerr.ErrMissingRemoteKey, err)
	}
	return nil
}

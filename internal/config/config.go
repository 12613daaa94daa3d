// Package config loads and validates the node's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/eigerco/cloudberry/internal/crypto"
	"github.com/eigerco/cloudberry/internal/hub"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full node configuration.
type Config struct {
	DataDir    string `toml:"data_dir"`
	KeyFile    string `toml:"key_file"`
	ListenAddr string `toml:"listen_addr"`
	HTTPAddr   string `toml:"http_addr"`

	Log     Log     `toml:"log"`
	Chain   Chain   `toml:"chain"`
	Genesis Genesis `toml:"genesis"`
}

// Log configures the zerolog output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Chain identifies the local chain.
type Chain struct {
	ID   uint64 `toml:"id"`
	Name string `toml:"name"`
}

// Genesis holds the bootstrap values; addresses are hex strings in the file
// and parsed on conversion.
type Genesis struct {
	UpdateDelay                uint64 `toml:"update_delay"`
	MinServiceNodeDeposit      uint64 `toml:"min_service_node_deposit"`
	ServiceNodeUnbondingPeriod uint64 `toml:"service_node_unbonding_period"`
	CommitmentWaitPeriod       uint64 `toml:"commitment_wait_period"`
	MinValidatorSignatures     uint64 `toml:"min_validator_signatures"`
	LocalFeeFactor             uint64 `toml:"local_fee_factor"`

	ProtocolToken string   `toml:"protocol_token"`
	Pausers       []string `toml:"pausers"`
	Governors     []string `toml:"governors"`
	CriticalOps   []string `toml:"critical_ops"`
	Validators    []string `toml:"validators"`
}

// Default returns a runnable local configuration.
func Default() *Config {
	return &Config{
		DataDir:    "data",
		KeyFile:    "node.key",
		ListenAddr: "0.0.0.0:9650",
		HTTPAddr:   "127.0.0.1:9660",
		Log:        Log{Level: "info", Format: "console"},
		Chain:      Chain{ID: 1, Name: "cloudberry-local"},
		Genesis: Genesis{
			UpdateDelay:                86400,
			MinServiceNodeDeposit:      1000,
			ServiceNodeUnbondingPeriod: 604800,
			CommitmentWaitPeriod:       300,
			MinValidatorSignatures:     1,
			LocalFeeFactor:             1,
		},
	}
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Write serializes the configuration to a TOML file. Refuses to overwrite.
func (c *Config) Write(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Validate checks every field that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if c.KeyFile == "" {
		return fmt.Errorf("%w: key_file is required", ErrInvalid)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalid)
	}
	if c.Chain.Name == "" {
		return fmt.Errorf("%w: chain.name is required", ErrInvalid)
	}
	if c.Genesis.MinValidatorSignatures == 0 {
		return fmt.Errorf("%w: genesis.min_validator_signatures must be positive", ErrInvalid)
	}
	if c.Genesis.LocalFeeFactor == 0 {
		return fmt.Errorf("%w: genesis.local_fee_factor must be positive", ErrInvalid)
	}
	for _, field := range []struct {
		name  string
		addrs []string
	}{
		{"genesis.pausers", c.Genesis.Pausers},
		{"genesis.governors", c.Genesis.Governors},
		{"genesis.critical_ops", c.Genesis.CriticalOps},
		{"genesis.validators", c.Genesis.Validators},
	} {
		if _, err := parseAddresses(field.addrs); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, field.name, err)
		}
	}
	if c.Genesis.ProtocolToken != "" {
		if _, err := crypto.ParseAddress(c.Genesis.ProtocolToken); err != nil {
			return fmt.Errorf("%w: genesis.protocol_token: %v", ErrInvalid, err)
		}
	}
	return nil
}

// HubGenesis converts the file representation into the hub's genesis, with
// the forwarder address derived from the node key.
func (c *Config) HubGenesis(forwarder crypto.Address) (hub.Genesis, error) {
	pausers, err := parseAddresses(c.Genesis.Pausers)
	if err != nil {
		return hub.Genesis{}, err
	}
	governors, err := parseAddresses(c.Genesis.Governors)
	if err != nil {
		return hub.Genesis{}, err
	}
	critical, err := parseAddresses(c.Genesis.CriticalOps)
	if err != nil {
		return hub.Genesis{}, err
	}
	validators, err := parseAddresses(c.Genesis.Validators)
	if err != nil {
		return hub.Genesis{}, err
	}
	var protocolToken crypto.Address
	if c.Genesis.ProtocolToken != "" {
		protocolToken, err = crypto.ParseAddress(c.Genesis.ProtocolToken)
		if err != nil {
			return hub.Genesis{}, err
		}
	}
	return hub.Genesis{
		ChainID:                    c.Chain.ID,
		ChainName:                  c.Chain.Name,
		Forwarder:                  forwarder,
		ProtocolToken:              protocolToken,
		UpdateDelay:                c.Genesis.UpdateDelay,
		MinServiceNodeDeposit:      c.Genesis.MinServiceNodeDeposit,
		ServiceNodeUnbondingPeriod: c.Genesis.ServiceNodeUnbondingPeriod,
		CommitmentWaitPeriod:       c.Genesis.CommitmentWaitPeriod,
		MinValidatorSignatures:     c.Genesis.MinValidatorSignatures,
		LocalFeeFactor:             c.Genesis.LocalFeeFactor,
		Pausers:                    pausers,
		Governors:                  governors,
		CriticalOps:                critical,
		Validators:                 validators,
	}, nil
}

func parseAddresses(raw []string) ([]crypto.Address, error) {
	addrs := make([]crypto.Address, 0, len(raw))
	for _, s := range raw {
		addr, err := crypto.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("address %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

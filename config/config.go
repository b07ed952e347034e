// Package config parses the daemon's on-disk configuration using
// jessevdk/go-flags, the teacher's configuration-parsing library, mapping
// CLI flags and an INI-style config file onto the same struct.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/nnlgsakib/crypto-manager-engine/money"
)

// TokenConfig describes one ERC-20 token tracked on a chain.
type TokenConfig struct {
	Symbol          string `long:"symbol" description:"token ticker, e.g. USDT"`
	Address         string `long:"address" description:"ERC-20 contract address"`
	Decimals        uint8  `long:"decimals" description:"token decimals"`
	MinDeposit      string `long:"min-deposit" default:"0.01"`
	MinWithdrawal   string `long:"min-withdrawal" default:"1.00"`
	MaxWithdrawal   string `long:"max-withdrawal" default:"100000.00"`
	WithdrawalFee   string `long:"withdrawal-fee" default:"0.00"`
}

// ChainConfig describes one configured EVM chain.
type ChainConfig struct {
	ChainID                      uint64        `long:"chainid" required:"true"`
	RPCURL                       string        `long:"rpcurl" description:"push (websocket) endpoint"`
	HTTPRPCURL                   string        `long:"httprpcurl" required:"true" description:"pull (HTTP) endpoint"`
	NativeCurrency               string        `long:"nativecurrency" required:"true"`
	RequiredConfirmations        uint64        `long:"requiredconfirmations" default:"10"`
	MinDeposit                   string        `long:"mindeposit" default:"0.001"`
	MinWithdrawal                string        `long:"minwithdrawal" default:"1.00"`
	MaxWithdrawal                string        `long:"maxwithdrawal" default:"100000.00"`
	WithdrawalFee                string        `long:"withdrawalfee" default:"1.00"`
	WithdrawalProcessorAddress   string        `long:"withdrawalprocessor" required:"true"`
	WindowMs                     int64         `long:"windowms" default:"60000"`
	PollIntervalSeconds          int           `long:"pollinterval" default:"15"`
	Tokens                       []TokenConfig `group:"erc20 tokens"`
}

// Config is the top-level daemon configuration.
type Config struct {
	DataDir          string         `long:"datadir" description:"directory holding the bbolt database file" default:"~/.crypto-manager-engine"`
	LogDir           string         `long:"logdir" default:"~/.crypto-manager-engine/logs"`
	DebugLevel       string         `long:"debuglevel" default:"info"`
	RPCListen        string         `long:"rpclisten" default:"localhost:10080"`
	EncryptionKeyHex string         `long:"encryptionkey" description:"hex-encoded 32-byte secrets encryption key"`
	HotWalletKeyHex  string         `long:"hotwalletkey" description:"hot wallet private key encrypted under encryptionkey, as hex iv:ciphertext"`
	MasterSeedHex    string         `long:"masterseed" description:"hex-encoded ≥32-byte per-user key derivation seed"`
	Chains           []ChainConfig  `group:"chain"`

	// ConfigFile, if set, is also parsed as an INI file before flags are
	// applied, so flags always take precedence over the file.
	ConfigFile string `long:"configfile" no-ini:"true"`
}

// Load parses os.Args against a fresh Config, then the on-disk config
// file if one is present, mirroring the daemon's layered
// flags-then-file-then-defaults precedence.
func Load() (*Config, error) {
	cfg := &Config{}

	// First pass: flags only, just to learn ConfigFile (and apply
	// defaults). Errors here also cover --help.
	if _, err := flags.NewParser(cfg, flags.Default).Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", cfg.ConfigFile, err)
		}
	}

	// Second pass: re-apply the command line on top of the file. go-flags
	// only overwrites a field if its option was actually given in argv, so
	// this is what makes flags win over the file rather than the reverse.
	if _, err := flags.NewParser(cfg, flags.Default).Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, fmt.Errorf("config: parsing flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one [chain] section is required")
	}
	for i := range c.Chains {
		if _, err := money.Parse(c.Chains[i].MinDeposit); err != nil {
			return fmt.Errorf("config: chain %d mindeposit: %w", c.Chains[i].ChainID, err)
		}
		if _, err := money.Parse(c.Chains[i].MinWithdrawal); err != nil {
			return fmt.Errorf("config: chain %d minwithdrawal: %w", c.Chains[i].ChainID, err)
		}
		if _, err := money.Parse(c.Chains[i].MaxWithdrawal); err != nil {
			return fmt.Errorf("config: chain %d maxwithdrawal: %w", c.Chains[i].ChainID, err)
		}
	}
	return nil
}

// DBPath returns the bbolt database file path under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "crypto-manager-engine.db")
}

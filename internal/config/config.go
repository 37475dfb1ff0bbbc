package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mintra/marketscan/internal/constants"
)

// Config holds all configuration for the scanner and catcher processes
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Log      LogConfig      `yaml:"log"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Bus      BusConfig      `yaml:"bus"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Ops      OpsConfig      `yaml:"ops"`
	Networks []NetworkConfig `yaml:"networks"`
}

// RedisConfig holds connection settings for the shared key-value store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// LedgerConfig holds ledger store configuration
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScannerConfig holds scanner-wide settings
type ScannerConfig struct {
	// Sleep is the pause between poll iterations
	Sleep time.Duration `yaml:"sleep"`
	// ApprovalSleep overrides Sleep for approval scanners, which can poll
	// far less aggressively
	ApprovalSleep time.Duration `yaml:"approval_sleep"`
	// BlockWindow is the widest block range per getLogs query
	BlockWindow uint64 `yaml:"block_window"`
}

// BusConfig holds EventBus consumer settings
type BusConfig struct {
	Group    string        `yaml:"group"`
	Consumer string        `yaml:"consumer"`
	Sleep    time.Duration `yaml:"sleep"`
}

// AlertsConfig holds operator alert channel settings
type AlertsConfig struct {
	// SlackWebhookURL is the incoming-webhook endpoint; alerts are disabled
	// when empty
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	Channel         string `yaml:"channel,omitempty"`
}

// OpsConfig holds the health/metrics HTTP endpoint settings
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NetworkConfig defines one scanned blockchain network
type NetworkConfig struct {
	// Name is the unique network identifier used in checkpoint and quota keys
	Name string `yaml:"name"`
	// ChainID is the numeric chain id
	ChainID uint64 `yaml:"chain_id"`
	// RPCEndpoint is the HTTP(S) JSON-RPC endpoint URL
	RPCEndpoint string `yaml:"rpc_endpoint"`
	// ExchangeAddress is the marketplace exchange contract
	ExchangeAddress string `yaml:"exchange_address"`
	// PromotionAddress is the promotion contract
	PromotionAddress string `yaml:"promotion_address,omitempty"`
	// PromotionPackages lists the purchasable promotion plan ids
	PromotionPackages []uint64 `yaml:"promotion_packages,omitempty"`
	// FactoryAddresses maps a token standard to its collection factory contract
	FactoryAddresses map[string]string `yaml:"factory_addresses"`
	// FinalityMargin is the number of blocks withheld from the chain head
	FinalityMargin uint64 `yaml:"finality_margin"`
	// DailyImportRequests caps import-mode RPC usage; 0 means unlimited
	DailyImportRequests int64 `yaml:"daily_import_requests"`
	// RequestsPerSecond rate-limits RPC calls; 0 disables the limiter
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Collections seeds the per-collection scanner scopes at startup
	Collections []CollectionConfig `yaml:"collections,omitempty"`
	// Currencies seeds the payment currencies used for price formatting
	Currencies []CurrencyConfig `yaml:"currencies,omitempty"`
}

// CollectionConfig defines one tracked collection contract
type CollectionConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Standard string `yaml:"standard"` // ERC721 or ERC1155
	// DeployBlock anchors the first scan when no checkpoint exists yet
	DeployBlock uint64 `yaml:"deploy_block,omitempty"`
	Imported    bool   `yaml:"imported"`
	// Importing marks a collection still catching up; its transfer worker
	// starts unsynced and counts against the import quota
	Importing bool `yaml:"importing"`
}

// CurrencyConfig defines one payment currency contract
type CurrencyConfig struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// Load reads configuration from a YAML file and applies defaults.
// An empty path yields a default config (useful for tests).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "./data/ledger"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Scanner.Sleep == 0 {
		c.Scanner.Sleep = constants.DefaultScannerSleep
	}
	if c.Scanner.BlockWindow == 0 {
		c.Scanner.BlockWindow = constants.DefaultBlockWindow
	}
	if c.Bus.Group == "" {
		c.Bus.Group = constants.DefaultConsumerGroup
	}
	if c.Bus.Consumer == "" {
		c.Bus.Consumer = constants.DefaultConsumerName
	}
	if c.Bus.Sleep == 0 {
		c.Bus.Sleep = constants.DefaultBusSleep
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = ":9090"
	}
	for i := range c.Networks {
		if c.Networks[i].FinalityMargin == 0 {
			c.Networks[i].FinalityMargin = constants.DefaultFinalityMargin
		}
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MARKETSCAN_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MARKETSCAN_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("MARKETSCAN_LEDGER_PATH"); v != "" {
		c.Ledger.Path = v
	}
	if v := os.Getenv("MARKETSCAN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("MARKETSCAN_SLACK_WEBHOOK_URL"); v != "" {
		c.Alerts.SlackWebhookURL = v
	}
}

// Validate checks the configuration for fatal mistakes
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("network name cannot be empty")
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate network name %q", n.Name)
		}
		seen[n.Name] = true
		if n.RPCEndpoint == "" {
			return fmt.Errorf("network %q: rpc_endpoint cannot be empty", n.Name)
		}
		if n.ExchangeAddress == "" {
			return fmt.Errorf("network %q: exchange_address cannot be empty", n.Name)
		}
		for _, col := range n.Collections {
			if col.Standard != "ERC721" && col.Standard != "ERC1155" {
				return fmt.Errorf("network %q: collection %s: unknown standard %q",
					n.Name, col.Address, col.Standard)
			}
		}
	}
	return nil
}

// Network returns the configuration for a named network
func (c *Config) Network(name string) (*NetworkConfig, bool) {
	for i := range c.Networks {
		if c.Networks[i].Name == name {
			return &c.Networks[i], true
		}
	}
	return nil, false
}

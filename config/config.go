package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Server
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	APIKey   string `mapstructure:"API_KEY"` // Empty disables the X-Guardian-Key check

	// Storage and events. Empty REDIS_URL keeps everything in memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	// Transaction lookup. RPC_URL wins over Etherscan when both are set.
	RPCURL          string `mapstructure:"RPC_URL"`
	EtherscanAPIURL string `mapstructure:"ETHERSCAN_API_URL"`
	EtherscanAPIKey string `mapstructure:"ETHERSCAN_API_KEY"`

	// Unblock flow
	BlockedPageURL   string        `mapstructure:"BLOCKED_PAGE_URL"`
	RotationInterval time.Duration `mapstructure:"ROTATION_INTERVAL"`
	TicketGrace      time.Duration `mapstructure:"TICKET_GRACE"`
	FetchTimeout     time.Duration `mapstructure:"FETCH_TIMEOUT"`

	// Guardian approval transactions
	ChainID            int64  `mapstructure:"CHAIN_ID"`
	ApprovalRecipient  string `mapstructure:"APPROVAL_RECIPIENT"`
	ApprovalValueETH   string `mapstructure:"APPROVAL_VALUE_ETH"`
	GuardianPrivateKey string `mapstructure:"GUARDIAN_PRIVATE_KEY"`

	// Logging
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`
}

var defaults = map[string]any{
	"HTTP_ADDR":            ":9000",
	"API_KEY":              "",
	"REDIS_URL":            "",
	"RPC_URL":              "",
	"ETHERSCAN_API_URL":    "https://api-sepolia.etherscan.io/api",
	"ETHERSCAN_API_KEY":    "",
	"BLOCKED_PAGE_URL":     "chrome-extension://guardian/blocked.html",
	"ROTATION_INTERVAL":    3 * time.Minute,
	"TICKET_GRACE":         5 * time.Minute,
	"FETCH_TIMEOUT":        15 * time.Second,
	"CHAIN_ID":             11155111,
	"APPROVAL_RECIPIENT":   "0x7a4F9654434669FA941CE37Eb12F3edB0Df4fD55",
	"APPROVAL_VALUE_ETH":   "0",
	"GUARDIAN_PRIVATE_KEY": "",
	"LOG_LEVEL":            "info",
	"LOG_FILE":             "",
	"LOG_MAX_SIZE_MB":      100,
	"LOG_MAX_AGE_DAYS":     28,
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"http-addr":         "HTTP_ADDR",
	"redis-url":         "REDIS_URL",
	"rpc-url":           "RPC_URL",
	"chain-id":          "CHAIN_ID",
	"log-level":         "LOG_LEVEL",
	"log-file":          "LOG_FILE",
	"rotation-interval": "ROTATION_INTERVAL",
	"recipient":         "APPROVAL_RECIPIENT",
	"value":             "APPROVAL_VALUE_ETH",
}

// Flags returns the command line flags understood by Load
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("http-addr", ":9000", "address the HTTP API listens on")
	fs.String("redis-url", "", "redis connection URL, empty for in-memory state")
	fs.String("rpc-url", "", "JSON-RPC endpoint used to look up and send transactions")
	fs.Int64("chain-id", 11155111, "chain approval transactions are sent on")
	fs.String("log-level", "info", "log level: trace, debug, info, warn, error or crit")
	fs.String("log-file", "", "also write logs to this file, rotated by size")
	fs.Duration("rotation-interval", 3*time.Minute, "how often challenge messages are replaced")
	fs.String("recipient", "", "recipient of approval transactions")
	fs.String("value", "", "ether attached to approval transactions")
	return fs
}

// Load reads configuration from defaults, an optional .env file, the
// environment and finally flags, each overriding the previous.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Only try to read .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			log.Warn("Error reading .env file", "err", err)
		} else {
			log.Info("Loaded configuration from .env file")
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return config, nil
}

// Validate rejects values the daemon cannot run with
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"ROTATION_INTERVAL": c.RotationInterval,
		"TICKET_GRACE":      c.TicketGrace,
		"FETCH_TIMEOUT":     c.FetchTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, key, d)
		}
	}
	if c.ApprovalRecipient != "" && !common.IsHexAddress(c.ApprovalRecipient) {
		return fmt.Errorf("%w: APPROVAL_RECIPIENT %q is not an address", ErrInvalidConfig, c.ApprovalRecipient)
	}
	if c.ApprovalValueETH != "" {
		value, err := decimal.NewFromString(c.ApprovalValueETH)
		if err != nil || value.IsNegative() {
			return fmt.Errorf("%w: APPROVAL_VALUE_ETH %q is not a non-negative amount", ErrInvalidConfig, c.ApprovalValueETH)
		}
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("%w: CHAIN_ID must be positive", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

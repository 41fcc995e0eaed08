package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Backend ledger service
	BackendBaseURL string

	// Chain configuration
	ChainRPCURL        string
	ChainID            int64
	SettlementContract string // settlement contract address
	TokenContract      string // ERC20 stable token address

	// Wallet keystore
	KeystorePath string

	// NATS configuration
	NATSServers string // NATS server addresses (comma-separated)

	// State directory for the persisted client-side slots
	StateDir string

	// Reconciliation tuning
	PollInterval          time.Duration // backend+chain poll cadence
	CorrectionThreshold   float64       // units the chain must be ahead before a sync deposit
	CorrectionMinInterval time.Duration // minimum gap between corrective writes
	ClaimDelay            time.Duration // pause between sequential settlement claims

	// Auth gating
	AuthMinInterval time.Duration // client-side throttle between attempts
	CooldownWindow  time.Duration // rate-limit cooldown length

	// Referral code captured earlier in the client lifecycle, if any
	ReferralCode string

	// Environment
	Environment string // "development" or "production"
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		BackendBaseURL:     os.Getenv("BACKEND_BASE_URL"),
		ChainRPCURL:        os.Getenv("CHAIN_RPC_URL"),
		SettlementContract: os.Getenv("SETTLEMENT_CONTRACT"),
		TokenContract:      os.Getenv("TOKEN_CONTRACT"),
		KeystorePath:       os.Getenv("KEYSTORE_PATH"),
		NATSServers:        getEnvWithDefault("NATS_SERVERS", "nats://nats:4222"),
		StateDir:           getEnvWithDefault("STATE_DIR", defaultStateDir()),
		ReferralCode:       os.Getenv("REFERRAL_CODE"),

		PollInterval:          8 * time.Second,
		CorrectionThreshold:   1.5,
		CorrectionMinInterval: 60 * time.Second,
		ClaimDelay:            500 * time.Millisecond,
		AuthMinInterval:       4 * time.Second,
		CooldownWindow:        15 * time.Minute,

		Environment: os.Getenv("ENVIRONMENT"),
	}

	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		parsed, err := strconv.ParseInt(chainID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAIN_ID %q: %w", chainID, err)
		}
		config.ChainID = parsed
	}
	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		if parsed, err := time.ParseDuration(interval); err == nil {
			config.PollInterval = parsed
		}
	}
	if window := os.Getenv("COOLDOWN_WINDOW"); window != "" {
		if parsed, err := time.ParseDuration(window); err == nil {
			config.CooldownWindow = parsed
		}
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		// Validate required configuration
		if config.BackendBaseURL == "" {
			return nil, fmt.Errorf("BACKEND_BASE_URL is required")
		}
		if config.ChainRPCURL == "" {
			return nil, fmt.Errorf("CHAIN_RPC_URL is required")
		}
		if config.ChainID == 0 {
			return nil, fmt.Errorf("CHAIN_ID is required")
		}
		if config.SettlementContract == "" {
			return nil, fmt.Errorf("SETTLEMENT_CONTRACT is required")
		}
		if config.KeystorePath == "" {
			return nil, fmt.Errorf("KEYSTORE_PATH is required")
		}
	}

	return config, nil
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wallet-client"
	}
	return home + "/.wallet-client"
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
// This should only be called from test files
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
// This should only be called from test files
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:           "test",
		ChainID:               31337,
		PollInterval:          8 * time.Second,
		CorrectionThreshold:   1.5,
		CorrectionMinInterval: 60 * time.Second,
		ClaimDelay:            time.Millisecond,
		AuthMinInterval:       4 * time.Second,
		CooldownWindow:        15 * time.Minute,
	}
}

// Package config provides configuration management for the competition engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Trading     TradingConfig
	Competition CompetitionConfig
	SelfFunding SelfFundingConfig
	Scheduler   SchedulerConfig
	PriceOracle PriceOracleConfig
	Perps       PerpsConfig
	Stake       StakeConfig
	Logging     LoggingConfig
}

// ServerConfig holds the health/status server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// DSN returns the connection string for pgx and golang-migrate
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache TTLs
type CacheConfig struct {
	ConstraintsTTL time.Duration
	PriceTTL       time.Duration
	PortfolioTTL   time.Duration
	// UseRedis selects the Redis-backed cache over the in-process one
	UseRedis bool
}

// InitialBalance is one token of the starting allocation
type InitialBalance struct {
	SpecificChain string
	TokenAddress  string
	Symbol        string
	Amount        decimal.Decimal
}

// TradingConstraintDefaults are the system-wide constraint thresholds
type TradingConstraintDefaults struct {
	MinimumPairAgeHours float64
	Minimum24hVolumeUsd float64
	MinimumLiquidityUsd float64
	MinimumFdvUsd       float64
}

// TradingConfig holds trade execution configuration
type TradingConfig struct {
	MaxTradePercentage decimal.Decimal
	MinTradeAmount     decimal.Decimal
	DefaultConstraints TradingConstraintDefaults
	DefaultEVMChain    string
	DefaultSVMChain    string
	InitialBalances    []InitialBalance
	StablecoinSymbols  []string
	MajorTokenSymbols  []string
}

// CompetitionConfig holds lifecycle defaults
type CompetitionConfig struct {
	DefaultEvaluationMetric string
}

// SelfFundingConfig holds self-funding monitor thresholds (USD)
type SelfFundingConfig struct {
	ReconciliationThreshold decimal.Decimal
	CriticalAmount          decimal.Decimal
	TransferCriticalAmount  decimal.Decimal
}

// SchedulerConfig holds background job intervals
type SchedulerConfig struct {
	EndCheckInterval   time.Duration
	StartCheckInterval time.Duration
	SnapshotInterval   time.Duration
	PerpsSyncInterval  time.Duration
	WorkerConcurrency  int
}

// PriceOracleConfig holds price client configuration
type PriceOracleConfig struct {
	BaseURL         string
	RequestsPerSec  int
	Timeout         time.Duration
	MaxRetries      int
	BreakerFailures int
	BreakerReset    time.Duration
	// BudgetPerMinute is the request quota shared by all replicas through Redis; 0 disables it
	BudgetPerMinute int
	// ReservedForTrades is the part of the quota background jobs cannot use
	ReservedForTrades int
}

// PerpsConfig holds perps data provider configuration
type PerpsConfig struct {
	BaseURL        string
	RequestsPerSec int
	Timeout        time.Duration
	MaxRetries     int
}

// StakeConfig holds on-chain stake reader configuration
type StakeConfig struct {
	RPCURL       string
	TokenAddress string
	Decimals     int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	initialBalances, err := parseInitialBalances(getEnv("INITIAL_BALANCES", defaultInitialBalances))
	if err != nil {
		return nil, fmt.Errorf("invalid INITIAL_BALANCES: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "trading_arena"),
				User:           getEnv("POSTGRES_USER", "arena"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "trading_arena"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			ConstraintsTTL: getEnvAsDuration("CACHE_CONSTRAINTS_TTL", 5*time.Minute),
			PriceTTL:       getEnvAsDuration("CACHE_PRICE_TTL", 30*time.Second),
			PortfolioTTL:   getEnvAsDuration("CACHE_PORTFOLIO_TTL", 10*time.Second),
			UseRedis:       getEnvAsBool("CACHE_USE_REDIS", true),
		},
		Trading: TradingConfig{
			MaxTradePercentage: getEnvAsDecimal("TRADING_MAX_TRADE_PERCENTAGE", decimal.NewFromInt(25)),
			MinTradeAmount:     getEnvAsDecimal("TRADING_MIN_AMOUNT", decimal.RequireFromString("0.000001")),
			DefaultConstraints: TradingConstraintDefaults{
				MinimumPairAgeHours: getEnvAsFloat("TRADING_MIN_PAIR_AGE_HOURS", 168),
				Minimum24hVolumeUsd: getEnvAsFloat("TRADING_MIN_24H_VOLUME_USD", 100000),
				MinimumLiquidityUsd: getEnvAsFloat("TRADING_MIN_LIQUIDITY_USD", 100000),
				MinimumFdvUsd:       getEnvAsFloat("TRADING_MIN_FDV_USD", 1000000),
			},
			DefaultEVMChain:   getEnv("TRADING_DEFAULT_EVM_CHAIN", "eth"),
			DefaultSVMChain:   getEnv("TRADING_DEFAULT_SVM_CHAIN", "svm"),
			InitialBalances:   initialBalances,
			StablecoinSymbols: getEnvAsList("TRADING_STABLECOINS", "USDC,USDT,DAI,USDBC,BUSD,FRAX,TUSD,USDE,PYUSD"),
			MajorTokenSymbols: getEnvAsList("TRADING_MAJOR_TOKENS", "ETH,WETH,BTC,WBTC,CBBTC,SOL,WSOL,BNB,WBNB,MATIC,POL,AVAX,WAVAX,ARB,OP"),
		},
		Competition: CompetitionConfig{
			DefaultEvaluationMetric: getEnv("COMPETITION_DEFAULT_EVALUATION_METRIC", "calmar_ratio"),
		},
		SelfFunding: SelfFundingConfig{
			ReconciliationThreshold: getEnvAsDecimal("SELF_FUNDING_RECONCILIATION_THRESHOLD", decimal.NewFromInt(10)),
			CriticalAmount:          getEnvAsDecimal("SELF_FUNDING_CRITICAL_AMOUNT", decimal.NewFromInt(500)),
			TransferCriticalAmount:  getEnvAsDecimal("SELF_FUNDING_TRANSFER_CRITICAL_AMOUNT", decimal.NewFromInt(1000)),
		},
		Scheduler: SchedulerConfig{
			EndCheckInterval:   getEnvAsDuration("SCHEDULER_END_CHECK_INTERVAL", time.Minute),
			StartCheckInterval: getEnvAsDuration("SCHEDULER_START_CHECK_INTERVAL", time.Minute),
			SnapshotInterval:   getEnvAsDuration("SCHEDULER_SNAPSHOT_INTERVAL", 5*time.Minute),
			PerpsSyncInterval:  getEnvAsDuration("SCHEDULER_PERPS_SYNC_INTERVAL", 5*time.Minute),
			WorkerConcurrency:  getEnvAsInt("SCHEDULER_WORKER_CONCURRENCY", 10),
		},
		PriceOracle: PriceOracleConfig{
			BaseURL:           getEnv("PRICE_ORACLE_URL", "https://api.dexscreener.com"),
			RequestsPerSec:    getEnvAsInt("PRICE_ORACLE_RPS", 5),
			Timeout:           getEnvAsDuration("PRICE_ORACLE_TIMEOUT", 10*time.Second),
			MaxRetries:        getEnvAsInt("PRICE_ORACLE_MAX_RETRIES", 3),
			BreakerFailures:   getEnvAsInt("PRICE_ORACLE_BREAKER_FAILURES", 5),
			BreakerReset:      getEnvAsDuration("PRICE_ORACLE_BREAKER_RESET", 30*time.Second),
			BudgetPerMinute:   getEnvAsInt("PRICE_ORACLE_BUDGET_PER_MINUTE", 0),
			ReservedForTrades: getEnvAsInt("PRICE_ORACLE_RESERVED_FOR_TRADES", 0),
		},
		Perps: PerpsConfig{
			BaseURL:        getEnv("PERPS_PROVIDER_URL", "http://localhost:8090"),
			RequestsPerSec: getEnvAsInt("PERPS_PROVIDER_RPS", 10),
			Timeout:        getEnvAsDuration("PERPS_PROVIDER_TIMEOUT", 15*time.Second),
			MaxRetries:     getEnvAsInt("PERPS_PROVIDER_MAX_RETRIES", 3),
		},
		Stake: StakeConfig{
			RPCURL:       getEnv("STAKE_RPC_URL", ""),
			TokenAddress: getEnv("STAKE_TOKEN_ADDRESS", ""),
			Decimals:     getEnvAsInt("STAKE_TOKEN_DECIMALS", 18),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

const defaultInitialBalances = "eth:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48:USDC:5000," +
	"base:0x833589fcd6edb6e08f4c7c32d4f71b54bda02913:USDC:5000," +
	"svm:EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v:USDC:5000"

// parseInitialBalances parses "chain:token:symbol:amount" entries separated by commas
func parseInitialBalances(raw string) ([]InitialBalance, error) {
	var balances []InitialBalance
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("entry %q: expected chain:token:symbol:amount", entry)
		}

		amount, err := decimal.NewFromString(parts[3])
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("entry %q: amount must not be negative", entry)
		}

		balances = append(balances, InitialBalance{
			SpecificChain: strings.ToLower(parts[0]),
			TokenAddress:  parts[1],
			Symbol:        parts[2],
			Amount:        amount,
		})
	}
	return balances, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList gets a comma separated environment variable as an upper-cased list
func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, strings.ToUpper(item))
		}
	}
	return out
}

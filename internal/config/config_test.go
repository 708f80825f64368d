package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("CACHE_CONSTRAINTS_TTL", "30s"); err != nil {
		t.Fatalf("Failed to set CACHE_CONSTRAINTS_TTL: %v", err)
	}
	if err := os.Setenv("TRADING_MAX_TRADE_PERCENTAGE", "50"); err != nil {
		t.Fatalf("Failed to set TRADING_MAX_TRADE_PERCENTAGE: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("CACHE_CONSTRAINTS_TTL")
		_ = os.Unsetenv("TRADING_MAX_TRADE_PERCENTAGE")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Cache.ConstraintsTTL != 30*time.Second {
		t.Errorf("Cache.ConstraintsTTL = %v, want %v", cfg.Cache.ConstraintsTTL, 30*time.Second)
	}

	if !cfg.Trading.MaxTradePercentage.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Trading.MaxTradePercentage = %v, want 50", cfg.Trading.MaxTradePercentage)
	}

	if !cfg.Trading.MinTradeAmount.Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("Trading.MinTradeAmount = %v, want 0.000001", cfg.Trading.MinTradeAmount)
	}

	if len(cfg.Trading.InitialBalances) != 3 {
		t.Errorf("len(Trading.InitialBalances) = %d, want 3", len(cfg.Trading.InitialBalances))
	}

	if cfg.Competition.DefaultEvaluationMetric != "calmar_ratio" {
		t.Errorf("Competition.DefaultEvaluationMetric = %v, want calmar_ratio", cfg.Competition.DefaultEvaluationMetric)
	}
}

func TestParseInitialBalances(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "two entries", raw: "eth:0xabc:USDC:5000, svm:So1:USDC:100.5", want: 2},
		{name: "empty", raw: "", want: 0},
		{name: "missing field", raw: "eth:0xabc:5000", wantErr: true},
		{name: "bad amount", raw: "eth:0xabc:USDC:lots", wantErr: true},
		{name: "negative amount", raw: "eth:0xabc:USDC:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInitialBalances(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInitialBalances() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}

	got, _ := parseInitialBalances("ETH:0xabc:USDC:5000")
	if got[0].SpecificChain != "eth" || !got[0].Amount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("unexpected entry %+v", got[0])
	}
}

func TestGetEnvAsList(t *testing.T) {
	if err := os.Setenv("TEST_LIST", " usdc, ,dai "); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	defer func() { _ = os.Unsetenv("TEST_LIST") }()

	got := getEnvAsList("TEST_LIST", "")
	if len(got) != 2 || got[0] != "USDC" || got[1] != "DAI" {
		t.Errorf("getEnvAsList() = %v, want [USDC DAI]", got)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

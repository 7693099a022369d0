package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cryptoScalper/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoScalper/internal/fusion"
	"cryptoScalper/internal/risk"
	"cryptoScalper/internal/strategy"
	"cryptoScalper/internal/strategy/indicators"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool
	DryRun    bool // Paper fills against live market data

	// Market data
	Symbols        []string
	QuoteAsset     string
	CandleInterval string
	CandleLimit    int
	OrderBookDepth int

	// Loop cadence
	TickInterval    time.Duration
	TickTimeout     time.Duration
	CommitTimeout   time.Duration // Recording a fill after the order returned
	ShutdownTimeout time.Duration

	// Risk
	MaxDailyLoss            float64
	TradeCooldown           time.Duration
	MaxOpenPositions        int
	MaxDailyTradesPerSymbol int
	PositionSizePercent     float64
	MinNotional             float64
	MaxNotional             float64
	ConfidenceScaling       bool

	// Execution
	APIRateLimit      float64 // Requests per second shared by every symbol loop
	FeeRate           float64
	SlippageTolerance float64
	PaperEquity       float64

	// Database
	DBPath string

	// Logging and metrics
	LogLevel    logger.LogLevel
	LogFormat   string // "text" or "json"
	MetricsAddr string // Empty disables the metrics server

	// Heuristic thresholds, overridable through TUNING_FILE
	TuningFile string
	Tuning     Tuning
}

// Tuning groups the heuristic parameters of the signal pipeline.
type Tuning struct {
	Fusion     fusion.Config     `yaml:"fusion"`
	Indicators indicators.Config `yaml:"indicators"`
	Strategy   strategy.Config   `yaml:"strategy"`
}

// DefaultTuning returns the built-in thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		Fusion:     fusion.DefaultConfig(),
		Indicators: indicators.DefaultConfig(),
		Strategy:   strategy.DefaultConfig(),
	}
}

// Validate checks every tuning section.
func (t Tuning) Validate() error {
	if err := t.Fusion.Validate(); err != nil {
		return fmt.Errorf("fusion: %w", err)
	}
	if err := t.Indicators.Validate(); err != nil {
		return fmt.Errorf("indicators: %w", err)
	}
	if err := t.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	return nil
}

// LoadTuning reads a YAML tuning file. Keys absent from the file keep their defaults.
func LoadTuning(path string) (Tuning, error) {
	tuning := DefaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		return tuning, fmt.Errorf("reading tuning file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return tuning, fmt.Errorf("parsing tuning file %s: %w", path, err)
	}
	if err := tuning.Validate(); err != nil {
		return tuning, fmt.Errorf("invalid tuning file %s: %w", path, err)
	}
	return tuning, nil
}

// RiskConfig returns the risk controller settings.
func (c *Config) RiskConfig() risk.RiskConfig {
	return risk.RiskConfig{
		MaxDailyLoss:            c.MaxDailyLoss,
		TradeCooldown:           c.TradeCooldown,
		MaxOpenPositions:        c.MaxOpenPositions,
		MaxDailyTradesPerSymbol: c.MaxDailyTradesPerSymbol,
		PositionSizePercent:     c.PositionSizePercent,
		ConfidenceScaling:       c.ConfidenceScaling,
		MinNotional:             c.MinNotional,
		MaxNotional:             c.MaxNotional,
	}
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	cfg.DryRun = getEnvAsBool("DRY_RUN", false)

	// Paper trading still reads public market data, so keys are optional there
	if !cfg.DryRun {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set")
		}
	}

	// Market data
	cfg.Symbols = parseSymbols(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))
	for _, s := range cfg.Symbols {
		if !strings.HasSuffix(s, cfg.QuoteAsset) {
			errs = append(errs, fmt.Sprintf("symbol %s is not quoted in %s", s, cfg.QuoteAsset))
		}
	}
	cfg.CandleInterval = getEnv("CANDLE_INTERVAL", "1m")

	cfg.CandleLimit, err = getEnvAsIntRequired("CANDLE_LIMIT", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CANDLE_LIMIT: %v", err))
	} else if cfg.CandleLimit <= 0 || cfg.CandleLimit > 1000 {
		errs = append(errs, "CANDLE_LIMIT must be between 1 and 1000")
	}

	cfg.OrderBookDepth, err = getEnvAsIntRequired("ORDERBOOK_DEPTH", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ORDERBOOK_DEPTH: %v", err))
	} else if cfg.OrderBookDepth <= 0 {
		errs = append(errs, "ORDERBOOK_DEPTH must be positive")
	}

	// Loop cadence
	tickMs := getEnvAsInt("TICK_INTERVAL_MS", 800)
	if tickMs <= 0 {
		errs = append(errs, "TICK_INTERVAL_MS must be positive")
	}
	cfg.TickInterval = time.Duration(tickMs) * time.Millisecond

	tickTimeoutMs := getEnvAsInt("TICK_TIMEOUT_MS", 10000)
	if tickTimeoutMs <= 0 {
		errs = append(errs, "TICK_TIMEOUT_MS must be positive")
	}
	cfg.TickTimeout = time.Duration(tickTimeoutMs) * time.Millisecond

	commitTimeoutMs := getEnvAsInt("COMMIT_TIMEOUT_MS", 5000)
	if commitTimeoutMs <= 0 {
		errs = append(errs, "COMMIT_TIMEOUT_MS must be positive")
	}
	cfg.CommitTimeout = time.Duration(commitTimeoutMs) * time.Millisecond

	shutdownSeconds := getEnvAsInt("SHUTDOWN_TIMEOUT_SECONDS", 15)
	if shutdownSeconds <= 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}
	cfg.ShutdownTimeout = time.Duration(shutdownSeconds) * time.Second

	// Risk
	cfg.MaxDailyLoss, err = getEnvAsFloatRequired("MAX_DAILY_LOSS", 50.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_LOSS: %v", err))
	} else if cfg.MaxDailyLoss <= 0 {
		errs = append(errs, "MAX_DAILY_LOSS must be positive")
	}

	cooldownSeconds, err := getEnvAsIntRequired("TRADE_COOLDOWN_SECONDS", 60)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_COOLDOWN_SECONDS: %v", err))
	} else if cooldownSeconds < 0 {
		errs = append(errs, "TRADE_COOLDOWN_SECONDS cannot be negative")
	}
	cfg.TradeCooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.MaxOpenPositions, err = getEnvAsIntRequired("MAX_OPEN_POSITIONS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_OPEN_POSITIONS: %v", err))
	} else if cfg.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}

	cfg.MaxDailyTradesPerSymbol, err = getEnvAsIntRequired("MAX_DAILY_TRADES_PER_SYMBOL", 20)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_DAILY_TRADES_PER_SYMBOL: %v", err))
	} else if cfg.MaxDailyTradesPerSymbol < 0 {
		errs = append(errs, "MAX_DAILY_TRADES_PER_SYMBOL cannot be negative")
	}

	cfg.PositionSizePercent, err = getEnvAsFloatRequired("POSITION_SIZE_PERCENT", 0.1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POSITION_SIZE_PERCENT: %v", err))
	} else if cfg.PositionSizePercent <= 0 || cfg.PositionSizePercent > 1 {
		errs = append(errs, "POSITION_SIZE_PERCENT must be between 0.0 (exclusive) and 1.0")
	}

	cfg.MinNotional, err = getEnvAsFloatRequired("MIN_NOTIONAL", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_NOTIONAL: %v", err))
	} else if cfg.MinNotional < 0 {
		errs = append(errs, "MIN_NOTIONAL cannot be negative")
	}

	cfg.MaxNotional, err = getEnvAsFloatRequired("MAX_NOTIONAL", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_NOTIONAL: %v", err))
	} else if cfg.MaxNotional < 0 {
		errs = append(errs, "MAX_NOTIONAL cannot be negative")
	} else if cfg.MaxNotional > 0 && cfg.MaxNotional < cfg.MinNotional {
		errs = append(errs, "MAX_NOTIONAL must not be below MIN_NOTIONAL")
	}

	cfg.ConfidenceScaling = getEnvAsBool("CONFIDENCE_SCALING", true)

	// Execution
	cfg.APIRateLimit, err = getEnvAsFloatRequired("API_RATE_LIMIT_PER_SECOND", 10.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid API_RATE_LIMIT_PER_SECOND: %v", err))
	} else if cfg.APIRateLimit <= 0 {
		errs = append(errs, "API_RATE_LIMIT_PER_SECOND must be positive")
	}

	cfg.FeeRate, err = getEnvAsFloatRequired("FEE_RATE", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FEE_RATE: %v", err))
	} else if cfg.FeeRate < 0 || cfg.FeeRate >= 0.1 {
		errs = append(errs, "FEE_RATE must be between 0.0 and 0.1")
	}

	cfg.SlippageTolerance, err = getEnvAsFloatRequired("SLIPPAGE_TOLERANCE", 0.004)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SLIPPAGE_TOLERANCE: %v", err))
	} else if cfg.SlippageTolerance < 0 {
		errs = append(errs, "SLIPPAGE_TOLERANCE cannot be negative")
	}

	cfg.PaperEquity, err = getEnvAsFloatRequired("PAPER_EQUITY", 1000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PAPER_EQUITY: %v", err))
	} else if cfg.DryRun && cfg.PaperEquity <= 0 {
		errs = append(errs, "PAPER_EQUITY must be positive when DRY_RUN is set")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/scalper.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Tuning
	cfg.TuningFile = getEnv("TUNING_FILE", "")
	cfg.Tuning = DefaultTuning()
	if cfg.TuningFile != "" {
		cfg.Tuning, err = LoadTuning(cfg.TuningFile)
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if cfg.CandleLimit > 0 && cfg.CandleLimit < cfg.Tuning.Indicators.RequiredCandles() {
		errs = append(errs, fmt.Sprintf("CANDLE_LIMIT must be at least %d for the configured indicator periods", cfg.Tuning.Indicators.RequiredCandles()))
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseSymbols splits a comma list, normalizes and de-duplicates it.
func parseSymbols(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		s := strings.ToUpper(strings.TrimSpace(part))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package config

import (
	"fmt"
	"os"
	"paper-trading-sim/internal/models"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，如 PAPERSIM_FEED_PROVIDER
const EnvPrefix = "PAPERSIM"

// DefaultSymbols 是默认允许切换的交易对
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "XRPUSDT", "BNBUSDT", "ADAUSDT", "UNIUSDT", "TRXUSDT",
	"SOLUSDT", "DOTUSDT", "LTCUSDT", "SUIUSDT", "AVAXUSDT", "ATPUSDT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbol", "BTCUSDT")
	v.SetDefault("symbols", DefaultSymbols)
	v.SetDefault("initial_balance", 9000.0)
	v.SetDefault("initial_price", 60000.0)
	v.SetDefault("tick_interval_ms", 1000)
	v.SetDefault("scan_interval_sec", 60)
	v.SetDefault("status_interval_sec", 30)

	v.SetDefault("feed.provider", "kucoin")
	v.SetDefault("feed.kucoin_base_url", "https://api.kucoin.com")
	v.SetDefault("feed.binance_base_url", "https://api.binance.com")
	v.SetDefault("feed.timeout_ms", 2500)
	v.SetDefault("feed.volatility", 0.0008)
	v.SetDefault("feed.price_floor", 0.01)
	v.SetDefault("feed.seed_prices", map[string]float64{})
	v.SetDefault("feed.user_agent", "paper-trading-sim/1.0")

	v.SetDefault("scan.fetch_concurrency", 4)

	v.SetDefault("persistence.backend", "badger")
	v.SetDefault("persistence.root", "paper/positions")
	v.SetDefault("persistence.badger_path", "data/badger")
	v.SetDefault("persistence.redis_addr", "localhost:6379")
	v.SetDefault("persistence.redis_password", "")
	v.SetDefault("persistence.redis_db", 0)
	v.SetDefault("persistence.postgres_dsn", "")
	v.SetDefault("persistence.sqlite_path", "data/papersim.db")
	v.SetDefault("persistence.queue_size", 1024)

	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.stream_queue_size", 64)
	v.SetDefault("server.heartbeat_sec", 15)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file", "logs/papersim.log")
	v.SetDefault("log.max_size", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 14)
	v.SetDefault("log.compress", false)
}

// LoadConfig 加载配置：默认值 < 配置文件 (json/yaml/toml) < PAPERSIM_* 环境变量。
// path 为空时只使用默认值和环境变量。
func LoadConfig(path string) (*models.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &models.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 兼容托管平台注入的 PORT
	explicitAddr := v.InConfig("server.addr") || os.Getenv(EnvPrefix+"_SERVER_ADDR") != ""
	if port := os.Getenv("PORT"); port != "" && !explicitAddr {
		cfg.Server.Addr = ":" + port
	}

	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize 统一交易对大小写；viper 会把 map 的键转为小写
func normalize(cfg *models.Config) {
	cfg.Symbol = strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	seeds := make(map[string]float64, len(cfg.Feed.SeedPrices))
	for k, p := range cfg.Feed.SeedPrices {
		seeds[strings.ToUpper(k)] = p
	}
	cfg.Feed.SeedPrices = seeds
	cfg.Feed.Provider = strings.ToLower(cfg.Feed.Provider)
	cfg.Persistence.Backend = strings.ToLower(cfg.Persistence.Backend)
}

// Validate 检查配置的取值范围
func Validate(cfg *models.Config) error {
	switch {
	case len(cfg.Symbols) == 0:
		return fmt.Errorf("config: symbols allow-list is empty")
	case !cfg.Allowed(cfg.Symbol):
		return fmt.Errorf("config: symbol %q is not in the allow-list", cfg.Symbol)
	case cfg.InitialBalance < 0 || !models.Finite(cfg.InitialBalance):
		return fmt.Errorf("config: initial_balance must be >= 0")
	case cfg.InitialPrice <= 0:
		return fmt.Errorf("config: initial_price must be > 0")
	case cfg.TickIntervalMs <= 0:
		return fmt.Errorf("config: tick_interval_ms must be > 0")
	case cfg.ScanIntervalSec <= 0:
		return fmt.Errorf("config: scan_interval_sec must be > 0")
	case cfg.Feed.TimeoutMs <= 0:
		return fmt.Errorf("config: feed.timeout_ms must be > 0")
	case cfg.Feed.Volatility < 0 || cfg.Feed.Volatility >= 1:
		return fmt.Errorf("config: feed.volatility must be in [0, 1)")
	case cfg.Feed.PriceFloor <= 0:
		return fmt.Errorf("config: feed.price_floor must be > 0")
	case cfg.Server.StreamQueueSize <= 0:
		return fmt.Errorf("config: server.stream_queue_size must be > 0")
	}
	switch cfg.Feed.Provider {
	case "kucoin", "binance", "none":
	default:
		return fmt.Errorf("config: unknown feed.provider %q", cfg.Feed.Provider)
	}
	switch cfg.Persistence.Backend {
	case "badger", "redis", "postgres", "sqlite", "memory", "none":
	default:
		return fmt.Errorf("config: unknown persistence.backend %q", cfg.Persistence.Backend)
	}
	return nil
}

package models

import (
	"strings"
	"time"
)

// Config 结构体定义了模拟交易服务的所有配置参数
type Config struct {
	Symbol            string            `mapstructure:"symbol" json:"symbol"`                           // 启动时的活跃交易对，如 "BTCUSDT"
	Symbols           []string          `mapstructure:"symbols" json:"symbols"`                         // 允许切换的交易对白名单
	InitialBalance    float64           `mapstructure:"initial_balance" json:"initial_balance"`         // 冷启动时的现金余额
	InitialPrice      float64           `mapstructure:"initial_price" json:"initial_price"`             // 冷启动时活跃交易对的价格
	TickIntervalMs    int               `mapstructure:"tick_interval_ms" json:"tick_interval_ms"`       // 行情刷新间隔 (毫秒)
	ScanIntervalSec   int               `mapstructure:"scan_interval_sec" json:"scan_interval_sec"`     // 止盈止损扫描间隔 (秒)
	StatusIntervalSec int               `mapstructure:"status_interval_sec" json:"status_interval_sec"` // 状态打印间隔 (秒), 0 表示关闭
	Feed              FeedConfig        `mapstructure:"feed" json:"feed"`
	Scan              ScanConfig        `mapstructure:"scan" json:"scan"`
	Persistence       PersistenceConfig `mapstructure:"persistence" json:"persistence"`
	Server            ServerConfig      `mapstructure:"server" json:"server"`
	LogConfig         LogConfig         `mapstructure:"log" json:"log"`
}

// FeedConfig 定义了行情源相关的配置
type FeedConfig struct {
	Provider       string             `mapstructure:"provider" json:"provider"`               // kucoin, binance 或 none (纯模拟)
	KucoinBaseURL  string             `mapstructure:"kucoin_base_url" json:"kucoin_base_url"` // KuCoin REST 基础地址
	BinanceBaseURL string             `mapstructure:"binance_base_url" json:"binance_base_url"`
	TimeoutMs      int                `mapstructure:"timeout_ms" json:"timeout_ms"` // 单次报价的超时时间
	Volatility     float64            `mapstructure:"volatility" json:"volatility"` // 模拟随机游走的单步波动率
	PriceFloor     float64            `mapstructure:"price_floor" json:"price_floor"`
	SeedPrices     map[string]float64 `mapstructure:"seed_prices" json:"seed_prices"` // 各交易对的模拟起始价格
	UserAgent      string             `mapstructure:"user_agent" json:"user_agent"`
}

// ScanConfig 定义了止盈止损扫描的配置
type ScanConfig struct {
	FetchConcurrency int `mapstructure:"fetch_concurrency" json:"fetch_concurrency"` // 非活跃交易对并发取价上限
}

// PersistenceConfig 定义了持久化镜像的配置
type PersistenceConfig struct {
	Backend       string `mapstructure:"backend" json:"backend"` // badger, redis, postgres, sqlite, memory, none
	Root          string `mapstructure:"root" json:"root"`       // 层级键的根路径
	BadgerPath    string `mapstructure:"badger_path" json:"badger_path"`
	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db"`
	PostgresDSN   string `mapstructure:"postgres_dsn" json:"postgres_dsn"`
	SQLitePath    string `mapstructure:"sqlite_path" json:"sqlite_path"`
	QueueSize     int    `mapstructure:"queue_size" json:"queue_size"` // 异步写队列长度
}

// ServerConfig 定义了 HTTP 服务的配置
type ServerConfig struct {
	Addr            string   `mapstructure:"addr" json:"addr"`
	CORSOrigins     []string `mapstructure:"cors_origins" json:"cors_origins"`
	StreamQueueSize int      `mapstructure:"stream_queue_size" json:"stream_queue_size"` // 每个订阅者的事件队列长度
	HeartbeatSec    int      `mapstructure:"heartbeat_sec" json:"heartbeat_sec"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level"`             // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `mapstructure:"output" json:"output"`           // 输出模式: "console", "file", "both"
	File       string `mapstructure:"file" json:"file"`               // 日志文件路径
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`       // 单个日志文件的最大大小 (MB)
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`         // 旧日志文件的最大保留天数
	Compress   bool   `mapstructure:"compress" json:"compress"`       // 是否压缩旧日志文件
}

// TickInterval 返回行情刷新周期
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// ScanInterval 返回止盈止损扫描周期
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSec) * time.Second
}

// Allowed 判断交易对是否在白名单中
func (c *Config) Allowed(symbol string) bool {
	for _, s := range c.Symbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// Side 定义了持仓方向的类型
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// ParseSide 解析持仓方向，兼容 BUY/SELL 写法
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return Long, true
	case "SHORT", "SELL":
		return Short, true
	}
	return "", false
}

// Direction 多头为 +1，空头为 -1
func (s Side) Direction() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// CloseReason 定义了平仓原因
type CloseReason string

const (
	TakeProfit CloseReason = "TAKE_PROFIT"
	StopLoss   CloseReason = "STOP_LOSS"
	Manual     CloseReason = "MANUAL"
)

// Position 是一笔未平仓的模拟仓位，创建后不可修改
type Position struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Amount     float64   `json:"amount"` // 保证金
	Leverage   int       `json:"leverage"`
	EntryPrice float64   `json:"entryPrice"`
	TPPct      float64   `json:"tpPct"`
	SLPct      float64   `json:"slPct"`
	TPPrice    float64   `json:"tpPrice"`
	SLPrice    float64   `json:"slPrice"`
	OpenedAt   time.Time `json:"openedAt"`
}

// ClosedRecord 是平仓后生成的不可变历史记录
type ClosedRecord struct {
	Position
	ExitPrice   float64     `json:"exitPrice"`
	RealizedPnL float64     `json:"realizedPnl"`
	CloseReason CloseReason `json:"closeReason"`
	ClosedAt    time.Time   `json:"closedAt"`
}

// OpenRequest 描述一次开仓请求，Symbol 为空时使用当前活跃交易对
type OpenRequest struct {
	Symbol   string
	Side     Side
	Amount   float64
	Leverage int
	TPPct    float64
	SLPct    float64
}

// StateView 是对外暴露的账户视图，金额已保留两位小数
type StateView struct {
	Symbol    string         `json:"symbol"`
	Price     float64        `json:"price"`
	Balance   float64        `json:"balance"`
	Equity    float64        `json:"equity"`
	Positions []Position     `json:"positions"`
	History   []ClosedRecord `json:"history"`
}

package main

import (
	"flag"
	"paper-trading-sim/internal/app"
	"paper-trading-sim/internal/config"
	"paper-trading-sim/internal/logger"
	"paper-trading-sim/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "", "path to the config file (json, yaml or toml)")
	addr := flag.String("addr", "", "HTTP listen address, overrides server.addr")
	offline := flag.Bool("offline", false, "use the simulated price feed only")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 加载 .env 和配置时就需要日志，先用默认配置初始化
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *offline {
		cfg.Feed.Provider = "none"
	}

	// --- 使用配置重新初始化日志 ---
	log := logger.InitLogger(cfg.LogConfig)
	defer log.Sync() // 确保在退出时刷新所有缓冲的日志

	logger.S().Infof("--- 启动模拟交易服务: %s @ %s, 行情源 %s, 持久化 %s ---",
		cfg.Symbol, cfg.Server.Addr, cfg.Feed.Provider, cfg.Persistence.Backend)

	// fx 负责启动顺序，并在收到 SIGINT/SIGTERM 后逆序关闭
	fx.New(app.Module(cfg, log)).Run()
}

package main

import (
	"context"
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"updatemonitor/internal/api"
	"updatemonitor/internal/app"
	"updatemonitor/internal/config"
	"updatemonitor/internal/logging"
	"updatemonitor/internal/shutdown"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 8080, "API 服务端口")
	watch      = flag.Bool("watch", false, "同时在后台运行监视模式")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}

	logger, err := logging.NewLogrusLogger(cfg.Logging)
	if err != nil {
		logrus.Fatalf("创建日志器失败: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	gs := shutdown.NewGracefulShutdown(0, logger)
	ctx := gs.Context()

	a, err := app.New(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}
	a.RegisterShutdown(gs)
	a.WatchMeta(ctx)

	opts := api.Options{
		Config:       cfg,
		Store:        a.Store,
		Meta:         a.Meta,
		Monitor:      a.Monitor,
		ErrorHandler: a.ErrorHandler,
		Connections:  a.Clients,
		Port:         *port,
	}

	// 设置了数据库时开放配置管理接口
	if dsn := os.Getenv("UPDATEMONITOR_DB_DSN"); dsn != "" {
		dbConfig, err := config.NewDatabaseConfig(dsn, logger)
		if err != nil {
			logger.Fatalf("连接配置数据库失败: %v", err)
		}
		opts.ConfigManager = api.NewConfigManager(dbConfig, logger)
		gs.RegisterShutdownFunc("config_db", func(context.Context) error {
			return dbConfig.Close()
		}, shutdown.OrderCloseConnections)
	}

	server, err := api.NewServer(opts, logger)
	if err != nil {
		logger.Fatalf("创建API服务器失败: %v", err)
	}
	gs.RegisterShutdownFunc("api_server", server.Stop, shutdown.OrderStopAPI)

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("API服务器异常退出: %v", err)
			gs.Shutdown()
		}
	}()

	if *watch {
		go func() {
			if err := a.Monitor.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("监视模式退出: %v", err)
			}
		}()
	}

	gs.Start()
	logger.Infof("API服务器已启动，监听端口: %d", *port)

	if err := gs.Wait(); err != nil {
		logger.Errorf("停机过程中发生错误: %v", err)
		os.Exit(1)
	}
	logger.Info("服务器已关闭")
}

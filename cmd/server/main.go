package main

import (
	"flag"
	"log"
	"os"
	"syscall"

	"github.com/sketchpay/payment-gateway/internal/app"
	"github.com/sketchpay/payment-gateway/internal/config"
	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/models"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())

	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		log.Fatalf("服务运行失败: %v", err)
	}
}

package router

import (
	"github.com/sketchpay/payment-gateway/internal/config"
	"github.com/sketchpay/payment-gateway/internal/http/handlers"
	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, payments *service.PaymentService) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.Pay))

	handler := handlers.New(payments)

	r.GET("/health", handler.Health)

	api := r.Group("/api/payments")
	{
		api.POST("/create", handler.CreatePayment)
		api.GET("/:orderNo", handler.GetOrder)
		api.POST("/notify/wechat", handler.WechatNotify)
		api.POST("/notify/alipay", handler.AlipayNotify)
	}

	return r
}

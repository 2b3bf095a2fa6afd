package provider

import (
	"fmt"
	"strings"

	"github.com/sketchpay/payment-gateway/internal/config"
	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/models"
	"github.com/sketchpay/payment-gateway/internal/payment/alipay"
	"github.com/sketchpay/payment-gateway/internal/payment/wechat"
	"github.com/sketchpay/payment-gateway/internal/queue"
	"github.com/sketchpay/payment-gateway/internal/repository"
	"github.com/sketchpay/payment-gateway/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	OrderRepo repository.OrderRepository

	WechatClient *wechat.Client
	AlipayClient *alipay.Client

	PaymentService *service.PaymentService
}

// NewContainer 初始化依赖。渠道密钥在这里解析一次，配置了渠道但
// 密钥不可用视为启动失败。
func NewContainer(cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("init queue client: %w", err)
	}
	c.QueueClient = queueClient

	c.OrderRepo = repository.NewOrderRepository(models.DB)

	if cfg.Wechat.Enabled() {
		client, err := wechat.NewClient(wechat.Config{
			AppID:           cfg.Wechat.AppID,
			MchID:           cfg.Wechat.MchID,
			APIV3Key:        cfg.Wechat.APIV3Key,
			MchCertSerial:   cfg.Wechat.MchCertSerial,
			MchPrivateKey:   cfg.Wechat.MchPrivateKey,
			PlatformCertPub: cfg.Wechat.PlatformCertPub,
			NotifyURL:       notifyURL(cfg, "wechat"),
			BaseURL:         cfg.Wechat.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init wechat client: %w", err)
		}
		c.WechatClient = client
	} else {
		logger.Warnw("wechat_channel_disabled", "reason", "incomplete config")
	}

	if cfg.Alipay.Enabled() {
		client, err := alipay.NewClient(alipay.Config{
			AppID:      cfg.Alipay.AppID,
			PrivateKey: cfg.Alipay.PrivateKey,
			PublicKey:  cfg.Alipay.PublicKey,
			NotifyURL:  notifyURL(cfg, "alipay"),
			GatewayURL: cfg.Alipay.GatewayURL,
		})
		if err != nil {
			return nil, fmt.Errorf("init alipay client: %w", err)
		}
		c.AlipayClient = client
	} else {
		logger.Warnw("alipay_channel_disabled", "reason", "incomplete config")
	}

	// nil 接口值：渠道未配置时服务层按渠道未启用处理
	var wechatGateway service.WechatGateway
	if c.WechatClient != nil {
		wechatGateway = c.WechatClient
	}
	var alipayGateway service.AlipayGateway
	if c.AlipayClient != nil {
		alipayGateway = c.AlipayClient
	}
	c.PaymentService = service.NewPaymentService(c.OrderRepo, wechatGateway, alipayGateway, c.QueueClient)

	return c, nil
}

// Close 释放容器持有的资源
func (c *Container) Close() error {
	if c == nil || c.QueueClient == nil {
		return nil
	}
	return c.QueueClient.Close()
}

func notifyURL(cfg *config.Config, channel string) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.Notify.BaseURL), "/")
	return base + "/api/payments/notify/" + channel
}

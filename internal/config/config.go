package config

import (
	"fmt"
	"strings"

	"github.com/sketchpay/payment-gateway/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Pay      PayConfig      `mapstructure:"pay"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Wechat   WechatConfig   `mapstructure:"wechat"`
	Alipay   AlipayConfig   `mapstructure:"alipay"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// PayConfig 商户侧配置
type PayConfig struct {
	BaseURL    string `mapstructure:"base_url"`    // PAY_BASE_URL
	CORSOrigin string `mapstructure:"cors_origin"` // PAY_CORS_ORIGIN
}

// NotifyConfig 回调地址配置
type NotifyConfig struct {
	BaseURL string `mapstructure:"base_url"` // NOTIFY_BASE_URL，对外可达，用于拼接异步通知地址
}

// PaymentConfig 订单存储配置
type PaymentConfig struct {
	DBPath string `mapstructure:"db_path"` // PAYMENT_DB_PATH
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string `mapstructure:"dsn"`    // 留空时使用 PAYMENT_DB_PATH
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	Host             string         `mapstructure:"host"`
	Port             int            `mapstructure:"port"`
	Password         string         `mapstructure:"password"`
	DB               int            `mapstructure:"db"`
	Concurrency      int            `mapstructure:"concurrency"`
	Queues           map[string]int `mapstructure:"queues"`
	SyncDelaySeconds int            `mapstructure:"sync_delay_seconds"`
}

// WechatConfig 微信支付 v3 商户配置
type WechatConfig struct {
	MchID             string `mapstructure:"mch_id"`                   // WECHAT_MCH_ID
	AppID             string `mapstructure:"app_id"`                   // WECHAT_APP_ID
	APIV3Key          string `mapstructure:"api_v3_key"`               // WECHAT_API_V3_KEY
	MchCertSerial     string `mapstructure:"mch_cert_serial"`          // WECHAT_MCH_CERT_SERIAL
	MchPrivateKey     string `mapstructure:"mch_private_key"`          // WECHAT_MCH_PRIVATE_KEY
	PlatformCertPub   string `mapstructure:"platform_cert_public_key"` // WECHAT_PLATFORM_CERT_PUBLIC_KEY
	BaseURL           string `mapstructure:"base_url"`                 // 默认官方网关，测试可覆盖
	H5RedirectBaseURL string `mapstructure:"h5_redirect_base_url"`
}

// AlipayConfig 支付宝开放平台配置
type AlipayConfig struct {
	AppID      string `mapstructure:"app_id"`      // ALIPAY_APP_ID
	PrivateKey string `mapstructure:"private_key"` // ALIPAY_PRIVATE_KEY
	PublicKey  string `mapstructure:"public_key"`  // ALIPAY_PUBLIC_KEY
	GatewayURL string `mapstructure:"gateway_url"` // 默认官方网关，测试可覆盖
}

// Enabled 判断微信渠道是否已配置
func (c WechatConfig) Enabled() bool {
	return strings.TrimSpace(c.MchID) != "" &&
		strings.TrimSpace(c.AppID) != "" &&
		strings.TrimSpace(c.APIV3Key) != "" &&
		strings.TrimSpace(c.MchCertSerial) != "" &&
		strings.TrimSpace(c.MchPrivateKey) != ""
}

// Enabled 判断支付宝渠道是否已配置
func (c AlipayConfig) Enabled() bool {
	return strings.TrimSpace(c.AppID) != "" &&
		strings.TrimSpace(c.PrivateKey) != "" &&
		strings.TrimSpace(c.PublicKey) != ""
}

// Port 服务监听端口，环境变量 PORT
func Port() string {
	port := strings.TrimSpace(viper.GetString("port"))
	if port == "" {
		return "3300"
	}
	return port
}

// Load 从 config.yml 与环境变量加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("./etc")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("port", "3300")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "gateway.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("pay.base_url", "")
	viper.SetDefault("pay.cors_origin", "*")
	viper.SetDefault("notify.base_url", "")
	viper.SetDefault("payment.db_path", "./payment.sqlite")
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("queue.enabled", false)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.password", "")
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.queues", map[string]int{"default": 10})
	viper.SetDefault("queue.sync_delay_seconds", 120)
	viper.SetDefault("wechat.mch_id", "")
	viper.SetDefault("wechat.app_id", "")
	viper.SetDefault("wechat.api_v3_key", "")
	viper.SetDefault("wechat.mch_cert_serial", "")
	viper.SetDefault("wechat.mch_private_key", "")
	viper.SetDefault("wechat.platform_cert_public_key", "")
	viper.SetDefault("wechat.base_url", "https://api.mch.weixin.qq.com")
	viper.SetDefault("wechat.h5_redirect_base_url", "")
	viper.SetDefault("alipay.app_id", "")
	viper.SetDefault("alipay.private_key", "")
	viper.SetDefault("alipay.public_key", "")
	viper.SetDefault("alipay.gateway_url", "https://openapi.alipay.com/gateway.do")

	// 环境变量支持：wechat.mch_id -> WECHAT_MCH_ID，pay.cors_origin -> PAY_CORS_ORIGIN
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		logger.Debugw("config_file_read_failed", "error", err, "fallback", "env_or_defaults")
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = cfg.Payment.DBPath
	}
	return &cfg
}

package constants

// 订单状态常量
const (
	OrderStatusCreated  = "created"
	OrderStatusPaid     = "paid"
	OrderStatusFailed   = "failed"
	OrderStatusClosed   = "closed"
	OrderStatusRefunded = "refunded"
)

// 支付渠道常量
const (
	PaymentChannelWechat = "wechat"
	PaymentChannelAlipay = "alipay"
)

// 客户端形态常量（决定渠道侧下单接口）
const (
	PaymentClientWeb    = "web"    // 浏览器跳转（微信 H5 / 支付宝 WAP 表单）
	PaymentClientWechat = "wechat" // 微信内置浏览器（JSAPI 拉起支付）
	PaymentClientNative = "native" // 扫码（微信 Native / 支付宝当面付）
)

// 币种常量
const (
	CurrencyCNY = "CNY"
)

// 队列常量
const (
	QueueDefault          = "default"
	TaskPaymentStatusSync = "payment:status_sync"
)

// IsTerminalStatus 判断订单状态是否为终态
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusClosed, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// IsSupportedChannel 判断支付渠道是否受支持
func IsSupportedChannel(channel string) bool {
	return channel == PaymentChannelWechat || channel == PaymentChannelAlipay
}

// IsSupportedClient 判断客户端形态是否受支持
func IsSupportedClient(client string) bool {
	switch client {
	case PaymentClientWeb, PaymentClientWechat, PaymentClientNative:
		return true
	default:
		return false
	}
}

package models

import (
	"time"
)

// Order 支付订单表。order_no 由商户侧（浏览器端）生成，作为主键。
type Order struct {
	OrderNo         string     `gorm:"primaryKey;type:varchar(64)" json:"orderNo"`     // 商户订单号
	Amount          int64      `gorm:"not null" json:"amount"`                         // 金额，单位分
	Currency        string     `gorm:"not null;type:varchar(8)" json:"currency"`       // 币种，固定 CNY
	Status          string     `gorm:"index;not null;type:varchar(16)" json:"status"`  // 订单状态
	Channel         string     `gorm:"not null;type:varchar(16)" json:"channel"`       // 支付渠道，创建后不可变
	ProviderTradeNo string     `gorm:"type:varchar(64)" json:"providerTradeNo,omitempty"` // 渠道侧交易号
	ClientIP        string     `gorm:"type:varchar(64)" json:"clientIp"`               // 下单客户端IP
	CreatedAt       time.Time  `gorm:"index" json:"createdAt"`                         // 创建时间（UTC）
	PaidAt          *time.Time `gorm:"index" json:"paidAt,omitempty"`                  // 首次进入 paid 的时间
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

package service

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/payment/alipay"
	"github.com/sketchpay/payment-gateway/internal/payment/wechat"
)

// HandleWechatNotify 处理微信异步通知。body 必须是原始请求字节。
// 验签或解密失败返回 ErrBadSignature，订单状态不动。
func (s *PaymentService) HandleWechatNotify(headers wechat.NotifyHeaders, body []byte) error {
	if s.wechatClient == nil {
		return fmt.Errorf("%w: wechat", ErrChannelDisabled)
	}
	result, err := s.wechatClient.ParseNotify(headers, body)
	if err != nil {
		if errors.Is(err, wechat.ErrSignatureInvalid) {
			logger.Warnw("wechat_notify_verify_failed", "error", err)
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		logger.Warnw("wechat_notify_parse_failed", "error", err)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return s.applyNotify(constants.PaymentChannelWechat, result.OrderNo, result.TradeNo, result.Status)
}

// HandleAlipayNotify 处理支付宝异步通知。params 为原始表单参数。
func (s *PaymentService) HandleAlipayNotify(params url.Values) error {
	if s.alipayClient == nil {
		return fmt.Errorf("%w: alipay", ErrChannelDisabled)
	}
	result, err := s.alipayClient.VerifyNotify(params)
	if err != nil {
		if errors.Is(err, alipay.ErrSignatureInvalid) {
			logger.Warnw("alipay_notify_verify_failed", "error", err)
			return fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		logger.Warnw("alipay_notify_parse_failed", "error", err)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return s.applyNotify(constants.PaymentChannelAlipay, result.OrderNo, result.TradeNo, result.Status)
}

// applyNotify 把验签后的渠道结论写入订单。渠道仍处于等待支付
// （映射为 created）时不写任何字段，直接应答成功等下一次推送。
func (s *PaymentService) applyNotify(channel, orderNo, tradeNo, status string) error {
	if orderNo == "" {
		return fmt.Errorf("%w: notification missing order_no", ErrBadSignature)
	}
	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		logger.Warnw("payment_notify_order_missing", "channel", channel, "order_no", orderNo)
		return ErrOrderNotFound
	}
	if status == constants.OrderStatusCreated {
		logger.Debugw("payment_notify_pending", "channel", channel, "order_no", orderNo)
		return nil
	}
	updated, err := s.orderRepo.UpdateStatus(orderNo, status, tradeNo)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	logger.Infow("payment_notify_applied",
		"channel", channel, "order_no", orderNo, "status", updated.Status, "provider_trade_no", updated.ProviderTradeNo)
	return nil
}

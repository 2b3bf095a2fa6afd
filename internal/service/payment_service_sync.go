package service

import (
	"context"
	"fmt"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/logger"
)

// SyncOrderStatus 主动向渠道查单并补写状态，给迟到或丢失的回调兜底。
// 目前只有微信渠道提供查单接口；订单已到终态时直接返回。
func (s *PaymentService) SyncOrderStatus(ctx context.Context, orderNo string) error {
	order, err := s.GetOrder(orderNo)
	if err != nil {
		return err
	}
	if constants.IsTerminalStatus(order.Status) {
		return nil
	}
	if order.Channel != constants.PaymentChannelWechat {
		return nil
	}
	if s.wechatClient == nil {
		return fmt.Errorf("%w: wechat", ErrChannelDisabled)
	}

	result, err := s.wechatClient.Query(ctx, order.OrderNo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if result.Status == constants.OrderStatusCreated {
		logger.Debugw("payment_status_sync_pending", "order_no", order.OrderNo)
		return nil
	}
	updated, err := s.orderRepo.UpdateStatus(order.OrderNo, result.Status, result.TradeNo)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	logger.Infow("payment_status_synced", "order_no", order.OrderNo, "status", updated.Status)
	return nil
}

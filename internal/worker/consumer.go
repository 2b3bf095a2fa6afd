package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/queue"
	"github.com/sketchpay/payment-gateway/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	payments *service.PaymentService
}

// NewConsumer 创建消费者
func NewConsumer(payments *service.PaymentService) *Consumer {
	return &Consumer{payments: payments}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentStatusSync, c.handlePaymentStatusSync)
}

// handlePaymentStatusSync 回调兜底：向渠道查单补写状态。
// 订单不存在按脏任务丢弃，渠道错误返回交给 asynq 重试。
func (c *Consumer) handlePaymentStatusSync(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_status_sync_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.PaymentStatusSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_status_sync_unmarshal_failed", "error", err)
		return err
	}
	orderNo := strings.TrimSpace(payload.OrderNo)
	if orderNo == "" {
		logger.Debugw("worker_status_sync_skip_empty_order_no")
		return nil
	}
	if err := c.payments.SyncOrderStatus(ctx, orderNo); err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			logger.Debugw("worker_status_sync_skip_order_not_found", "order_no", orderNo)
			return nil
		}
		logger.Warnw("worker_status_sync_failed", "order_no", orderNo, "error", err)
		return err
	}
	return nil
}

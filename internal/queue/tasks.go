package queue

import (
	"encoding/json"

	"github.com/sketchpay/payment-gateway/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskPaymentStatusSync 支付状态补偿同步任务
	TaskPaymentStatusSync = constants.TaskPaymentStatusSync
)

// PaymentStatusSyncPayload 状态同步任务载荷
type PaymentStatusSyncPayload struct {
	OrderNo string `json:"order_no"`
}

// NewPaymentStatusSyncTask 创建状态同步任务
func NewPaymentStatusSyncTask(payload PaymentStatusSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentStatusSync, body), nil
}

package payclient

import (
	"context"
	"time"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultDismissHold  = 3 * time.Second
)

// PollOptions 轮询配置。回调均可为空。
type PollOptions struct {
	Interval    time.Duration // 默认 3s
	DismissHold time.Duration // 终态后保留界面的时长，默认 3s
	OnChange    func(status string)
	OnTerminal  func(status string)
	OnDismiss   func()
}

// terminalStatuses 与网关的终态约定一致
var terminalStatuses = map[string]bool{
	"paid":     true,
	"failed":   true,
	"closed":   true,
	"refunded": true,
}

// PollOrder 按固定间隔轮询订单直到终态。网络错误静默吞掉，下一拍重试；
// 每个状态变化至多上报一次，终态恰好上报一次。终态后保留 DismissHold
// 再触发 OnDismiss。取消时立即返回 ctx.Err()，不再触发任何回调。
func (c *Client) PollOrder(ctx context.Context, orderNo string, opts PollOptions) (string, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	hold := opts.DismissHold
	if hold <= 0 {
		hold = defaultDismissHold
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		status, err := c.GetOrder(ctx, orderNo)
		if err == nil && status.Status != "" && status.Status != lastStatus {
			lastStatus = status.Status
			if opts.OnChange != nil {
				opts.OnChange(status.Status)
			}
			if terminalStatuses[status.Status] {
				if opts.OnTerminal != nil {
					opts.OnTerminal(status.Status)
				}
				select {
				case <-time.After(hold):
					if opts.OnDismiss != nil {
						opts.OnDismiss()
					}
				case <-ctx.Done():
					return status.Status, ctx.Err()
				}
				return status.Status, nil
			}
		}
		if err != nil && ctx.Err() != nil {
			return lastStatus, ctx.Err()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return lastStatus, ctx.Err()
		}
	}
}

package payclient

import (
	"context"
	"errors"
	"fmt"
)

// BridgeResultOK 微信 JS 桥支付成功时的 err_msg 取值
const BridgeResultOK = "get_brand_wcpay_request:ok"

// ErrBridgeRejected 桥调用返回了非成功结果
var ErrBridgeRejected = errors.New("payclient: bridge rejected")

// CheckBridgeResult 校验桥回调携带的 err_msg。
// 仅 BridgeResultOK 视为支付发起成功，取消与失败均走错误分支。
func CheckBridgeResult(errMsg string) error {
	if errMsg == BridgeResultOK {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrBridgeRejected, errMsg)
}

// AwaitBridge 等待桥的异步回执。桥调用本身不可取消，
// ctx 结束后晚到的回执被丢弃，调用方拿到 ctx.Err()。
func AwaitBridge(ctx context.Context, result <-chan string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case errMsg := <-result:
		return CheckBridgeResult(errMsg)
	}
}

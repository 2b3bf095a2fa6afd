package handlers

import (
	"errors"
	"net/http"

	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/payment/wechat"
	"github.com/sketchpay/payment-gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// WechatNotify 微信支付异步通知。签名覆盖原始请求体字节，必须在任何
// JSON 解析之前整体读出。
func (h *Handler) WechatNotify(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		logger.Warnw("wechat_notify_read_body_failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "读取请求失败"})
		return
	}

	headers := wechat.NotifyHeaders{
		Signature: c.GetHeader("Wechatpay-Signature"),
		Timestamp: c.GetHeader("Wechatpay-Timestamp"),
		Nonce:     c.GetHeader("Wechatpay-Nonce"),
	}
	if err := h.payments.HandleWechatNotify(headers, body); err != nil {
		if errors.Is(err, service.ErrBadSignature) {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "FAIL", "message": "验签失败"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": "处理失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "message": "成功"})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// AlipayNotify 支付宝异步通知。表单参数按原值参与验签，不做二次编码。
func (h *Handler) AlipayNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		logger.Warnw("alipay_notify_parse_form_failed", "error", err)
		c.String(http.StatusBadRequest, "fail")
		return
	}

	if err := h.payments.HandleAlipayNotify(c.Request.PostForm); err != nil {
		if errors.Is(err, service.ErrBadSignature) {
			c.String(http.StatusUnauthorized, "fail")
			return
		}
		c.String(http.StatusInternalServerError, "fail")
		return
	}
	c.String(http.StatusOK, "success")
}

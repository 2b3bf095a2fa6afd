package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sketchpay/payment-gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler 支付网关 HTTP 处理器
type Handler struct {
	payments *service.PaymentService
}

// New 创建处理器
func New(payments *service.PaymentService) *Handler {
	return &Handler{payments: payments}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError 统一翻译服务层错误。校验错误带着具体原因回 400，
// 渠道错误回 502，其余一律 500 不外泄细节。
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": bareMessage(err, service.ErrValidation)})
	case errors.Is(err, service.ErrChannelDisabled):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, service.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": bareMessage(err, service.ErrUpstream)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bareMessage 去掉哨兵错误前缀，只留给调用方看的原因
func bareMessage(err error, sentinel error) string {
	message := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if strings.TrimSpace(message) == "" {
		return sentinel.Error()
	}
	return message
}

package handlers

import (
	"net/http"

	"github.com/sketchpay/payment-gateway/internal/payment/wechat"
	"github.com/sketchpay/payment-gateway/internal/service"

	"github.com/gin-gonic/gin"
)

// createPaymentRequest 统一下单请求体
type createPaymentRequest struct {
	Channel   string `json:"channel"`
	Client    string `json:"client"`
	OrderNo   string `json:"order_no"`
	Amount    int64  `json:"amount"` // 单位：分
	Subject   string `json:"subject"`
	ReturnURL string `json:"return_url"`
	OpenID    string `json:"openid"`
}

// createPaymentResponse 统一下单响应。四个产物字段恰有一个出现。
type createPaymentResponse struct {
	OrderNo   string            `json:"orderNo"`
	Channel   string            `json:"channel"`
	PayURL    string            `json:"payUrl,omitempty"`
	PayParams *wechat.PayParams `json:"payParams,omitempty"`
	Form      string            `json:"form,omitempty"`
	QRCode    string            `json:"qrCode,omitempty"`
}

// CreatePayment 统一下单
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.payments.CreatePayment(c.Request.Context(), service.CreatePaymentInput{
		Channel:   req.Channel,
		Client:    req.Client,
		OrderNo:   req.OrderNo,
		Amount:    req.Amount,
		Subject:   req.Subject,
		ReturnURL: req.ReturnURL,
		OpenID:    req.OpenID,
		ClientIP:  c.ClientIP(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, createPaymentResponse{
		OrderNo:   result.OrderNo,
		Channel:   result.Channel,
		PayURL:    result.PayURL,
		PayParams: result.PayParams,
		Form:      result.Form,
		QRCode:    result.QRCode,
	})
}

// GetOrder 轮询查单
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.payments.GetOrder(c.Param("orderNo"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

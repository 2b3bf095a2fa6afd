package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/logger"
	"github.com/sketchpay/payment-gateway/internal/models"
	"github.com/sketchpay/payment-gateway/internal/payment/alipay"
	"github.com/sketchpay/payment-gateway/internal/payment/wechat"
	"github.com/sketchpay/payment-gateway/internal/queue"
	"github.com/sketchpay/payment-gateway/internal/repository"
)

var (
	ErrValidation      = errors.New("payment validation failed")
	ErrChannelDisabled = errors.New("payment channel disabled")
	ErrOrderNotFound   = errors.New("order not found")
	ErrUpstream        = errors.New("payment upstream failed")
	ErrBadSignature    = errors.New("payment notification signature invalid")
)

// 回调迟迟未到时，延迟这么久后主动查单兜底
const defaultStatusSyncDelay = 5 * time.Minute

// WechatGateway 微信支付渠道能力
type WechatGateway interface {
	CreateNative(ctx context.Context, input wechat.CreateInput) (string, error)
	CreateJSAPI(ctx context.Context, input wechat.CreateInput) (*wechat.PayParams, error)
	CreateH5(ctx context.Context, input wechat.CreateInput) (string, error)
	ParseNotify(headers wechat.NotifyHeaders, body []byte) (*wechat.NotifyResult, error)
	Query(ctx context.Context, orderNo string) (*wechat.QueryResult, error)
}

// AlipayGateway 支付宝渠道能力
type AlipayGateway interface {
	CreateWapForm(input alipay.CreateInput) (string, error)
	CreatePrecreate(ctx context.Context, input alipay.CreateInput) (string, error)
	VerifyNotify(params url.Values) (*alipay.NotifyResult, error)
}

// PaymentService 支付服务。渠道适配器未配置时传 nil，
// 对应渠道的下单与回调按渠道未启用处理。
type PaymentService struct {
	orderRepo    repository.OrderRepository
	wechatClient WechatGateway
	alipayClient AlipayGateway
	queueClient  *queue.Client
	syncDelay    time.Duration
}

// NewPaymentService 创建支付服务
func NewPaymentService(orderRepo repository.OrderRepository, wechatClient WechatGateway, alipayClient AlipayGateway, queueClient *queue.Client) *PaymentService {
	return &PaymentService{
		orderRepo:    orderRepo,
		wechatClient: wechatClient,
		alipayClient: alipayClient,
		queueClient:  queueClient,
		syncDelay:    defaultStatusSyncDelay,
	}
}

// CreatePaymentInput 创建支付请求
type CreatePaymentInput struct {
	Channel   string
	Client    string
	OrderNo   string
	Amount    int64
	Subject   string
	ReturnURL string
	OpenID    string
	ClientIP  string
}

// CreatePaymentResult 创建支付结果。四个产物字段恰有一个非零值，
// 由渠道与客户端形态决定。
type CreatePaymentResult struct {
	OrderNo   string
	Channel   string
	PayURL    string
	PayParams *wechat.PayParams
	Form      string
	QRCode    string
}

// CreatePayment 统一下单。先落库再调渠道：渠道调用失败时订单停留在
// created，后续回调或补偿同步仍能找到记录。
func (s *PaymentService) CreatePayment(ctx context.Context, input CreatePaymentInput) (*CreatePaymentResult, error) {
	if err := s.validateCreate(&input); err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderNo:   input.OrderNo,
		Amount:    input.Amount,
		Currency:  constants.CurrencyCNY,
		Status:    constants.OrderStatusCreated,
		Channel:   input.Channel,
		ClientIP:  input.ClientIP,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.orderRepo.Create(order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	result := &CreatePaymentResult{OrderNo: input.OrderNo, Channel: input.Channel}
	var err error
	switch input.Channel {
	case constants.PaymentChannelWechat:
		err = s.dispatchWechat(ctx, input, result)
	case constants.PaymentChannelAlipay:
		err = s.dispatchAlipay(ctx, input, result)
	}
	if err != nil {
		logger.Warnw("payment_create_dispatch_failed",
			"order_no", input.OrderNo, "channel", input.Channel, "client", input.Client, "error", err)
		return nil, err
	}

	s.enqueueStatusSync(input)
	logger.Infow("payment_created",
		"order_no", input.OrderNo, "channel", input.Channel, "client", input.Client, "amount", input.Amount)
	return result, nil
}

// GetOrder 查询订单，不存在返回 ErrOrderNotFound
func (s *PaymentService) GetOrder(orderNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrValidation)
	}
	order, err := s.orderRepo.GetByOrderNo(orderNo)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *PaymentService) validateCreate(input *CreatePaymentInput) error {
	input.Channel = strings.ToLower(strings.TrimSpace(input.Channel))
	input.Client = strings.ToLower(strings.TrimSpace(input.Client))
	input.OrderNo = strings.TrimSpace(input.OrderNo)
	input.Subject = strings.TrimSpace(input.Subject)
	input.OpenID = strings.TrimSpace(input.OpenID)
	input.ReturnURL = strings.TrimSpace(input.ReturnURL)

	if !constants.IsSupportedChannel(input.Channel) {
		return fmt.Errorf("%w: unsupported channel %q", ErrValidation, input.Channel)
	}
	if !constants.IsSupportedClient(input.Client) {
		return fmt.Errorf("%w: unsupported client %q", ErrValidation, input.Client)
	}
	if input.OrderNo == "" {
		return fmt.Errorf("%w: order_no is required", ErrValidation)
	}
	if input.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than zero", ErrValidation)
	}
	if input.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	// openid 缺失在落库之前拦下，不留下孤儿订单
	if input.Channel == constants.PaymentChannelWechat &&
		input.Client == constants.PaymentClientWechat && input.OpenID == "" {
		return fmt.Errorf("%w: openid required for wechat JSAPI", ErrValidation)
	}
	if input.Channel == constants.PaymentChannelAlipay && input.Client == constants.PaymentClientWechat {
		return fmt.Errorf("%w: client wechat is not supported for alipay", ErrValidation)
	}
	if input.Channel == constants.PaymentChannelWechat && s.wechatClient == nil {
		return fmt.Errorf("%w: wechat", ErrChannelDisabled)
	}
	if input.Channel == constants.PaymentChannelAlipay && s.alipayClient == nil {
		return fmt.Errorf("%w: alipay", ErrChannelDisabled)
	}
	return nil
}

func (s *PaymentService) dispatchWechat(ctx context.Context, input CreatePaymentInput, result *CreatePaymentResult) error {
	createInput := wechat.CreateInput{
		OrderNo:   input.OrderNo,
		AmountFen: input.Amount,
		Subject:   input.Subject,
		ClientIP:  input.ClientIP,
		OpenID:    input.OpenID,
		ReturnURL: input.ReturnURL,
	}
	switch input.Client {
	case constants.PaymentClientNative:
		qrCode, err := s.wechatClient.CreateNative(ctx, createInput)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		result.QRCode = qrCode
	case constants.PaymentClientWechat:
		payParams, err := s.wechatClient.CreateJSAPI(ctx, createInput)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		result.PayParams = payParams
	default:
		payURL, err := s.wechatClient.CreateH5(ctx, createInput)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		result.PayURL = payURL
	}
	return nil
}

func (s *PaymentService) dispatchAlipay(ctx context.Context, input CreatePaymentInput, result *CreatePaymentResult) error {
	createInput := alipay.CreateInput{
		OrderNo:   input.OrderNo,
		AmountFen: input.Amount,
		Subject:   input.Subject,
		ReturnURL: input.ReturnURL,
	}
	if input.Client == constants.PaymentClientNative {
		qrCode, err := s.alipayClient.CreatePrecreate(ctx, createInput)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		result.QRCode = qrCode
		return nil
	}
	form, err := s.alipayClient.CreateWapForm(createInput)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	result.Form = form
	return nil
}

// enqueueStatusSync 下单成功后挂一条延迟补偿任务。只有微信渠道有查单接口；
// 入队失败不影响下单结果，只记日志。
func (s *PaymentService) enqueueStatusSync(input CreatePaymentInput) {
	if input.Channel != constants.PaymentChannelWechat || !s.queueClient.Enabled() {
		return
	}
	err := s.queueClient.EnqueuePaymentStatusSync(
		queue.PaymentStatusSyncPayload{OrderNo: input.OrderNo}, s.syncDelay)
	if err != nil {
		logger.Warnw("payment_status_sync_enqueue_failed", "order_no", input.OrderNo, "error", err)
	}
}

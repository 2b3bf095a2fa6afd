// Package payclient 是支付网关的调用方 SDK：生成订单号、协商客户端
// 形态、发起统一下单并把产物派发给宿主环境，随后轮询订单直至终态。
package payclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingArtifact = errors.New("missing payment artifact")
	ErrOpenIDRequired  = errors.New("openid required for in-wechat payment")
	ErrRequestFailed   = errors.New("payment request failed")
)

const (
	ClientWeb    = "web"
	ClientWechat = "wechat"
	ClientNative = "native"

	ChannelWechat = "wechat"
	ChannelAlipay = "alipay"

	defaultTimeout = 10 * time.Second
)

var microMessengerPattern = regexp.MustCompile(`(?i)MicroMessenger`)

// Client 网关客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option 客户端可选配置
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New 创建客户端
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateOrderNo 生成订单号：ORD-<毫秒时间戳>-<随机 base36 后缀>
func GenerateOrderNo() string {
	return "ORD-" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + randomBase36(6)
}

func randomBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Errorf("random suffix failed: %w", err))
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

// StartInput 发起支付输入
type StartInput struct {
	Channel     string
	Amount      int64 // 单位：分
	Subject     string
	OrderNo     string // 留空时自动生成
	ReturnURL   string
	OpenID      string
	UserAgent   string
	ForceNative bool
}

// StartResult 发起支付结果
type StartResult struct {
	OrderNo  string
	Channel  string
	Client   string
	Artifact Artifact
}

// NegotiateClient 协商客户端形态：显式要求扫码时用 native；微信渠道
// 且在微信内置浏览器中用 wechat（需要 openid）；其余走 web。
func NegotiateClient(input StartInput) (string, error) {
	if input.ForceNative {
		return ClientNative, nil
	}
	if input.Channel == ChannelWechat && microMessengerPattern.MatchString(input.UserAgent) {
		if strings.TrimSpace(input.OpenID) == "" {
			return "", ErrOpenIDRequired
		}
		return ClientWechat, nil
	}
	return ClientWeb, nil
}

type createRequest struct {
	Channel   string `json:"channel"`
	Client    string `json:"client"`
	OrderNo   string `json:"order_no"`
	Amount    int64  `json:"amount"`
	Subject   string `json:"subject"`
	ReturnURL string `json:"return_url,omitempty"`
	OpenID    string `json:"openid,omitempty"`
}

type createResponse struct {
	OrderNo   string     `json:"orderNo"`
	Channel   string     `json:"channel"`
	PayURL    string     `json:"payUrl"`
	PayParams *PayParams `json:"payParams"`
	Form      string     `json:"form"`
	QRCode    string     `json:"qrCode"`
	Error     string     `json:"error"`
}

// StartPayment 发起支付。失败时网关返回的错误消息原样带回。
func (c *Client) StartPayment(ctx context.Context, input StartInput) (*StartResult, error) {
	clientMode, err := NegotiateClient(input)
	if err != nil {
		return nil, err
	}
	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		orderNo = GenerateOrderNo()
	}

	payload, err := json.Marshal(createRequest{
		Channel:   input.Channel,
		Client:    clientMode,
		OrderNo:   orderNo,
		Amount:    input.Amount,
		Subject:   input.Subject,
		ReturnURL: input.ReturnURL,
		OpenID:    input.OpenID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/payments/create", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}
	var decoded createResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		message := strings.TrimSpace(decoded.Error)
		if message == "" {
			message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, message)
	}

	artifact, err := extractArtifact(decoded)
	if err != nil {
		return nil, err
	}
	return &StartResult{
		OrderNo:  decoded.OrderNo,
		Channel:  decoded.Channel,
		Client:   clientMode,
		Artifact: artifact,
	}, nil
}

// extractArtifact 按优先级取第一个出现的产物字段
func extractArtifact(resp createResponse) (Artifact, error) {
	switch {
	case resp.QRCode != "":
		return QRCode{Content: resp.QRCode}, nil
	case resp.PayURL != "":
		return PayURL{URL: resp.PayURL}, nil
	case resp.Form != "":
		return AutoForm{HTML: resp.Form}, nil
	case resp.PayParams != nil:
		return BridgeParams{Params: *resp.PayParams}, nil
	default:
		return nil, ErrMissingArtifact
	}
}

// OrderStatus 轮询得到的订单快照
type OrderStatus struct {
	OrderNo string     `json:"orderNo"`
	Status  string     `json:"status"`
	PaidAt  *time.Time `json:"paidAt"`
}

// GetOrder 查询订单当前状态
func (c *Client) GetOrder(ctx context.Context, orderNo string) (*OrderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/payments/"+orderNo, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}
	var status OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrRequestFailed, err)
	}
	return &status, nil
}

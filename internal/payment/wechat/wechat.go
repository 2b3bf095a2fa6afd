package wechat

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/sign"
)

var (
	ErrConfigInvalid    = errors.New("wechatpay config invalid")
	ErrRequestFailed    = errors.New("wechatpay request failed")
	ErrResponseInvalid  = errors.New("wechatpay response invalid")
	ErrSignatureInvalid = errors.New("wechatpay signature invalid")
)

const (
	defaultBaseURL = "https://api.mch.weixin.qq.com"
	defaultTimeout = 10 * time.Second

	pathNative = "/v3/pay/transactions/native"
	pathJSAPI  = "/v3/pay/transactions/jsapi"
	pathH5     = "/v3/pay/transactions/h5"

	authSchema = "WECHATPAY2-SHA256-RSA2048"
)

// Config 微信支付 v3 商户配置。密钥为 PEM 文本，装载时解析一次。
type Config struct {
	AppID           string
	MchID           string
	APIV3Key        string
	MchCertSerial   string
	MchPrivateKey   string
	PlatformCertPub string
	NotifyURL       string
	BaseURL         string
}

// CreateInput 下单输入
type CreateInput struct {
	OrderNo   string
	AmountFen int64
	Subject   string
	ClientIP  string
	OpenID    string
	ReturnURL string
}

// PayParams JSAPI 拉起支付参数，原样返回给微信内置浏览器的 JS 桥。
type PayParams struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// NotifyResult 回调验签解密后的交易结论
type NotifyResult struct {
	OrderNo string
	TradeNo string
	Status  string
}

// QueryResult 商户订单号查单结论
type QueryResult struct {
	OrderNo string
	TradeNo string
	Status  string
}

// Client 微信支付适配器。无状态，调用之间不持有可变数据；
// 不访问订单存储（状态落库由 service 层统一串行化）。
type Client struct {
	cfg         Config
	privateKey  *rsa.PrivateKey
	platformKey *rsa.PublicKey
	httpClient  *http.Client
}

// NewClient 创建适配器并解析密钥。配置缺失或密钥不可解析视为致命错误。
func NewClient(cfg Config) (*Client, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	privateKey, err := sign.LoadPrivateKey(cfg.MchPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: mch_private_key: %v", ErrConfigInvalid, err)
	}
	platformKey, err := sign.LoadPublicKey(cfg.PlatformCertPub)
	if err != nil {
		return nil, fmt.Errorf("%w: platform_cert_public_key: %v", ErrConfigInvalid, err)
	}
	return &Client{
		cfg:         cfg,
		privateKey:  privateKey,
		platformKey: platformKey,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

// CreateNative 扫码下单，返回 code_url 二维码内容
func (c *Client) CreateNative(ctx context.Context, input CreateInput) (string, error) {
	payload, err := c.basePayload(input)
	if err != nil {
		return "", err
	}
	raw, err := c.postJSON(ctx, pathNative, payload)
	if err != nil {
		return "", err
	}
	codeURL := strings.TrimSpace(readString(raw, "code_url"))
	if codeURL == "" {
		return "", fmt.Errorf("%w: missing code_url", ErrResponseInvalid)
	}
	return codeURL, nil
}

// CreateJSAPI 微信内下单，签出 JS 桥参数
func (c *Client) CreateJSAPI(ctx context.Context, input CreateInput) (*PayParams, error) {
	if strings.TrimSpace(input.OpenID) == "" {
		return nil, fmt.Errorf("%w: openid is required", ErrConfigInvalid)
	}
	payload, err := c.basePayload(input)
	if err != nil {
		return nil, err
	}
	payload["payer"] = map[string]interface{}{"openid": strings.TrimSpace(input.OpenID)}
	raw, err := c.postJSON(ctx, pathJSAPI, payload)
	if err != nil {
		return nil, err
	}
	prepayID := strings.TrimSpace(readString(raw, "prepay_id"))
	if prepayID == "" {
		return nil, fmt.Errorf("%w: missing prepay_id", ErrResponseInvalid)
	}
	return c.buildPayParams(prepayID)
}

// CreateH5 浏览器 H5 下单，返回跳转地址。传了 return_url 时以
// URL 编码追加为 redirect_url，支付完成后跳回。
func (c *Client) CreateH5(ctx context.Context, input CreateInput) (string, error) {
	payload, err := c.basePayload(input)
	if err != nil {
		return "", err
	}
	payload["scene_info"] = map[string]interface{}{
		"payer_client_ip": strings.TrimSpace(input.ClientIP),
		"h5_info":         map[string]interface{}{"type": "Wap"},
	}
	raw, err := c.postJSON(ctx, pathH5, payload)
	if err != nil {
		return "", err
	}
	h5URL := strings.TrimSpace(readString(raw, "h5_url"))
	if h5URL == "" {
		return "", fmt.Errorf("%w: missing h5_url", ErrResponseInvalid)
	}
	if returnURL := strings.TrimSpace(input.ReturnURL); returnURL != "" {
		h5URL = h5URL + "&redirect_url=" + url.QueryEscape(returnURL)
	}
	return h5URL, nil
}

// Query 按商户订单号查单，用于后台补偿同步
func (c *Client) Query(ctx context.Context, orderNo string) (*QueryResult, error) {
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	path := "/v3/pay/transactions/out-trade-no/" + url.PathEscape(orderNo) +
		"?mchid=" + url.QueryEscape(c.cfg.MchID)
	raw, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		OrderNo: strings.TrimSpace(readString(raw, "out_trade_no")),
		TradeNo: strings.TrimSpace(readString(raw, "transaction_id")),
		Status:  ToOrderStatus(readString(raw, "trade_state")),
	}, nil
}

// NotifyHeaders 回调验签所需的三个头，均必填且单值
type NotifyHeaders struct {
	Signature string
	Timestamp string
	Nonce     string
}

// ParseNotify 验签并解密异步通知。body 必须是未经任何中间件改写的
// 原始字节（签名覆盖精确的请求体）。验签或解密失败返回
// ErrSignatureInvalid，不改任何订单状态。
func (c *Client) ParseNotify(headers NotifyHeaders, body []byte) (*NotifyResult, error) {
	signature := strings.TrimSpace(headers.Signature)
	timestamp := strings.TrimSpace(headers.Timestamp)
	nonce := strings.TrimSpace(headers.Nonce)
	if signature == "" || timestamp == "" || nonce == "" {
		return nil, fmt.Errorf("%w: signature headers missing", ErrSignatureInvalid)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrSignatureInvalid)
	}

	message := timestamp + "\n" + nonce + "\n" + string(body) + "\n"
	if err := sign.VerifySHA256WithRSA(message, signature, c.platformKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	var payload struct {
		Resource struct {
			Ciphertext     string `json:"ciphertext"`
			Nonce          string `json:"nonce"`
			AssociatedData string `json:"associated_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode body failed", ErrResponseInvalid)
	}

	plaintext, err := sign.DecryptAES256GCM(
		c.cfg.APIV3Key,
		payload.Resource.AssociatedData,
		payload.Resource.Nonce,
		payload.Resource.Ciphertext,
	)
	if err != nil {
		// GCM 标签校验失败对外等同验签失败
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	var transaction struct {
		OutTradeNo    string `json:"out_trade_no"`
		TransactionID string `json:"transaction_id"`
		TradeState    string `json:"trade_state"`
	}
	if err := json.Unmarshal([]byte(plaintext), &transaction); err != nil {
		return nil, fmt.Errorf("%w: decode transaction failed", ErrResponseInvalid)
	}
	return &NotifyResult{
		OrderNo: strings.TrimSpace(transaction.OutTradeNo),
		TradeNo: strings.TrimSpace(transaction.TransactionID),
		Status:  ToOrderStatus(transaction.TradeState),
	}, nil
}

// ToOrderStatus 将微信交易状态映射到订单状态。未知状态按 failed 处理。
func ToOrderStatus(tradeState string) string {
	switch strings.ToUpper(strings.TrimSpace(tradeState)) {
	case "SUCCESS":
		return constants.OrderStatusPaid
	case "CLOSED":
		return constants.OrderStatusClosed
	case "NOTPAY", "USERPAYING":
		return constants.OrderStatusCreated
	default:
		return constants.OrderStatusFailed
	}
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		return fmt.Errorf("%w: app_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.MchID) == "" {
		return fmt.Errorf("%w: mch_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.MchCertSerial) == "" {
		return fmt.Errorf("%w: mch_cert_serial is required", ErrConfigInvalid)
	}
	if len(strings.TrimSpace(cfg.APIV3Key)) != 32 {
		return fmt.Errorf("%w: api_v3_key must be 32 chars", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.NotifyURL) == "" {
		return fmt.Errorf("%w: notify_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.NotifyURL)); err != nil {
		return fmt.Errorf("%w: notify_url is invalid", ErrConfigInvalid)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return fmt.Errorf("%w: base_url is invalid", ErrConfigInvalid)
	}
	return nil
}

func (c *Client) basePayload(input CreateInput) (map[string]interface{}, error) {
	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	if input.AmountFen <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = orderNo
	}
	return map[string]interface{}{
		"appid":        c.cfg.AppID,
		"mchid":        c.cfg.MchID,
		"description":  subject,
		"out_trade_no": orderNo,
		"notify_url":   c.cfg.NotifyURL,
		"amount": map[string]interface{}{
			"total":    input.AmountFen,
			"currency": constants.CurrencyCNY,
		},
	}, nil
}

// buildAuthorization 构造 v3 Authorization 头。被签名的消息固定五行，
// 每行以换行结尾（含末行）。
func (c *Client) buildAuthorization(method, pathWithQuery, body string) (string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := sign.NonceHex(16)
	message := method + "\n" + pathWithQuery + "\n" + timestamp + "\n" + nonce + "\n" + body + "\n"
	signature, err := sign.SHA256WithRSA(message, c.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return fmt.Sprintf(
		`%s mchid="%s",nonce_str="%s",timestamp="%s",serial_no="%s",signature="%s"`,
		authSchema, c.cfg.MchID, nonce, timestamp, c.cfg.MchCertSerial, signature,
	), nil
}

func (c *Client) buildPayParams(prepayID string) (*PayParams, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := sign.NonceHex(16)
	packageValue := "prepay_id=" + prepayID
	message := c.cfg.AppID + "\n" + timestamp + "\n" + nonce + "\n" + packageValue + "\n"
	paySign, err := sign.SHA256WithRSA(message, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return &PayParams{
		AppID:     c.cfg.AppID,
		TimeStamp: timestamp,
		NonceStr:  nonce,
		Package:   packageValue,
		SignType:  "RSA",
		PaySign:   paySign,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload map[string]interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload failed", ErrRequestFailed)
	}
	return c.do(ctx, http.MethodPost, path, string(body))
}

func (c *Client) getJSON(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.do(ctx, http.MethodGet, path, "")
}

func (c *Client) do(ctx context.Context, method, path, body string) (map[string]interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	authorization, err := c.buildAuthorization(method, path, body)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d body %s", ErrResponseInvalid, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	raw := map[string]interface{}{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	if value, ok := raw[key].(string); ok {
		return value
	}
	return ""
}

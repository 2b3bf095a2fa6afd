package alipay

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/sign"
)

var (
	ErrConfigInvalid    = errors.New("alipay config invalid")
	ErrRequestFailed    = errors.New("alipay request failed")
	ErrResponseInvalid  = errors.New("alipay response invalid")
	ErrUpstreamRejected = errors.New("alipay upstream rejected")
	ErrSignatureInvalid = errors.New("alipay signature invalid")
)

const (
	defaultGatewayURL = "https://openapi.alipay.com/gateway.do"
	defaultTimeout    = 10 * time.Second

	methodWapPay    = "alipay.trade.wap.pay"
	methodPrecreate = "alipay.trade.precreate"
)

// Config 支付宝开放平台应用配置。私钥为商户应用私钥，
// 公钥为支付宝平台公钥（验回调签名用）。
type Config struct {
	AppID      string
	PrivateKey string
	PublicKey  string
	NotifyURL  string
	GatewayURL string
}

// CreateInput 下单输入。金额以分计，出参数前转为元。
type CreateInput struct {
	OrderNo   string
	AmountFen int64
	Subject   string
	ReturnURL string
}

// NotifyResult 回调验签后的交易结论
type NotifyResult struct {
	OrderNo string
	TradeNo string
	Status  string
}

// Client 支付宝适配器，无状态
type Client struct {
	cfg        Config
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	httpClient *http.Client
}

// NewClient 创建适配器并解析密钥
func NewClient(cfg Config) (*Client, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	privateKey, err := sign.LoadPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private_key: %v", ErrConfigInvalid, err)
	}
	publicKey, err := sign.LoadPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public_key: %v", ErrConfigInvalid, err)
	}
	return &Client{
		cfg:        cfg,
		privateKey: privateKey,
		publicKey:  publicKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// CreateWapForm 手机网站支付。不调网关，直接签出一段自动提交的
// HTML 表单，由浏览器提交到支付宝收银台。
func (c *Client) CreateWapForm(input CreateInput) (string, error) {
	bizContent := map[string]interface{}{
		"out_trade_no": strings.TrimSpace(input.OrderNo),
		"total_amount": fenToYuan(input.AmountFen),
		"subject":      subjectOrDefault(input),
		"product_code": "QUICK_WAP_WAY",
	}
	params, err := c.signedParams(methodWapPay, bizContent, strings.TrimSpace(input.ReturnURL))
	if err != nil {
		return "", err
	}
	return renderAutoSubmitForm(c.cfg.GatewayURL, params), nil
}

// CreatePrecreate 当面付预下单，返回二维码内容
func (c *Client) CreatePrecreate(ctx context.Context, input CreateInput) (string, error) {
	bizContent := map[string]interface{}{
		"out_trade_no": strings.TrimSpace(input.OrderNo),
		"total_amount": fenToYuan(input.AmountFen),
		"subject":      subjectOrDefault(input),
	}
	params, err := c.signedParams(methodPrecreate, bizContent, "")
	if err != nil {
		return "", err
	}
	response, err := c.execute(ctx, methodPrecreate, params)
	if err != nil {
		return "", err
	}
	qrCode := strings.TrimSpace(readString(response, "qr_code"))
	if qrCode == "" {
		return "", fmt.Errorf("%w: missing qr_code", ErrResponseInvalid)
	}
	return qrCode, nil
}

// VerifyNotify 验证异步通知签名并给出交易结论。params 为
// application/x-www-form-urlencoded 解出的全部表单参数。
func (c *Client) VerifyNotify(params url.Values) (*NotifyResult, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: empty form", ErrSignatureInvalid)
	}
	signature := params.Get("sign")
	if signature == "" {
		return nil, fmt.Errorf("%w: missing sign", ErrSignatureInvalid)
	}

	// 验签串：剔除 sign/sign_type 后按键名排序拼接，不做 URL 编码
	pairs := map[string]string{}
	for key := range params {
		if key == "sign" || key == "sign_type" {
			continue
		}
		pairs[key] = params.Get(key)
	}
	if err := sign.VerifySHA256WithRSA(canonicalize(pairs), signature, c.publicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return &NotifyResult{
		OrderNo: strings.TrimSpace(params.Get("out_trade_no")),
		TradeNo: strings.TrimSpace(params.Get("trade_no")),
		Status:  ToOrderStatus(params.Get("trade_status")),
	}, nil
}

// ToOrderStatus 将支付宝交易状态映射到订单状态。未知状态按 failed 处理。
func ToOrderStatus(tradeStatus string) string {
	switch strings.ToUpper(strings.TrimSpace(tradeStatus)) {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return constants.OrderStatusPaid
	case "TRADE_CLOSED":
		return constants.OrderStatusClosed
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
	if strings.TrimSpace(cfg.NotifyURL) == "" {
		return fmt.Errorf("%w: notify_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.NotifyURL)); err != nil {
		return fmt.Errorf("%w: notify_url is invalid", ErrConfigInvalid)
	}
	cfg.GatewayURL = strings.TrimSpace(cfg.GatewayURL)
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = defaultGatewayURL
	}
	if _, err := url.ParseRequestURI(cfg.GatewayURL); err != nil {
		return fmt.Errorf("%w: gateway_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// signedParams 组公共参数 + biz_content 并签名
func (c *Client) signedParams(method string, bizContent map[string]interface{}, returnURL string) (map[string]string, error) {
	orderNo, _ := bizContent["out_trade_no"].(string)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}

	bizJSON, err := json.Marshal(bizContent)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal biz_content failed", ErrRequestFailed)
	}

	params := map[string]string{
		"app_id":      c.cfg.AppID,
		"method":      method,
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   time.Now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"notify_url":  c.cfg.NotifyURL,
		"biz_content": string(bizJSON),
	}
	if returnURL != "" {
		params["return_url"] = returnURL
	}

	signature, err := sign.SHA256WithRSA(canonicalize(params), c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	params["sign"] = signature
	return params, nil
}

// execute 提交网关并解出 <method>_response 节点，code 非 10000 视为拒单
func (c *Client) execute(ctx context.Context, method string, params map[string]string) (map[string]interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response failed", ErrRequestFailed)
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	responseKey := strings.ReplaceAll(method, ".", "_") + "_response"
	node, ok := raw[responseKey]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrResponseInvalid, responseKey)
	}
	response := map[string]interface{}{}
	if err := json.Unmarshal(node, &response); err != nil {
		return nil, fmt.Errorf("%w: decode %s failed", ErrResponseInvalid, responseKey)
	}

	if code := readString(response, "code"); code != "10000" {
		reason := readString(response, "sub_msg")
		if reason == "" {
			reason = readString(response, "msg")
		}
		return nil, fmt.Errorf("%w: code %s: %s", ErrUpstreamRejected, code, reason)
	}
	return response, nil
}

// canonicalize 按键名升序拼 k=v，剔除空值，& 分隔，不做 URL 编码
func canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}
	return strings.Join(pairs, "&")
}

// renderAutoSubmitForm 生成自动提交表单，参数值做 HTML 转义
func renderAutoSubmitForm(action string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<form id="alipaySubmit" method="post" action="`)
	b.WriteString(html.EscapeString(action + "?charset=utf-8"))
	b.WriteString("\">\n")
	for _, key := range keys {
		b.WriteString(`<input type="hidden" name="`)
		b.WriteString(html.EscapeString(key))
		b.WriteString(`" value="`)
		b.WriteString(html.EscapeString(params[key]))
		b.WriteString("\">\n")
	}
	b.WriteString("</form>\n")
	b.WriteString(`<script>document.getElementById("alipaySubmit").submit();</script>`)
	return b.String()
}

// fenToYuan 分转元，保留两位小数
func fenToYuan(amountFen int64) string {
	return decimal.NewFromInt(amountFen).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func subjectOrDefault(input CreateInput) string {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = strings.TrimSpace(input.OrderNo)
	}
	return subject
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil {
		return ""
	}
	if value, ok := raw[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

package alipay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/sign"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return key, privPEM, pubPEM
}

// newTestClient 返回适配器、商户应用公钥与平台私钥（签回调用）
func newTestClient(t *testing.T, gatewayURL string) (*Client, *rsa.PublicKey, *rsa.PrivateKey) {
	t.Helper()
	appKey, appPrivPEM, _ := generateKeyPair(t)
	platformKey, _, platformPubPEM := generateKeyPair(t)
	if gatewayURL == "" {
		gatewayURL = defaultGatewayURL
	}
	client, err := NewClient(Config{
		AppID:      "2021000100000001",
		PrivateKey: appPrivPEM,
		PublicKey:  platformPubPEM,
		NotifyURL:  "https://pay.example.com/api/payments/notify/alipay",
		GatewayURL: gatewayURL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, &appKey.PublicKey, platformKey
}

var inputPattern = regexp.MustCompile(`name="([^"]*)" value="([^"]*)"`)

func parseFormInputs(t *testing.T, form string) map[string]string {
	t.Helper()
	params := map[string]string{}
	for _, m := range inputPattern.FindAllStringSubmatch(form, -1) {
		params[html.UnescapeString(m[1])] = html.UnescapeString(m[2])
	}
	return params
}

func TestCreateWapForm(t *testing.T) {
	client, appPublic, _ := newTestClient(t, "")

	form, err := client.CreateWapForm(CreateInput{
		OrderNo:   "PAY1700000000123456",
		AmountFen: 990,
		Subject:   "会员订阅 & 续费",
		ReturnURL: "https://shop.example.com/result",
	})
	if err != nil {
		t.Fatalf("CreateWapForm: %v", err)
	}
	if !strings.Contains(form, `method="post"`) || !strings.Contains(form, ".submit()") {
		t.Fatalf("expected auto submit form, got %q", form)
	}
	// 值含 & 时必须做 HTML 转义
	if !strings.Contains(form, "&amp;") {
		t.Fatalf("form values not escaped: %q", form)
	}

	params := parseFormInputs(t, form)
	if params["method"] != "alipay.trade.wap.pay" || params["sign_type"] != "RSA2" {
		t.Fatalf("common params %v", params)
	}
	if params["charset"] != "utf-8" || params["version"] != "1.0" || params["format"] != "JSON" {
		t.Fatalf("common params %v", params)
	}
	if params["return_url"] != "https://shop.example.com/result" {
		t.Fatalf("return_url got %q", params["return_url"])
	}

	var biz map[string]interface{}
	if err := json.Unmarshal([]byte(params["biz_content"]), &biz); err != nil {
		t.Fatalf("decode biz_content: %v", err)
	}
	if biz["out_trade_no"] != "PAY1700000000123456" || biz["total_amount"] != "9.90" {
		t.Fatalf("biz_content %v", biz)
	}
	if biz["product_code"] != "QUICK_WAP_WAY" {
		t.Fatalf("product_code got %v", biz["product_code"])
	}

	// 验签串剔除 sign 后按键名排序拼接
	signature := params["sign"]
	delete(params, "sign")
	if err := sign.VerifySHA256WithRSA(canonicalize(params), signature, appPublic); err != nil {
		t.Fatalf("form signature did not verify: %v", err)
	}
}

func TestCreatePrecreate(t *testing.T) {
	var appPublic *rsa.PublicKey
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("method") != "alipay.trade.precreate" {
			t.Fatalf("method got %q", r.PostForm.Get("method"))
		}
		pairs := map[string]string{}
		for key := range r.PostForm {
			if key == "sign" {
				continue
			}
			pairs[key] = r.PostForm.Get(key)
		}
		if err := sign.VerifySHA256WithRSA(canonicalize(pairs), r.PostForm.Get("sign"), appPublic); err != nil {
			t.Fatalf("request signature did not verify: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alipay_trade_precreate_response":{"code":"10000","msg":"Success","out_trade_no":"PAY1700000000123456","qr_code":"https://qr.alipay.com/bax0abc"}}`))
	}))
	defer server.Close()

	client, pub, _ := newTestClient(t, server.URL)
	appPublic = pub

	qrCode, err := client.CreatePrecreate(context.Background(), CreateInput{
		OrderNo:   "PAY1700000000123456",
		AmountFen: 12345,
	})
	if err != nil {
		t.Fatalf("CreatePrecreate: %v", err)
	}
	if qrCode != "https://qr.alipay.com/bax0abc" {
		t.Fatalf("qr_code got %q", qrCode)
	}
}

func TestCreatePrecreateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alipay_trade_precreate_response":{"code":"40004","msg":"Business Failed","sub_code":"ACQ.TOTAL_FEE_EXCEED","sub_msg":"订单金额超过限额"}}`))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server.URL)
	_, err := client.CreatePrecreate(context.Background(), CreateInput{OrderNo: "PAY1", AmountFen: 100})
	if !errors.Is(err, ErrUpstreamRejected) {
		t.Fatalf("want ErrUpstreamRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "订单金额超过限额") {
		t.Fatalf("error should carry sub_msg, got %v", err)
	}
}

func buildNotifyParams(t *testing.T, platformKey *rsa.PrivateKey, tradeStatus string) url.Values {
	t.Helper()
	pairs := map[string]string{
		"app_id":       "2021000100000001",
		"out_trade_no": "PAY1700000000123456",
		"trade_no":     "2026083122001400001",
		"trade_status": tradeStatus,
		"total_amount": "9.90",
		"notify_type":  "trade_status_sync",
	}
	signature, err := sign.SHA256WithRSA(canonicalize(pairs), platformKey)
	if err != nil {
		t.Fatalf("sign notify: %v", err)
	}
	params := url.Values{}
	for key, value := range pairs {
		params.Set(key, value)
	}
	params.Set("sign", signature)
	params.Set("sign_type", "RSA2")
	return params
}

func TestVerifyNotify(t *testing.T) {
	client, _, platformKey := newTestClient(t, "")
	params := buildNotifyParams(t, platformKey, "TRADE_SUCCESS")

	result, err := client.VerifyNotify(params)
	if err != nil {
		t.Fatalf("VerifyNotify: %v", err)
	}
	if result.OrderNo != "PAY1700000000123456" || result.TradeNo != "2026083122001400001" {
		t.Fatalf("notify result %+v", result)
	}
	if result.Status != constants.OrderStatusPaid {
		t.Fatalf("status got %s", result.Status)
	}
}

func TestVerifyNotifyBadSignature(t *testing.T) {
	client, _, platformKey := newTestClient(t, "")
	params := buildNotifyParams(t, platformKey, "TRADE_SUCCESS")
	params.Set("total_amount", "0.01")
	if _, err := client.VerifyNotify(params); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("tampered params: want ErrSignatureInvalid, got %v", err)
	}

	params = buildNotifyParams(t, platformKey, "TRADE_SUCCESS")
	params.Del("sign")
	if _, err := client.VerifyNotify(params); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("missing sign: want ErrSignatureInvalid, got %v", err)
	}
}

func TestToOrderStatus(t *testing.T) {
	cases := map[string]string{
		"TRADE_SUCCESS":  constants.OrderStatusPaid,
		"TRADE_FINISHED": constants.OrderStatusPaid,
		"TRADE_CLOSED":   constants.OrderStatusClosed,
		"WAIT_BUYER_PAY": constants.OrderStatusFailed,
		"":               constants.OrderStatusFailed,
	}
	for status, want := range cases {
		if got := ToOrderStatus(status); got != want {
			t.Fatalf("ToOrderStatus(%s) got %s want %s", status, got, want)
		}
	}
}

func TestCanonicalize(t *testing.T) {
	got := canonicalize(map[string]string{
		"b":     "2",
		"a":     "1&x=9",
		"empty": "",
		"c":     "中文 值",
	})
	want := "a=1&x=9&b=2&c=中文 值"
	if got != want {
		t.Fatalf("canonicalize got %q want %q", got, want)
	}
}

func TestFenToYuan(t *testing.T) {
	cases := map[int64]string{
		1:     "0.01",
		100:   "1.00",
		990:   "9.90",
		12345: "123.45",
	}
	for fen, want := range cases {
		if got := fenToYuan(fen); got != want {
			t.Fatalf("fenToYuan(%d) got %q want %q", fen, got, want)
		}
	}
}

package wechat

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/sign"
)

const testAPIV3Key = "0123456789abcdef0123456789abcdef"

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

// newTestClient 返回指向本地假网关的适配器，并带出商户公钥与平台私钥，
// 供服务端验请求签名 / 签回调用。
func newTestClient(t *testing.T, handler http.Handler) (*Client, *rsa.PublicKey, *rsa.PrivateKey) {
	t.Helper()
	mchKey, mchPrivPEM, _ := generateKeyPair(t)
	platformKey, _, platformPubPEM := generateKeyPair(t)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		AppID:           "wx1234567890",
		MchID:           "1900000001",
		APIV3Key:        testAPIV3Key,
		MchCertSerial:   "ABCDEF0123456789",
		MchPrivateKey:   mchPrivPEM,
		PlatformCertPub: platformPubPEM,
		NotifyURL:       "https://pay.example.com/api/payments/notify/wechat",
		BaseURL:         server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, &mchKey.PublicKey, platformKey
}

var authPattern = regexp.MustCompile(
	`^WECHATPAY2-SHA256-RSA2048 mchid="([^"]+)",nonce_str="([0-9a-f]{32})",timestamp="(\d+)",serial_no="([^"]+)",signature="([^"]+)"$`,
)

// verifyRequestAuth 用商户公钥复核请求签名，返回请求体
func verifyRequestAuth(t *testing.T, r *http.Request, mchPublic *rsa.PublicKey) []byte {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	m := authPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if m == nil {
		t.Fatalf("authorization header malformed: %q", r.Header.Get("Authorization"))
	}
	if m[1] != "1900000001" || m[4] != "ABCDEF0123456789" {
		t.Fatalf("authorization header fields: mchid=%s serial=%s", m[1], m[4])
	}
	message := r.Method + "\n" + r.URL.RequestURI() + "\n" + m[3] + "\n" + m[2] + "\n" + string(body) + "\n"
	if err := sign.VerifySHA256WithRSA(message, m[5], mchPublic); err != nil {
		t.Fatalf("request signature did not verify: %v", err)
	}
	return body
}

func TestCreateNative(t *testing.T) {
	var mchPublic *rsa.PublicKey
	var gotPayload map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathNative {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body := verifyRequestAuth(t, r, mchPublic)
		if err := json.Unmarshal(body, &gotPayload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code_url":"weixin://wxpay/bizpayurl?pr=abc123"}`))
	})
	client, pub, _ := newTestClient(t, handler)
	mchPublic = pub

	codeURL, err := client.CreateNative(context.Background(), CreateInput{
		OrderNo:   "PAY1700000000123456",
		AmountFen: 990,
		Subject:   "测试商品",
	})
	if err != nil {
		t.Fatalf("CreateNative: %v", err)
	}
	if codeURL != "weixin://wxpay/bizpayurl?pr=abc123" {
		t.Fatalf("code_url got %q", codeURL)
	}
	if gotPayload["out_trade_no"] != "PAY1700000000123456" {
		t.Fatalf("out_trade_no got %v", gotPayload["out_trade_no"])
	}
	amount, _ := gotPayload["amount"].(map[string]interface{})
	if amount["total"] != float64(990) || amount["currency"] != "CNY" {
		t.Fatalf("amount got %v", gotPayload["amount"])
	}
	if gotPayload["notify_url"] != "https://pay.example.com/api/payments/notify/wechat" {
		t.Fatalf("notify_url got %v", gotPayload["notify_url"])
	}
}

func TestCreateJSAPI(t *testing.T) {
	var mchPublic *rsa.PublicKey
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathJSAPI {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body := verifyRequestAuth(t, r, mchPublic)
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		payer, _ := payload["payer"].(map[string]interface{})
		if payer["openid"] != "oUpF8abc" {
			t.Fatalf("openid got %v", payload["payer"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prepay_id":"wx29abc1700000000"}`))
	})
	client, pub, _ := newTestClient(t, handler)
	mchPublic = pub

	params, err := client.CreateJSAPI(context.Background(), CreateInput{
		OrderNo:   "PAY1700000000123456",
		AmountFen: 100,
		OpenID:    "oUpF8abc",
	})
	if err != nil {
		t.Fatalf("CreateJSAPI: %v", err)
	}
	if params.AppID != "wx1234567890" || params.SignType != "RSA" {
		t.Fatalf("pay params %+v", params)
	}
	if params.Package != "prepay_id=wx29abc1700000000" {
		t.Fatalf("package got %q", params.Package)
	}
	message := params.AppID + "\n" + params.TimeStamp + "\n" + params.NonceStr + "\n" + params.Package + "\n"
	if err := sign.VerifySHA256WithRSA(message, params.PaySign, mchPublic); err != nil {
		t.Fatalf("paySign did not verify: %v", err)
	}
}

func TestCreateJSAPIMissingOpenID(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	}))
	_, err := client.CreateJSAPI(context.Background(), CreateInput{OrderNo: "PAY1", AmountFen: 100})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("want ErrConfigInvalid, got %v", err)
	}
}

func TestCreateH5RedirectURL(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathH5 {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(body, &payload)
		scene, _ := payload["scene_info"].(map[string]interface{})
		if scene["payer_client_ip"] != "203.0.113.7" {
			t.Fatalf("scene_info got %v", payload["scene_info"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"h5_url":"https://wx.tenpay.com/cgi-bin/mmpayweb-bin/checkmweb?prepay_id=wx1"}`))
	})
	client, _, _ := newTestClient(t, handler)

	h5URL, err := client.CreateH5(context.Background(), CreateInput{
		OrderNo:   "PAY1700000000123456",
		AmountFen: 100,
		ClientIP:  "203.0.113.7",
		ReturnURL: "https://shop.example.com/result?a=1",
	})
	if err != nil {
		t.Fatalf("CreateH5: %v", err)
	}
	wantSuffix := "&redirect_url=https%3A%2F%2Fshop.example.com%2Fresult%3Fa%3D1"
	if !strings.HasSuffix(h5URL, wantSuffix) {
		t.Fatalf("h5 url missing redirect_url: %q", h5URL)
	}
}

func TestCreateUpstreamError(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"PARAM_ERROR","message":"金额错误"}`))
	}))
	_, err := client.CreateNative(context.Background(), CreateInput{OrderNo: "PAY1", AmountFen: 100})
	if !errors.Is(err, ErrResponseInvalid) {
		t.Fatalf("want ErrResponseInvalid, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	var mchPublic *rsa.PublicKey
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("want GET, got %s", r.Method)
		}
		if r.URL.Path != "/v3/pay/transactions/out-trade-no/PAY1700000000123456" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("mchid") != "1900000001" {
			t.Fatalf("mchid got %q", r.URL.Query().Get("mchid"))
		}
		verifyRequestAuth(t, r, mchPublic)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"out_trade_no":"PAY1700000000123456","transaction_id":"4200001","trade_state":"SUCCESS"}`))
	})
	client, pub, _ := newTestClient(t, handler)
	mchPublic = pub

	result, err := client.Query(context.Background(), "PAY1700000000123456")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.Status != constants.OrderStatusPaid || result.TradeNo != "4200001" {
		t.Fatalf("query result %+v", result)
	}
}

// encryptNotifyResource 按回调格式加密交易明文
func encryptNotifyResource(t *testing.T, plaintext, nonce, aad string) string {
	t.Helper()
	block, err := aes.NewCipher([]byte(testAPIV3Key))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm: %v", err)
	}
	sealed := gcm.Seal(nil, []byte(nonce), []byte(plaintext), []byte(aad))
	return base64.StdEncoding.EncodeToString(sealed)
}

func buildNotify(t *testing.T, platformKey *rsa.PrivateKey, tradeState string) (NotifyHeaders, []byte) {
	t.Helper()
	transaction := `{"out_trade_no":"PAY1700000000123456","transaction_id":"4200001","trade_state":"` + tradeState + `"}`
	ciphertext := encryptNotifyResource(t, transaction, "abcdef123456", "transaction")
	body, err := json.Marshal(map[string]interface{}{
		"event_type": "TRANSACTION.SUCCESS",
		"resource": map[string]string{
			"ciphertext":      ciphertext,
			"nonce":           "abcdef123456",
			"associated_data": "transaction",
		},
	})
	if err != nil {
		t.Fatalf("marshal notify body: %v", err)
	}
	timestamp := "1700000000"
	nonce := "notifynonce01234"
	signature, err := sign.SHA256WithRSA(timestamp+"\n"+nonce+"\n"+string(body)+"\n", platformKey)
	if err != nil {
		t.Fatalf("sign notify: %v", err)
	}
	return NotifyHeaders{Signature: signature, Timestamp: timestamp, Nonce: nonce}, body
}

func TestParseNotify(t *testing.T) {
	client, _, platformKey := newTestClient(t, http.NotFoundHandler())
	headers, body := buildNotify(t, platformKey, "SUCCESS")

	result, err := client.ParseNotify(headers, body)
	if err != nil {
		t.Fatalf("ParseNotify: %v", err)
	}
	if result.OrderNo != "PAY1700000000123456" || result.TradeNo != "4200001" {
		t.Fatalf("notify result %+v", result)
	}
	if result.Status != constants.OrderStatusPaid {
		t.Fatalf("status got %s", result.Status)
	}
}

func TestParseNotifyBadSignature(t *testing.T) {
	client, _, platformKey := newTestClient(t, http.NotFoundHandler())
	headers, body := buildNotify(t, platformKey, "SUCCESS")

	// 正文被改动一个字节，验签必须失败
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] ^= 0x01
	if _, err := client.ParseNotify(headers, tampered); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("tampered body: want ErrSignatureInvalid, got %v", err)
	}

	headers.Signature = ""
	if _, err := client.ParseNotify(headers, body); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("missing headers: want ErrSignatureInvalid, got %v", err)
	}
}

func TestParseNotifyWrongKey(t *testing.T) {
	client, _, _ := newTestClient(t, http.NotFoundHandler())
	otherKey, _, _ := generateKeyPair(t)
	headers, body := buildNotify(t, otherKey, "SUCCESS")
	if _, err := client.ParseNotify(headers, body); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("wrong platform key: want ErrSignatureInvalid, got %v", err)
	}
}

func TestToOrderStatus(t *testing.T) {
	cases := map[string]string{
		"SUCCESS":    constants.OrderStatusPaid,
		"CLOSED":     constants.OrderStatusClosed,
		"REVOKED":    constants.OrderStatusFailed,
		"PAYERROR":   constants.OrderStatusFailed,
		"NOTPAY":     constants.OrderStatusCreated,
		"USERPAYING": constants.OrderStatusCreated,
		"WHATEVER":   constants.OrderStatusFailed,
	}
	for state, want := range cases {
		if got := ToOrderStatus(state); got != want {
			t.Fatalf("ToOrderStatus(%s) got %s want %s", state, got, want)
		}
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("empty config: want ErrConfigInvalid, got %v", err)
	}

	_, mchPrivPEM, platformPubPEM := generateKeyPair(t)
	_, err = NewClient(Config{
		AppID:           "wx1",
		MchID:           "190",
		APIV3Key:        "short",
		MchCertSerial:   "SER",
		MchPrivateKey:   mchPrivPEM,
		PlatformCertPub: platformPubPEM,
		NotifyURL:       "https://pay.example.com/notify",
	})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("bad api v3 key: want ErrConfigInvalid, got %v", err)
	}
}

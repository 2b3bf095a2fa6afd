package sign

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

var (
	ErrKeyInvalid      = errors.New("sign key invalid")
	ErrSignGenerate    = errors.New("sign generate failed")
	ErrVerifyFailed    = errors.New("signature verify failed")
	ErrAuthTagMismatch = errors.New("aes-gcm auth tag mismatch")
)

// NormalizePEM 将配置中的字面 \n 还原为换行。密钥装载时只做一次。
func NormalizePEM(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "\\n", "\n"))
}

// LoadPrivateKey 解析 PKCS#8 私钥 PEM
func LoadPrivateKey(raw string) (*rsa.PrivateKey, error) {
	normalized := NormalizePEM(raw)
	if normalized == "" {
		return nil, fmt.Errorf("%w: private key is empty", ErrKeyInvalid)
	}
	privateKey, err := utils.LoadPrivateKey(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	return privateKey, nil
}

// LoadPublicKey 解析 X.509/SPKI 公钥 PEM（兼容证书格式）
func LoadPublicKey(raw string) (*rsa.PublicKey, error) {
	normalized := NormalizePEM(raw)
	if normalized == "" {
		return nil, fmt.Errorf("%w: public key is empty", ErrKeyInvalid)
	}
	if strings.Contains(normalized, "BEGIN CERTIFICATE") {
		cert, err := utils.LoadCertificate(normalized)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
		}
		publicKey, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: certificate key is not rsa", ErrKeyInvalid)
		}
		return publicKey, nil
	}
	publicKey, err := utils.LoadPublicKey(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	return publicKey, nil
}

// SHA256WithRSA 对消息做 RSA-SHA256 签名，返回 base64
func SHA256WithRSA(message string, privateKey *rsa.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", fmt.Errorf("%w: private key is nil", ErrSignGenerate)
	}
	signature, err := utils.SignSHA256WithRSA(message, privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignGenerate, err)
	}
	return signature, nil
}

// VerifySHA256WithRSA 校验 base64 编码的 RSA-SHA256 签名
func VerifySHA256WithRSA(message string, signatureB64 string, publicKey *rsa.PublicKey) error {
	if publicKey == nil {
		return fmt.Errorf("%w: public key is nil", ErrVerifyFailed)
	}
	verifier := verifiers.NewSHA256WithRSAPubkeyVerifier("", *publicKey)
	if err := verifier.Verify(context.Background(), "", message, signatureB64); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	return nil
}

// DecryptAES256GCM 解密微信回调 resource。认证标签为密文末尾 16 字节，
// 校验失败返回 ErrAuthTagMismatch。
func DecryptAES256GCM(apiV3Key, associatedData, nonce, ciphertextB64 string) (string, error) {
	plaintext, err := utils.DecryptAES256GCM(apiV3Key, associatedData, nonce, ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthTagMismatch, err)
	}
	return plaintext, nil
}

// NonceHex 生成 n 字节加密安全随机数的小写十六进制串
func NonceHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("nonce generate failed: %w", err))
	}
	return hex.EncodeToString(buf)
}

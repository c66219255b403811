package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

func SignHMACSHA256Hex(secret string, body []byte) string {
	return signHex(sha256.New, secret, body)
}

func SignHMACSHA512Hex(secret string, body []byte) string {
	return signHex(sha512.New, secret, body)
}

func VerifyHMACSHA256Hex(secret string, body []byte, signature string) bool {
	return verifyHex(sha256.New, secret, body, signature)
}

func VerifyHMACSHA512Hex(secret string, body []byte, signature string) bool {
	return verifyHex(sha512.New, secret, body, signature)
}

// SignHMACSHA256Base64 is the base64 form used by AlchemyPay.
func SignHMACSHA256Base64(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyHMACSHA256Base64(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

func signHex(h func() hash.Hash, secret string, body []byte) string {
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(h func() hash.Hash, secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(strings.ToLower(signature)))
	if err != nil {
		return false
	}
	mac := hmac.New(h, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

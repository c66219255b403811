package security

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// TOTPKey is a freshly generated second-factor secret and its otpauth URL.
type TOTPKey struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

func GenerateTOTP(issuer, account string) (*TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		SecretSize:  32,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return &TOTPKey{Secret: key.Secret(), URL: key.URL()}, nil
}

func ValidateTOTP(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}

package security

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
	assert.False(t, CheckPassword("", "correct horse"))

	_, err = HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewTokenManager(testSecret, "wallet", time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := m.Issue("user-1", "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenRejections(t *testing.T) {
	m, err := NewTokenManager(testSecret, "wallet", time.Hour)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		token, _, err := m.Issue("user-1", "user")
		require.NoError(t, err)
		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { m.now = time.Now }()
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewTokenManager(testSecret, "someone-else", time.Hour)
		require.NoError(t, err)
		token, _, err := other.Issue("user-1", "user")
		require.NoError(t, err)
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenManager(strings.Repeat("x", 32), "wallet", time.Hour)
		require.NoError(t, err)
		token, _, err := other.Issue("user-1", "user")
		require.NoError(t, err)
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = m.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	_, err = NewTokenManager("short", "wallet", time.Hour)
	assert.Error(t, err)
}

func TestEncryptor(t *testing.T) {
	key := hex.EncodeToString([]byte(testSecret))
	enc, err := NewEncryptor(key)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("mnemonic words")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "mnemonic")

	again, err := enc.Encrypt("mnemonic words")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per encryption")

	opened, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "mnemonic words", opened)

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	tampered := []byte(sealed)
	tampered[len(tampered)-2] ^= 1
	_, err = enc.Decrypt(string(tampered))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewEncryptor("not-a-key")
	assert.Error(t, err)
}

func TestTOTP(t *testing.T) {
	key, err := GenerateTOTP("Wallet", "admin@example.com")
	require.NoError(t, err)
	assert.Contains(t, key.URL, "otpauth://totp/")

	code, err := totp.GenerateCode(key.Secret, time.Now())
	require.NoError(t, err)
	assert.True(t, ValidateTOTP(code, key.Secret))
	assert.False(t, ValidateTOTP("000000", ""))
	assert.False(t, ValidateTOTP("", key.Secret))
}

func TestHMACSignatures(t *testing.T) {
	body := []byte(`{"event":"deposit.success"}`)

	tests := []struct {
		name   string
		verify func(string, []byte, string) bool
		sign   func(string, []byte) string
	}{
		{"sha256", VerifyHMACSHA256Hex, SignHMACSHA256Hex},
		{"sha512", VerifyHMACSHA512Hex, SignHMACSHA512Hex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.sign("secret", body)
			assert.True(t, tt.verify("secret", body, sig))
			assert.True(t, tt.verify("secret", body, strings.ToUpper(sig)))
			assert.False(t, tt.verify("other", body, sig))
			assert.False(t, tt.verify("secret", []byte(`{}`), sig))
			assert.False(t, tt.verify("secret", body, "zz"))
			assert.False(t, tt.verify("", body, sig))
		})
	}
}

func TestHMACSHA256Base64(t *testing.T) {
	payload := []byte("appId=a&crypto=USDC&timestamp=1")
	sig := SignHMACSHA256Base64("secret", payload)

	assert.True(t, VerifyHMACSHA256Base64("secret", payload, sig))
	assert.False(t, VerifyHMACSHA256Base64("secret", payload, "not base64!"))
	assert.False(t, VerifyHMACSHA256Base64("other", payload, sig))
	assert.False(t, VerifyHMACSHA256Base64("", payload, sig))
}

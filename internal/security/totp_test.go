package security_test

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chessrelay/internal/security"
)

func TestGenerateSecretProducesUsableKey(t *testing.T) {
	key, err := security.GenerateSecret("admin")
	require.NoError(t, err)
	assert.Equal(t, security.Issuer, key.Issuer())
	assert.NotEmpty(t, key.Secret())
}

func TestValidateAcceptsCurrentCode(t *testing.T) {
	key, err := security.GenerateSecret("admin")
	require.NoError(t, err)

	code, err := totp.GenerateCodeCustom(key.Secret(), time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	assert.True(t, security.Validate(key.Secret(), code))
	assert.False(t, security.Validate(key.Secret(), "000000000"))
}

func TestValidateRejectsEmptySecret(t *testing.T) {
	assert.False(t, security.Validate("", "123456"))
}

func TestEnrollmentQRProducesPNG(t *testing.T) {
	key, err := security.GenerateSecret("admin")
	require.NoError(t, err)

	png, err := security.EnrollmentQR(key, 200)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

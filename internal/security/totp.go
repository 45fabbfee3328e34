// Package security implements TOTP second-factor enrollment and
// validation for the admin handshake shortcut.
package security

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Issuer labels generated TOTP keys, shown by authenticator apps.
const Issuer = "chessrelay-admin"

// GenerateSecret creates a new enrollment key for accountName.
func GenerateSecret(accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: accountName,
	})
	if err != nil {
		return nil, fmt.Errorf("security: generate totp key: %w", err)
	}
	return key, nil
}

// Validate reports whether code is a currently valid TOTP for secret.
func Validate(secret, code string) bool {
	if secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// EnrollmentQR renders key as a PNG QR code at size x size pixels.
func EnrollmentQR(key *otp.Key, size int) ([]byte, error) {
	code, err := qr.Encode(key.String(), qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("security: encode qr: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("security: scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("security: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

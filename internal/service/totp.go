package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/pawpoint/admin-identity/internal/model"
	"github.com/pawpoint/admin-identity/internal/util"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20
	totpQRSize     = 200
)

var totpDigits = otp.DigitsSix

// generateTOTPKey creates a fresh secret with its provisioning URI and a
// QR code as a PNG data URI.
func generateTOTPKey(issuer, accountName string) (*model.MfaSetupData, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp key: %w", err)
	}

	img, err := key.Image(totpQRSize, totpQRSize)
	if err != nil {
		return nil, fmt.Errorf("render totp qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode totp qr code: %w", err)
	}

	return &model.MfaSetupData{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// matchTOTPStep returns the time step within ±skew of at whose code equals
// code. The current step is tried first.
func matchTOTPStep(secret, code string, at time.Time, skew uint) (int64, bool) {
	current := at.Unix() / totpPeriod
	offsets := []int64{0}
	for i := int64(1); i <= int64(skew); i++ {
		offsets = append(offsets, -i, i)
	}

	for _, offset := range offsets {
		step := current + offset
		expected, err := totp.GenerateCodeCustom(secret, time.Unix(step*totpPeriod, 0).UTC(), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    totpDigits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false
		}
		if util.ConstantTimeEqual(expected, code) {
			return step, true
		}
	}
	return 0, false
}

// totpReplayTTL covers the whole window in which a step can still validate.
func totpReplayTTL(skew uint) time.Duration {
	return time.Duration(2*skew+2) * totpPeriod * time.Second
}

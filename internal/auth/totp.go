// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package auth

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPManager generates shared secrets and verifies time-based one-time
// codes for second-factor authentication.
type TOTPManager struct {
	issuer string
	digits otp.Digits
	period uint
}

// NewTOTPManager creates a TOTP manager. Digits must be 6 or 8; period is
// the time-step in seconds (30 unless the deployment demands otherwise).
func NewTOTPManager(issuer string, digits int, period uint) (*TOTPManager, error) {
	var d otp.Digits
	switch digits {
	case 6:
		d = otp.DigitsSix
	case 8:
		d = otp.DigitsEight
	default:
		return nil, fmt.Errorf("unsupported TOTP digit count %d", digits)
	}
	if period == 0 {
		period = 30
	}
	return &TOTPManager{issuer: issuer, digits: d, period: period}, nil
}

// GenerateSecret produces a cryptographically random shared secret,
// base32-encoded for provisioning.
func (m *TOTPManager) GenerateSecret(accountLabel string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountLabel,
		Period:      m.period,
		Digits:      m.digits,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), nil
}

// ProvisioningURI builds the standard otpauth URI for QR rendering.
// Pure formatting, no I/O.
func (m *TOTPManager) ProvisioningURI(secret, accountLabel string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", m.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", strconv.Itoa(m.digits.Length()))
	q.Set("period", strconv.FormatUint(uint64(m.period), 10))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + m.issuer + ":" + accountLabel,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// VerifyCode checks a submitted code against the expected codes for the
// current time step and one adjacent step in each direction (clock-skew
// tolerance). A wrong code is a plain false, never an error.
func (m *TOTPManager) VerifyCode(secret, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    m.period,
		Skew:      1,
		Digits:    m.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Unparseable secret or code shape; treat as a failed verification.
		return false
	}
	return ok
}

// CodeAt computes the code for a given time. Used by provisioning tests and
// operator tooling, never in the login path.
func (m *TOTPManager) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    m.period,
		Skew:      0,
		Digits:    m.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

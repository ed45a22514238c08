// Package otp generates TOTP codes for accounts with two-factor auth
// enabled, so the login command can answer the 2FA prompt without user
// interaction.
package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDigits = 6
	stepSeconds   = 30
)

// Code computes the TOTP code for a secret at time t. The secret may be raw
// base32 (padded or not, spaces allowed) or a full otpauth:// URI, which is
// what authenticator apps export.
func Code(secret string, t time.Time) (string, error) {
	key, digits, err := parseSecret(secret)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(t.Unix()/stepSeconds))
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0F
	code := uint32(sum[offset]&0x7F)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, code%mod), nil
}

func parseSecret(s string) ([]byte, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, 0, fmt.Errorf("empty TOTP secret")
	}
	if strings.HasPrefix(strings.ToLower(s), "otpauth://") {
		u, err := url.Parse(s)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing otpauth URI: %w", err)
		}
		q := u.Query()
		digits := defaultDigits
		if d := q.Get("digits"); d != "" {
			if v, err := strconv.Atoi(d); err == nil && v > 0 {
				digits = v
			}
		}
		key, err := decodeBase32(q.Get("secret"))
		return key, digits, err
	}
	key, err := decodeBase32(s)
	return key, defaultDigits, err
}

func decodeBase32(s string) ([]byte, error) {
	raw := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if raw == "" {
		return nil, fmt.Errorf("empty TOTP secret")
	}
	if key, err := base32.StdEncoding.DecodeString(raw); err == nil && len(key) > 0 {
		return key, nil
	}
	unpadded := strings.TrimRight(raw, "=")
	if key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(unpadded); err == nil && len(key) > 0 {
		return key, nil
	}
	return nil, fmt.Errorf("TOTP secret is not valid base32")
}

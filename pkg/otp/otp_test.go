package otp

import (
	"testing"
	"time"
)

// Base32 of the RFC 6238 test key "12345678901234567890".
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestCodeRFCVectors(t *testing.T) {
	// RFC 6238 appendix B SHA-1 vectors, truncated to 6 digits.
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1111111111, "050471"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}
	for _, tt := range tests {
		got, err := Code(rfcSecret, time.Unix(tt.unix, 0))
		if err != nil {
			t.Fatalf("Code(t=%d): %v", tt.unix, err)
		}
		if got != tt.want {
			t.Fatalf("Code(t=%d) = %q, want %q", tt.unix, got, tt.want)
		}
	}
}

func TestCodeOtpauthURI(t *testing.T) {
	uri := "otpauth://totp/Example:alice?secret=" + rfcSecret + "&digits=8"
	got, err := Code(uri, time.Unix(59, 0))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if got != "94287082" {
		t.Fatalf("got %q, want 94287082", got)
	}
}

func TestCodeAcceptsSpacedSecret(t *testing.T) {
	spaced := "GEZD GNBV GY3T QOJQ GEZD GNBV GY3T QOJQ"
	a, err := Code(spaced, time.Unix(59, 0))
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	b, _ := Code(rfcSecret, time.Unix(59, 0))
	if a != b {
		t.Fatalf("spaced secret gave %q, plain gave %q", a, b)
	}
}

func TestCodeRejectsGarbage(t *testing.T) {
	if _, err := Code("", time.Now()); err == nil {
		t.Fatal("empty secret should fail")
	}
	if _, err := Code("not base32 at all!!!", time.Now()); err == nil {
		t.Fatal("invalid base32 should fail")
	}
}

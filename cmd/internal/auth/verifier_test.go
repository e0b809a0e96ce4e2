package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(Config{
		Secret:    testSecret,
		Issuer:    "imlast",
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	return v
}

func signToken(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestVerify_ValidToken(t *testing.T) {
	t.Parallel()
	v := testVerifier(t)

	tok := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "u-42",
		"username": "nadia",
		"iss":      "imlast",
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "u-42" || id.Username != "nadia" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerify_ErrorTaxonomy(t *testing.T) {
	t.Parallel()
	v := testVerifier(t)

	expired := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-42",
		"iss": "imlast",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, []byte("ffffffffffffffffffffffffffffffff"), jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-42",
		"iss": "imlast",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	wrongIssuer := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-42",
		"iss": "somewhere-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	missingSub := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "imlast",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	noExpiry := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-42",
		"iss": "imlast",
	})

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrTokenMalformed},
		{name: "garbage", token: "not-a-token", want: ErrTokenMalformed},
		{name: "expired", token: expired, want: ErrTokenExpired},
		{name: "wrong signature", token: wrongKey, want: ErrTokenInvalid},
		{name: "wrong issuer", token: wrongIssuer, want: ErrTokenInvalid},
		{name: "missing subject", token: missingSub, want: ErrTokenInvalid},
		{name: "missing expiry", token: noExpiry, want: ErrTokenInvalid},
	}

	for _, tc := range cases {
		_, err := v.Verify(context.Background(), tc.token)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got err=%v want=%v", tc.name, err, tc.want)
		}
	}
}

func TestVerify_RejectsNonHMACAlg(t *testing.T) {
	t.Parallel()
	v := testVerifier(t)

	// alg=none style tokens must never validate.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u-42",
		"iss": "imlast",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	if _, err := v.Verify(context.Background(), s); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for alg=none, got %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("IMLAST_TOKEN_SECRET", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for missing secret, got %v", err)
	}

	t.Setenv("IMLAST_TOKEN_SECRET", "short")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for short secret, got %v", err)
	}

	t.Setenv("IMLAST_TOKEN_SECRET", string(testSecret))
	t.Setenv("IMLAST_TOKEN_ISSUER", "imlast")
	t.Setenv("IMLAST_TOKEN_CLOCK_SKEW", "10s")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.Issuer != "imlast" || cfg.ClockSkew != 10*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

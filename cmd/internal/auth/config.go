package auth

import (
	"os"
	"strings"
	"time"
)

const minSecretBytes = 32

// Config defines runtime configuration for token verification.
//
// The account subsystem signs tokens with a shared HS256 secret; this side
// only needs the secret, the expected issuer, and a skew tolerance.
type Config struct {
	// Secret is the shared HMAC key used to verify token signatures.
	Secret []byte

	// Issuer, when non-empty, must match the "iss" claim.
	Issuer string

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration
}

// DefaultConfig returns defaults suitable for development.
// The secret is intentionally absent: it must come from the environment.
func DefaultConfig() Config {
	return Config{
		Issuer:    "",
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads verifier configuration from environment variables.
//
// Required:
//   - IMLAST_TOKEN_SECRET (>= 32 bytes)
//
// Optional:
//   - IMLAST_TOKEN_ISSUER
//   - IMLAST_TOKEN_CLOCK_SKEW (Go duration)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	secret := strings.TrimSpace(os.Getenv("IMLAST_TOKEN_SECRET"))
	if secret == "" || len(secret) < minSecretBytes {
		return Config{}, ErrConfig
	}
	cfg.Secret = []byte(secret)

	if v := strings.TrimSpace(os.Getenv("IMLAST_TOKEN_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("IMLAST_TOKEN_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	return cfg, nil
}

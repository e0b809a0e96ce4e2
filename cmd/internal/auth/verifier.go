package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the resolved user identity propagated into the realtime core.
type Identity struct {
	UserID   string
	Username string
}

// Verifier resolves an opaque credential token to a user identity.
//
// Implementations must be pure validation: no side effects, no registry
// mutation. A failed Verify means the connection attempt is terminated.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// JWTVerifier verifies HS256 tokens minted by the account subsystem.
type JWTVerifier struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

// NewJWTVerifier constructs a Verifier from config.
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrConfig
	}
	return &JWTVerifier{
		secret:    cfg.Secret,
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
	}, nil
}

// Verify parses and validates token, mapping failures onto the package's
// stable error taxonomy.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if v == nil {
		return Identity{}, ErrConfig
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrTokenMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, classifyJWTError(err)
	}
	if !parsed.Valid {
		return Identity{}, ErrTokenInvalid
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Identity{}, ErrTokenInvalid
	}

	id := Identity{UserID: sub}
	if name, ok := claims["username"].(string); ok {
		id.Username = name
	}
	return id, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

// Package auth guards the parent role: a bcrypt-hashed PIN unlocks it and
// API callers carry an HS256 JWT naming their role.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"edu-tracker/internal/model"
)

const DefaultTokenTTL = 12 * time.Hour

var (
	ErrWrongPIN     = errors.New("wrong PIN")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("JWT secret is not set")
)

type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Guard checks PINs and issues and validates tokens.
type Guard struct {
	pinHash []byte
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewGuard hashes pin once; the plain PIN is not kept.
func NewGuard(pin, secret string, ttl time.Duration) (*Guard, error) {
	if pin == "" {
		return nil, fmt.Errorf("parent PIN is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash PIN: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Guard{pinHash: hash, secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (g *Guard) CheckPIN(pin string) error {
	if err := bcrypt.CompareHashAndPassword(g.pinHash, []byte(pin)); err != nil {
		return ErrWrongPIN
	}
	return nil
}

// TokensEnabled reports whether a signing secret is configured.
func (g *Guard) TokensEnabled() bool {
	return len(g.secret) > 0
}

// IssueToken signs a token for role.
func (g *Guard) IssueToken(role model.Role) (string, time.Time, error) {
	if !g.TokensEnabled() {
		return "", time.Time{}, ErrNoSecret
	}
	now := g.now()
	exp := now.Add(g.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "edu-tracker",
			Subject:   string(role),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// ParseToken validates signature, algorithm and expiry and returns the role.
func (g *Guard) ParseToken(raw string) (model.Role, error) {
	if !g.TokensEnabled() {
		return "", ErrNoSecret
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("edu-tracker"),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	switch claims.Role {
	case model.RoleParent, model.RoleChild:
		return claims.Role, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
}

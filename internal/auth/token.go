// ABOUTME: Signed bearer tokens for deployments that must not trust an identity header
// ABOUTME: HS256 JWTs issued by agentgate whose registered subject is the identity

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim agentgate signs into tokens and requires back.
const TokenIssuer = "agentgate"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrEmptySecret  = errors.New("jwt secret is empty")
	ErrInvalidTTL   = errors.New("token lifetime must be positive")
)

// TokenVerifier maps a bearer token to the identity it was issued for.
type TokenVerifier interface {
	Verify(token string) (identity string, err error)
}

// Tokens issues and verifies identity tokens under one shared secret.
type Tokens struct {
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokens returns Tokens keyed by secret.
func NewTokens(secret []byte) *Tokens {
	t := &Tokens{secret: secret, now: time.Now}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	return t
}

func (t *Tokens) key(*jwt.Token) (any, error) {
	if len(t.secret) == 0 {
		return nil, ErrEmptySecret
	}
	return t.secret, nil
}

// Verify checks signature, issuer and expiry, and returns the subject.
func (t *Tokens) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, err := t.parser.ParseWithClaims(token, &claims, t.key); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Issue signs a token for identity that stays valid for ttl.
func (t *Tokens) Issue(identity string, ttl time.Duration) (string, error) {
	switch {
	case len(t.secret) == 0:
		return "", ErrEmptySecret
	case identity == "":
		return "", ErrNoIdentity
	case ttl <= 0:
		return "", ErrInvalidTTL
	}

	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

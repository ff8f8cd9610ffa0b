package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stockroom/apiserver/internal/clock"
)

// BearerCredential is the verified content of a bearer token.
type BearerCredential struct {
	SubjectID int
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and verifies HS256 signed JWTs.
type TokenCodec struct {
	secret     []byte
	defaultTTL time.Duration
	clock      clock.Clock
}

func NewTokenCodec(secret string, defaultTTL time.Duration, clk clock.Clock) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token signing secret is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &TokenCodec{secret: []byte(secret), defaultTTL: defaultTTL, clock: clk}, nil
}

// Issue signs a token for subjectID valid for ttl, or the default ttl when ttl <= 0.
func (c *TokenCodec) Issue(subjectID int, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(subjectID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify checks the signature and expiry of tokenString. Every failure
// wraps ErrInvalidToken.
func (c *TokenCodec) Verify(tokenString string) (BearerCredential, error) {
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return BearerCredential{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return BearerCredential{}, ErrInvalidToken
	}

	subjectID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || subjectID < 1 {
		return BearerCredential{}, fmt.Errorf("%w: invalid subject", ErrInvalidToken)
	}

	cred := BearerCredential{
		SubjectID: subjectID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		cred.IssuedAt = claims.IssuedAt.Time
	}
	return cred, nil
}

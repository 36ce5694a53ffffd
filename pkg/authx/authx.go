// Package authx guards the session-management API: the admin password is
// exchanged for a short-lived HS256 bearer token.
package authx

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/convokit/convokit/pkg/errx"
)

var errRegistry = errx.NewRegistry("AUTH")

var (
	ErrCodeInvalidCredentials = errRegistry.Register(
		"INVALID_CREDENTIALS",
		errx.TypeBusiness,
		http.StatusUnauthorized,
		"Invalid credentials",
	)

	ErrCodeInvalidToken = errRegistry.Register(
		"INVALID_TOKEN",
		errx.TypeBusiness,
		http.StatusUnauthorized,
		"Invalid token",
	)

	ErrCodeTokenExpired = errRegistry.Register(
		"TOKEN_EXPIRED",
		errx.TypeBusiness,
		http.StatusUnauthorized,
		"Token expired",
	)

	ErrCodeSigningFailed = errRegistry.Register(
		"SIGNING_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Failed to sign token",
	)
)

// Authenticator verifies the admin password and issues bearer tokens
type Authenticator struct {
	secret       []byte
	passwordHash []byte
	tokenTTL     time.Duration
	now          func() time.Time
}

// Option configures an Authenticator
type Option func(*Authenticator)

// WithClock overrides the time source for tests
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

// New creates an authenticator with the given signing secret and bcrypt
// password hash
func New(secret, passwordHash string, tokenTTL time.Duration, opts ...Option) *Authenticator {
	a := &Authenticator{
		secret:       []byte(secret),
		passwordHash: []byte(passwordHash),
		tokenTTL:     tokenTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueToken verifies the admin password and returns a signed token
func (a *Authenticator) IssueToken(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", errRegistry.New(ErrCodeInvalidCredentials)
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errRegistry.NewWithCause(ErrCodeSigningFailed, err)
	}
	return signed, nil
}

// VerifyToken validates signature and expiry of a bearer token
func (a *Authenticator) VerifyToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return a.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return errRegistry.New(ErrCodeTokenExpired)
		}
		return errRegistry.NewWithCause(ErrCodeInvalidToken, err)
	}
	if !token.Valid {
		return errRegistry.New(ErrCodeInvalidToken)
	}
	return nil
}

// HashPassword produces a bcrypt hash for ADMIN_PASSWORD_HASH
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

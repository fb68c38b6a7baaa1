package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Issuer is the iss claim of tokens minted by groundsql.
const Issuer = "groundsql"

// MinSecretLength is the shortest accepted HS256 secret, in bytes.
const MinSecretLength = 32

// Claims are the JWT claims groundsql issues. The subject is the user name.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// JWTAuthenticator validates and mints HS256 tokens signed with a shared
// secret.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

// NewJWTAuthenticator creates an authenticator for secret.
func NewJWTAuthenticator(secret string) (*JWTAuthenticator, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.Newf("auth: jwt secret must be at least %d bytes", MinSecretLength)
	}
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}, nil
}

// Issue mints a token for user with roles, valid for ttl.
func (a *JWTAuthenticator) Issue(user string, roles []string, ttl time.Duration) (string, time.Time, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", time.Time{}, errors.New("auth: user is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.Newf("auth: ttl must be positive, got %s", ttl)
	}
	now := a.now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Roles: slices.Clone(roles),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "auth: sign token")
	}
	return signed, exp, nil
}

// ValidateToken implements Authenticator.
func (a *JWTAuthenticator) ValidateToken(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, errors.NewAuthFailed("token required")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{},
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.NewAuthExpired()
		}
		return nil, errors.NewAuthFailed("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, errors.NewAuthFailed("invalid token")
	}
	return &User{
		ID:        claims.Subject,
		Name:      claims.Subject,
		Roles:     claims.Roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Chain tries each authenticator in order and returns the first user found.
// When all refuse, an expiry is reported over a plain mismatch.
func Chain(authenticators ...Authenticator) Authenticator {
	return chain(authenticators)
}

type chain []Authenticator

func (c chain) ValidateToken(ctx context.Context, token string) (*User, error) {
	var firstErr error
	for _, a := range c {
		user, err := a.ValidateToken(ctx, token)
		if err == nil {
			return user, nil
		}
		var failed *errors.ErrAuthFailed
		if errors.As(err, &failed) && failed.Expired {
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.NewAuthFailed("invalid token")
	}
	return nil, firstErr
}

// Package auth resolves bearer tokens to users for the gateway. Tokens are
// static and come from configuration; the approval gate records the user
// that approved or rejected a question.
package auth

import (
	"context"
	"crypto/subtle"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
)

// User is the caller behind a token. Name is what approvals and rejections
// record as the approver.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	// Zero never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (u *User) expired(now time.Time) bool {
	return !u.ExpiresAt.IsZero() && now.After(u.ExpiresAt)
}

// HasRole reports whether role was granted to u.
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (*User, error)
}

type grant struct {
	token []byte
	user  *User
}

// TokenAuthenticator holds the configured server.tokens.
type TokenAuthenticator struct {
	mu     sync.RWMutex
	grants []grant
	now    func() time.Time
}

// NewTokenAuthenticator returns an authenticator that knows no tokens.
func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{now: time.Now}
}

// FromConfig builds an authenticator from server.tokens. Entries without a
// token are skipped and a missing user name becomes "token-user".
func FromConfig(tokens []config.TokenConfig) *TokenAuthenticator {
	a := NewTokenAuthenticator()
	for _, t := range tokens {
		token := strings.TrimSpace(t.Token)
		if token == "" {
			continue
		}
		name := strings.TrimSpace(t.User)
		if name == "" {
			name = "token-user"
		}
		a.Add(token, &User{ID: name, Name: name, Roles: slices.Clone(t.Roles)})
	}
	return a
}

// Add maps token to user, replacing an earlier mapping of the same token.
func (a *TokenAuthenticator) Add(token string, user *User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.grants {
		if string(a.grants[i].token) == token {
			a.grants[i].user = user
			return
		}
	}
	a.grants = append(a.grants, grant{token: []byte(token), user: user})
}

// Len returns the number of known tokens.
func (a *TokenAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.grants)
}

// ValidateToken compares token against every grant in constant time.
func (a *TokenAuthenticator) ValidateToken(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, errors.NewAuthFailed("token required")
	}

	var found *User
	presented := []byte(token)
	a.mu.RLock()
	for _, g := range a.grants {
		if subtle.ConstantTimeCompare(g.token, presented) == 1 {
			found = g.user
		}
	}
	a.mu.RUnlock()

	switch {
	case found == nil:
		return nil, errors.NewAuthFailed("invalid token")
	case found.expired(a.now()):
		return nil, errors.NewAuthExpired()
	}
	return found, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type userKey struct{}

// ContextWithUser attaches the authenticated user to ctx.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user attached by ContextWithUser, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
)

func TestValidateToken(t *testing.T) {
	a := NewTokenAuthenticator()
	a.Add("good", &User{ID: "u1", Name: "ana", Roles: []string{RoleAnalyst}})
	a.Add("old", &User{ID: "u2", Name: "old", ExpiresAt: time.Now().Add(-time.Minute)})
	ctx := context.Background()

	user, err := a.ValidateToken(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "ana", user.Name)

	// Red-Flag: empty, unknown and expired tokens are refused with an auth code.
	for token, reason := range map[string]string{
		"":      "token required",
		"bad":   "invalid token",
		"old":   "token has expired",
		"good ": "invalid token",
	} {
		_, err := a.ValidateToken(ctx, token)
		require.Error(t, err, token)
		assert.Equal(t, errors.CodeAuth, errors.CodeOf(err), token)
		ge, ok := errors.Details(err)
		require.True(t, ok)
		assert.Equal(t, reason, ge.Reason, token)
	}
}

func TestFromConfig(t *testing.T) {
	a := FromConfig([]config.TokenConfig{
		{Token: " t1 ", User: "ana", Roles: []string{RoleAnalyst}},
		{Token: "", User: "skipped"},
		{Token: "t2"},
	})
	assert.Equal(t, 2, a.Len())

	user, err := a.ValidateToken(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, user.HasRole(RoleAnalyst))
	assert.False(t, user.HasRole(RoleAdmin))

	user, err = a.ValidateToken(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, "token-user", user.Name)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("abc"))
	assert.Empty(t, BearerToken(""))
}

func TestUserContext(t *testing.T) {
	assert.Nil(t, UserFromContext(context.Background()))
	u := &User{Name: "bob"}
	assert.Same(t, u, UserFromContext(ContextWithUser(context.Background(), u)))
}

func TestDefaultAuthorization(t *testing.T) {
	s := DefaultAuthorization()
	analyst := &User{Name: "ana", Roles: []string{RoleAnalyst}}
	approver := &User{Name: "bob", Roles: []string{RoleApprover}}
	admin := &User{Name: "root", Roles: []string{RoleAdmin}}

	// Green-Flag: every role may ask and read.
	for _, u := range []*User{analyst, approver, admin} {
		for _, a := range []Action{ActionAsk, ActionView, ActionCheckSQL, ActionViewSchema} {
			assert.NoError(t, s.Authorize(u, a), "%s %s", u.Name, a)
		}
	}

	// Red-Flag: analysts cannot decide and only admins refresh.
	err := s.Authorize(analyst, ActionApprove)
	var forbidden *errors.ErrForbidden
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, RoleApprover, forbidden.Role)
	assert.NoError(t, s.Authorize(approver, ActionApprove))
	assert.Error(t, s.Authorize(approver, ActionRefreshSchema))
	assert.NoError(t, s.Authorize(admin, ActionRefreshSchema))

	var failed *errors.ErrAuthFailed
	assert.True(t, errors.As(s.Authorize(nil, ActionAsk), &failed))
}

func TestGrantRevoke(t *testing.T) {
	s := NewAuthorizationService()
	assert.False(t, s.Allowed([]string{"ops"}, ActionRefreshSchema))
	s.Grant("ops", ActionRefreshSchema)
	assert.True(t, s.Allowed([]string{"viewer", "ops"}, ActionRefreshSchema))
	s.Revoke("ops", ActionRefreshSchema)
	assert.False(t, s.Allowed([]string{"ops"}, ActionRefreshSchema))
}

func TestAdd_ReplacesExistingToken(t *testing.T) {
	a := NewTokenAuthenticator()
	a.Add("t", &User{Name: "first"})
	a.Add("t", &User{Name: "second"})
	assert.Equal(t, 1, a.Len())

	user, err := a.ValidateToken(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "second", user.Name)
}

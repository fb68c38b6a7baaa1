package auth

import (
	"sync"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Action is something a gateway caller may do.
type Action string

const (
	ActionAsk           Action = "ask"
	ActionView          Action = "view"
	ActionApprove       Action = "approve"
	ActionCheckSQL      Action = "sql.check"
	ActionViewSchema    Action = "schema.view"
	ActionRefreshSchema Action = "schema.refresh"
)

// Built-in roles.
const (
	RoleAnalyst  = "analyst"
	RoleApprover = "approver"
	RoleAdmin    = "admin"
)

// AuthorizationService maps roles to the actions they may perform.
// Absence of a grant is denial.
type AuthorizationService struct {
	mu     sync.RWMutex
	grants map[string]map[Action]bool
}

// NewAuthorizationService creates a service with no grants.
func NewAuthorizationService() *AuthorizationService {
	return &AuthorizationService{grants: make(map[string]map[Action]bool)}
}

// DefaultAuthorization grants the built-in roles. Analysts ask and read;
// approvers also decide on parked questions; admins may refresh the schema.
func DefaultAuthorization() *AuthorizationService {
	s := NewAuthorizationService()
	read := []Action{ActionAsk, ActionView, ActionCheckSQL, ActionViewSchema}
	for _, a := range read {
		s.Grant(RoleAnalyst, a)
		s.Grant(RoleApprover, a)
		s.Grant(RoleAdmin, a)
	}
	s.Grant(RoleApprover, ActionApprove)
	s.Grant(RoleAdmin, ActionApprove)
	s.Grant(RoleAdmin, ActionRefreshSchema)
	return s
}

// Grant allows role to perform action.
func (s *AuthorizationService) Grant(role string, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[role] == nil {
		s.grants[role] = make(map[Action]bool)
	}
	s.grants[role][action] = true
}

// Revoke removes a grant.
func (s *AuthorizationService) Revoke(role string, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[role], action)
}

// Authorize returns nil when one of the user's roles grants action.
func (s *AuthorizationService) Authorize(user *User, action Action) error {
	if user == nil {
		return errors.NewAuthFailed("no user context")
	}
	if s.Allowed(user.Roles, action) {
		return nil
	}
	return errors.NewForbidden(user.Name, requiredRole(action))
}

// Allowed reports whether any of roles grants action.
func (s *AuthorizationService) Allowed(roles []string, action Action) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range roles {
		if s.grants[role][action] {
			return true
		}
	}
	return false
}

func requiredRole(action Action) string {
	switch action {
	case ActionApprove:
		return RoleApprover
	case ActionRefreshSchema:
		return RoleAdmin
	default:
		return RoleAnalyst
	}
}

package auth

import (
	"slices"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

const (
	ScopeProfileRead = "profile:read"
	ScopeSearch      = "search:read"
	ScopeCacheAdmin  = "cache:admin"
)

// RBACService maps roles to the scopes they hold regardless of what the
// token itself grants.
//
// Roles:
//   - "admin" : every scope
//   - "user"  : read own profile, search content
type RBACService struct {
	roleScopes map[domain.UserRole][]string
	log        *zap.Logger
}

func NewRBACService(log *zap.Logger) *RBACService {
	return &RBACService{
		roleScopes: map[domain.UserRole][]string{
			domain.UserRoleAdmin: {ScopeProfileRead, domain.ScopeProfileWrite, ScopeSearch, ScopeCacheAdmin},
			domain.UserRoleUser:  {ScopeProfileRead, ScopeSearch},
		},
		log: log,
	}
}

// Scopes merges the role's default scopes with the token's granted ones.
// Unknown roles get only what the token grants.
func (s *RBACService) Scopes(role domain.UserRole, granted []string) []string {
	base, ok := s.roleScopes[role]
	if !ok {
		s.log.Warn("unknown role in token", zap.String("role", string(role)))
	}

	out := make([]string, 0, len(base)+len(granted))
	for _, scope := range append(append([]string(nil), base...), granted...) {
		if scope != "" && !slices.Contains(out, scope) {
			out = append(out, scope)
		}
	}
	return out
}

package collaboration

import "github.com/MarcoPoloResearchLab/cohort/internal/datasharing"

// RoleLookup resolves the role of the signed-in user in a people group.
type RoleLookup interface {
	GetCurrentUserRoleForGroup(groupID string) datasharing.MemberRole
}

// AccountService is a CollaborationService for a single signed-in session.
type AccountService struct {
	status ServiceStatus
	roles  RoleLookup
}

// NewAccountService returns a CollaborationService reporting status and
// delegating role lookups to roles.
func NewAccountService(status ServiceStatus, roles RoleLookup) *AccountService {
	return &AccountService{status: status, roles: roles}
}

func (s *AccountService) GetServiceStatus() ServiceStatus {
	return s.status
}

func (s *AccountService) GetCurrentUserRoleForGroup(groupID string) datasharing.MemberRole {
	if s.roles == nil {
		return datasharing.MemberRoleUnknown
	}
	return s.roles.GetCurrentUserRoleForGroup(groupID)
}

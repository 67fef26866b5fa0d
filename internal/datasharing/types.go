package datasharing

import (
	"errors"
	"strings"
)

var (
	// ErrGroupNotFound indicates that no readable group matches the token.
	ErrGroupNotFound = errors.New("datasharing: group not found")
	// ErrInvalidToken indicates that a group token is missing its id or access token.
	ErrInvalidToken = errors.New("datasharing: invalid group token")
)

// MemberRole describes the relationship of a user with a people group.
type MemberRole int

const (
	MemberRoleUnknown MemberRole = iota
	MemberRoleOwner
	MemberRoleMember
	MemberRoleInvitee
	MemberRoleFormerMember
)

// String returns a log friendly name.
func (role MemberRole) String() string {
	switch role {
	case MemberRoleOwner:
		return "owner"
	case MemberRoleMember:
		return "member"
	case MemberRoleInvitee:
		return "invitee"
	case MemberRoleFormerMember:
		return "former_member"
	default:
		return "unknown"
	}
}

// ParseMemberRole maps a role name to a MemberRole. Unknown names map to
// MemberRoleUnknown.
func ParseMemberRole(value string) MemberRole {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "owner":
		return MemberRoleOwner
	case "member":
		return MemberRoleMember
	case "invitee":
		return MemberRoleInvitee
	case "former_member":
		return MemberRoleFormerMember
	default:
		return MemberRoleUnknown
	}
}

// GroupToken identifies a people group together with the secret needed to read it.
type GroupToken struct {
	GroupID     string
	AccessToken string
}

// IsValid reports whether both parts of the token are present.
func (token GroupToken) IsValid() bool {
	return strings.TrimSpace(token.GroupID) != "" && strings.TrimSpace(token.AccessToken) != ""
}

// GroupMember is a member of a people group.
type GroupMember struct {
	GaiaID      string
	DisplayName string
	GivenName   string
	Email       string
	AvatarURL   string
	Role        MemberRole
}

// GroupMemberPartialData is what is known about a member, possibly after removal.
type GroupMemberPartialData struct {
	GaiaID      string
	DisplayName string
	GivenName   string
	Email       string
	AvatarURL   string
}

// ToGroupMember widens the partial data into a GroupMember with an unknown role.
func (data GroupMemberPartialData) ToGroupMember() GroupMember {
	return GroupMember{
		GaiaID:      data.GaiaID,
		DisplayName: data.DisplayName,
		GivenName:   data.GivenName,
		Email:       data.Email,
		AvatarURL:   data.AvatarURL,
		Role:        MemberRoleUnknown,
	}
}

func partialFromMember(member GroupMember) GroupMemberPartialData {
	return GroupMemberPartialData{
		GaiaID:      member.GaiaID,
		DisplayName: member.DisplayName,
		GivenName:   member.GivenName,
		Email:       member.Email,
		AvatarURL:   member.AvatarURL,
	}
}

// GroupData is the membership view of a collaboration.
type GroupData struct {
	Token       GroupToken
	DisplayName string
	Members     []GroupMember
}

// ID returns the group id.
func (group GroupData) ID() string {
	return group.Token.GroupID
}

// Member returns the member with the given gaia id.
func (group GroupData) Member(gaiaID string) (GroupMember, bool) {
	for _, member := range group.Members {
		if member.GaiaID == gaiaID {
			return member, true
		}
	}
	return GroupMember{}, false
}

// Clone returns a deep copy of the group.
func (group GroupData) Clone() GroupData {
	clone := group
	if group.Members != nil {
		clone.Members = make([]GroupMember, len(group.Members))
		copy(clone.Members, group.Members)
	}
	return clone
}

package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"github.com/gin-gonic/gin"
)

type accessDecision int

const (
	accessGranted accessDecision = iota
	accessNotFound
	accessNotMember
	accessNotOwner
)

func isActiveMember(role datasharing.MemberRole) bool {
	return role == datasharing.MemberRoleOwner || role == datasharing.MemberRoleMember
}

// isCollaborator reports whether gaiaID is an active member of the joined
// people group. Must run on the sequence.
func (h *httpHandler) isCollaborator(groupID, gaiaID string) bool {
	return isActiveMember(h.dataSharing.GetRoleForMember(groupID, gaiaID))
}

// contributorRole returns the role of gaiaID in the people group, using the
// published preview when the group has not been joined yet. Must run on the
// sequence.
func (h *httpHandler) contributorRole(groupID, gaiaID string) datasharing.MemberRole {
	if _, joined := h.dataSharing.GetGroup(groupID); joined {
		return h.dataSharing.GetRoleForMember(groupID, gaiaID)
	}
	return h.dataSharing.GetRoleForPublishedMember(groupID, gaiaID)
}

func (h *httpHandler) peopleGroupExists(groupID string) bool {
	if _, joined := h.dataSharing.GetGroup(groupID); joined {
		return true
	}
	_, published := h.dataSharing.GetPublishedGroup(groupID)
	return published
}

// authorizeMemberChange lets owners change any member and lets active members
// change or remove only themselves.
func (h *httpHandler) authorizeMemberChange(groupID, callerGaiaID, targetGaiaID string) accessDecision {
	if _, joined := h.dataSharing.GetGroup(groupID); !joined {
		return accessNotFound
	}
	role := h.dataSharing.GetRoleForMember(groupID, callerGaiaID)
	switch {
	case role == datasharing.MemberRoleOwner:
		return accessGranted
	case !isActiveMember(role):
		return accessNotMember
	case callerGaiaID == targetGaiaID:
		return accessGranted
	default:
		return accessNotOwner
	}
}

// authorizeTabGroupUpsert requires the caller to contribute to the
// collaboration the group is shared with, before and after the change.
func (h *httpHandler) authorizeTabGroupUpsert(group tabgroups.SavedTabGroup, callerGaiaID string) accessDecision {
	collaborationIDs := []string{group.CollaborationID}
	if group.SyncID != "" {
		if existing, ok := h.tabGroups.GetGroup(group.SyncID); ok {
			collaborationIDs = append(collaborationIDs, existing.CollaborationID)
		}
	}
	for _, collaborationID := range collaborationIDs {
		if collaborationID == "" {
			continue
		}
		if !isActiveMember(h.contributorRole(collaborationID, callerGaiaID)) {
			return accessNotMember
		}
	}
	return accessGranted
}

func (h *httpHandler) authorizeTabGroupChange(syncID, callerGaiaID string) accessDecision {
	existing, ok := h.tabGroups.GetGroup(syncID)
	if !ok {
		return accessNotFound
	}
	if existing.IsShared() && !isActiveMember(h.contributorRole(existing.CollaborationID, callerGaiaID)) {
		return accessNotMember
	}
	return accessGranted
}

// authorizePeopleGroupWrite lets owners replace an existing group. A new group
// must list the caller as its owner.
func (h *httpHandler) authorizePeopleGroupWrite(group datasharing.GroupData, callerGaiaID string) accessDecision {
	if h.peopleGroupExists(group.ID()) {
		return ownerDecision(h.contributorRole(group.ID(), callerGaiaID))
	}
	member, found := group.Member(callerGaiaID)
	if !found || member.Role != datasharing.MemberRoleOwner {
		return accessNotOwner
	}
	return accessGranted
}

func ownerDecision(role datasharing.MemberRole) accessDecision {
	switch {
	case role == datasharing.MemberRoleOwner:
		return accessGranted
	case isActiveMember(role):
		return accessNotOwner
	default:
		return accessNotMember
	}
}

func writeAccessDenied(c *gin.Context, decision accessDecision, notFoundCode string) {
	switch decision {
	case accessNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundCode})
	case accessNotMember:
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "not_an_owner"})
	}
}

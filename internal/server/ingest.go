package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const triggerSourceLocal = "local"

type tabGroupRequestPayload struct {
	SyncID           string              `json:"sync_id"`
	LocalID          string              `json:"local_id"`
	CollaborationID  string              `json:"collaboration_id"`
	Title            string              `json:"title"`
	Color            string              `json:"color"`
	CreatedBy        string              `json:"created_by"`
	UpdatedBy        string              `json:"updated_by"`
	CreatedAtSeconds int64               `json:"created_at_s"`
	UpdatedAtSeconds int64               `json:"updated_at_s"`
	Source           string              `json:"source"`
	Tabs             []tabRequestPayload `json:"tabs"`
}

type tabRequestPayload struct {
	SyncID           string `json:"sync_id"`
	LocalID          string `json:"local_id"`
	URL              string `json:"url"`
	Title            string `json:"title"`
	CreatedBy        string `json:"created_by"`
	UpdatedBy        string `json:"updated_by"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	UpdatedAtSeconds int64  `json:"updated_at_s"`
}

type migrateRequestPayload struct {
	NewSyncID string `json:"new_sync_id"`
	Source    string `json:"source"`
}

type peopleGroupRequestPayload struct {
	GroupID          string                 `json:"group_id"`
	AccessToken      string                 `json:"access_token"`
	DisplayName      string                 `json:"display_name"`
	Members          []memberRequestPayload `json:"members"`
	Published        bool                   `json:"published"`
	EventTimeSeconds int64                  `json:"event_time_s"`
}

type memberRequestPayload struct {
	GaiaID           string `json:"gaia_id"`
	DisplayName      string `json:"display_name"`
	GivenName        string `json:"given_name"`
	Email            string `json:"email"`
	AvatarURL        string `json:"avatar_url"`
	Role             string `json:"role"`
	EventTimeSeconds int64  `json:"event_time_s"`
}

func (h *httpHandler) handleUpsertTabGroup(c *gin.Context) {
	var request tabGroupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	caller := c.GetString(userIDContextKey)
	group := request.toSavedTabGroup(caller)

	var (
		stored   tabgroups.SavedTabGroup
		decision accessDecision
	)
	if !h.invoke(c, func() {
		decision = h.authorizeTabGroupUpsert(group, caller)
		if decision != accessGranted {
			return
		}
		stored = h.tabGroups.UpsertGroup(group, parseTriggerSource(request.Source))
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "tab_group_not_found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sync_id": stored.SyncID, "tab_count": len(stored.Tabs)})
}

func (h *httpHandler) handleRemoveTabGroup(c *gin.Context) {
	caller := c.GetString(userIDContextKey)
	syncID := c.Param("sync_id")
	source := parseTriggerSource(c.Query("source"))
	var decision accessDecision
	if !h.invoke(c, func() {
		decision = h.authorizeTabGroupChange(syncID, caller)
		if decision != accessGranted {
			return
		}
		h.tabGroups.RemoveGroup(syncID, source)
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "tab_group_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMigrateTabGroup(c *gin.Context) {
	var request migrateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.NewSyncID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	caller := c.GetString(userIDContextKey)
	oldSyncID := c.Param("sync_id")
	var decision accessDecision
	if !h.invoke(c, func() {
		decision = h.authorizeTabGroupChange(oldSyncID, caller)
		if decision != accessGranted {
			return
		}
		h.tabGroups.MigrateGroup(oldSyncID, request.NewSyncID, parseTriggerSource(request.Source))
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "tab_group_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddPeopleGroup(c *gin.Context) {
	var request peopleGroupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.GroupID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	caller := c.GetString(userIDContextKey)
	group := datasharing.GroupData{
		Token:       datasharing.GroupToken{GroupID: strings.TrimSpace(request.GroupID), AccessToken: request.AccessToken},
		DisplayName: request.DisplayName,
		Members:     make([]datasharing.GroupMember, 0, len(request.Members)),
	}
	for _, member := range request.Members {
		group.Members = append(group.Members, member.toGroupMember())
	}
	eventTime := timeFromSeconds(request.EventTimeSeconds)

	var decision accessDecision
	if !h.invoke(c, func() {
		decision = h.authorizePeopleGroupWrite(group, caller)
		if decision != accessGranted {
			return
		}
		if request.Published {
			h.dataSharing.PublishGroup(group)
			return
		}
		h.dataSharing.AddGroup(group, eventTime)
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "people_group_not_found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": group.ID(), "published": request.Published})
}

func (h *httpHandler) handleRemovePeopleGroup(c *gin.Context) {
	caller := c.GetString(userIDContextKey)
	groupID := c.Param("id")
	eventTime := timeFromSeconds(parseSecondsQuery(c))
	var decision accessDecision
	if !h.invoke(c, func() {
		if _, joined := h.dataSharing.GetGroup(groupID); !joined {
			decision = accessNotFound
			return
		}
		decision = ownerDecision(h.dataSharing.GetRoleForMember(groupID, caller))
		if decision != accessGranted {
			return
		}
		h.dataSharing.RemoveGroup(groupID, eventTime)
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "people_group_not_found")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddMember(c *gin.Context) {
	var request memberRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.GaiaID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	caller := c.GetString(userIDContextKey)
	groupID := c.Param("id")
	member := request.toGroupMember()
	var (
		decision accessDecision
		addErr   error
	)
	if !h.invoke(c, func() {
		decision = h.authorizeMemberChange(groupID, caller, member.GaiaID)
		if decision != accessGranted {
			return
		}
		if role := h.dataSharing.GetRoleForMember(groupID, caller); role != datasharing.MemberRoleOwner {
			member.Role = role
		}
		addErr = h.dataSharing.AddMember(groupID, member, timeFromSeconds(request.EventTimeSeconds))
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "people_group_not_found")
		return
	}
	if addErr != nil {
		h.writeDataSharingError(c, addErr)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	caller := c.GetString(userIDContextKey)
	groupID := c.Param("id")
	gaiaID := c.Param("gaia_id")
	eventTime := timeFromSeconds(parseSecondsQuery(c))
	var (
		decision  accessDecision
		removeErr error
	)
	if !h.invoke(c, func() {
		decision = h.authorizeMemberChange(groupID, caller, gaiaID)
		if decision != accessGranted {
			return
		}
		removeErr = h.dataSharing.RemoveMember(groupID, gaiaID, eventTime)
	}) {
		return
	}
	if decision != accessGranted {
		writeAccessDenied(c, decision, "people_group_not_found")
		return
	}
	if removeErr != nil {
		h.writeDataSharingError(c, removeErr)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) writeDataSharingError(c *gin.Context, err error) {
	if errors.Is(err, datasharing.ErrGroupNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "people_group_not_found"})
		return
	}
	h.logger.Error("data sharing update failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
}

func (request tabGroupRequestPayload) toSavedTabGroup(sessionGaiaID string) tabgroups.SavedTabGroup {
	createdBy := firstNonEmpty(request.CreatedBy, sessionGaiaID)
	group := tabgroups.SavedTabGroup{
		SyncID:          request.SyncID,
		LocalID:         request.LocalID,
		CollaborationID: strings.TrimSpace(request.CollaborationID),
		Title:           request.Title,
		Color:           tabgroups.Color(strings.ToLower(strings.TrimSpace(request.Color))),
		Attribution: tabgroups.SharedAttribution{
			CreatedBy: createdBy,
			UpdatedBy: firstNonEmpty(request.UpdatedBy, sessionGaiaID),
		},
		CreationTime: timeFromSeconds(request.CreatedAtSeconds),
		UpdateTime:   timeFromSeconds(request.UpdatedAtSeconds),
		Tabs:         make([]tabgroups.SavedTabGroupTab, 0, len(request.Tabs)),
	}
	for _, tab := range request.Tabs {
		tabCreatedBy := firstNonEmpty(tab.CreatedBy, sessionGaiaID)
		group.Tabs = append(group.Tabs, tabgroups.SavedTabGroupTab{
			SyncID:  tab.SyncID,
			LocalID: tab.LocalID,
			URL:     tab.URL,
			Title:   tab.Title,
			Attribution: tabgroups.SharedAttribution{
				CreatedBy: tabCreatedBy,
				UpdatedBy: firstNonEmpty(tab.UpdatedBy, sessionGaiaID),
			},
			CreationTime: timeFromSeconds(tab.CreatedAtSeconds),
			UpdateTime:   timeFromSeconds(tab.UpdatedAtSeconds),
		})
	}
	return group
}

func (request memberRequestPayload) toGroupMember() datasharing.GroupMember {
	return datasharing.GroupMember{
		GaiaID:      strings.TrimSpace(request.GaiaID),
		DisplayName: request.DisplayName,
		GivenName:   request.GivenName,
		Email:       request.Email,
		AvatarURL:   request.AvatarURL,
		Role:        datasharing.ParseMemberRole(request.Role),
	}
}

func parseTriggerSource(value string) tabgroups.TriggerSource {
	if strings.EqualFold(strings.TrimSpace(value), triggerSourceLocal) {
		return tabgroups.TriggerSourceLocal
	}
	return tabgroups.TriggerSourceRemote
}

func parseSecondsQuery(c *gin.Context) int64 {
	seconds, err := strconv.ParseInt(strings.TrimSpace(c.Query("event_time_s")), 10, 64)
	if err != nil {
		return 0
	}
	return seconds
}

// timeFromSeconds maps zero to the zero time so the services stamp their own clock.
func timeFromSeconds(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

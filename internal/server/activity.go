package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/messaging"
	"github.com/gin-gonic/gin"
)

type activityLogResponsePayload struct {
	CollaborationID string                `json:"collaboration_id"`
	Items           []activityItemPayload `json:"items"`
}

type activityItemPayload struct {
	EventType        string                   `json:"event_type"`
	UserDisplayName  string                   `json:"user_display_name"`
	UserIsSelf       bool                     `json:"user_is_self"`
	Description      string                   `json:"description"`
	TimeDeltaSeconds int64                    `json:"time_delta_s"`
	ShowFavicon      bool                     `json:"show_favicon"`
	Action           string                   `json:"action"`
	TabGroup         *tabGroupMetadataPayload `json:"tab_group,omitempty"`
	Tab              *tabMetadataPayload      `json:"tab,omitempty"`
	TriggeringUser   *memberPayload           `json:"triggering_user,omitempty"`
	AffectedUser     *memberPayload           `json:"affected_user,omitempty"`
}

type tabGroupMetadataPayload struct {
	LocalID        string `json:"local_id,omitempty"`
	SyncID         string `json:"sync_id,omitempty"`
	LastKnownTitle string `json:"last_known_title,omitempty"`
	LastKnownColor string `json:"last_known_color,omitempty"`
}

type tabMetadataPayload struct {
	LocalID        string `json:"local_id,omitempty"`
	SyncID         string `json:"sync_id,omitempty"`
	LastKnownURL   string `json:"last_known_url,omitempty"`
	LastKnownTitle string `json:"last_known_title,omitempty"`
}

type memberPayload struct {
	GaiaID      string `json:"gaia_id"`
	DisplayName string `json:"display_name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role,omitempty"`
}

func (h *httpHandler) handleActivityLog(c *gin.Context) {
	gaiaID := c.GetString(userIDContextKey)
	collaborationID := strings.TrimSpace(c.Param("id"))
	if collaborationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_collaboration_id"})
		return
	}
	limit := h.activityLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	var (
		member bool
		items  []messaging.ActivityLogItem
	)
	if !h.invoke(c, func() {
		if !h.isCollaborator(collaborationID, gaiaID) {
			return
		}
		member = true
		items = h.messaging.GetActivityLog(messaging.ActivityLogQueryParams{
			CollaborationID:   collaborationID,
			ResultLength:      limit,
			CurrentUserGaiaID: gaiaID,
		})
	}) {
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
		return
	}

	response := activityLogResponsePayload{
		CollaborationID: collaborationID,
		Items:           make([]activityItemPayload, 0, len(items)),
	}
	for _, item := range items {
		response.Items = append(response.Items, newActivityItemPayload(item))
	}
	c.JSON(http.StatusOK, response)
}

func newActivityItemPayload(item messaging.ActivityLogItem) activityItemPayload {
	payload := activityItemPayload{
		EventType:        string(item.Event),
		UserDisplayName:  item.UserDisplayName,
		UserIsSelf:       item.UserIsSelf,
		Description:      item.Description,
		TimeDeltaSeconds: int64(item.TimeDelta.Seconds()),
		ShowFavicon:      item.ShowFavicon,
		Action:           string(item.Action),
		TriggeringUser:   newMemberPayload(item.ActivityMetadata.TriggeringUser),
		AffectedUser:     newMemberPayload(item.ActivityMetadata.AffectedUser),
	}
	if group := item.ActivityMetadata.TabGroupMetadata; group != nil {
		payload.TabGroup = &tabGroupMetadataPayload{
			LocalID:        group.LocalTabGroupID,
			SyncID:         group.SyncTabGroupID,
			LastKnownTitle: group.LastKnownTitle,
			LastKnownColor: string(group.LastKnownColor),
		}
	}
	if tab := item.ActivityMetadata.TabMetadata; tab != nil {
		payload.Tab = &tabMetadataPayload{
			LocalID:        tab.LocalTabID,
			SyncID:         tab.SyncTabID,
			LastKnownURL:   tab.LastKnownURL,
			LastKnownTitle: tab.LastKnownTitle,
		}
	}
	return payload
}

func newMemberPayload(member *datasharing.GroupMember) *memberPayload {
	if member == nil {
		return nil
	}
	payload := &memberPayload{
		GaiaID:      member.GaiaID,
		DisplayName: member.DisplayName,
		GivenName:   member.GivenName,
		Email:       member.Email,
		AvatarURL:   member.AvatarURL,
	}
	if member.Role != datasharing.MemberRoleUnknown {
		payload.Role = member.Role.String()
	}
	return payload
}

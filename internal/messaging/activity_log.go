package messaging

import (
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
)

// RecentActivityAction is the UI action offered for an activity log item.
type RecentActivityAction string

const (
	RecentActivityActionNone                RecentActivityAction = "NONE"
	RecentActivityActionFocusTab            RecentActivityAction = "FOCUS_TAB"
	RecentActivityActionReopenTab           RecentActivityAction = "REOPEN_TAB"
	RecentActivityActionOpenGroupEditDialog RecentActivityAction = "OPEN_GROUP_EDIT_DIALOG"
	RecentActivityActionManageSharing       RecentActivityAction = "MANAGE_SHARING"
)

// ActionForEvent maps an event type to its activity log action.
func ActionForEvent(eventType EventType) RecentActivityAction {
	switch eventType {
	case EventTypeTabAdded, EventTypeTabUpdated:
		return RecentActivityActionFocusTab
	case EventTypeTabRemoved:
		return RecentActivityActionReopenTab
	case EventTypeTabGroupNameUpdated, EventTypeTabGroupColorUpdated:
		return RecentActivityActionOpenGroupEditDialog
	case EventTypeCollaborationMemberAdded, EventTypeCollaborationMemberRemoved:
		return RecentActivityActionManageSharing
	default:
		return RecentActivityActionNone
	}
}

// hiddenFromActivityLog lists events kept only for persistent badges.
var hiddenFromActivityLog = map[EventType]struct{}{
	EventTypeTabGroupAdded:        {},
	EventTypeTabGroupRemoved:      {},
	EventTypeCollaborationAdded:   {},
	EventTypeCollaborationRemoved: {},
}

// TabGroupMessageMetadata describes the tab group a message refers to.
type TabGroupMessageMetadata struct {
	LocalTabGroupID string
	SyncTabGroupID  string
	LastKnownTitle  string
	LastKnownColor  tabgroups.Color
}

// TabMessageMetadata describes the tab a message refers to.
type TabMessageMetadata struct {
	LocalTabID     string
	SyncTabID      string
	LastKnownURL   string
	LastKnownTitle string
}

// MessageAttribution links a message to its collaboration, group, tab and users.
type MessageAttribution struct {
	CollaborationID  string
	TabGroupMetadata *TabGroupMessageMetadata
	TabMetadata      *TabMessageMetadata
	TriggeringUser   *datasharing.GroupMember
	AffectedUser     *datasharing.GroupMember
}

// ActivityLogItem is one row of the recent activity list.
type ActivityLogItem struct {
	Event            EventType
	UserDisplayName  string
	UserIsSelf       bool
	Description      string
	TimeDelta        time.Duration
	ShowFavicon      bool
	Action           RecentActivityAction
	ActivityMetadata MessageAttribution
}

// ActivityLogQueryParams selects the activity log of a collaboration. A
// ResultLength of zero or less returns every eligible item.
type ActivityLogQueryParams struct {
	CollaborationID   string
	ResultLength      int
	CurrentUserGaiaID string
}

// ActivityLogBuilder renders stored messages as activity log items.
type ActivityLogBuilder struct {
	store       Store
	tabGroups   tabgroups.SyncService
	dataSharing datasharing.Service
	resolver    *AttributionResolver
	clock       func() time.Time
}

// NewActivityLogBuilder constructs a builder.
func NewActivityLogBuilder(store Store, tabGroups tabgroups.SyncService, dataSharing datasharing.Service, resolver *AttributionResolver, clock func() time.Time) *ActivityLogBuilder {
	if clock == nil {
		clock = time.Now
	}
	return &ActivityLogBuilder{
		store:       store,
		tabGroups:   tabGroups,
		dataSharing: dataSharing,
		resolver:    resolver,
		clock:       clock,
	}
}

// Build returns the activity log newest first.
func (b *ActivityLogBuilder) Build(params ActivityLogQueryParams) []ActivityLogItem {
	messages := b.store.GetRecentMessagesForGroup(params.CollaborationID)
	items := make([]ActivityLogItem, 0, len(messages))
	now := b.clock()
	for index := range messages {
		if params.ResultLength > 0 && len(items) >= params.ResultLength {
			break
		}
		message := messages[index]
		if _, hidden := hiddenFromActivityLog[message.EventType]; hidden {
			continue
		}
		items = append(items, b.item(message, params, now))
	}
	return items
}

func (b *ActivityLogBuilder) item(message Message, params ActivityLogQueryParams, now time.Time) ActivityLogItem {
	category := message.Category()
	gaiaID := message.TriggeringUserGaiaID
	if category == MessageCategoryCollaboration {
		gaiaID = message.AffectedUserGaiaID
	}

	item := ActivityLogItem{
		Event:       message.EventType,
		UserIsSelf:  gaiaID != "" && gaiaID == params.CurrentUserGaiaID,
		TimeDelta:   now.Sub(time.Unix(message.EventTimestamp, 0)),
		ShowFavicon: category == MessageCategoryTab,
		Action:      ActionForEvent(message.EventType),
		ActivityMetadata: MessageAttribution{
			CollaborationID: message.CollaborationID,
		},
	}
	if name, ok := b.resolver.DisplayName(message.CollaborationID, gaiaID, nil, &message); ok {
		item.UserDisplayName = name
	}
	member := b.member(message.CollaborationID, gaiaID)

	switch category {
	case MessageCategoryTab:
		item.ActivityMetadata.TriggeringUser = member
		var groupID string
		if message.Tab != nil {
			groupID = message.Tab.SyncTabGroupID
		}
		group, groupKnown := b.tabGroups.GetGroup(groupID)
		item.ActivityMetadata.TabGroupMetadata = b.tabGroupMetadata(message.CollaborationID, group, groupKnown)
		item.ActivityMetadata.TabMetadata = tabMetadata(message, group, groupKnown)
		item.Description = FormatURLForDisplay(item.ActivityMetadata.TabMetadata.LastKnownURL)
	case MessageCategoryTabGroup:
		item.ActivityMetadata.TriggeringUser = member
		var groupID string
		if message.TabGroup != nil {
			groupID = message.TabGroup.SyncTabGroupID
		}
		group, groupKnown := b.tabGroups.GetGroup(groupID)
		metadata := b.tabGroupMetadata(message.CollaborationID, group, groupKnown)
		item.ActivityMetadata.TabGroupMetadata = metadata
		if message.EventType == EventTypeTabGroupNameUpdated {
			item.Description = metadata.LastKnownTitle
		}
	case MessageCategoryCollaboration:
		item.ActivityMetadata.AffectedUser = member
		if member != nil {
			item.Description = member.Email
		}
	}
	return item
}

func (b *ActivityLogBuilder) member(collaborationID, gaiaID string) *datasharing.GroupMember {
	if gaiaID == "" || b.dataSharing == nil {
		return nil
	}
	data, ok := b.dataSharing.GetPossiblyRemovedGroupMember(collaborationID, gaiaID)
	if !ok {
		return nil
	}
	member := data.ToGroupMember()
	return &member
}

// tabGroupMetadata prefers the live group and falls back to the title the
// sync service remembers for a removed shared group.
func (b *ActivityLogBuilder) tabGroupMetadata(collaborationID string, group tabgroups.SavedTabGroup, groupKnown bool) *TabGroupMessageMetadata {
	if groupKnown {
		return &TabGroupMessageMetadata{
			LocalTabGroupID: group.LocalID,
			SyncTabGroupID:  group.SyncID,
			LastKnownTitle:  group.Title,
			LastKnownColor:  group.Color,
		}
	}
	metadata := &TabGroupMessageMetadata{}
	if title, ok := b.tabGroups.GetTitleForPreviouslyExistingSharedTabGroup(collaborationID); ok {
		metadata.LastKnownTitle = title
	}
	return metadata
}

func tabMetadata(message Message, group tabgroups.SavedTabGroup, groupKnown bool) *TabMessageMetadata {
	if message.Tab == nil {
		return &TabMessageMetadata{}
	}
	if groupKnown {
		if tab, ok := group.Tab(message.Tab.SyncTabID); ok {
			return &TabMessageMetadata{
				LocalTabID:     tab.LocalID,
				SyncTabID:      tab.SyncID,
				LastKnownURL:   tab.URL,
				LastKnownTitle: tab.Title,
			}
		}
	}
	return &TabMessageMetadata{
		SyncTabID:    message.Tab.SyncTabID,
		LastKnownURL: string(message.Tab.LastURL),
	}
}

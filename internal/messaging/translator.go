package messaging

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
)

// EventTranslator turns notifier deltas into stored messages.
type EventTranslator struct {
	tabGroups  tabgroups.SyncService
	resolver   *AttributionResolver
	idProvider IDProvider
}

// NewEventTranslator constructs a translator.
func NewEventTranslator(tabGroups tabgroups.SyncService, resolver *AttributionResolver, idProvider IDProvider) *EventTranslator {
	return &EventTranslator{tabGroups: tabGroups, resolver: resolver, idProvider: idProvider}
}

func (t *EventTranslator) TabGroupAdded(group tabgroups.SavedTabGroup) (Message, error) {
	return t.tabGroupMessage(group, EventTypeTabGroupAdded, group.Attribution.CreatedBy, group.CreationTime)
}

func (t *EventTranslator) TabGroupRemoved(group tabgroups.SavedTabGroup) (Message, error) {
	return t.tabGroupMessage(group, EventTypeTabGroupRemoved, group.Attribution.UpdatedBy, group.UpdateTime)
}

func (t *EventTranslator) TabGroupNameUpdated(group tabgroups.SavedTabGroup) (Message, error) {
	return t.tabGroupMessage(group, EventTypeTabGroupNameUpdated, group.Attribution.UpdatedBy, group.UpdateTime)
}

func (t *EventTranslator) TabGroupColorUpdated(group tabgroups.SavedTabGroup) (Message, error) {
	return t.tabGroupMessage(group, EventTypeTabGroupColorUpdated, group.Attribution.UpdatedBy, group.UpdateTime)
}

func (t *EventTranslator) TabAdded(tab tabgroups.SavedTabGroupTab) (Message, error) {
	return t.tabMessage(tab, EventTypeTabAdded, DirtyDotAndChip, tab.Attribution.CreatedBy, tab.CreationTime)
}

func (t *EventTranslator) TabUpdated(tab tabgroups.SavedTabGroupTab) (Message, error) {
	return t.tabMessage(tab, EventTypeTabUpdated, DirtyDotAndChip, tab.Attribution.UpdatedBy, tab.UpdateTime)
}

func (t *EventTranslator) TabRemoved(tab tabgroups.SavedTabGroupTab) (Message, error) {
	return t.tabMessage(tab, EventTypeTabRemoved, DirtyNone, tab.Attribution.UpdatedBy, tab.UpdateTime)
}

func (t *EventTranslator) GroupAdded(groupID string, eventTime time.Time) (Message, error) {
	return t.collaborationMessage(groupID, EventTypeCollaborationAdded, DirtyNone, "", "", eventTime)
}

func (t *EventTranslator) GroupRemoved(groupID string, eventTime time.Time) (Message, error) {
	return t.collaborationMessage(groupID, EventTypeCollaborationRemoved, DirtyMessageOnly, "", "", eventTime)
}

// GroupMemberAdded snapshots the member name so the message stays attributable
// after the member leaves.
func (t *EventTranslator) GroupMemberAdded(group datasharing.GroupData, memberGaiaID string, eventTime time.Time) (Message, error) {
	name, _ := t.resolver.DisplayName(group.ID(), memberGaiaID, &group, nil)
	return t.collaborationMessage(group.ID(), EventTypeCollaborationMemberAdded, DirtyMessageOnly, memberGaiaID, name, eventTime)
}

func (t *EventTranslator) GroupMemberRemoved(group datasharing.GroupData, memberGaiaID string, eventTime time.Time) (Message, error) {
	name, _ := t.resolver.DisplayName(group.ID(), memberGaiaID, &group, nil)
	return t.collaborationMessage(group.ID(), EventTypeCollaborationMemberRemoved, DirtyNone, memberGaiaID, name, eventTime)
}

func (t *EventTranslator) tabGroupMessage(group tabgroups.SavedTabGroup, eventType EventType, triggeringUser string, eventTime time.Time) (Message, error) {
	if group.CollaborationID == "" {
		return Message{}, fmt.Errorf("%w: tab group %s", errMissingCollaboration, group.SyncID)
	}
	message, err := t.newMessage(group.CollaborationID, eventType, DirtyNone, eventTime)
	if err != nil {
		return Message{}, err
	}
	message.TriggeringUserGaiaID = triggeringUser
	message.TabGroup = &TabGroupPayload{SyncTabGroupID: group.SyncID}
	return message, nil
}

func (t *EventTranslator) tabMessage(tab tabgroups.SavedTabGroupTab, eventType EventType, dirty DirtyType, triggeringUser string, eventTime time.Time) (Message, error) {
	group, ok := t.tabGroups.GetGroup(tab.GroupSyncID)
	if !ok || group.CollaborationID == "" {
		return Message{}, fmt.Errorf("%w: tab %s in group %s", errMissingCollaboration, tab.SyncID, tab.GroupSyncID)
	}
	message, err := t.newMessage(group.CollaborationID, eventType, dirty, eventTime)
	if err != nil {
		return Message{}, err
	}
	message.TriggeringUserGaiaID = triggeringUser
	message.Tab = &TabPayload{
		SyncTabID:      tab.SyncID,
		SyncTabGroupID: tab.GroupSyncID,
		LastURL:        []byte(tab.URL),
	}
	return message, nil
}

func (t *EventTranslator) collaborationMessage(collaborationID string, eventType EventType, dirty DirtyType, affectedUser, affectedUserName string, eventTime time.Time) (Message, error) {
	if collaborationID == "" {
		return Message{}, errMissingCollaboration
	}
	message, err := t.newMessage(collaborationID, eventType, dirty, eventTime)
	if err != nil {
		return Message{}, err
	}
	message.AffectedUserGaiaID = affectedUser
	message.Collaboration = &CollaborationPayload{AffectedUserName: affectedUserName}
	return message, nil
}

func (t *EventTranslator) newMessage(collaborationID string, eventType EventType, dirty DirtyType, eventTime time.Time) (Message, error) {
	if t.idProvider == nil {
		return Message{}, errMissingIDProvider
	}
	id, err := t.idProvider.NewID()
	if err != nil {
		return Message{}, err
	}
	return Message{
		UUID:            id,
		CollaborationID: collaborationID,
		EventType:       eventType,
		EventTimestamp:  eventTime.Unix(),
		Dirty:           dirty,
	}, nil
}

package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// EventType enumerates the collaboration events recorded by the store.
type EventType string

const (
	EventTypeTabAdded                   EventType = "TAB_ADDED"
	EventTypeTabRemoved                 EventType = "TAB_REMOVED"
	EventTypeTabUpdated                 EventType = "TAB_UPDATED"
	EventTypeTabGroupAdded              EventType = "TAB_GROUP_ADDED"
	EventTypeTabGroupRemoved            EventType = "TAB_GROUP_REMOVED"
	EventTypeTabGroupNameUpdated        EventType = "TAB_GROUP_NAME_UPDATED"
	EventTypeTabGroupColorUpdated       EventType = "TAB_GROUP_COLOR_UPDATED"
	EventTypeCollaborationAdded         EventType = "COLLABORATION_ADDED"
	EventTypeCollaborationRemoved       EventType = "COLLABORATION_REMOVED"
	EventTypeCollaborationMemberAdded   EventType = "COLLABORATION_MEMBER_ADDED"
	EventTypeCollaborationMemberRemoved EventType = "COLLABORATION_MEMBER_REMOVED"
)

// ErrInvalidEventType indicates that a stored or requested event type is not known.
var ErrInvalidEventType = errors.New("messaging: invalid event type")

// ParseEventType validates raw input and returns an EventType.
func ParseEventType(raw string) (EventType, error) {
	eventType := EventType(strings.ToUpper(strings.TrimSpace(raw)))
	if eventType.Category() == MessageCategoryUnknown {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
	return eventType, nil
}

// MessageCategory groups event types by the entity they describe.
type MessageCategory int

const (
	MessageCategoryUnknown MessageCategory = iota
	MessageCategoryTab
	MessageCategoryTabGroup
	MessageCategoryCollaboration
)

// Category derives the category of the event type.
func (eventType EventType) Category() MessageCategory {
	switch eventType {
	case EventTypeTabAdded, EventTypeTabRemoved, EventTypeTabUpdated:
		return MessageCategoryTab
	case EventTypeTabGroupAdded, EventTypeTabGroupRemoved, EventTypeTabGroupNameUpdated, EventTypeTabGroupColorUpdated:
		return MessageCategoryTabGroup
	case EventTypeCollaborationAdded, EventTypeCollaborationRemoved,
		EventTypeCollaborationMemberAdded, EventTypeCollaborationMemberRemoved:
		return MessageCategoryCollaboration
	default:
		return MessageCategoryUnknown
	}
}

// DirtyType is a bitset describing how a message surfaces in persistent UI.
type DirtyType int

const (
	DirtyNone DirtyType = 0
	// DirtyMessageOnly surfaces the message in recent activity without a badge.
	DirtyMessageOnly DirtyType = 1 << 0
	// DirtyDotAndChip surfaces the message as a dot and a chip on the tab.
	DirtyDotAndChip DirtyType = 1 << 1
)

// Has reports whether every bit of flag is set.
func (dirty DirtyType) Has(flag DirtyType) bool {
	return flag != DirtyNone && dirty&flag == flag
}

// TabPayload is carried by tab category messages.
type TabPayload struct {
	SyncTabID      string
	SyncTabGroupID string
	LastURL        []byte
}

// TabGroupPayload is carried by tab group category messages.
type TabGroupPayload struct {
	SyncTabGroupID string
}

// CollaborationPayload is carried by collaboration category messages.
type CollaborationPayload struct {
	// AffectedUserName is the name of the affected user at record time.
	AffectedUserName string
}

// Message is a stored collaboration event. Exactly one payload is set and it
// matches the category of EventType.
type Message struct {
	UUID                 string
	CollaborationID      string
	EventType            EventType
	EventTimestamp       int64
	Dirty                DirtyType
	TriggeringUserGaiaID string
	AffectedUserGaiaID   string

	Tab           *TabPayload
	TabGroup      *TabGroupPayload
	Collaboration *CollaborationPayload
}

// Category returns the category implied by the event type.
func (message Message) Category() MessageCategory {
	return message.EventType.Category()
}

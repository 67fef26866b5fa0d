package messaging

// PersistentNotificationType is the kind of badge a persistent message drives.
type PersistentNotificationType int

const (
	PersistentNotificationTypeUndefined PersistentNotificationType = iota
	PersistentNotificationTypeChip
	PersistentNotificationTypeDirtyTab
	PersistentNotificationTypeDirtyTabGroup
	PersistentNotificationTypeTombstoned
)

// PersistentMessage is a message shown until the user acknowledges it.
type PersistentMessage struct {
	Attribution        MessageAttribution
	CollaborationEvent EventType
	Type               PersistentNotificationType
}

// InstantNotificationLevel selects where an instant message is shown.
type InstantNotificationLevel int

const (
	InstantNotificationLevelUndefined InstantNotificationLevel = iota
	InstantNotificationLevelSystem
	InstantNotificationLevelBrowser
)

// InstantMessage is a one-off notification.
type InstantMessage struct {
	Attribution        MessageAttribution
	CollaborationEvent EventType
	Level              InstantNotificationLevel
}

// EitherTabID addresses a tab by sync id or local id.
type EitherTabID struct {
	SyncID  string
	LocalID string
}

// EitherGroupID addresses a tab group by sync id or local id.
type EitherGroupID struct {
	SyncID  string
	LocalID string
}

// PersistentMessageObserver is notified about persistent message changes.
type PersistentMessageObserver interface {
	OnMessagingBackendServiceInitialized()
	DisplayPersistentMessage(message PersistentMessage)
	HidePersistentMessage(message PersistentMessage)
}

// InstantMessageDelegate displays instant messages and reports whether it did.
type InstantMessageDelegate interface {
	DisplayInstantaneousMessage(message InstantMessage, done func(success bool))
}

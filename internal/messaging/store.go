package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/metrics"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opStoreNew            = "messaging.store.new"
	opStoreInitialize     = "messaging.store.initialize"
	opStoreAddMessage     = "messaging.store.add_message"
	opStoreRecentMessages = "messaging.store.recent_messages"
	opStoreClearDirty     = "messaging.store.clear_dirty"
	opStoreDirtyMessages  = "messaging.store.dirty_messages"

	columnCollaborationID = "collaboration_id"
	columnDirty           = "dirty"
	queryCollaborationID  = columnCollaborationID + " = ?"
	queryUUID             = "uuid = ?"
	queryDirtyMask        = columnDirty + " & ? <> 0"
	orderRecentFirst      = "event_timestamp DESC, seq ASC"
	orderInsertion        = "seq ASC"

	reasonMigrationFailed = "migration_failed"
	reasonNotInitialized  = "not_initialized"
	reasonInsertFailed    = "insert_failed"
	reasonQueryFailed     = "query_failed"
	reasonUpdateFailed    = "update_failed"
	reasonInvalidMessage  = "invalid_message"
)

// MessageRecord is the persisted row of a Message. Payload fields are
// flattened and only the ones matching the event category are populated.
type MessageRecord struct {
	Seq                  int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	UUID                 string    `gorm:"column:uuid;size:36;not null;uniqueIndex"`
	CollaborationID      string    `gorm:"column:collaboration_id;size:190;not null"`
	EventType            EventType `gorm:"column:event_type;size:64;not null"`
	EventTimestamp       int64     `gorm:"column:event_timestamp;not null"`
	Dirty                DirtyType `gorm:"column:dirty;not null;default:0"`
	TriggeringUserGaiaID string    `gorm:"column:triggering_user_gaia_id;size:190"`
	AffectedUserGaiaID   string    `gorm:"column:affected_user_gaia_id;size:190"`
	SyncTabID            string    `gorm:"column:sync_tab_id;size:190"`
	SyncTabGroupID       string    `gorm:"column:sync_tab_group_id;size:190"`
	LastURL              []byte    `gorm:"column:last_url"`
	AffectedUserName     string    `gorm:"column:affected_user_name;size:512"`
}

// TableName provides the explicit table binding for GORM.
func (MessageRecord) TableName() string {
	return "collaboration_messages"
}

func newMessageRecord(message Message) (MessageRecord, error) {
	record := MessageRecord{
		UUID:                 message.UUID,
		CollaborationID:      message.CollaborationID,
		EventType:            message.EventType,
		EventTimestamp:       message.EventTimestamp,
		Dirty:                message.Dirty,
		TriggeringUserGaiaID: message.TriggeringUserGaiaID,
		AffectedUserGaiaID:   message.AffectedUserGaiaID,
	}
	switch message.Category() {
	case MessageCategoryTab:
		if message.Tab != nil {
			record.SyncTabID = message.Tab.SyncTabID
			record.SyncTabGroupID = message.Tab.SyncTabGroupID
			record.LastURL = append([]byte(nil), message.Tab.LastURL...)
		}
	case MessageCategoryTabGroup:
		if message.TabGroup != nil {
			record.SyncTabGroupID = message.TabGroup.SyncTabGroupID
		}
	case MessageCategoryCollaboration:
		if message.Collaboration != nil {
			record.AffectedUserName = message.Collaboration.AffectedUserName
		}
	default:
		return MessageRecord{}, errUnknownMessageCategory
	}
	return record, nil
}

func (record MessageRecord) message() Message {
	message := Message{
		UUID:                 record.UUID,
		CollaborationID:      record.CollaborationID,
		EventType:            record.EventType,
		EventTimestamp:       record.EventTimestamp,
		Dirty:                record.Dirty,
		TriggeringUserGaiaID: record.TriggeringUserGaiaID,
		AffectedUserGaiaID:   record.AffectedUserGaiaID,
	}
	switch record.EventType.Category() {
	case MessageCategoryTab:
		message.Tab = &TabPayload{
			SyncTabID:      record.SyncTabID,
			SyncTabGroupID: record.SyncTabGroupID,
			LastURL:        record.LastURL,
		}
	case MessageCategoryTabGroup:
		message.TabGroup = &TabGroupPayload{SyncTabGroupID: record.SyncTabGroupID}
	case MessageCategoryCollaboration:
		message.Collaboration = &CollaborationPayload{AffectedUserName: record.AffectedUserName}
	}
	return message
}

// Store persists collaboration messages. All methods except Initialize's
// background migration run on the caller's sequence.
type Store interface {
	// Initialize prepares the backing storage and posts callback with the outcome.
	Initialize(callback func(success bool))
	AddMessage(message Message)
	// GetRecentMessagesForGroup returns messages newest first, ties broken by insertion order.
	GetRecentMessagesForGroup(collaborationID string) []Message
	ClearDirtyFlag(uuid string, dirty DirtyType)
	GetDirtyMessages(dirty DirtyType) []Message
}

// Executor runs blocking work away from the sequence.
type Executor func(task func())

type storeState int

const (
	storeStateIdle storeState = iota
	storeStateInitializing
	storeStateReady
	storeStateFailed
)

// SQLStoreConfig wires SQLStore dependencies.
type SQLStoreConfig struct {
	Database *gorm.DB
	Runner   sequence.Runner
	// Background runs the schema migration. Defaults to a new goroutine.
	Background Executor
	Logger     *zap.Logger
}

// SQLStore is a gorm-backed Store.
type SQLStore struct {
	db         *gorm.DB
	runner     sequence.Runner
	background Executor
	logger     *zap.Logger

	state   storeState
	waiting []func(bool)
}

// NewSQLStore validates the configuration and returns an uninitialized store.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Runner == nil {
		return nil, newServiceError(opStoreNew, "missing_runner", errMissingRunner)
	}
	background := cfg.Background
	if background == nil {
		background = func(task func()) { go task() }
	}
	return &SQLStore{
		db:         cfg.Database,
		runner:     cfg.Runner,
		background: background,
		logger:     loggerOrNop(cfg.Logger),
	}, nil
}

// Initialize migrates the schema once. Repeated calls after success post
// success immediately; calls during migration wait for its outcome.
func (s *SQLStore) Initialize(callback func(success bool)) {
	if callback == nil {
		callback = func(bool) {}
	}
	switch s.state {
	case storeStateReady:
		s.runner.PostTask(func() { callback(true) })
		return
	case storeStateInitializing:
		s.waiting = append(s.waiting, callback)
		return
	}

	s.state = storeStateInitializing
	s.waiting = append(s.waiting, callback)
	s.background(func() {
		start := time.Now()
		err := s.db.WithContext(context.Background()).AutoMigrate(&MessageRecord{})
		metrics.ObserveStoreLatency(opStoreInitialize, start)
		s.runner.PostTask(func() { s.finishInitialize(err) })
	})
}

func (s *SQLStore) finishInitialize(err error) {
	success := err == nil
	if success {
		s.state = storeStateReady
	} else {
		s.state = storeStateFailed
		metrics.IncStoreFailure(opStoreInitialize)
		logError(s.logger, opStoreInitialize, reasonMigrationFailed, err)
	}
	waiting := s.waiting
	s.waiting = nil
	for _, callback := range waiting {
		callback(success)
	}
}

func (s *SQLStore) ready(operation string) bool {
	if s.state == storeStateReady {
		return true
	}
	logError(s.logger, operation, reasonNotInitialized, errStoreNotInitialized)
	return false
}

// AddMessage persists message. Failures are logged and the message is dropped.
func (s *SQLStore) AddMessage(message Message) {
	if !s.ready(opStoreAddMessage) {
		return
	}
	record, err := newMessageRecord(message)
	if err != nil {
		logError(s.logger, opStoreAddMessage, reasonInvalidMessage, err, zap.String("event_type", string(message.EventType)))
		return
	}
	start := time.Now()
	defer metrics.ObserveStoreLatency(opStoreAddMessage, start)
	if err := s.db.WithContext(context.Background()).Create(&record).Error; err != nil {
		metrics.IncStoreFailure(opStoreAddMessage)
		logError(s.logger, opStoreAddMessage, reasonInsertFailed, err, zap.String("uuid", message.UUID))
		return
	}
	metrics.IncMessageStored(string(message.EventType))
}

// GetRecentMessagesForGroup returns every message of the collaboration.
func (s *SQLStore) GetRecentMessagesForGroup(collaborationID string) []Message {
	if !s.ready(opStoreRecentMessages) {
		return nil
	}
	start := time.Now()
	defer metrics.ObserveStoreLatency(opStoreRecentMessages, start)
	var records []MessageRecord
	if err := s.db.WithContext(context.Background()).
		Where(queryCollaborationID, collaborationID).
		Order(orderRecentFirst).
		Find(&records).Error; err != nil {
		metrics.IncStoreFailure(opStoreRecentMessages)
		logError(s.logger, opStoreRecentMessages, reasonQueryFailed, err, zap.String(columnCollaborationID, collaborationID))
		return nil
	}
	return messagesFromRecords(records)
}

// ClearDirtyFlag clears the dirty bits from the message with uuid. Unknown
// identifiers are ignored.
func (s *SQLStore) ClearDirtyFlag(uuid string, dirty DirtyType) {
	if !s.ready(opStoreClearDirty) {
		return
	}
	start := time.Now()
	defer metrics.ObserveStoreLatency(opStoreClearDirty, start)
	err := s.db.WithContext(context.Background()).Transaction(func(tx *gorm.DB) error {
		var record MessageRecord
		if err := tx.Where(queryUUID, uuid).Take(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		cleared := record.Dirty &^ dirty
		if cleared == record.Dirty {
			return nil
		}
		return tx.Model(&MessageRecord{}).Where(queryUUID, uuid).Update(columnDirty, cleared).Error
	})
	if err != nil {
		metrics.IncStoreFailure(opStoreClearDirty)
		logError(s.logger, opStoreClearDirty, reasonUpdateFailed, err, zap.String("uuid", uuid))
	}
}

// GetDirtyMessages returns messages with any of the dirty bits set, oldest first.
func (s *SQLStore) GetDirtyMessages(dirty DirtyType) []Message {
	if !s.ready(opStoreDirtyMessages) || dirty == DirtyNone {
		return nil
	}
	start := time.Now()
	defer metrics.ObserveStoreLatency(opStoreDirtyMessages, start)
	var records []MessageRecord
	if err := s.db.WithContext(context.Background()).
		Where(queryDirtyMask, int(dirty)).
		Order(orderInsertion).
		Find(&records).Error; err != nil {
		metrics.IncStoreFailure(opStoreDirtyMessages)
		logError(s.logger, opStoreDirtyMessages, reasonQueryFailed, err)
		return nil
	}
	return messagesFromRecords(records)
}

func messagesFromRecords(records []MessageRecord) []Message {
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		messages = append(messages, record.message())
	}
	return messages
}

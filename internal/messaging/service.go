package messaging

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/metrics"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"go.uber.org/zap"
)

const (
	opServiceNew          = "messaging.service.new"
	opServiceInitialize   = "messaging.service.initialize"
	opServiceRecordEvent  = "messaging.service.record_event"
	reasonStoreInitFailed = "store_init_failed"
	reasonTranslateFailed = "translate_failed"
	reasonMissingContext  = "missing_collaboration"
)

// ServiceEventKind names a facade lifecycle event published to an EventSink.
type ServiceEventKind string

const (
	ServiceEventInitialized     ServiceEventKind = "initialized"
	ServiceEventMessageRecorded ServiceEventKind = "message_recorded"
)

// ServiceEvent is published after initialization and after each recorded message.
type ServiceEvent struct {
	Kind            ServiceEventKind
	CollaborationID string
	EventType       EventType
	MessageUUID     string
	EventTimestamp  int64
}

// EventSink receives facade events, typically to stream them to clients.
type EventSink interface {
	Publish(event ServiceEvent)
}

// ServiceConfig wires the messaging facade.
type ServiceConfig struct {
	Store               Store
	TabGroupNotifier    TabGroupChangeNotifier
	DataSharingNotifier DataSharingChangeNotifier
	TabGroups           tabgroups.SyncService
	DataSharing         datasharing.Service
	Runner              sequence.Runner
	IDProvider          IDProvider
	Clock               func() time.Time
	Logger              *zap.Logger
	Events              EventSink
}

// Service is the messaging backend facade. It records collaboration changes
// and serves the activity log. It must only be used on the sequence.
type Service struct {
	store               Store
	tabGroupNotifier    TabGroupChangeNotifier
	dataSharingNotifier DataSharingChangeNotifier
	runner              sequence.Runner
	logger              *zap.Logger
	events              EventSink
	translator          *EventTranslator
	activityLog         *ActivityLogBuilder

	initialized      bool
	closed           bool
	flushDataSharing FlushFunc
	instantDelegate  InstantMessageDelegate
	observers        observerList[PersistentMessageObserver]

	tabGroupEvents    *tabGroupEventRecorder
	dataSharingEvents *dataSharingEventRecorder
}

// NewService validates the configuration and starts initialization with the store.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	case cfg.TabGroupNotifier == nil:
		return nil, newServiceError(opServiceNew, "missing_tab_group_notifier", errMissingTabGroupNotifier)
	case cfg.DataSharingNotifier == nil:
		return nil, newServiceError(opServiceNew, "missing_data_sharing_notifier", errMissingDataSharingNotifier)
	case cfg.TabGroups == nil:
		return nil, newServiceError(opServiceNew, "missing_tab_group_service", errMissingTabGroupService)
	case cfg.DataSharing == nil:
		return nil, newServiceError(opServiceNew, "missing_data_sharing_service", errMissingDataSharingService)
	case cfg.Runner == nil:
		return nil, newServiceError(opServiceNew, "missing_runner", errMissingRunner)
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	resolver := NewAttributionResolver(cfg.DataSharing)

	service := &Service{
		store:               cfg.Store,
		tabGroupNotifier:    cfg.TabGroupNotifier,
		dataSharingNotifier: cfg.DataSharingNotifier,
		runner:              cfg.Runner,
		logger:              loggerOrNop(cfg.Logger),
		events:              cfg.Events,
		translator:          NewEventTranslator(cfg.TabGroups, resolver, idProvider),
		activityLog:         NewActivityLogBuilder(cfg.Store, cfg.TabGroups, cfg.DataSharing, resolver, cfg.Clock),
	}
	service.tabGroupEvents = &tabGroupEventRecorder{service: service}
	service.dataSharingEvents = &dataSharingEventRecorder{service: service}

	cfg.Store.Initialize(service.onStoreInitialized)
	return service, nil
}

// IsInitialized reports whether the store and both notifiers are ready.
func (s *Service) IsInitialized() bool {
	return s.initialized
}

// SetInstantMessageDelegate replaces the instant message sink.
func (s *Service) SetInstantMessageDelegate(delegate InstantMessageDelegate) {
	s.instantDelegate = delegate
}

// AddPersistentMessageObserver registers observer. An observer added after
// initialization receives OnMessagingBackendServiceInitialized on a posted task.
func (s *Service) AddPersistentMessageObserver(observer PersistentMessageObserver) {
	if observer == nil {
		return
	}
	s.observers.add(observer)
	if !s.initialized {
		return
	}
	s.runner.PostTask(func() {
		if s.observers.has(observer) {
			observer.OnMessagingBackendServiceInitialized()
		}
	})
}

func (s *Service) RemovePersistentMessageObserver(observer PersistentMessageObserver) {
	s.observers.remove(observer)
}

// GetMessagesForTab returns the persistent messages of a tab. No persistent
// messages are derived yet so the result is always empty.
func (s *Service) GetMessagesForTab(tabID EitherTabID, notificationType *PersistentNotificationType) []PersistentMessage {
	return []PersistentMessage{}
}

// GetMessagesForGroup returns the persistent messages of a tab group. The
// result is always empty.
func (s *Service) GetMessagesForGroup(groupID EitherGroupID, notificationType *PersistentNotificationType) []PersistentMessage {
	return []PersistentMessage{}
}

// GetMessages returns every persistent message. The result is always empty.
func (s *Service) GetMessages(notificationType *PersistentNotificationType) []PersistentMessage {
	return []PersistentMessage{}
}

// GetActivityLog returns the recent activity of a collaboration. It is empty
// until the service is initialized.
func (s *Service) GetActivityLog(params ActivityLogQueryParams) []ActivityLogItem {
	if !s.initialized {
		return []ActivityLogItem{}
	}
	items := s.activityLog.Build(params)
	metrics.AddActivityLogItems(len(items))
	return items
}

// Close deregisters from both notifiers and closes them.
func (s *Service) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.dataSharingNotifier.RemoveObserver(s.dataSharingEvents)
	s.tabGroupNotifier.RemoveObserver(s.tabGroupEvents)
	s.dataSharingNotifier.Close()
	s.tabGroupNotifier.Close()
}

func (s *Service) onStoreInitialized(success bool) {
	if s.closed {
		return
	}
	if !success {
		logError(s.logger, opServiceInitialize, reasonStoreInitFailed, nil)
		return
	}
	s.dataSharingNotifier.AddObserver(s.dataSharingEvents)
	s.flushDataSharing = s.dataSharingNotifier.Initialize()
}

func (s *Service) onDataSharingNotifierInitialized() {
	if s.closed {
		return
	}
	s.tabGroupNotifier.AddObserver(s.tabGroupEvents)
	s.tabGroupNotifier.Initialize()
}

func (s *Service) onTabGroupNotifierInitialized() {
	if s.closed || s.initialized {
		return
	}
	s.initialized = true
	s.logger.Info("messaging service initialized")
	s.observers.notify(func(observer PersistentMessageObserver) {
		observer.OnMessagingBackendServiceInitialized()
	})
	s.publish(ServiceEvent{Kind: ServiceEventInitialized})
	if s.flushDataSharing == nil {
		panic("messaging: tab group notifier initialized before data sharing flush was armed")
	}
	flush := s.flushDataSharing
	s.flushDataSharing = nil
	flush()
}

// record stores the translated message or logs why the delta was dropped.
func (s *Service) record(message Message, err error) {
	if err != nil {
		if errors.Is(err, errMissingCollaboration) {
			metrics.IncEventDropped(reasonMissingContext)
			s.logger.Debug("dropping change without collaboration", zap.Error(err))
			return
		}
		metrics.IncEventDropped(reasonTranslateFailed)
		logError(s.logger, opServiceRecordEvent, reasonTranslateFailed, err)
		return
	}
	s.store.AddMessage(message)
	s.publish(ServiceEvent{
		Kind:            ServiceEventMessageRecorded,
		CollaborationID: message.CollaborationID,
		EventType:       message.EventType,
		MessageUUID:     message.UUID,
		EventTimestamp:  message.EventTimestamp,
	})
}

func (s *Service) publish(event ServiceEvent) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}

type tabGroupEventRecorder struct {
	service *Service
}

func (r *tabGroupEventRecorder) OnTabGroupChangeNotifierInitialized() {
	r.service.onTabGroupNotifierInitialized()
}

func (r *tabGroupEventRecorder) OnTabGroupAdded(group tabgroups.SavedTabGroup) {
	r.service.record(r.service.translator.TabGroupAdded(group))
}

func (r *tabGroupEventRecorder) OnTabGroupRemoved(group tabgroups.SavedTabGroup) {
	r.service.record(r.service.translator.TabGroupRemoved(group))
}

func (r *tabGroupEventRecorder) OnTabGroupNameUpdated(group tabgroups.SavedTabGroup) {
	r.service.record(r.service.translator.TabGroupNameUpdated(group))
}

func (r *tabGroupEventRecorder) OnTabGroupColorUpdated(group tabgroups.SavedTabGroup) {
	r.service.record(r.service.translator.TabGroupColorUpdated(group))
}

func (r *tabGroupEventRecorder) OnTabAdded(tab tabgroups.SavedTabGroupTab) {
	r.service.record(r.service.translator.TabAdded(tab))
}

func (r *tabGroupEventRecorder) OnTabRemoved(tab tabgroups.SavedTabGroupTab) {
	r.service.record(r.service.translator.TabRemoved(tab))
}

func (r *tabGroupEventRecorder) OnTabUpdated(tab tabgroups.SavedTabGroupTab) {
	r.service.record(r.service.translator.TabUpdated(tab))
}

func (r *tabGroupEventRecorder) OnTabSelected(*tabgroups.SavedTabGroupTab) {}

type dataSharingEventRecorder struct {
	service *Service
}

func (r *dataSharingEventRecorder) OnDataSharingChangeNotifierInitialized() {
	r.service.onDataSharingNotifierInitialized()
}

func (r *dataSharingEventRecorder) OnGroupAdded(groupID string, _ *datasharing.GroupData, eventTime time.Time) {
	r.service.record(r.service.translator.GroupAdded(groupID, eventTime))
}

func (r *dataSharingEventRecorder) OnGroupRemoved(groupID string, _ *datasharing.GroupData, eventTime time.Time) {
	r.service.record(r.service.translator.GroupRemoved(groupID, eventTime))
}

func (r *dataSharingEventRecorder) OnGroupMemberAdded(group datasharing.GroupData, memberGaiaID string, eventTime time.Time) {
	r.service.record(r.service.translator.GroupMemberAdded(group, memberGaiaID, eventTime))
}

func (r *dataSharingEventRecorder) OnGroupMemberRemoved(group datasharing.GroupData, memberGaiaID string, eventTime time.Time) {
	r.service.record(r.service.translator.GroupMemberRemoved(group, memberGaiaID, eventTime))
}

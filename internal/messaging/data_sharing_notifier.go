package messaging

import (
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/metrics"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"go.uber.org/zap"
)

const (
	opDataSharingNotifierNew  = "messaging.data_sharing_notifier.new"
	opDataSharingNotifierEmit = "messaging.data_sharing_notifier.emit"
	reasonBufferOverflow      = "buffer_overflow"
)

// DataSharingChangeObserver receives people group changes enriched with group data.
type DataSharingChangeObserver interface {
	OnDataSharingChangeNotifierInitialized()
	OnGroupAdded(groupID string, group *datasharing.GroupData, eventTime time.Time)
	// OnGroupRemoved receives the last known group data, or nil when none was seen.
	OnGroupRemoved(groupID string, group *datasharing.GroupData, eventTime time.Time)
	OnGroupMemberAdded(group datasharing.GroupData, memberGaiaID string, eventTime time.Time)
	// OnGroupMemberRemoved receives group data captured before the removal.
	OnGroupMemberRemoved(group datasharing.GroupData, memberGaiaID string, eventTime time.Time)
}

// FlushFunc releases the events buffered since Initialize.
type FlushFunc func()

// DataSharingChangeNotifier forwards people group changes. Events are held
// until the FlushFunc returned by Initialize is called.
type DataSharingChangeNotifier interface {
	AddObserver(observer DataSharingChangeObserver)
	RemoveObserver(observer DataSharingChangeObserver)
	Initialize() FlushFunc
	IsInitialized() bool
	Close()
}

// DataSharingNotifierConfig wires a data sharing change notifier.
type DataSharingNotifierConfig struct {
	Service datasharing.Service
	Runner  sequence.Runner
	Logger  *zap.Logger
	// BufferLimit bounds the pre-flush buffer. Zero means unbounded.
	BufferLimit int
}

type dataSharingChangeNotifier struct {
	service     datasharing.Service
	runner      sequence.Runner
	logger      *zap.Logger
	bufferLimit int

	listening   bool
	initialized bool
	buffering   bool
	buffer      []func(DataSharingChangeObserver)
	shadow      map[string]datasharing.GroupData
	observers   observerList[DataSharingChangeObserver]
}

// NewDataSharingChangeNotifier constructs a notifier over the data sharing service.
func NewDataSharingChangeNotifier(cfg DataSharingNotifierConfig) (DataSharingChangeNotifier, error) {
	if cfg.Service == nil {
		return nil, newServiceError(opDataSharingNotifierNew, "missing_data_sharing_service", errMissingDataSharingService)
	}
	if cfg.Runner == nil {
		return nil, newServiceError(opDataSharingNotifierNew, "missing_runner", errMissingRunner)
	}
	bufferLimit := cfg.BufferLimit
	if bufferLimit < 0 {
		bufferLimit = 0
	}
	return &dataSharingChangeNotifier{
		service:     cfg.Service,
		runner:      cfg.Runner,
		logger:      loggerOrNop(cfg.Logger),
		bufferLimit: bufferLimit,
		shadow:      make(map[string]datasharing.GroupData),
	}, nil
}

func (n *dataSharingChangeNotifier) AddObserver(observer DataSharingChangeObserver) {
	n.observers.add(observer)
}

func (n *dataSharingChangeNotifier) RemoveObserver(observer DataSharingChangeObserver) {
	n.observers.remove(observer)
}

// Initialize starts observing and buffering. It may be called once.
func (n *dataSharingChangeNotifier) Initialize() FlushFunc {
	if n.listening {
		panic("messaging: data sharing change notifier initialized twice")
	}
	n.listening = true
	n.buffering = true
	n.service.AddObserver(n)
	if n.service.IsGroupDataModelLoaded() {
		n.runner.PostTask(n.OnGroupDataModelLoaded)
	}
	flushed := false
	return func() {
		if flushed {
			return
		}
		flushed = true
		n.flush()
	}
}

func (n *dataSharingChangeNotifier) IsInitialized() bool {
	return n.initialized
}

// Close stops observing the data sharing service. Observers must have deregistered.
func (n *dataSharingChangeNotifier) Close() {
	if n.observers.len() > 0 {
		panic("messaging: data sharing change notifier closed with registered observers")
	}
	if n.listening {
		n.service.RemoveObserver(n)
	}
	n.buffer = nil
}

func (n *dataSharingChangeNotifier) flush() {
	n.buffering = false
	buffered := n.buffer
	n.buffer = nil
	if len(buffered) > 0 {
		n.logger.Debug("flushing buffered data sharing events", zap.Int("events", len(buffered)))
	}
	for _, event := range buffered {
		n.observers.notify(event)
	}
}

func (n *dataSharingChangeNotifier) emit(event func(DataSharingChangeObserver)) {
	if !n.buffering {
		n.observers.notify(event)
		return
	}
	if n.bufferLimit > 0 && len(n.buffer) >= n.bufferLimit {
		n.buffer = n.buffer[1:]
		metrics.IncEventDropped(reasonBufferOverflow)
		n.logger.Warn("data sharing event buffer full, dropping oldest event",
			zap.String("operation", opDataSharingNotifierEmit),
			zap.String("reason", reasonBufferOverflow),
			zap.Int("limit", n.bufferLimit))
	}
	n.buffer = append(n.buffer, event)
}

// OnGroupDataModelLoaded announces readiness. The signal is never buffered.
func (n *dataSharingChangeNotifier) OnGroupDataModelLoaded() {
	if n.initialized || !n.listening {
		return
	}
	n.initialized = true
	n.observers.notify(func(observer DataSharingChangeObserver) {
		observer.OnDataSharingChangeNotifierInitialized()
	})
}

func (n *dataSharingChangeNotifier) OnGroupAdded(group datasharing.GroupData, eventTime time.Time) {
	snapshot := group.Clone()
	n.shadow[snapshot.ID()] = snapshot
	n.emit(func(observer DataSharingChangeObserver) {
		added := snapshot.Clone()
		observer.OnGroupAdded(added.ID(), &added, eventTime)
	})
}

func (n *dataSharingChangeNotifier) OnGroupRemoved(groupID string, eventTime time.Time) {
	previous, known := n.shadow[groupID]
	delete(n.shadow, groupID)
	n.emit(func(observer DataSharingChangeObserver) {
		if !known {
			observer.OnGroupRemoved(groupID, nil, eventTime)
			return
		}
		removed := previous.Clone()
		observer.OnGroupRemoved(groupID, &removed, eventTime)
	})
}

func (n *dataSharingChangeNotifier) OnGroupMemberAdded(groupID, memberGaiaID string, eventTime time.Time) {
	group := n.currentGroup(groupID)
	n.shadow[groupID] = group
	n.emit(func(observer DataSharingChangeObserver) {
		observer.OnGroupMemberAdded(group.Clone(), memberGaiaID, eventTime)
	})
}

func (n *dataSharingChangeNotifier) OnGroupMemberRemoved(groupID, memberGaiaID string, eventTime time.Time) {
	group, known := n.shadow[groupID]
	if !known {
		group = n.currentGroup(groupID)
	}
	n.shadow[groupID] = n.currentGroup(groupID)
	n.emit(func(observer DataSharingChangeObserver) {
		observer.OnGroupMemberRemoved(group.Clone(), memberGaiaID, eventTime)
	})
}

// currentGroup prefers live data, then the shadow, then an id-only group.
func (n *dataSharingChangeNotifier) currentGroup(groupID string) datasharing.GroupData {
	if live, ok := n.service.GetGroup(groupID); ok {
		return live.Clone()
	}
	if known, ok := n.shadow[groupID]; ok {
		return known.Clone()
	}
	return datasharing.GroupData{Token: datasharing.GroupToken{GroupID: groupID}}
}

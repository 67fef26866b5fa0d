package messaging

import (
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"go.uber.org/zap"
)

const opTabGroupNotifierNew = "messaging.tab_group_notifier.new"

// TabGroupChangeObserver receives remote tab group changes as fine-grained
// deltas.
type TabGroupChangeObserver interface {
	OnTabGroupChangeNotifierInitialized()
	OnTabGroupAdded(group tabgroups.SavedTabGroup)
	// OnTabGroupRemoved receives the last known state of the removed group.
	OnTabGroupRemoved(group tabgroups.SavedTabGroup)
	OnTabGroupNameUpdated(group tabgroups.SavedTabGroup)
	OnTabGroupColorUpdated(group tabgroups.SavedTabGroup)
	OnTabAdded(tab tabgroups.SavedTabGroupTab)
	// OnTabRemoved receives the last known state of the removed tab.
	OnTabRemoved(tab tabgroups.SavedTabGroupTab)
	OnTabUpdated(tab tabgroups.SavedTabGroupTab)
	// OnTabSelected receives nil when the selection leaves shared groups.
	OnTabSelected(tab *tabgroups.SavedTabGroupTab)
}

// TabGroupChangeNotifier turns whole-group sync notifications into deltas.
type TabGroupChangeNotifier interface {
	AddObserver(observer TabGroupChangeObserver)
	RemoveObserver(observer TabGroupChangeObserver)
	Initialize()
	IsInitialized() bool
	Close()
}

// TabGroupNotifierConfig wires a tab group change notifier.
type TabGroupNotifierConfig struct {
	SyncService tabgroups.SyncService
	Runner      sequence.Runner
	Logger      *zap.Logger
}

type tabGroupChangeNotifier struct {
	service     tabgroups.SyncService
	runner      sequence.Runner
	logger      *zap.Logger
	initialized bool
	listening   bool
	shadow      map[string]tabgroups.SavedTabGroup
	observers   observerList[TabGroupChangeObserver]
}

// NewTabGroupChangeNotifier constructs a notifier over the sync service.
func NewTabGroupChangeNotifier(cfg TabGroupNotifierConfig) (TabGroupChangeNotifier, error) {
	if cfg.SyncService == nil {
		return nil, newServiceError(opTabGroupNotifierNew, "missing_sync_service", errMissingTabGroupService)
	}
	if cfg.Runner == nil {
		return nil, newServiceError(opTabGroupNotifierNew, "missing_runner", errMissingRunner)
	}
	return &tabGroupChangeNotifier{
		service: cfg.SyncService,
		runner:  cfg.Runner,
		logger:  loggerOrNop(cfg.Logger),
		shadow:  make(map[string]tabgroups.SavedTabGroup),
	}, nil
}

func (n *tabGroupChangeNotifier) AddObserver(observer TabGroupChangeObserver) {
	n.observers.add(observer)
}

func (n *tabGroupChangeNotifier) RemoveObserver(observer TabGroupChangeObserver) {
	n.observers.remove(observer)
}

// Initialize starts observing the sync service. When the service is already
// loaded the shadow is built on a posted task.
func (n *tabGroupChangeNotifier) Initialize() {
	if n.listening {
		return
	}
	n.listening = true
	n.service.AddObserver(n)
	if n.service.IsInitialized() {
		n.runner.PostTask(n.OnInitialized)
	}
}

func (n *tabGroupChangeNotifier) IsInitialized() bool {
	return n.initialized
}

// Close stops observing the sync service. Observers must have deregistered.
func (n *tabGroupChangeNotifier) Close() {
	if n.observers.len() > 0 {
		panic("messaging: tab group change notifier closed with registered observers")
	}
	if n.listening {
		n.service.RemoveObserver(n)
		n.listening = false
	}
}

// OnInitialized snapshots the sync service and announces readiness.
func (n *tabGroupChangeNotifier) OnInitialized() {
	if n.initialized || !n.listening {
		return
	}
	for _, group := range n.service.GetAllGroups() {
		n.shadow[group.SyncID] = group.Clone()
	}
	n.initialized = true
	n.logger.Debug("tab group change notifier initialized", zap.Int("groups", len(n.shadow)))
	n.observers.notify(func(observer TabGroupChangeObserver) {
		observer.OnTabGroupChangeNotifierInitialized()
	})
}

func (n *tabGroupChangeNotifier) OnTabGroupAdded(group tabgroups.SavedTabGroup, source tabgroups.TriggerSource) {
	if !n.initialized {
		return
	}
	previous, existed := n.shadow[group.SyncID]
	n.shadow[group.SyncID] = group.Clone()
	if source == tabgroups.TriggerSourceLocal {
		return
	}
	if existed {
		n.emitDiff(previous, group)
		return
	}
	n.emitGroupAdded(group)
}

func (n *tabGroupChangeNotifier) OnTabGroupUpdated(group tabgroups.SavedTabGroup, source tabgroups.TriggerSource) {
	if !n.initialized {
		return
	}
	previous, existed := n.shadow[group.SyncID]
	n.shadow[group.SyncID] = group.Clone()
	if source == tabgroups.TriggerSourceLocal {
		return
	}
	if !existed {
		n.emitGroupAdded(group)
		return
	}
	n.emitDiff(previous, group)
}

func (n *tabGroupChangeNotifier) OnTabGroupRemoved(syncID string, source tabgroups.TriggerSource) {
	if !n.initialized {
		return
	}
	previous, existed := n.shadow[syncID]
	delete(n.shadow, syncID)
	if !existed || source == tabgroups.TriggerSourceLocal {
		return
	}
	removed := previous.Clone()
	n.observers.notify(func(observer TabGroupChangeObserver) {
		observer.OnTabGroupRemoved(removed.Clone())
	})
}

// OnTabGroupMigrated re-keys the shadow. Migration is not a user change.
func (n *tabGroupChangeNotifier) OnTabGroupMigrated(group tabgroups.SavedTabGroup, oldSyncID string, _ tabgroups.TriggerSource) {
	if !n.initialized {
		return
	}
	delete(n.shadow, oldSyncID)
	n.shadow[group.SyncID] = group.Clone()
}

func (n *tabGroupChangeNotifier) OnTabSelected(tab *tabgroups.SavedTabGroupTab) {
	if !n.initialized {
		return
	}
	n.observers.notify(func(observer TabGroupChangeObserver) {
		if tab == nil {
			observer.OnTabSelected(nil)
			return
		}
		selected := *tab
		observer.OnTabSelected(&selected)
	})
}

func (n *tabGroupChangeNotifier) emitGroupAdded(group tabgroups.SavedTabGroup) {
	added := group.Clone()
	n.observers.notify(func(observer TabGroupChangeObserver) {
		observer.OnTabGroupAdded(added.Clone())
	})
}

// emitDiff reports tab removals, then tab additions, then group and tab updates.
func (n *tabGroupChangeNotifier) emitDiff(previous, current tabgroups.SavedTabGroup) {
	for _, tab := range previous.Tabs {
		if _, ok := current.Tab(tab.SyncID); ok {
			continue
		}
		removed := tab
		n.observers.notify(func(observer TabGroupChangeObserver) {
			observer.OnTabRemoved(removed)
		})
	}
	for _, tab := range current.Tabs {
		if _, ok := previous.Tab(tab.SyncID); ok {
			continue
		}
		added := tab
		n.observers.notify(func(observer TabGroupChangeObserver) {
			observer.OnTabAdded(added)
		})
	}
	if previous.Title != current.Title {
		updated := current.Clone()
		n.observers.notify(func(observer TabGroupChangeObserver) {
			observer.OnTabGroupNameUpdated(updated.Clone())
		})
	}
	if previous.Color != current.Color {
		updated := current.Clone()
		n.observers.notify(func(observer TabGroupChangeObserver) {
			observer.OnTabGroupColorUpdated(updated.Clone())
		})
	}
	for _, tab := range current.Tabs {
		before, ok := previous.Tab(tab.SyncID)
		if !ok || !tabChanged(before, tab) {
			continue
		}
		updated := tab
		n.observers.notify(func(observer TabGroupChangeObserver) {
			observer.OnTabUpdated(updated)
		})
	}
}

func tabChanged(before, after tabgroups.SavedTabGroupTab) bool {
	return before.URL != after.URL || before.Title != after.Title || !before.UpdateTime.Equal(after.UpdateTime)
}

package tabgroups

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// MemoryServiceConfig describes the dependencies of a MemoryService.
type MemoryServiceConfig struct {
	Logger *zap.Logger
	Clock  func() time.Time
}

// MemoryService is an in-process SyncService. The server feeds it remote
// changes; it notifies observers exactly as the real sync service would. It is
// not safe for concurrent use and must only be touched on the sequence.
type MemoryService struct {
	logger         *zap.Logger
	clock          func() time.Time
	initialized    bool
	groups         map[string]SavedTabGroup
	previousTitles map[string]string
	refreshes      map[DataType]int
	observers      []Observer
}

// NewMemoryService constructs an uninitialized MemoryService.
func NewMemoryService(cfg MemoryServiceConfig) *MemoryService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MemoryService{
		logger:         logger,
		clock:          clock,
		groups:         make(map[string]SavedTabGroup),
		previousTitles: make(map[string]string),
		refreshes:      make(map[DataType]int),
	}
}

// MarkInitialized flags the service as loaded and notifies observers.
func (s *MemoryService) MarkInitialized() {
	if s.initialized {
		return
	}
	s.initialized = true
	s.notify(func(observer Observer) {
		observer.OnInitialized()
	})
}

// IsInitialized reports whether MarkInitialized has been called.
func (s *MemoryService) IsInitialized() bool {
	return s.initialized
}

// GetGroup returns a copy of the group with the given sync id.
func (s *MemoryService) GetGroup(syncID string) (SavedTabGroup, bool) {
	group, ok := s.groups[NormalizeID(syncID)]
	if !ok {
		return SavedTabGroup{}, false
	}
	return group.Clone(), true
}

// GetAllGroups returns copies of every group ordered by sync id.
func (s *MemoryService) GetAllGroups() []SavedTabGroup {
	groups := make([]SavedTabGroup, 0, len(s.groups))
	for _, group := range s.groups {
		groups = append(groups, group.Clone())
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].SyncID < groups[j].SyncID
	})
	return groups
}

// GetTitleForPreviouslyExistingSharedTabGroup returns the last title of a
// shared group that has since been removed.
func (s *MemoryService) GetTitleForPreviouslyExistingSharedTabGroup(collaborationID string) (string, bool) {
	title, ok := s.previousTitles[collaborationID]
	return title, ok
}

// UpsertGroup stores group and notifies observers of an add or update.
func (s *MemoryService) UpsertGroup(group SavedTabGroup, source TriggerSource) SavedTabGroup {
	now := s.clock()
	previous, existed := s.groups[NormalizeID(group.SyncID)]
	if existed {
		group = inheritTimestamps(group, previous, now)
	}
	stored := normalizeGroup(group, now)
	s.groups[stored.SyncID] = stored
	delete(s.previousTitles, stored.CollaborationID)

	snapshot := stored.Clone()
	if existed {
		s.notify(func(observer Observer) {
			observer.OnTabGroupUpdated(snapshot.Clone(), source)
		})
	} else {
		s.notify(func(observer Observer) {
			observer.OnTabGroupAdded(snapshot.Clone(), source)
		})
	}
	return snapshot
}

// RemoveGroup deletes the group and notifies observers. It reports whether the
// group existed.
func (s *MemoryService) RemoveGroup(syncID string, source TriggerSource) bool {
	normalized := NormalizeID(syncID)
	group, ok := s.groups[normalized]
	if !ok {
		return false
	}
	delete(s.groups, normalized)
	if group.IsShared() {
		s.previousTitles[group.CollaborationID] = group.Title
	}
	s.notify(func(observer Observer) {
		observer.OnTabGroupRemoved(normalized, source)
	})
	return true
}

// MigrateGroup re-keys a group under a new sync id.
func (s *MemoryService) MigrateGroup(oldSyncID, newSyncID string, source TriggerSource) bool {
	oldID := NormalizeID(oldSyncID)
	group, ok := s.groups[oldID]
	if !ok {
		return false
	}
	delete(s.groups, oldID)
	group.SyncID = NormalizeID(newSyncID)
	for index := range group.Tabs {
		group.Tabs[index].GroupSyncID = group.SyncID
	}
	s.groups[group.SyncID] = group
	snapshot := group.Clone()
	s.notify(func(observer Observer) {
		observer.OnTabGroupMigrated(snapshot.Clone(), oldID, source)
	})
	return true
}

// SelectTab notifies observers that the focused tab changed. A nil tab means
// the selection left shared groups.
func (s *MemoryService) SelectTab(tab *SavedTabGroupTab) {
	s.notify(func(observer Observer) {
		if tab == nil {
			observer.OnTabSelected(nil)
			return
		}
		selected := *tab
		observer.OnTabSelected(&selected)
	})
}

// TriggerRefresh records a forced refresh request for the given channels.
func (s *MemoryService) TriggerRefresh(dataTypes ...DataType) {
	for _, dataType := range dataTypes {
		s.refreshes[dataType]++
		s.logger.Debug("sync refresh requested", zap.String("data_type", string(dataType)))
	}
}

// RefreshCount reports how many refreshes were requested for dataType.
func (s *MemoryService) RefreshCount(dataType DataType) int {
	return s.refreshes[dataType]
}

// AddObserver registers observer. Registering twice has no effect.
func (s *MemoryService) AddObserver(observer Observer) {
	if s.hasObserver(observer) {
		return
	}
	s.observers = append(s.observers, observer)
}

// RemoveObserver deregisters observer.
func (s *MemoryService) RemoveObserver(observer Observer) {
	for index, existing := range s.observers {
		if existing == observer {
			s.observers = append(s.observers[:index:index], s.observers[index+1:]...)
			return
		}
	}
}

// ObserverCount reports the number of registered observers.
func (s *MemoryService) ObserverCount() int {
	return len(s.observers)
}

func (s *MemoryService) hasObserver(observer Observer) bool {
	for _, existing := range s.observers {
		if existing == observer {
			return true
		}
	}
	return false
}

// notify calls fn for every observer registered at the time of the call that
// is still registered when its turn comes.
func (s *MemoryService) notify(fn func(Observer)) {
	snapshot := append([]Observer(nil), s.observers...)
	for _, observer := range snapshot {
		if !s.hasObserver(observer) {
			continue
		}
		fn(observer)
	}
}

// inheritTimestamps fills timestamps missing from an update of an existing
// group. Unchanged tabs keep their stored times; changed tabs and the group
// itself are stamped with now.
func inheritTimestamps(group, previous SavedTabGroup, now time.Time) SavedTabGroup {
	updated := group.Clone()
	if updated.CreationTime.IsZero() {
		updated.CreationTime = previous.CreationTime
	}
	if updated.UpdateTime.IsZero() {
		updated.UpdateTime = now
	}
	for index := range updated.Tabs {
		tab := &updated.Tabs[index]
		if tab.SyncID == "" {
			continue
		}
		before, ok := previous.Tab(NormalizeID(tab.SyncID))
		if !ok {
			continue
		}
		if tab.CreationTime.IsZero() {
			tab.CreationTime = before.CreationTime
		}
		if tab.UpdateTime.IsZero() {
			if tab.URL == before.URL && tab.Title == before.Title {
				tab.UpdateTime = before.UpdateTime
			} else {
				tab.UpdateTime = now
			}
		}
	}
	return updated
}

func normalizeGroup(group SavedTabGroup, now time.Time) SavedTabGroup {
	stored := group.Clone()
	if stored.SyncID == "" {
		stored.SyncID = NewSyncID()
	}
	stored.SyncID = NormalizeID(stored.SyncID)
	if stored.CreationTime.IsZero() {
		stored.CreationTime = now
	}
	if stored.UpdateTime.IsZero() {
		stored.UpdateTime = stored.CreationTime
	}
	for index := range stored.Tabs {
		tab := &stored.Tabs[index]
		if tab.SyncID == "" {
			tab.SyncID = NewSyncID()
		}
		tab.SyncID = NormalizeID(tab.SyncID)
		tab.GroupSyncID = stored.SyncID
		if tab.CreationTime.IsZero() {
			tab.CreationTime = now
		}
		if tab.UpdateTime.IsZero() {
			tab.UpdateTime = tab.CreationTime
		}
	}
	return stored
}

package tabgroups

// Observer receives change notifications from a SyncService. All callbacks are
// delivered on the sequence.
type Observer interface {
	OnInitialized()
	OnTabGroupAdded(group SavedTabGroup, source TriggerSource)
	OnTabGroupUpdated(group SavedTabGroup, source TriggerSource)
	OnTabGroupRemoved(syncID string, source TriggerSource)
	OnTabGroupMigrated(group SavedTabGroup, oldSyncID string, source TriggerSource)
	OnTabSelected(tab *SavedTabGroupTab)
}

// SyncService is the read and observe surface of the tab group sync service.
type SyncService interface {
	IsInitialized() bool
	GetGroup(syncID string) (SavedTabGroup, bool)
	GetAllGroups() []SavedTabGroup
	GetTitleForPreviouslyExistingSharedTabGroup(collaborationID string) (string, bool)
	AddObserver(observer Observer)
	RemoveObserver(observer Observer)
}

// NopObserver implements Observer with empty methods for embedding.
type NopObserver struct{}

func (NopObserver) OnInitialized()                                          {}
func (NopObserver) OnTabGroupAdded(SavedTabGroup, TriggerSource)            {}
func (NopObserver) OnTabGroupUpdated(SavedTabGroup, TriggerSource)          {}
func (NopObserver) OnTabGroupRemoved(string, TriggerSource)                 {}
func (NopObserver) OnTabGroupMigrated(SavedTabGroup, string, TriggerSource) {}
func (NopObserver) OnTabSelected(*SavedTabGroupTab)                         {}

package collaboration

import (
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
)

// waitingForSyncState observes both services until the shared tab group and
// the people group are known locally.
type waitingForSyncState struct {
	baseState
	tabGroupObserver    *waitingTabGroupObserver
	dataSharingObserver *waitingDataSharingObserver
}

func newWaitingForSyncState(c *Controller) *waitingForSyncState {
	s := &waitingForSyncState{baseState: baseState{stateID: StateWaitingForSyncAndDataSharingGroup, controller: c}}
	s.tabGroupObserver = &waitingTabGroupObserver{state: s}
	s.dataSharingObserver = &waitingDataSharingObserver{state: s}
	c.tabGroups.AddObserver(s.tabGroupObserver)
	c.dataSharing.AddObserver(s.dataSharingObserver)
	return s
}

func (s *waitingForSyncState) enter(ErrorInfo) {
	c := s.controller
	c.sync.TriggerRefresh(tabgroups.DataTypeSharedTabGroupData)
}

func (s *waitingForSyncState) exit() {
	c := s.controller
	c.tabGroups.RemoveObserver(s.tabGroupObserver)
	c.dataSharing.RemoveObserver(s.dataSharingObserver)
}

func (s *waitingForSyncState) satisfied() {
	c := s.controller
	if !c.isCurrent(s) {
		return
	}
	c.transitionTo(StateOpeningLocalTabGroup, ErrorInfo{})
}

type waitingTabGroupObserver struct {
	tabgroups.NopObserver
	state *waitingForSyncState
}

func (o *waitingTabGroupObserver) OnTabGroupAdded(group tabgroups.SavedTabGroup, _ tabgroups.TriggerSource) {
	c := o.state.controller
	if group.CollaborationID == c.token.GroupID && c.isPeopleGroupInDataSharing() {
		o.state.satisfied()
	}
}

type waitingDataSharingObserver struct {
	datasharing.NopObserver
	state *waitingForSyncState
}

func (o *waitingDataSharingObserver) OnGroupAdded(group datasharing.GroupData, _ time.Time) {
	c := o.state.controller
	if group.ID() == c.token.GroupID && c.isTabGroupInSync() {
		o.state.satisfied()
	}
}

func (o *waitingTabGroupObserver) OnTabGroupUpdated(group tabgroups.SavedTabGroup, source tabgroups.TriggerSource) {
	o.OnTabGroupAdded(group, source)
}

func (o *waitingDataSharingObserver) OnGroupMemberAdded(groupID, _ string, _ time.Time) {
	c := o.state.controller
	if groupID == c.token.GroupID && c.isPeopleGroupInDataSharing() && c.isTabGroupInSync() {
		o.state.satisfied()
	}
}

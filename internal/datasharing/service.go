package datasharing

import "time"

// Observer receives people group changes. Callbacks are delivered on the sequence.
type Observer interface {
	OnGroupDataModelLoaded()
	OnGroupAdded(group GroupData, eventTime time.Time)
	OnGroupRemoved(groupID string, eventTime time.Time)
	OnGroupMemberAdded(groupID, memberGaiaID string, eventTime time.Time)
	OnGroupMemberRemoved(groupID, memberGaiaID string, eventTime time.Time)
}

// ReadGroupCallback receives the outcome of ReadNewGroup.
type ReadGroupCallback func(group GroupData, err error)

// Service is the read and observe surface of the people group service.
type Service interface {
	IsGroupDataModelLoaded() bool
	GetGroup(groupID string) (GroupData, bool)
	GetPossiblyRemovedGroupMember(groupID, gaiaID string) (GroupMemberPartialData, bool)
	ReadNewGroup(token GroupToken, callback ReadGroupCallback)
	AddObserver(observer Observer)
	RemoveObserver(observer Observer)
}

// NopObserver implements Observer with empty methods for embedding.
type NopObserver struct{}

func (NopObserver) OnGroupDataModelLoaded()                        {}
func (NopObserver) OnGroupAdded(GroupData, time.Time)              {}
func (NopObserver) OnGroupRemoved(string, time.Time)               {}
func (NopObserver) OnGroupMemberAdded(string, string, time.Time)   {}
func (NopObserver) OnGroupMemberRemoved(string, string, time.Time) {}

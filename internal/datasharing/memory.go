package datasharing

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"go.uber.org/zap"
)

// MemoryServiceConfig describes the dependencies of a MemoryService.
type MemoryServiceConfig struct {
	Runner            sequence.Runner
	Logger            *zap.Logger
	Clock             func() time.Time
	CurrentUserGaiaID string
}

// MemoryService is an in-process people group Service. Groups the current user
// belongs to are observable; published groups can additionally be read through
// ReadNewGroup before the user joins. Removed members stay resolvable through
// GetPossiblyRemovedGroupMember. Use only on the sequence.
type MemoryService struct {
	runner         sequence.Runner
	logger         *zap.Logger
	clock          func() time.Time
	currentUser    string
	loaded         bool
	groups         map[string]GroupData
	published      map[string]GroupData
	removedMembers map[string]map[string]GroupMemberPartialData
	observers      []Observer
}

// NewMemoryService constructs an empty MemoryService whose model is not yet loaded.
func NewMemoryService(cfg MemoryServiceConfig) (*MemoryService, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("datasharing: runner is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &MemoryService{
		runner:         cfg.Runner,
		logger:         logger,
		clock:          clock,
		currentUser:    cfg.CurrentUserGaiaID,
		groups:         make(map[string]GroupData),
		published:      make(map[string]GroupData),
		removedMembers: make(map[string]map[string]GroupMemberPartialData),
	}, nil
}

// MarkLoaded flags the group data model as loaded and notifies observers.
func (s *MemoryService) MarkLoaded() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.notify(func(observer Observer) {
		observer.OnGroupDataModelLoaded()
	})
}

// IsGroupDataModelLoaded reports whether MarkLoaded has been called.
func (s *MemoryService) IsGroupDataModelLoaded() bool {
	return s.loaded
}

// GetGroup returns a copy of a group the current user belongs to.
func (s *MemoryService) GetGroup(groupID string) (GroupData, bool) {
	group, ok := s.groups[groupID]
	if !ok {
		return GroupData{}, false
	}
	return group.Clone(), true
}

// GetPossiblyRemovedGroupMember looks the member up among current and removed members.
func (s *MemoryService) GetPossiblyRemovedGroupMember(groupID, gaiaID string) (GroupMemberPartialData, bool) {
	if group, ok := s.groups[groupID]; ok {
		if member, found := group.Member(gaiaID); found {
			return partialFromMember(member), true
		}
	}
	if removed, ok := s.removedMembers[groupID]; ok {
		if member, found := removed[gaiaID]; found {
			return member, true
		}
	}
	return GroupMemberPartialData{}, false
}

// ReadNewGroup resolves token against joined and published groups and posts
// the result on the sequence.
func (s *MemoryService) ReadNewGroup(token GroupToken, callback ReadGroupCallback) {
	if callback == nil {
		return
	}
	if !token.IsValid() {
		s.runner.PostTask(func() {
			callback(GroupData{}, ErrInvalidToken)
		})
		return
	}
	group, ok := s.groups[token.GroupID]
	if !ok {
		group, ok = s.published[token.GroupID]
	}
	if !ok || group.Token.AccessToken != token.AccessToken {
		s.runner.PostTask(func() {
			callback(GroupData{}, fmt.Errorf("%w: %s", ErrGroupNotFound, token.GroupID))
		})
		return
	}
	snapshot := group.Clone()
	s.runner.PostTask(func() {
		callback(snapshot, nil)
	})
}

// GetCurrentUserRoleForGroup returns the role of the configured current user.
func (s *MemoryService) GetCurrentUserRoleForGroup(groupID string) MemberRole {
	return s.GetRoleForMember(groupID, s.currentUser)
}

// GetRoleForMember returns the role of gaiaID in a joined group. Members
// stored without a role count as plain members.
func (s *MemoryService) GetRoleForMember(groupID, gaiaID string) MemberRole {
	group, ok := s.groups[groupID]
	if !ok {
		return MemberRoleUnknown
	}
	return roleOf(group, gaiaID)
}

// GetPublishedGroup returns a copy of a group that is readable through
// ReadNewGroup but has not been joined.
func (s *MemoryService) GetPublishedGroup(groupID string) (GroupData, bool) {
	group, ok := s.published[groupID]
	if !ok {
		return GroupData{}, false
	}
	return group.Clone(), true
}

// GetRoleForPublishedMember is GetRoleForMember for published groups.
func (s *MemoryService) GetRoleForPublishedMember(groupID, gaiaID string) MemberRole {
	group, ok := s.published[groupID]
	if !ok {
		return MemberRoleUnknown
	}
	return roleOf(group, gaiaID)
}

func roleOf(group GroupData, gaiaID string) MemberRole {
	if gaiaID == "" {
		return MemberRoleUnknown
	}
	member, found := group.Member(gaiaID)
	if !found {
		return MemberRoleUnknown
	}
	if member.Role == MemberRoleUnknown {
		return MemberRoleMember
	}
	return member.Role
}

// PublishGroup makes a group readable through ReadNewGroup without joining it.
func (s *MemoryService) PublishGroup(group GroupData) {
	s.published[group.ID()] = group.Clone()
}

// AddGroup stores the group and notifies observers.
func (s *MemoryService) AddGroup(group GroupData, eventTime time.Time) {
	stored := group.Clone()
	s.groups[stored.ID()] = stored
	delete(s.published, stored.ID())
	s.notify(func(observer Observer) {
		observer.OnGroupAdded(stored.Clone(), s.eventTimeOrNow(eventTime))
	})
}

// RemoveGroup deletes the group and notifies observers. Its members remain
// resolvable as removed members.
func (s *MemoryService) RemoveGroup(groupID string, eventTime time.Time) bool {
	group, ok := s.groups[groupID]
	if !ok {
		return false
	}
	delete(s.groups, groupID)
	for _, member := range group.Members {
		s.rememberRemoved(groupID, member)
	}
	s.notify(func(observer Observer) {
		observer.OnGroupRemoved(groupID, s.eventTimeOrNow(eventTime))
	})
	return true
}

// AddMember adds or replaces a member of an existing group and notifies observers.
func (s *MemoryService) AddMember(groupID string, member GroupMember, eventTime time.Time) error {
	group, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	replaced := false
	for index := range group.Members {
		if group.Members[index].GaiaID == member.GaiaID {
			group.Members[index] = member
			replaced = true
		}
	}
	if !replaced {
		group.Members = append(group.Members, member)
	}
	s.groups[groupID] = group
	if removed, found := s.removedMembers[groupID]; found {
		delete(removed, member.GaiaID)
	}
	s.notify(func(observer Observer) {
		observer.OnGroupMemberAdded(groupID, member.GaiaID, s.eventTimeOrNow(eventTime))
	})
	return nil
}

// RemoveMember removes a member from a group and notifies observers.
func (s *MemoryService) RemoveMember(groupID, gaiaID string, eventTime time.Time) error {
	group, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	remaining := group.Members[:0:0]
	var removed *GroupMember
	for _, member := range group.Members {
		if member.GaiaID == gaiaID {
			copied := member
			removed = &copied
			continue
		}
		remaining = append(remaining, member)
	}
	if removed == nil {
		return nil
	}
	group.Members = remaining
	s.groups[groupID] = group
	s.rememberRemoved(groupID, *removed)
	s.notify(func(observer Observer) {
		observer.OnGroupMemberRemoved(groupID, gaiaID, s.eventTimeOrNow(eventTime))
	})
	return nil
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

func (s *MemoryService) rememberRemoved(groupID string, member GroupMember) {
	removed, ok := s.removedMembers[groupID]
	if !ok {
		removed = make(map[string]GroupMemberPartialData)
		s.removedMembers[groupID] = removed
	}
	removed[member.GaiaID] = partialFromMember(member)
}

func (s *MemoryService) eventTimeOrNow(eventTime time.Time) time.Time {
	if eventTime.IsZero() {
		return s.clock()
	}
	return eventTime
}

func (s *MemoryService) hasObserver(observer Observer) bool {
	for _, existing := range s.observers {
		if existing == observer {
			return true
		}
	}
	return false
}

func (s *MemoryService) notify(fn func(Observer)) {
	snapshot := append([]Observer(nil), s.observers...)
	for _, observer := range snapshot {
		if !s.hasObserver(observer) {
			continue
		}
		fn(observer)
	}
}

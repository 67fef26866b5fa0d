package collaboration

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
)

// StateID names a controller state.
type StateID int

const (
	StatePending StateID = iota
	StateAuthenticating
	StateCheckingFlowRequirements
	StateAddingUserToGroup
	StateWaitingForSyncAndDataSharingGroup
	StateOpeningLocalTabGroup
	StateCancel
	StateError
)

// String returns the state name.
func (id StateID) String() string {
	switch id {
	case StatePending:
		return "Pending"
	case StateAuthenticating:
		return "Authenticating"
	case StateCheckingFlowRequirements:
		return "CheckingFlowRequirements"
	case StateAddingUserToGroup:
		return "AddingUserToGroup"
	case StateWaitingForSyncAndDataSharingGroup:
		return "WaitingForSyncAndDataSharingGroup"
	case StateOpeningLocalTabGroup:
		return "OpeningLocalTabGroup"
	case StateCancel:
		return "Cancel"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("StateID(%d)", int(id))
	}
}

// Terminal reports whether no further transitions leave the state.
func (id StateID) Terminal() bool {
	return id == StateCancel || id == StateError
}

type transition struct {
	from StateID
	to   StateID
}

var validTransitions = map[transition]struct{}{
	{StatePending, StateAuthenticating}:           {},
	{StatePending, StateCheckingFlowRequirements}: {},
	{StatePending, StateError}:                    {},
	{StatePending, StateCancel}:                   {},

	{StateAuthenticating, StateCheckingFlowRequirements}: {},
	{StateAuthenticating, StateError}:                    {},
	{StateAuthenticating, StateCancel}:                   {},

	{StateCheckingFlowRequirements, StateOpeningLocalTabGroup}:              {},
	{StateCheckingFlowRequirements, StateWaitingForSyncAndDataSharingGroup}: {},
	{StateCheckingFlowRequirements, StateAddingUserToGroup}:                 {},
	{StateCheckingFlowRequirements, StateError}:                             {},
	{StateCheckingFlowRequirements, StateCancel}:                            {},

	{StateAddingUserToGroup, StateOpeningLocalTabGroup}:              {},
	{StateAddingUserToGroup, StateWaitingForSyncAndDataSharingGroup}: {},
	{StateAddingUserToGroup, StateError}:                             {},
	{StateAddingUserToGroup, StateCancel}:                            {},

	{StateWaitingForSyncAndDataSharingGroup, StateOpeningLocalTabGroup}: {},
	{StateWaitingForSyncAndDataSharingGroup, StateError}:                {},
	{StateWaitingForSyncAndDataSharingGroup, StateCancel}:               {},

	{StateOpeningLocalTabGroup, StateError}:  {},
	{StateOpeningLocalTabGroup, StateCancel}: {},
}

// IsValidTransition reports whether the controller may move from one state to another.
func IsValidTransition(from, to StateID) bool {
	_, ok := validTransitions[transition{from: from, to: to}]
	return ok
}

// state is one node of the controller machine. A state is created on entry
// and discarded on transition.
type state interface {
	id() StateID
	enter(info ErrorInfo)
	exit()
}

type baseState struct {
	stateID    StateID
	controller *Controller
}

func (s *baseState) id() StateID {
	return s.stateID
}

func (s *baseState) enter(ErrorInfo) {}

func (s *baseState) exit() {}

type pendingState struct {
	baseState
}

func (s *pendingState) enter(ErrorInfo) {
	c := s.controller
	c.delegate.PrepareFlowUI(c.resultCallback(s, s.finished))
}

func (s *pendingState) finished() {
	c := s.controller
	if !c.token.IsValid() {
		c.handleError()
		return
	}
	if !c.collaboration.GetServiceStatus().IsAuthenticationValid() {
		c.transitionTo(StateAuthenticating, ErrorInfo{})
		return
	}
	c.transitionTo(StateCheckingFlowRequirements, ErrorInfo{})
}

type authenticatingState struct {
	baseState
}

func (s *authenticatingState) enter(ErrorInfo) {
	c := s.controller
	c.delegate.ShowAuthenticationUI(c.resultCallback(s, s.finished))
}

func (s *authenticatingState) finished() {
	c := s.controller
	if !c.collaboration.GetServiceStatus().IsAuthenticationValid() {
		c.handleError()
		return
	}
	c.delegate.NotifySignInAndSyncStatusChange()
	c.transitionTo(StateCheckingFlowRequirements, ErrorInfo{})
}

type checkingFlowRequirementsState struct {
	baseState
}

func (s *checkingFlowRequirementsState) enter(ErrorInfo) {
	c := s.controller
	switch c.flow {
	case FlowShare:
		c.delegate.ShowShareDialog(c.guard(s, func(outcome Outcome) {
			if outcome == OutcomeFailure {
				c.handleError()
				return
			}
			c.exit()
		}))
	default:
		if c.isPeopleGroupInDataSharing() {
			if c.isTabGroupInSync() {
				c.transitionTo(StateOpeningLocalTabGroup, ErrorInfo{})
				return
			}
			c.transitionTo(StateWaitingForSyncAndDataSharingGroup, ErrorInfo{})
			return
		}
		c.dataSharing.ReadNewGroup(c.token, func(group datasharing.GroupData, err error) {
			if !c.isCurrent(s) {
				return
			}
			if err != nil {
				c.logger.Debug("read new group failed", fieldsForToken(c.token, err)...)
				c.handleError()
				return
			}
			c.preview = SharedDataPreview{Group: group}
			c.transitionTo(StateAddingUserToGroup, ErrorInfo{})
		})
	}
}

type addingUserToGroupState struct {
	baseState
}

func (s *addingUserToGroupState) enter(ErrorInfo) {
	c := s.controller
	c.delegate.ShowJoinDialog(c.preview, c.resultCallback(s, s.finished))
}

func (s *addingUserToGroupState) finished() {
	c := s.controller
	if c.isTabGroupInSync() && c.isPeopleGroupInDataSharing() {
		c.transitionTo(StateOpeningLocalTabGroup, ErrorInfo{})
		return
	}
	c.transitionTo(StateWaitingForSyncAndDataSharingGroup, ErrorInfo{})
}

type openingLocalTabGroupState struct {
	baseState
}

func (s *openingLocalTabGroupState) enter(ErrorInfo) {
	c := s.controller
	c.delegate.PromoteTabGroup(c.resultCallback(s, c.exit))
}

type errorState struct {
	baseState
}

func (s *errorState) enter(info ErrorInfo) {
	c := s.controller
	if info.Type == ErrorTypeUnknown {
		info.Type = ErrorTypeGenericError
	}
	c.delegate.ShowError(info, c.guard(s, func(Outcome) {
		c.exit()
	}))
}

type cancelState struct {
	baseState
}

func (s *cancelState) enter(ErrorInfo) {
	c := s.controller
	c.delegate.Cancel(c.guard(s, func(Outcome) {
		c.exit()
	}))
}

package collaboration

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/metrics"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"go.uber.org/zap"
)

// Flow selects what the controller drives.
type Flow int

const (
	FlowJoin Flow = iota
	FlowShare
)

// String returns a log friendly name.
func (flow Flow) String() string {
	if flow == FlowShare {
		return "share"
	}
	return "join"
}

var (
	errMissingDelegate      = errors.New("collaboration: delegate is required")
	errMissingCollaboration = errors.New("collaboration: collaboration service is required")
	errMissingDataSharing   = errors.New("collaboration: data sharing service is required")
	errMissingTabGroups     = errors.New("collaboration: tab group sync service is required")
	errMissingSync          = errors.New("collaboration: sync service is required")
	errMissingRunner        = errors.New("collaboration: runner is required")
)

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Flow          Flow
	Token         datasharing.GroupToken
	Collaboration CollaborationService
	DataSharing   datasharing.Service
	TabGroups     tabgroups.SyncService
	Sync          SyncService
	Delegate      Delegate
	Runner        sequence.Runner
	Logger        *zap.Logger
	// OnFinish is posted once when the flow ends. The owner drops the
	// controller from it.
	OnFinish func()
}

// Controller drives a join or share flow for one collaboration. It must only
// be used on the sequence.
type Controller struct {
	flow          Flow
	token         datasharing.GroupToken
	collaboration CollaborationService
	dataSharing   datasharing.Service
	tabGroups     tabgroups.SyncService
	sync          SyncService
	delegate      Delegate
	runner        sequence.Runner
	logger        *zap.Logger
	onFinish      func()

	current  state
	preview  SharedDataPreview
	finished bool
}

// NewController validates cfg and enters the Pending state.
func NewController(cfg ControllerConfig) (*Controller, error) {
	switch {
	case cfg.Delegate == nil:
		return nil, errMissingDelegate
	case cfg.Collaboration == nil:
		return nil, errMissingCollaboration
	case cfg.DataSharing == nil:
		return nil, errMissingDataSharing
	case cfg.TabGroups == nil:
		return nil, errMissingTabGroups
	case cfg.Sync == nil:
		return nil, errMissingSync
	case cfg.Runner == nil:
		return nil, errMissingRunner
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onFinish := cfg.OnFinish
	if onFinish == nil {
		onFinish = func() {}
	}

	c := &Controller{
		flow:          cfg.Flow,
		token:         cfg.Token,
		collaboration: cfg.Collaboration,
		dataSharing:   cfg.DataSharing,
		tabGroups:     cfg.TabGroups,
		sync:          cfg.Sync,
		delegate:      cfg.Delegate,
		runner:        cfg.Runner,
		logger:        logger.With(zap.String("flow", cfg.Flow.String()), zap.String("group_id", cfg.Token.GroupID)),
		onFinish:      onFinish,
	}
	c.current = c.newState(StatePending)
	c.current.enter(ErrorInfo{})
	return c, nil
}

// State returns the current state.
func (c *Controller) State() StateID {
	return c.current.id()
}

// Finished reports whether the flow has exited.
func (c *Controller) Finished() bool {
	return c.finished
}

// Cancel abandons the flow from any non-terminal state.
func (c *Controller) Cancel() {
	if c.finished || c.current.id().Terminal() {
		return
	}
	c.transitionTo(StateCancel, ErrorInfo{})
}

// PromoteCurrentSession brings the flow UI to the front.
func (c *Controller) PromoteCurrentSession() {
	c.delegate.PromoteCurrentScreen()
}

// transitionTo replaces the current state. Transitions missing from the
// table are programming errors.
func (c *Controller) transitionTo(to StateID, info ErrorInfo) {
	from := c.current.id()
	if !IsValidTransition(from, to) {
		panic(fmt.Sprintf("collaboration: invalid transition %s -> %s", from, to))
	}
	c.logger.Debug("collaboration controller transition", zap.String("from", from.String()), zap.String("to", to.String()))
	metrics.IncControllerTransition(from.String(), to.String())
	c.current.exit()
	c.current = c.newState(to)
	c.current.enter(info)
}

// exit tears down the current state and posts OnFinish once.
func (c *Controller) exit() {
	if c.finished {
		return
	}
	c.finished = true
	c.current.exit()
	c.logger.Debug("collaboration controller finished", zap.String("state", c.current.id().String()))
	c.runner.PostTask(c.onFinish)
}

func (c *Controller) handleError() {
	c.transitionTo(StateError, ErrorInfo{Type: ErrorTypeGenericError})
}

func (c *Controller) isCurrent(s state) bool {
	return !c.finished && c.current == s
}

// guard drops callbacks that arrive after s stopped being current.
func (c *Controller) guard(s state, fn func(Outcome)) ResultCallback {
	return func(outcome Outcome) {
		if !c.isCurrent(s) {
			return
		}
		fn(outcome)
	}
}

// resultCallback applies the default outcome handling: failure shows an
// error, cancel exits and success continues with finished.
func (c *Controller) resultCallback(s state, finished func()) ResultCallback {
	return c.guard(s, func(outcome Outcome) {
		switch outcome {
		case OutcomeFailure:
			c.handleError()
		case OutcomeCancel:
			c.exit()
		default:
			finished()
		}
	})
}

func (c *Controller) isTabGroupInSync() bool {
	for _, group := range c.tabGroups.GetAllGroups() {
		if group.IsShared() && group.CollaborationID == c.token.GroupID {
			return true
		}
	}
	return false
}

func (c *Controller) isPeopleGroupInDataSharing() bool {
	return c.collaboration.GetCurrentUserRoleForGroup(c.token.GroupID) != datasharing.MemberRoleUnknown
}

func (c *Controller) newState(id StateID) state {
	base := baseState{stateID: id, controller: c}
	switch id {
	case StatePending:
		return &pendingState{baseState: base}
	case StateAuthenticating:
		return &authenticatingState{baseState: base}
	case StateCheckingFlowRequirements:
		return &checkingFlowRequirementsState{baseState: base}
	case StateAddingUserToGroup:
		return &addingUserToGroupState{baseState: base}
	case StateWaitingForSyncAndDataSharingGroup:
		return newWaitingForSyncState(c)
	case StateOpeningLocalTabGroup:
		return &openingLocalTabGroupState{baseState: base}
	case StateError:
		return &errorState{baseState: base}
	default:
		return &cancelState{baseState: base}
	}
}

func fieldsForToken(token datasharing.GroupToken, err error) []zap.Field {
	return []zap.Field{zap.String("group_id", token.GroupID), zap.Error(err)}
}

package collaboration

import (
	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
)

// Outcome is reported by the delegate when a UI step completes.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeCancel
)

// String returns a log friendly name.
func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "cancel"
	}
}

// ErrorType selects the error presentation.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeGenericError
)

// ErrorInfo describes the error shown by the delegate.
type ErrorInfo struct {
	Type ErrorType
}

// ResultCallback receives the outcome of a delegate request.
type ResultCallback func(outcome Outcome)

// SharedDataPreview is shown in the join dialog.
type SharedDataPreview struct {
	Group datasharing.GroupData
}

// Delegate presents the flow UI. Every request that takes a ResultCallback
// must eventually invoke it on the sequence.
type Delegate interface {
	PrepareFlowUI(result ResultCallback)
	ShowError(info ErrorInfo, result ResultCallback)
	Cancel(result ResultCallback)
	ShowAuthenticationUI(result ResultCallback)
	NotifySignInAndSyncStatusChange()
	ShowJoinDialog(preview SharedDataPreview, result ResultCallback)
	ShowShareDialog(result ResultCallback)
	PromoteTabGroup(result ResultCallback)
	PromoteCurrentScreen()
}

// ServiceStatus reports the sign-in state relevant to collaboration.
type ServiceStatus struct {
	SignedIn    bool
	SyncEnabled bool
}

// IsAuthenticationValid reports whether the user can take part in collaborations.
func (status ServiceStatus) IsAuthenticationValid() bool {
	return status.SignedIn && status.SyncEnabled
}

// CollaborationService answers the account and membership questions asked by the flow.
type CollaborationService interface {
	GetServiceStatus() ServiceStatus
	GetCurrentUserRoleForGroup(groupID string) datasharing.MemberRole
}

// SyncService can force a refresh of sync channels.
type SyncService interface {
	TriggerRefresh(dataTypes ...tabgroups.DataType)
}

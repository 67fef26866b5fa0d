package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/auth"
	"github.com/MarcoPoloResearchLab/cohort/internal/collaboration"
	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type joinRequestPayload struct {
	GroupID     string `json:"group_id"`
	AccessToken string `json:"access_token"`
}

type joinResponsePayload struct {
	GroupID string `json:"group_id"`
	State   string `json:"state"`
	Joined  bool   `json:"joined"`
	Error   string `json:"error,omitempty"`
}

type joinResult struct {
	state  collaboration.StateID
	failed bool
}

// handleJoin drives a join flow for the session user to completion. The flow
// UI is answered by a headless delegate that accepts every prompt it can.
func (h *httpHandler) handleJoin(c *gin.Context) {
	var request joinRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	claims := sessionFromContext(c)
	token := datasharing.GroupToken{
		GroupID:     strings.TrimSpace(request.GroupID),
		AccessToken: strings.TrimSpace(request.AccessToken),
	}

	done := make(chan joinResult, 1)
	delegate := &headlessJoinDelegate{
		runner:      h.sequence,
		dataSharing: h.dataSharing,
		member:      memberFromSession(claims),
		logger:      h.logger,
	}
	var (
		controller *collaboration.Controller
		startErr   error
	)
	if !h.invoke(c, func() {
		controller, startErr = collaboration.NewController(collaboration.ControllerConfig{
			Flow:  collaboration.FlowJoin,
			Token: token,
			Collaboration: collaboration.NewAccountService(
				collaboration.ServiceStatus{SignedIn: true, SyncEnabled: claims.SyncEnabled},
				memberRoles{service: h.dataSharing, gaiaID: claims.GaiaID()},
			),
			DataSharing: h.dataSharing,
			TabGroups:   h.tabGroups,
			Sync:        h.tabGroups,
			Delegate:    delegate,
			Runner:      h.sequence,
			Logger:      h.logger,
			OnFinish: func() {
				done <- joinResult{state: controller.State(), failed: len(delegate.errors) > 0}
			},
		})
	}) {
		return
	}
	if startErr != nil {
		h.logger.Error("join flow start failed", zap.Error(startErr))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "join_failed"})
		return
	}

	timer := time.NewTimer(h.joinTimeout)
	defer timer.Stop()

	select {
	case result := <-done:
		h.writeJoinResult(c, token.GroupID, result)
	case <-timer.C:
		state := h.cancelJoin(controller)
		c.JSON(http.StatusGatewayTimeout, joinResponsePayload{GroupID: token.GroupID, State: state.String(), Error: "join_timeout"})
	case <-c.Request.Context().Done():
		h.cancelJoin(controller)
	}
}

// cancelJoin abandons a flow that is still running and reports the state it
// was in.
func (h *httpHandler) cancelJoin(controller *collaboration.Controller) collaboration.StateID {
	var state collaboration.StateID
	if err := h.sequence.Invoke(context.Background(), func() {
		state = controller.State()
		controller.Cancel()
	}); err != nil {
		h.logger.Warn("join flow cancel failed", zap.Error(err))
	}
	return state
}

func (h *httpHandler) writeJoinResult(c *gin.Context, groupID string, result joinResult) {
	response := joinResponsePayload{GroupID: groupID, State: result.state.String()}
	switch {
	case result.failed || result.state == collaboration.StateError:
		response.Error = "join_failed"
		c.JSON(http.StatusUnprocessableEntity, response)
	case result.state == collaboration.StateOpeningLocalTabGroup:
		response.Joined = true
		c.JSON(http.StatusOK, response)
	default:
		response.Error = "join_cancelled"
		c.JSON(http.StatusConflict, response)
	}
}

func memberFromSession(claims auth.SessionClaims) datasharing.GroupMember {
	displayName := strings.TrimSpace(claims.UserDisplayName)
	givenName := displayName
	if index := strings.IndexByte(displayName, ' '); index > 0 {
		givenName = displayName[:index]
	}
	return datasharing.GroupMember{
		GaiaID:      claims.GaiaID(),
		DisplayName: displayName,
		GivenName:   givenName,
		Email:       claims.UserEmail,
		Role:        datasharing.MemberRoleMember,
	}
}

type memberRoles struct {
	service *datasharing.MemoryService
	gaiaID  string
}

func (r memberRoles) GetCurrentUserRoleForGroup(groupID string) datasharing.MemberRole {
	return r.service.GetRoleForMember(groupID, r.gaiaID)
}

// headlessJoinDelegate answers flow prompts on behalf of an HTTP client.
// Accepting the join dialog adds the session user to the people group.
type headlessJoinDelegate struct {
	runner      sequence.Runner
	dataSharing *datasharing.MemoryService
	member      datasharing.GroupMember
	logger      *zap.Logger
	errors      []collaboration.ErrorInfo
}

func (d *headlessJoinDelegate) respond(result collaboration.ResultCallback, outcome collaboration.Outcome) {
	d.runner.PostTask(func() {
		result(outcome)
	})
}

func (d *headlessJoinDelegate) PrepareFlowUI(result collaboration.ResultCallback) {
	d.respond(result, collaboration.OutcomeSuccess)
}

func (d *headlessJoinDelegate) ShowError(info collaboration.ErrorInfo, result collaboration.ResultCallback) {
	d.errors = append(d.errors, info)
	d.respond(result, collaboration.OutcomeSuccess)
}

func (d *headlessJoinDelegate) Cancel(result collaboration.ResultCallback) {
	d.respond(result, collaboration.OutcomeSuccess)
}

// ShowAuthenticationUI fails because a request cannot sign in interactively.
func (d *headlessJoinDelegate) ShowAuthenticationUI(result collaboration.ResultCallback) {
	d.respond(result, collaboration.OutcomeFailure)
}

func (d *headlessJoinDelegate) NotifySignInAndSyncStatusChange() {}

func (d *headlessJoinDelegate) ShowJoinDialog(preview collaboration.SharedDataPreview, result collaboration.ResultCallback) {
	groupID := preview.Group.ID()
	if _, joined := d.dataSharing.GetGroup(groupID); joined {
		if err := d.dataSharing.AddMember(groupID, d.member, time.Time{}); err != nil {
			d.logger.Warn("join member add failed", zap.String("group_id", groupID), zap.Error(err))
			d.respond(result, collaboration.OutcomeFailure)
			return
		}
		d.respond(result, collaboration.OutcomeSuccess)
		return
	}
	group := preview.Group.Clone()
	group.Members = append(group.Members, d.member)
	d.dataSharing.AddGroup(group, time.Time{})
	d.respond(result, collaboration.OutcomeSuccess)
}

// ShowShareDialog cancels since sharing is not offered over HTTP.
func (d *headlessJoinDelegate) ShowShareDialog(result collaboration.ResultCallback) {
	d.respond(result, collaboration.OutcomeCancel)
}

func (d *headlessJoinDelegate) PromoteTabGroup(result collaboration.ResultCallback) {
	d.respond(result, collaboration.OutcomeSuccess)
}

func (d *headlessJoinDelegate) PromoteCurrentScreen() {}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/cohort/internal/auth"
	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	peopleGroupC1 = `{"group_id":"C1","access_token":"tok-1","display_name":"Trip","members":[` +
		`{"gaia_id":"U1","display_name":"Alice Doe","given_name":"Alice","email":"alice@example.com","role":"owner"},` +
		`{"gaia_id":"U2","display_name":"Bob Roe","given_name":"Bob","email":"bob@example.com","role":"member"}]}`
	tabGroupC1        = `{"sync_id":"g1","collaboration_id":"C1","title":"Trip","color":"blue","created_by":"U2"}`
	tabGroupC1WithTab = `{"sync_id":"g1","collaboration_id":"C1","title":"Trip","color":"blue","created_by":"U2",` +
		`"tabs":[{"sync_id":"t1","url":"https://news.example.com/a","title":"News","created_by":"U2"}]}`
)

type activityResponse struct {
	CollaborationID string `json:"collaboration_id"`
	Items           []struct {
		EventType       string `json:"event_type"`
		UserDisplayName string `json:"user_display_name"`
		UserIsSelf      bool   `json:"user_is_self"`
		Description     string `json:"description"`
		Action          string `json:"action"`
		Tab             *struct {
			SyncID       string `json:"sync_id"`
			LastKnownURL string `json:"last_known_url"`
		} `json:"tab"`
		TriggeringUser *struct {
			GaiaID string `json:"gaia_id"`
		} `json:"triggering_user"`
	} `json:"items"`
}

func decodeActivity(t *testing.T, recorder *httptest.ResponseRecorder) activityResponse {
	t.Helper()
	var response activityResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode activity response: %v", err)
	}
	return response
}

func TestHealthReportsInitialization(t *testing.T) {
	stack := newTestStack(t)
	recorder := stack.mustDo(t, http.MethodGet, "/healthz", "", "", http.StatusOK)
	if recorder.Body.String() != `{"initialized":true}` {
		t.Fatalf("unexpected health body: %s", recorder.Body.String())
	}
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	stack := newTestStack(t)
	stack.mustDo(t, http.MethodGet, "/healthz", "", "", http.StatusOK)
	recorder := stack.mustDo(t, http.MethodGet, "/metrics", "", "", http.StatusOK)
	if !strings.Contains(recorder.Body.String(), "cohort_http_requests_total") {
		t.Fatalf("expected request counter in metrics output")
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	stack := newTestStack(t)
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", "", "", http.StatusUnauthorized)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", "not-a-token", tabGroupC1, http.StatusUnauthorized)
}

func TestActivityLogReflectsIngestedChanges(t *testing.T) {
	stack := newTestStack(t)
	alice := signSessionToken(t, "U1", tokenOptions{displayName: "Alice Doe"})

	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", alice, peopleGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", alice, tabGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", alice, tabGroupC1WithTab, http.StatusOK)

	response := decodeActivity(t, stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", alice, "", http.StatusOK))
	if response.CollaborationID != "C1" {
		t.Fatalf("unexpected collaboration id %q", response.CollaborationID)
	}
	if len(response.Items) != 1 {
		t.Fatalf("expected one visible item, got %+v", response.Items)
	}
	item := response.Items[0]
	if item.EventType != "TAB_ADDED" || item.Action != "FOCUS_TAB" {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.UserDisplayName != "Bob" || item.UserIsSelf {
		t.Fatalf("expected attribution to Bob, got %q self=%v", item.UserDisplayName, item.UserIsSelf)
	}
	if item.Description != "example.com/a" {
		t.Fatalf("unexpected description %q", item.Description)
	}
	if item.Tab == nil || item.Tab.SyncID != "t1" || item.Tab.LastKnownURL != "https://news.example.com/a" {
		t.Fatalf("unexpected tab metadata %+v", item.Tab)
	}
	if item.TriggeringUser == nil || item.TriggeringUser.GaiaID != "U2" {
		t.Fatalf("unexpected triggering user %+v", item.TriggeringUser)
	}

	bob := signSessionToken(t, "U2", tokenOptions{})
	response = decodeActivity(t, stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", bob, "", http.StatusOK))
	if len(response.Items) != 1 || !response.Items[0].UserIsSelf {
		t.Fatalf("expected Bob to see his own change, got %+v", response.Items)
	}
}

func TestActivityLogRejectsOutsidersAndBadLimits(t *testing.T) {
	stack := newTestStack(t)
	alice := signSessionToken(t, "U1", tokenOptions{})
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", alice, peopleGroupC1, http.StatusOK)

	stranger := signSessionToken(t, "U9", tokenOptions{})
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", stranger, "", http.StatusForbidden)
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity?limit=-1", alice, "", http.StatusBadRequest)
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity?limit=abc", alice, "", http.StatusBadRequest)
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity?limit=0", alice, "", http.StatusOK)
}

func TestActivityLogKeepsRemovedTabs(t *testing.T) {
	stack := newTestStack(t)
	alice := signSessionToken(t, "U1", tokenOptions{})
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", alice, peopleGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", alice, tabGroupC1WithTab, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", alice, tabGroupC1, http.StatusOK)

	response := decodeActivity(t, stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity?limit=1", alice, "", http.StatusOK))
	if len(response.Items) != 1 || response.Items[0].EventType != "TAB_REMOVED" {
		t.Fatalf("expected the tab removal first, got %+v", response.Items)
	}
	if response.Items[0].Action != "REOPEN_TAB" {
		t.Fatalf("expected reopen action, got %q", response.Items[0].Action)
	}
}

func TestIngestEdgeCases(t *testing.T) {
	stack := newTestStack(t)
	token := signSessionToken(t, "U1", tokenOptions{})

	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", token, "{", http.StatusBadRequest)
	stack.mustDo(t, http.MethodDelete, "/ingest/tab-groups/missing", token, "", http.StatusNotFound)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups/missing/migrate", token, `{"new_sync_id":"g2"}`, http.StatusNotFound)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups/missing/migrate", token, `{}`, http.StatusBadRequest)
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", token, `{"group_id":" "}`, http.StatusBadRequest)
	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/missing", token, "", http.StatusNotFound)
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups/missing/members", token, `{"gaia_id":"U3"}`, http.StatusNotFound)
	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/missing/members/U3", token, "", http.StatusNotFound)

	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", token, peopleGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups/C1/members", token, `{"gaia_id":"U3","given_name":"Cara"}`, http.StatusNoContent)
	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/C1/members/U3", token, "", http.StatusNoContent)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", token, tabGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups/g1/migrate", token, `{"new_sync_id":"g2"}`, http.StatusNoContent)
	stack.mustDo(t, http.MethodDelete, "/ingest/tab-groups/g2", token, "", http.StatusNoContent)
	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/C1", token, "", http.StatusNoContent)

	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", token, "", http.StatusForbidden)
}

func TestCORSMiddlewareAllowsCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://app.example.com"}))
	router.OPTIONS("/messages/stream", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/messages/stream", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestAuthorizeRequestLogLevels(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected zapcore.Level
	}{
		{name: "expired", err: auth.ErrExpiredSessionToken, expected: zapcore.InfoLevel},
		{name: "unexpected", err: errors.New("signature mismatch"), expected: zapcore.WarnLevel},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			request := httptest.NewRequest(http.MethodGet, "/messages/stream", http.NoBody)
			request.Header.Set("Authorization", "Bearer some-token")
			ctx.Request = request

			core, logs := observer.New(zapcore.DebugLevel)
			handler := &httpHandler{
				sessions: stubSessionValidator{err: testCase.err},
				logger:   zap.New(core),
			}

			handler.authorizeRequest(ctx)

			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected exactly one log entry, got %d", len(entries))
			}
			if entries[0].Level != testCase.expected {
				t.Fatalf("expected %s level, got %s", testCase.expected, entries[0].Level)
			}
			if entries[0].Message != "session validation failed" {
				t.Fatalf("unexpected log message: %q", entries[0].Message)
			}
		})
	}
}

func TestAuthorizeRequestAcceptsQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/messages/stream?access_token=query-token", http.NoBody)

	handler := &httpHandler{
		sessions: stubSessionValidator{
			err:        auth.ErrMissingSessionToken,
			tokenValue: "query-token",
			claims:     auth.SessionClaims{UserEmail: "u@example.com"},
		},
		logger: zap.NewNop(),
	}
	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected query token to authorize the request, got %d", recorder.Code)
	}
	if sessionFromContext(ctx).UserEmail != "u@example.com" {
		t.Fatalf("expected session claims in context")
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing validator error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{SessionValidator: stubSessionValidator{}}); !errors.Is(err, errMissingSequence) {
		t.Fatalf("expected missing sequence error, got %v", err)
	}
}

type stubSessionValidator struct {
	err        error
	tokenValue string
	claims     auth.SessionClaims
}

func (s stubSessionValidator) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return auth.SessionClaims{}, s.err
}

func (s stubSessionValidator) ValidateToken(token string) (auth.SessionClaims, error) {
	if s.tokenValue != "" && token == s.tokenValue {
		return s.claims, nil
	}
	return auth.SessionClaims{}, s.err
}

func TestIngestRejectsCallersOutsideTheCollaboration(t *testing.T) {
	stack := newTestStack(t)
	alice := signSessionToken(t, "U1", tokenOptions{})
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", alice, peopleGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", alice, tabGroupC1, http.StatusOK)

	stranger := signSessionToken(t, "U9", tokenOptions{})
	testCases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "add self as owner", method: http.MethodPost, path: "/ingest/people-groups/C1/members", body: `{"gaia_id":"U9","role":"owner"}`},
		{name: "remove owner", method: http.MethodDelete, path: "/ingest/people-groups/C1/members/U1"},
		{name: "remove group", method: http.MethodDelete, path: "/ingest/people-groups/C1"},
		{name: "replace group", method: http.MethodPost, path: "/ingest/people-groups", body: peopleGroupC1},
		{name: "edit shared tab group", method: http.MethodPost, path: "/ingest/tab-groups", body: tabGroupC1WithTab},
		{name: "share private group", method: http.MethodPost, path: "/ingest/tab-groups", body: `{"sync_id":"g9","collaboration_id":"C1","title":"Mine"}`},
		{name: "remove shared tab group", method: http.MethodDelete, path: "/ingest/tab-groups/g1"},
		{name: "migrate shared tab group", method: http.MethodPost, path: "/ingest/tab-groups/g1/migrate", body: `{"new_sync_id":"g2"}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			stack.mustDo(t, testCase.method, testCase.path, stranger, testCase.body, http.StatusForbidden)
		})
	}

	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", stranger, "", http.StatusForbidden)
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", alice, "", http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", stranger,
		`{"group_id":"C7","members":[{"gaia_id":"U1","role":"owner"}]}`, http.StatusForbidden)
}

func TestIngestMemberChangesFollowRoles(t *testing.T) {
	stack := newTestStack(t)
	alice := signSessionToken(t, "U1", tokenOptions{})
	bob := signSessionToken(t, "U2", tokenOptions{})
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", alice, peopleGroupC1, http.StatusOK)

	stack.mustDo(t, http.MethodPost, "/ingest/people-groups/C1/members", bob, `{"gaia_id":"U3"}`, http.StatusForbidden)
	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/C1", bob, "", http.StatusForbidden)
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups/C1/members", bob,
		`{"gaia_id":"U2","given_name":"Bobby","role":"owner"}`, http.StatusNoContent)
	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/C1/members/U1", bob, "", http.StatusForbidden)

	member, found := groupMember(t, stack, "C1", "U2")
	if !found || member.GivenName != "Bobby" || member.Role != datasharing.MemberRoleMember {
		t.Fatalf("expected Bob to update his profile without gaining ownership, got %+v", member)
	}

	stack.mustDo(t, http.MethodDelete, "/ingest/people-groups/C1/members/U2", bob, "", http.StatusNoContent)
	stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", bob, "", http.StatusForbidden)
}

func TestIngestCreditsUpdatesToTheSessionUser(t *testing.T) {
	stack := newTestStack(t)
	alice := signSessionToken(t, "U1", tokenOptions{})
	bob := signSessionToken(t, "U2", tokenOptions{})
	stack.mustDo(t, http.MethodPost, "/ingest/people-groups", alice, peopleGroupC1, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", alice,
		`{"sync_id":"g1","collaboration_id":"C1","title":"Trip","created_by":"U1"}`, http.StatusOK)
	stack.mustDo(t, http.MethodPost, "/ingest/tab-groups", bob,
		`{"sync_id":"g1","collaboration_id":"C1","title":"Road trip","created_by":"U1"}`, http.StatusOK)

	response := decodeActivity(t, stack.mustDo(t, http.MethodGet, "/collaborations/C1/activity", alice, "", http.StatusOK))
	if len(response.Items) != 1 || response.Items[0].EventType != "TAB_GROUP_NAME_UPDATED" {
		t.Fatalf("expected a single rename item, got %+v", response.Items)
	}
	if response.Items[0].TriggeringUser == nil || response.Items[0].TriggeringUser.GaiaID != "U2" {
		t.Fatalf("expected the rename to be credited to Bob, got %+v", response.Items[0].TriggeringUser)
	}
}

func groupMember(t *testing.T, stack *testStack, groupID, gaiaID string) (datasharing.GroupMember, bool) {
	t.Helper()
	var (
		member datasharing.GroupMember
		found  bool
	)
	if err := stack.runner.Invoke(t.Context(), func() {
		if group, ok := stack.dataSharing.GetGroup(groupID); ok {
			member, found = group.Member(gaiaID)
		}
	}); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	return member, found
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/auth"
	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/messaging"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "tauth"
	testCookieName    = "app_session"
)

var testDatabaseCounter atomic.Int64

type testStack struct {
	runner      *sequence.LoopRunner
	tabGroups   *tabgroups.MemoryService
	dataSharing *datasharing.MemoryService
	messaging   *messaging.Service
	realtime    *RealtimeDispatcher
	handler     http.Handler
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:cohort_server_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	runner := sequence.NewLoopRunner(zap.NewNop())
	t.Cleanup(runner.Close)

	tabGroups := tabgroups.NewMemoryService(tabgroups.MemoryServiceConfig{})
	dataSharing, err := datasharing.NewMemoryService(datasharing.MemoryServiceConfig{Runner: runner})
	if err != nil {
		t.Fatalf("failed to construct data sharing service: %v", err)
	}
	realtime := NewRealtimeDispatcher()

	var (
		service  *messaging.Service
		buildErr error
	)
	invokeErr := runner.Invoke(context.Background(), func() {
		service, buildErr = buildMessagingService(db, runner, tabGroups, dataSharing, realtime)
		tabGroups.MarkInitialized()
		dataSharing.MarkLoaded()
	})
	if invokeErr != nil || buildErr != nil {
		t.Fatalf("failed to build messaging service: %v %v", invokeErr, buildErr)
	}
	waitForInitialization(t, runner, service)

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:        mustTestValidator(t),
		Sequence:                runner,
		MessagingService:        service,
		TabGroups:               tabGroups,
		DataSharing:             dataSharing,
		Realtime:                realtime,
		ActivityLogDefaultLimit: 50,
		JoinTimeout:             2 * time.Second,
		HeartbeatInterval:       time.Second,
		Logger:                  zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testStack{
		runner:      runner,
		tabGroups:   tabGroups,
		dataSharing: dataSharing,
		messaging:   service,
		realtime:    realtime,
		handler:     handler,
	}
}

func buildMessagingService(db *gorm.DB, runner sequence.Runner, tabGroups *tabgroups.MemoryService, dataSharing *datasharing.MemoryService, sink messaging.EventSink) (*messaging.Service, error) {
	store, err := messaging.NewSQLStore(messaging.SQLStoreConfig{Database: db, Runner: runner})
	if err != nil {
		return nil, err
	}
	tabNotifier, err := messaging.NewTabGroupChangeNotifier(messaging.TabGroupNotifierConfig{SyncService: tabGroups, Runner: runner})
	if err != nil {
		return nil, err
	}
	dataSharingNotifier, err := messaging.NewDataSharingChangeNotifier(messaging.DataSharingNotifierConfig{Service: dataSharing, Runner: runner})
	if err != nil {
		return nil, err
	}
	return messaging.NewService(messaging.ServiceConfig{
		Store:               store,
		TabGroupNotifier:    tabNotifier,
		DataSharingNotifier: dataSharingNotifier,
		TabGroups:           tabGroups,
		DataSharing:         dataSharing,
		Runner:              runner,
		IDProvider:          messaging.NewUUIDProvider(),
		Events:              sink,
	})
}

func waitForInitialization(t *testing.T, runner *sequence.LoopRunner, service *messaging.Service) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		initialized := false
		if err := runner.Invoke(context.Background(), func() {
			initialized = service.IsInitialized()
		}); err != nil {
			t.Fatalf("invoke failed: %v", err)
		}
		if initialized {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("messaging service did not initialize")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustTestValidator(t *testing.T) *auth.SessionValidator {
	t.Helper()
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

type tokenOptions struct {
	displayName string
	syncEnabled bool
}

func signSessionToken(t *testing.T, gaiaID string, options tokenOptions) string {
	t.Helper()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.SessionClaims{
		UserDisplayName: options.displayName,
		UserEmail:       gaiaID + "@example.com",
		SyncEnabled:     options.syncEnabled,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   gaiaID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (s *testStack) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testStack) mustDo(t *testing.T, method, path, token, body string, expectedStatus int) *httptest.ResponseRecorder {
	t.Helper()
	recorder := s.do(t, method, path, token, body)
	if recorder.Code != expectedStatus {
		t.Fatalf("%s %s: expected status %d, got %d (%s)", method, path, expectedStatus, recorder.Code, recorder.Body.String())
	}
	return recorder
}

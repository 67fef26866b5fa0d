package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/auth"
	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/messaging"
	"github.com/MarcoPoloResearchLab/cohort/internal/metrics"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey       = "cohort_gaia_id"
	sessionContextKey      = "cohort_session"
	accessTokenQueryParam  = "access_token"
	defaultJoinTimeout     = 10 * time.Second
	defaultHeartbeatPeriod = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSequence         = errors.New("sequence dependency required")
	errMissingMessagingService = errors.New("messaging service dependency required")
	errMissingTabGroupService  = errors.New("tab group service dependency required")
	errMissingDataSharing      = errors.New("data sharing service dependency required")
)

// SessionValidator authenticates requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// Sequence runs closures on the goroutine that owns the messaging components.
type Sequence interface {
	sequence.Runner
	Invoke(ctx context.Context, fn func()) error
}

type Dependencies struct {
	SessionValidator        SessionValidator
	Sequence                Sequence
	MessagingService        *messaging.Service
	TabGroups               *tabgroups.MemoryService
	DataSharing             *datasharing.MemoryService
	Realtime                *RealtimeDispatcher
	AllowedOrigins          []string
	ActivityLogDefaultLimit int
	JoinTimeout             time.Duration
	HeartbeatInterval       time.Duration
	Logger                  *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Sequence == nil {
		return nil, errMissingSequence
	}
	if deps.MessagingService == nil {
		return nil, errMissingMessagingService
	}
	if deps.TabGroups == nil {
		return nil, errMissingTabGroupService
	}
	if deps.DataSharing == nil {
		return nil, errMissingDataSharing
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	joinTimeout := deps.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatPeriod
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:        deps.SessionValidator,
		sequence:        deps.Sequence,
		messaging:       deps.MessagingService,
		tabGroups:       deps.TabGroups,
		dataSharing:     deps.DataSharing,
		realtime:        realtime,
		activityLimit:   deps.ActivityLogDefaultLimit,
		joinTimeout:     joinTimeout,
		heartbeatPeriod: heartbeat,
		logger:          logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/collaborations/:id/activity", handler.handleActivityLog)
	protected.POST("/collaborations/join", handler.handleJoin)
	protected.GET("/messages/stream", handler.handleMessageStream)

	ingest := protected.Group("/ingest")
	ingest.POST("/tab-groups", handler.handleUpsertTabGroup)
	ingest.DELETE("/tab-groups/:sync_id", handler.handleRemoveTabGroup)
	ingest.POST("/tab-groups/:sync_id/migrate", handler.handleMigrateTabGroup)
	ingest.POST("/people-groups", handler.handleAddPeopleGroup)
	ingest.DELETE("/people-groups/:id", handler.handleRemovePeopleGroup)
	ingest.POST("/people-groups/:id/members", handler.handleAddMember)
	ingest.DELETE("/people-groups/:id/members/:gaia_id", handler.handleRemoveMember)

	return router, nil
}

type httpHandler struct {
	sessions        SessionValidator
	sequence        Sequence
	messaging       *messaging.Service
	tabGroups       *tabgroups.MemoryService
	dataSharing     *datasharing.MemoryService
	realtime        *RealtimeDispatcher
	activityLimit   int
	joinTimeout     time.Duration
	heartbeatPeriod time.Duration
	logger          *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	initialized := false
	if err := h.sequence.Invoke(c.Request.Context(), func() {
		initialized = h.messaging.IsInitialized()
	}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"initialized": initialized})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validateSession(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.GaiaID())
	c.Set(sessionContextKey, claims)
	c.Next()
}

// validateSession accepts the session cookie, a bearer header, or an
// access_token query parameter for EventSource clients.
func (h *httpHandler) validateSession(r *http.Request) (auth.SessionClaims, error) {
	claims, err := h.sessions.ValidateRequest(r)
	if err == nil || !errors.Is(err, auth.ErrMissingSessionToken) {
		return claims, err
	}
	token := strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam))
	if token == "" {
		return auth.SessionClaims{}, err
	}
	return h.sessions.ValidateToken(token)
}

func sessionFromContext(c *gin.Context) auth.SessionClaims {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.SessionClaims{}
	}
	claims, _ := value.(auth.SessionClaims)
	return claims
}

// invoke runs fn on the sequence and writes a 503 when the sequence is gone.
func (h *httpHandler) invoke(c *gin.Context, fn func()) bool {
	if err := h.sequence.Invoke(c.Request.Context(), fn); err != nil {
		h.logger.Warn("sequence invoke failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return false
	}
	return true
}

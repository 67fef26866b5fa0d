package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/messaging"
	"github.com/gin-gonic/gin"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "cohort-backend"
)

// RealtimeDispatcher fans messaging service events out to stream
// subscribers. Events with a collaboration id reach that collaboration's
// subscribers; events without one reach everybody.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan messaging.ServiceEvent
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, collaborationID string) (<-chan messaging.ServiceEvent, func()) {
	if collaborationID == "" {
		ch := make(chan messaging.ServiceEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan messaging.ServiceEvent, d.bufferSize),
	}
	d.registerSubscriber(collaborationID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(collaborationID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers event without blocking. Slow subscribers miss events.
func (d *RealtimeDispatcher) Publish(event messaging.ServiceEvent) {
	if event.Kind == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0)
	for collaborationID, subscribers := range d.subscribers {
		if event.CollaborationID != "" && collaborationID != event.CollaborationID {
			continue
		}
		for _, subscriber := range subscribers {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of subscribers of collaborationID.
func (d *RealtimeDispatcher) SubscriberCount(collaborationID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[collaborationID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(collaborationID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[collaborationID]; !ok {
		d.subscribers[collaborationID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[collaborationID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(collaborationID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[collaborationID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, collaborationID)
		}
	}
	d.mu.Unlock()
}

type serviceEventPayload struct {
	Kind            string `json:"kind"`
	CollaborationID string `json:"collaboration_id,omitempty"`
	EventType       string `json:"event_type,omitempty"`
	MessageUUID     string `json:"message_uuid,omitempty"`
	EventTimestamp  int64  `json:"event_timestamp,omitempty"`
}

func newServiceEventPayload(event messaging.ServiceEvent) serviceEventPayload {
	return serviceEventPayload{
		Kind:            string(event.Kind),
		CollaborationID: event.CollaborationID,
		EventType:       string(event.EventType),
		MessageUUID:     event.MessageUUID,
		EventTimestamp:  event.EventTimestamp,
	}
}

func (h *httpHandler) handleMessageStream(c *gin.Context) {
	gaiaID := c.GetString(userIDContextKey)
	collaborationID := strings.TrimSpace(c.Query("collaboration_id"))
	if collaborationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_collaboration_id"})
		return
	}
	member := false
	if !h.invoke(c, func() {
		member = h.isCollaborator(collaborationID, gaiaID)
	}) {
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not_a_member"})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, collaborationID)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatPeriod)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), newServiceEventPayload(event))
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
}

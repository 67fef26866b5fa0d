package messaging

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cohort/internal/datasharing"
	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
	"github.com/MarcoPoloResearchLab/cohort/internal/tabgroups"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseCounter atomic.Int64

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cohort_messaging_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDatabaseCounter.Add(1))
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
	return db
}

func inlineExecutor(task func()) {
	task()
}

func newUninitializedStore(t *testing.T, runner sequence.Runner) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(SQLStoreConfig{
		Database:   newTestDatabase(t),
		Runner:     runner,
		Background: inlineExecutor,
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func newReadyStore(t *testing.T, runner *sequence.ManualRunner) *SQLStore {
	t.Helper()
	store := newUninitializedStore(t, runner)
	succeeded := false
	store.Initialize(func(success bool) { succeeded = success })
	runner.RunUntilIdle()
	if !succeeded {
		t.Fatalf("expected store initialization to succeed")
	}
	return store
}

type sequentialIDs struct {
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", p.next), nil
}

func fixedClock(seconds int64) func() time.Time {
	return func() time.Time { return time.Unix(seconds, 0) }
}

func newTabGroupService(t *testing.T) *tabgroups.MemoryService {
	t.Helper()
	return tabgroups.NewMemoryService(tabgroups.MemoryServiceConfig{Clock: fixedClock(1)})
}

func newDataSharingService(t *testing.T, runner sequence.Runner) *datasharing.MemoryService {
	t.Helper()
	service, err := datasharing.NewMemoryService(datasharing.MemoryServiceConfig{Runner: runner, Clock: fixedClock(1)})
	if err != nil {
		t.Fatalf("unexpected data sharing service error: %v", err)
	}
	return service
}

func tabMessage(uuid, collaborationID string, eventType EventType, timestamp int64) Message {
	return Message{
		UUID:            uuid,
		CollaborationID: collaborationID,
		EventType:       eventType,
		EventTimestamp:  timestamp,
		Tab:             &TabPayload{SyncTabID: "t-" + uuid, SyncTabGroupID: "g1", LastURL: []byte("https://example.com/" + uuid)},
	}
}

func assertEventTypes(t *testing.T, messages []Message, expected ...EventType) {
	t.Helper()
	if len(messages) != len(expected) {
		t.Fatalf("expected %d messages, got %d", len(expected), len(messages))
	}
	for index, eventType := range expected {
		if messages[index].EventType != eventType {
			t.Fatalf("expected message %d to be %s, got %s", index, eventType, messages[index].EventType)
		}
	}
}

package messaging

import (
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/cohort/internal/sequence"
)

func TestNewSQLStoreValidatesDependencies(t *testing.T) {
	if _, err := NewSQLStore(SQLStoreConfig{Runner: sequence.NewManualRunner()}); err == nil {
		t.Fatalf("expected error without database")
	} else {
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) || serviceErr.Code() != "messaging.store.new.missing_database" {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if _, err := NewSQLStore(SQLStoreConfig{Database: newTestDatabase(t)}); !errors.Is(err, errMissingRunner) {
		t.Fatalf("expected missing runner error, got %v", err)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	runner := sequence.NewManualRunner()
	store := newUninitializedStore(t, runner)

	var outcomes []bool
	store.Initialize(func(success bool) { outcomes = append(outcomes, success) })
	store.Initialize(func(success bool) { outcomes = append(outcomes, success) })
	if len(outcomes) != 0 {
		t.Fatalf("expected callbacks to be posted, got %v", outcomes)
	}
	runner.RunUntilIdle()

	store.Initialize(func(success bool) { outcomes = append(outcomes, success) })
	runner.RunUntilIdle()

	if len(outcomes) != 3 {
		t.Fatalf("expected three callbacks, got %v", outcomes)
	}
	for _, outcome := range outcomes {
		if !outcome {
			t.Fatalf("expected every callback to report success, got %v", outcomes)
		}
	}
}

func TestOperationsBeforeInitializeAreDropped(t *testing.T) {
	runner := sequence.NewManualRunner()
	store := newUninitializedStore(t, runner)

	store.AddMessage(tabMessage("early", "c1", EventTypeTabAdded, 1))
	if messages := store.GetRecentMessagesForGroup("c1"); len(messages) != 0 {
		t.Fatalf("expected no messages before init, got %d", len(messages))
	}

	store.Initialize(nil)
	runner.RunUntilIdle()
	if messages := store.GetRecentMessagesForGroup("c1"); len(messages) != 0 {
		t.Fatalf("expected early message to be dropped, got %d", len(messages))
	}
}

func TestRecentMessagesOrderedNewestFirstWithInsertionTieBreak(t *testing.T) {
	store := newReadyStore(t, sequence.NewManualRunner())

	store.AddMessage(tabMessage("m1", "c1", EventTypeTabAdded, 10))
	store.AddMessage(tabMessage("m2", "c1", EventTypeTabUpdated, 30))
	store.AddMessage(tabMessage("m3", "c1", EventTypeTabRemoved, 20))
	store.AddMessage(tabMessage("m4", "c1", EventTypeTabAdded, 30))
	store.AddMessage(tabMessage("other", "c2", EventTypeTabAdded, 99))

	messages := store.GetRecentMessagesForGroup("c1")
	expected := []string{"m2", "m4", "m3", "m1"}
	if len(messages) != len(expected) {
		t.Fatalf("expected %d messages, got %d", len(expected), len(messages))
	}
	for index, uuid := range expected {
		if messages[index].UUID != uuid {
			t.Fatalf("expected %s at %d, got %s", uuid, index, messages[index].UUID)
		}
	}
	if messages := store.GetRecentMessagesForGroup("missing"); len(messages) != 0 {
		t.Fatalf("expected empty result for unknown collaboration")
	}
}

func TestAddMessageRestoresCategoryPayload(t *testing.T) {
	store := newReadyStore(t, sequence.NewManualRunner())

	store.AddMessage(tabMessage("tab", "c1", EventTypeTabAdded, 3))
	store.AddMessage(Message{
		UUID:                 "group",
		CollaborationID:      "c1",
		EventType:            EventTypeTabGroupNameUpdated,
		EventTimestamp:       2,
		TriggeringUserGaiaID: "u1",
		TabGroup:             &TabGroupPayload{SyncTabGroupID: "g1"},
	})
	store.AddMessage(Message{
		UUID:               "member",
		CollaborationID:    "c1",
		EventType:          EventTypeCollaborationMemberAdded,
		EventTimestamp:     1,
		Dirty:              DirtyMessageOnly,
		AffectedUserGaiaID: "u2",
		Collaboration:      &CollaborationPayload{AffectedUserName: "Ada"},
	})

	messages := store.GetRecentMessagesForGroup("c1")
	assertEventTypes(t, messages, EventTypeTabAdded, EventTypeTabGroupNameUpdated, EventTypeCollaborationMemberAdded)

	tab := messages[0]
	if tab.Tab == nil || tab.TabGroup != nil || tab.Collaboration != nil {
		t.Fatalf("expected only a tab payload, got %+v", tab)
	}
	if string(tab.Tab.LastURL) != "https://example.com/tab" || tab.Tab.SyncTabGroupID != "g1" {
		t.Fatalf("unexpected tab payload %+v", tab.Tab)
	}
	group := messages[1]
	if group.TabGroup == nil || group.TabGroup.SyncTabGroupID != "g1" || group.Tab != nil {
		t.Fatalf("unexpected tab group payload %+v", group)
	}
	member := messages[2]
	if member.Collaboration == nil || member.Collaboration.AffectedUserName != "Ada" || member.Dirty != DirtyMessageOnly {
		t.Fatalf("unexpected collaboration payload %+v", member)
	}
}

func TestAddMessageRejectsUnknownEventType(t *testing.T) {
	store := newReadyStore(t, sequence.NewManualRunner())
	store.AddMessage(Message{UUID: "bad", CollaborationID: "c1", EventType: "BOGUS"})
	if messages := store.GetRecentMessagesForGroup("c1"); len(messages) != 0 {
		t.Fatalf("expected unknown event type to be dropped")
	}
}

func TestDuplicateUUIDIsDropped(t *testing.T) {
	store := newReadyStore(t, sequence.NewManualRunner())
	store.AddMessage(tabMessage("same", "c1", EventTypeTabAdded, 1))
	store.AddMessage(tabMessage("same", "c1", EventTypeTabUpdated, 2))

	messages := store.GetRecentMessagesForGroup("c1")
	assertEventTypes(t, messages, EventTypeTabAdded)
}

func TestClearDirtyFlagClearsSingleBit(t *testing.T) {
	store := newReadyStore(t, sequence.NewManualRunner())
	message := tabMessage("dirty", "c1", EventTypeTabAdded, 1)
	message.Dirty = DirtyDotAndChip | DirtyMessageOnly
	store.AddMessage(message)
	store.AddMessage(tabMessage("clean", "c1", EventTypeTabAdded, 2))

	if dirty := store.GetDirtyMessages(DirtyDotAndChip); len(dirty) != 1 || dirty[0].UUID != "dirty" {
		t.Fatalf("expected one dot-and-chip message, got %+v", dirty)
	}

	store.ClearDirtyFlag("dirty", DirtyDotAndChip)
	store.ClearDirtyFlag("unknown", DirtyDotAndChip)

	if dirty := store.GetDirtyMessages(DirtyDotAndChip); len(dirty) != 0 {
		t.Fatalf("expected dot-and-chip bit to be cleared, got %+v", dirty)
	}
	remaining := store.GetDirtyMessages(DirtyMessageOnly)
	if len(remaining) != 1 || remaining[0].Dirty != DirtyMessageOnly {
		t.Fatalf("expected message-only bit to survive, got %+v", remaining)
	}
	if messages := store.GetDirtyMessages(DirtyNone); len(messages) != 0 {
		t.Fatalf("expected no results for an empty mask")
	}
}

func TestParseEventType(t *testing.T) {
	eventType, err := ParseEventType(" tab_added ")
	if err != nil || eventType != EventTypeTabAdded {
		t.Fatalf("unexpected parse result %q %v", eventType, err)
	}
	if _, err := ParseEventType("nope"); !errors.Is(err, ErrInvalidEventType) {
		t.Fatalf("expected ErrInvalidEventType, got %v", err)
	}
}

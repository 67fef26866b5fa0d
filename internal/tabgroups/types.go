package tabgroups

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TriggerSource identifies where a tab group change originated.
type TriggerSource int

const (
	// TriggerSourceRemote marks changes that arrived through sync.
	TriggerSourceRemote TriggerSource = iota
	// TriggerSourceLocal marks changes made on this device.
	TriggerSourceLocal
)

// String returns a log friendly name.
func (source TriggerSource) String() string {
	if source == TriggerSourceLocal {
		return "local"
	}
	return "remote"
}

// Color enumerates the tab group colors.
type Color string

const (
	ColorGrey   Color = "grey"
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorPink   Color = "pink"
	ColorPurple Color = "purple"
	ColorCyan   Color = "cyan"
	ColorOrange Color = "orange"
)

// DataType names a sync channel that can be refreshed on demand.
type DataType string

// DataTypeSharedTabGroupData is the channel carrying shared tab groups.
const DataTypeSharedTabGroupData DataType = "shared_tab_group_data"

// SharedAttribution records which users created and last updated an entity.
type SharedAttribution struct {
	CreatedBy string
	UpdatedBy string
}

// SavedTabGroupTab is a tab inside a saved tab group.
type SavedTabGroupTab struct {
	SyncID       string
	GroupSyncID  string
	LocalID      string
	URL          string
	Title        string
	Attribution  SharedAttribution
	CreationTime time.Time
	UpdateTime   time.Time
}

// SavedTabGroup is a tab group as known to the sync service. A group is shared
// when it carries a collaboration id.
type SavedTabGroup struct {
	SyncID          string
	LocalID         string
	CollaborationID string
	Title           string
	Color           Color
	Attribution     SharedAttribution
	CreationTime    time.Time
	UpdateTime      time.Time
	Tabs            []SavedTabGroupTab
}

// IsShared reports whether the group belongs to a collaboration.
func (group SavedTabGroup) IsShared() bool {
	return group.CollaborationID != ""
}

// Tab returns the tab with the given sync id.
func (group SavedTabGroup) Tab(syncID string) (SavedTabGroupTab, bool) {
	normalized := NormalizeID(syncID)
	for _, tab := range group.Tabs {
		if tab.SyncID == normalized {
			return tab, true
		}
	}
	return SavedTabGroupTab{}, false
}

// Clone returns a deep copy so callers cannot alias the tab slice.
func (group SavedTabGroup) Clone() SavedTabGroup {
	clone := group
	if group.Tabs != nil {
		clone.Tabs = make([]SavedTabGroupTab, len(group.Tabs))
		copy(clone.Tabs, group.Tabs)
	}
	return clone
}

// NormalizeID returns the canonical lowercase form of a sync id. Values that
// are not uuids are trimmed and lowercased.
func NormalizeID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := uuid.Parse(trimmed); err == nil {
		return parsed.String()
	}
	return strings.ToLower(trimmed)
}

// NewSyncID issues a random sync id.
func NewSyncID() string {
	return uuid.NewString()
}

package messaging

import "github.com/MarcoPoloResearchLab/cohort/internal/datasharing"

// AttributionResolver picks the name shown for a user in a collaboration.
type AttributionResolver struct {
	dataSharing datasharing.Service
}

// NewAttributionResolver constructs a resolver backed by live membership data.
func NewAttributionResolver(dataSharing datasharing.Service) *AttributionResolver {
	return &AttributionResolver{dataSharing: dataSharing}
}

// DisplayName returns the best known name for gaiaID. Given names win over
// display names. Each pass consults live data, then eventGroup, then the
// affected user snapshot of stored when it names the same user.
func (r *AttributionResolver) DisplayName(collaborationID, gaiaID string, eventGroup *datasharing.GroupData, stored *Message) (string, bool) {
	if gaiaID == "" {
		return "", false
	}

	var live *datasharing.GroupMemberPartialData
	if r != nil && r.dataSharing != nil {
		if member, ok := r.dataSharing.GetPossiblyRemovedGroupMember(collaborationID, gaiaID); ok {
			live = &member
		}
	}

	var fromEvent *datasharing.GroupMember
	if eventGroup != nil {
		if member, ok := eventGroup.Member(gaiaID); ok {
			fromEvent = &member
		}
	}

	snapshot := ""
	if stored != nil && stored.AffectedUserGaiaID == gaiaID && stored.Collaboration != nil {
		snapshot = stored.Collaboration.AffectedUserName
	}

	if live != nil && live.GivenName != "" {
		return live.GivenName, true
	}
	if fromEvent != nil && fromEvent.GivenName != "" {
		return fromEvent.GivenName, true
	}
	if snapshot != "" {
		return snapshot, true
	}

	if live != nil && live.DisplayName != "" {
		return live.DisplayName, true
	}
	if fromEvent != nil && fromEvent.DisplayName != "" {
		return fromEvent.DisplayName, true
	}
	return "", false
}

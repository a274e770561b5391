package snapshot

import (
	"sort"

	"f0oster/groupsync/directory"

	"github.com/google/uuid"
)

// MembershipSnapshot is the full member set gathered for one sync run.
type MembershipSnapshot struct {
	// RunID identifies the sync run; it doubles as the transfer session id.
	RunID uuid.UUID `json:"run_id"`

	// SourceIDs are the groups whose nested membership was crawled.
	SourceIDs []string `json:"source_ids"`

	// DestinationID is the group being kept in sync.
	DestinationID string `json:"destination_id"`

	// Members is deduplicated by id and sorted.
	Members []directory.Object `json:"members"`

	// Exclusionary means Members lists objects to strip from the
	// destination rather than the desired membership.
	Exclusionary bool `json:"exclusionary"`
}

// New builds a snapshot, deduplicating and sorting members.
func New(runID uuid.UUID, sourceIDs []string, destinationID string, members []directory.Object, exclusionary bool) *MembershipSnapshot {
	return &MembershipSnapshot{
		RunID:         runID,
		SourceIDs:     append([]string(nil), sourceIDs...),
		DestinationID: destinationID,
		Members:       Dedupe(members),
		Exclusionary:  exclusionary,
	}
}

// Dedupe returns members with duplicate ids removed, sorted by id. The
// first occurrence of an id wins.
func Dedupe(members []directory.Object) []directory.Object {
	seen := make(map[string]struct{}, len(members))
	out := make([]directory.Object, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package diff

import "f0oster/groupsync/directory"

// Delta is the membership change computed for one run. ToAdd and ToRemove
// are disjoint and sorted by id.
type Delta struct {
	ToAdd    []directory.Object `json:"to_add"`
	ToRemove []directory.Object `json:"to_remove"`
}

func (d Delta) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

package diff

import (
	"errors"
	"fmt"
	"sort"

	"f0oster/groupsync/directory"
)

// ErrInvalidMember is returned for a member without an id.
var ErrInvalidMember = errors.New("member has empty id")

// Diff compares source membership against the destination's current
// members by id.
//
// Normally ToAdd = source - destination and ToRemove = destination - source.
// When exclusionary is set, source lists members to strip, so ToRemove =
// destination ∩ source and ToAdd is empty. Inputs may contain duplicates and
// are never modified; the result does not depend on input order.
func Diff(source, destination []directory.Object, exclusionary bool) (Delta, error) {
	src, err := index(source)
	if err != nil {
		return Delta{}, fmt.Errorf("source: %w", err)
	}
	dst, err := index(destination)
	if err != nil {
		return Delta{}, fmt.Errorf("destination: %w", err)
	}

	var delta Delta
	if exclusionary {
		delta.ToRemove = intersect(dst, src)
		return delta, nil
	}
	delta.ToAdd = subtract(src, dst)
	delta.ToRemove = subtract(dst, src)
	return delta, nil
}

func index(members []directory.Object) (map[string]directory.Object, error) {
	set := make(map[string]directory.Object, len(members))
	for _, m := range members {
		if m.ID == "" {
			return nil, ErrInvalidMember
		}
		if _, ok := set[m.ID]; !ok {
			set[m.ID] = m
		}
	}
	return set, nil
}

func subtract(a, b map[string]directory.Object) []directory.Object {
	var out []directory.Object
	for id, m := range a {
		if _, ok := b[id]; !ok {
			out = append(out, m)
		}
	}
	return sorted(out)
}

func intersect(a, b map[string]directory.Object) []directory.Object {
	var out []directory.Object
	for id, m := range a {
		if _, ok := b[id]; ok {
			out = append(out, m)
		}
	}
	return sorted(out)
}

func sorted(objs []directory.Object) []directory.Object {
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
	return objs
}

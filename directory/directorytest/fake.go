// Package directorytest provides an in-memory directory.Client for tests.
package directorytest

import (
	"context"
	"fmt"
	"sync"

	"f0oster/groupsync/directory"
)

// Call records one AddMembers/RemoveMembers invocation.
type Call struct {
	Op      string
	GroupID string
	Members []directory.Object
}

// Directory is a map-backed directory.Client. The zero value is not usable;
// call New.
type Directory struct {
	mu       sync.Mutex
	children map[string][]directory.Object
	members  map[string]map[string]bool
	missing  map[string]bool
	fetchErr map[string]error
	flaky    map[string]int
	calls    []Call
	fetches  map[string]int
}

func New() *Directory {
	return &Directory{
		children: make(map[string][]directory.Object),
		members:  make(map[string]map[string]bool),
		missing:  make(map[string]bool),
		fetchErr: make(map[string]error),
		flaky:    make(map[string]int),
		fetches:  make(map[string]int),
	}
}

// Link adds child objects to a group for GetChildren.
func (d *Directory) Link(groupID string, children ...directory.Object) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.children[groupID] = append(d.children[groupID], children...)
	return d
}

// SetMembers seeds the direct user membership of a destination group.
func (d *Directory) SetMembers(groupID string, userIDs ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		set[id] = true
	}
	d.members[groupID] = set
	return d
}

// Missing marks a member id as nonexistent for mutations.
func (d *Directory) Missing(ids ...string) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.missing[id] = true
	}
	return d
}

// FailFetch makes GetChildren(groupID) return err.
func (d *Directory) FailFetch(groupID string, err error) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetchErr[groupID] = err
	return d
}

// Flaky makes mutations of member id report transient failures for the
// first n attempts.
func (d *Directory) Flaky(id string, n int) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flaky[id] = n
	return d
}

func (d *Directory) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Fetches returns how many times GetChildren was called for groupID.
func (d *Directory) Fetches(groupID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetches[groupID]
}

func (d *Directory) Members(groupID string) map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.members[groupID]))
	for id := range d.members[groupID] {
		out[id] = true
	}
	return out
}

func (d *Directory) GetChildren(ctx context.Context, groupID string) ([]directory.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetches[groupID]++
	if err := d.fetchErr[groupID]; err != nil {
		return nil, err
	}
	if children, ok := d.children[groupID]; ok {
		out := make([]directory.Object, len(children))
		copy(out, children)
		return out, nil
	}
	var out []directory.Object
	for id := range d.members[groupID] {
		out = append(out, directory.User(id))
	}
	return out, nil
}

func (d *Directory) AddMembers(ctx context.Context, groupID string, members []directory.Object) ([]directory.MemberOutcome, error) {
	return d.mutate("add", groupID, members)
}

func (d *Directory) RemoveMembers(ctx context.Context, groupID string, members []directory.Object) ([]directory.MemberOutcome, error) {
	return d.mutate("remove", groupID, members)
}

func (d *Directory) mutate(op, groupID string, members []directory.Object) ([]directory.MemberOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batch := make([]directory.Object, len(members))
	copy(batch, members)
	d.calls = append(d.calls, Call{Op: op, GroupID: groupID, Members: batch})

	set, ok := d.members[groupID]
	if !ok {
		set = make(map[string]bool)
		d.members[groupID] = set
	}

	outcomes := make([]directory.MemberOutcome, 0, len(members))
	for _, m := range members {
		out := directory.MemberOutcome{Member: m}
		switch {
		case d.flaky[m.ID] > 0:
			d.flaky[m.ID]--
			out.Outcome = directory.OutcomeTransient
			out.Err = &directory.TransientError{Op: op, Err: fmt.Errorf("simulated failure for %s", m.ID)}
		case d.missing[m.ID]:
			out.Outcome = directory.OutcomeNotFound
			out.Err = directory.ErrNotFound
		case op == "add" && set[m.ID], op == "remove" && !set[m.ID]:
			out.Outcome = directory.OutcomeAlreadyInDesiredState
			out.Err = directory.ErrAlreadyInDesiredState
		default:
			if op == "add" {
				set[m.ID] = true
			} else {
				delete(set, m.ID)
			}
			out.Outcome = directory.OutcomeSuccess
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

package crawler

import (
	"sort"
	"sync"

	"f0oster/groupsync/directory"
)

// CycleRecord describes a group found again among its own ancestors. Path
// starts at the first occurrence of Group and ends at the group whose child
// list pointed back to it.
type CycleRecord struct {
	Group string
	Path  []string
}

// Observer receives discovery events. Implementations must be safe for
// concurrent use; events arrive from every crawl worker.
type Observer interface {
	OnUser(user directory.Object, parentGroup string)
	OnGroup(groupID string)
	OnCycle(cycle CycleRecord)
}

// EventType tags an Event.
type EventType int

const (
	UserFound EventType = iota
	GroupFound
	CycleFound
)

// Event is the channel form of an observer callback.
type Event struct {
	Type   EventType
	Object directory.Object
	Parent string
	Cycle  CycleRecord
}

// channelObserver forwards events until done is closed, after which events
// are dropped so workers never block on a consumer that went away.
type channelObserver struct {
	events chan<- Event
	done   <-chan struct{}
}

func (c channelObserver) send(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c channelObserver) OnUser(user directory.Object, parent string) {
	c.send(Event{Type: UserFound, Object: user, Parent: parent})
}

func (c channelObserver) OnGroup(groupID string) {
	c.send(Event{Type: GroupFound, Object: directory.Group(groupID)})
}

func (c channelObserver) OnCycle(cycle CycleRecord) {
	c.send(Event{Type: CycleFound, Object: directory.Group(cycle.Group), Cycle: cycle})
}

type nopObserver struct{}

func (nopObserver) OnUser(directory.Object, string) {}
func (nopObserver) OnGroup(string)                  {}
func (nopObserver) OnCycle(CycleRecord)             {}

// Collector is an Observer that accumulates deduplicated results.
type Collector struct {
	mu     sync.Mutex
	users  map[string]directory.Object
	groups map[string]struct{}
	cycles []CycleRecord
}

func NewCollector() *Collector {
	return &Collector{
		users:  make(map[string]directory.Object),
		groups: make(map[string]struct{}),
	}
}

func (c *Collector) OnUser(user directory.Object, _ string) {
	c.mu.Lock()
	c.users[user.ID] = user
	c.mu.Unlock()
}

func (c *Collector) OnGroup(groupID string) {
	c.mu.Lock()
	c.groups[groupID] = struct{}{}
	c.mu.Unlock()
}

func (c *Collector) OnCycle(cycle CycleRecord) {
	c.mu.Lock()
	c.cycles = append(c.cycles, cycle)
	c.mu.Unlock()
}

// Users returns the distinct users found, sorted by id.
func (c *Collector) Users() []directory.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]directory.Object, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Groups returns the distinct groups expanded, sorted.
func (c *Collector) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (c *Collector) Cycles() []CycleRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CycleRecord, len(c.cycles))
	copy(out, c.cycles)
	return out
}

package crawler

import "sync"

// VisitedSet records expanded groups for one crawl.
type VisitedSet struct {
	m sync.Map
}

// Add inserts id if absent and reports whether this caller inserted it.
func (s *VisitedSet) Add(id string) bool {
	_, loaded := s.m.LoadOrStore(id, struct{}{})
	return !loaded
}

func (s *VisitedSet) Has(id string) bool {
	_, ok := s.m.Load(id)
	return ok
}

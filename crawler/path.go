package crawler

// Path is an immutable singly linked list of group ids from the crawl root
// down to the current group. Push shares the receiver as the tail, so
// sibling branches reuse their common prefix without copying. The nil *Path
// is the empty path.
type Path struct {
	id     string
	parent *Path
	depth  int
}

func (p *Path) Push(id string) *Path {
	return &Path{id: id, parent: p, depth: p.Len() + 1}
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return p.depth
}

func (p *Path) Contains(id string) bool {
	for n := p; n != nil; n = n.parent {
		if n.id == id {
			return true
		}
	}
	return false
}

// Slice returns the ids ordered root first.
func (p *Path) Slice() []string {
	out := make([]string, p.Len())
	for n, i := p, p.Len()-1; n != nil; n, i = n.parent, i-1 {
		out[i] = n.id
	}
	return out
}

// From returns the segment starting at the rootmost occurrence of id, or nil
// if id is not on the path.
func (p *Path) From(id string) []string {
	ids := p.Slice()
	for i, v := range ids {
		if v == id {
			return ids[i:]
		}
	}
	return nil
}

package concil

import (
	"context"
	"sort"
)

// =============================================================================
// INDEX - Session-owned lookup cache (member -> group)
// =============================================================================

// Index caches group resolution for one session.
//
// Resolution is sticky: once a member is resolved (to a group or to none)
// it is not looked up again until Forget, Drop or Reset. Every engine path
// that attaches or detaches a member updates the index itself, so a
// transition never reads a stale entry for a member it just changed.
//
// Index is not safe for concurrent use; a session serialises its calls.
type Index struct {
	resolved map[Member]*Group // nil value: resolved, no group
	known    map[GroupID]*Group
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		resolved: make(map[Member]*Group),
		known:    make(map[GroupID]*Group),
	}
}

// Lookup returns the cached resolution for m.
func (ix *Index) Lookup(m Member) (g *Group, ok bool) {
	g, ok = ix.resolved[m]
	return g, ok
}

// Set caches g (possibly nil) as the group of m.
func (ix *Index) Set(m Member, g *Group) {
	ix.resolved[m] = g
	if g.Persisted() {
		ix.known[g.ID] = g
	}
}

// Forget drops the cached resolution of m.
func (ix *Index) Forget(m Member) {
	delete(ix.resolved, m)
}

// Remember adds g to the in-memory collection of known groups.
func (ix *Index) Remember(g *Group) *Group {
	if !g.Persisted() {
		return g
	}
	if existing, ok := ix.known[g.ID]; ok {
		return existing
	}
	ix.known[g.ID] = g
	return g
}

// Drop removes group id from the collection and forgets every member
// cached against it.
func (ix *Index) Drop(id GroupID) {
	delete(ix.known, id)
	for m, g := range ix.resolved {
		if g != nil && g.ID == id {
			delete(ix.resolved, m)
		}
	}
}

func (ix *Index) forgetUngrouped() {
	for m, g := range ix.resolved {
		if g == nil {
			delete(ix.resolved, m)
		}
	}
}

// Scan searches the known groups for one containing m.
func (ix *Index) Scan(m Member) *Group {
	for _, id := range ix.knownIDs() {
		g := ix.known[id]
		if g.HasMember(m.Kind, m.ExternalID) {
			return g
		}
	}
	return nil
}

// Known returns the known groups ordered by id.
func (ix *Index) Known() []*Group {
	ids := ix.knownIDs()
	groups := make([]*Group, len(ids))
	for i, id := range ids {
		groups[i] = ix.known[id]
	}
	return groups
}

// Reset empties the index. Called when the dataset is bulk-reloaded.
func (ix *Index) Reset() {
	ix.resolved = make(map[Member]*Group)
	ix.known = make(map[GroupID]*Group)
}

// Preload fills the collection of known groups from the store.
func (ix *Index) Preload(ctx context.Context, store Store) error {
	groups, err := store.List(ctx)
	if err != nil {
		return persistenceError("list groups", err)
	}
	for _, g := range groups {
		ix.Remember(g)
	}
	return nil
}

func (ix *Index) knownIDs() []GroupID {
	ids := make([]GroupID, 0, len(ix.known))
	for id := range ix.known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

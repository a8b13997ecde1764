package concil

import "time"

// =============================================================================
// GROUP - The persisted reconciliation record ("concil")
// =============================================================================

// GroupID is assigned by the store. Zero means "not persisted".
type GroupID int64

// Group ties entries and statement lines cleared together on one value date.
//
// INVARIANTS:
//   - ID, CreatedBy and CreatedAt are set once by Groups.Persist.
//   - A Member appears in at most one group system-wide.
//   - A persisted group always has at least one member.
type Group struct {
	ID            GroupID
	EffectiveDate Date
	CreatedBy     string
	CreatedAt     time.Time
	Members       []Member
}

// NewGroup builds an unpersisted group. Seed members are staged and written
// together with the record by Groups.Persist.
func NewGroup(date Date, seed ...Member) (*Group, error) {
	if !date.IsValid() {
		return nil, ErrInvalidDate
	}
	g := &Group{EffectiveDate: date}
	for _, m := range seed {
		if g.HasMember(m.Kind, m.ExternalID) {
			return nil, ErrDuplicateMembership
		}
		g.Members = append(g.Members, m)
	}
	return g, nil
}

// Persisted reports whether the group has a store-assigned id.
func (g *Group) Persisted() bool { return g != nil && g.ID > 0 }

// Len returns the number of members.
func (g *Group) Len() int { return len(g.Members) }

// HasMember reports whether (kind, id) is a member of g.
func (g *Group) HasMember(kind Kind, id int64) bool {
	for _, m := range g.Members {
		if m.Kind == kind && m.ExternalID == id {
			return true
		}
	}
	return false
}

// ForEachMember visits members in insertion order.
func (g *Group) ForEachMember(fn func(Member)) {
	for _, m := range g.Members {
		fn(m)
	}
}

// Clone returns a deep copy, so stores never share slices with callers.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	c := *g
	c.Members = append([]Member(nil), g.Members...)
	return &c
}

func (g *Group) removeMember(m Member) {
	for i, existing := range g.Members {
		if existing == m {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return
		}
	}
}

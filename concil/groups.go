package concil

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// GROUPS - Entity operations (create is NewGroup in group.go)
// =============================================================================

// Groups owns creation and destruction of persisted groups.
type Groups struct {
	Store Store
	Actor string
	Now   func() time.Time
}

// NewGroups returns a Groups stamping records with actor and the wall clock.
func NewGroups(store Store, actor string) *Groups {
	return &Groups{Store: store, Actor: actor, Now: time.Now}
}

// on returns a copy of gs writing through s (used inside transactions).
func (gs *Groups) on(s Store) *Groups {
	c := *gs
	c.Store = s
	return &c
}

// Persist assigns an id and writes g with its staged members.
// On failure g keeps no id and its audit fields are cleared.
func (gs *Groups) Persist(ctx context.Context, g *Group) error {
	if g.Persisted() {
		return fmt.Errorf("group %d already persisted", g.ID)
	}
	if g.Len() == 0 {
		return ErrEmptyGroup
	}
	if !g.EffectiveDate.IsValid() {
		return ErrInvalidDate
	}

	g.CreatedBy = gs.Actor
	g.CreatedAt = gs.Now().UTC().Truncate(time.Second)
	id, err := gs.Store.Insert(ctx, g.Clone())
	if err != nil {
		g.CreatedBy = ""
		g.CreatedAt = time.Time{}
		return persistenceError("insert group", err)
	}
	g.ID = id
	return nil
}

// AddMember appends m to a persisted group.
func (gs *Groups) AddMember(ctx context.Context, g *Group, m Member) error {
	if !g.Persisted() {
		return ErrGroupNotPersisted
	}
	if g.HasMember(m.Kind, m.ExternalID) {
		return ErrDuplicateMembership
	}
	if err := gs.Store.AddMember(ctx, g.ID, m); err != nil {
		return persistenceError("add member", err)
	}
	g.Members = append(g.Members, m)
	return nil
}

// Delete removes the group record.
// The caller must have detached every member first; violating this panics.
func (gs *Groups) Delete(ctx context.Context, g *Group) error {
	if g.Len() > 0 {
		panic(fmt.Sprintf("concil: delete of group %d with %d remaining members", g.ID, g.Len()))
	}
	if err := gs.Store.Delete(ctx, g.ID); err != nil {
		return persistenceError("delete group", err)
	}
	g.ID = 0
	return nil
}

// Dissolve detaches every member of g in storage, then deletes it.
func (gs *Groups) Dissolve(ctx context.Context, g *Group) error {
	members := append([]Member(nil), g.Members...)
	err := withTx(ctx, gs.Store, func(s Store) error {
		detached := g.Clone()
		for _, m := range members {
			if err := s.RemoveMember(ctx, g.ID, m); err != nil {
				return persistenceError("remove member", err)
			}
			detached.removeMember(m)
		}
		return gs.on(s).Delete(ctx, detached)
	})
	if err != nil {
		return err
	}
	g.Members = nil
	g.ID = 0
	return nil
}

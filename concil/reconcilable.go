/*
reconcilable.go - Group resolution and membership for entries and lines

PURPOSE:
  Entries and statement lines never own their group. They are resolved
  through the session Index, by (kind, external id):

    1. cached resolution for this session
    2. scan of the known groups held in memory
    3. store query by member

  The first answer, including "no group", is cached and reused until the
  dataset changes (see events.go).

OPERATIONS:
  GetGroup:        resolve and cache
  NewGroup:        create + persist seeded with the item + cache
  AttachToGroup:   join an existing group + cache
  DetachFromGroup: clear the cache, optionally dissolving the group

SEE ALSO:
  - index.go: The cache
  - lifecycle.go: Transitions built on these operations
*/
package concil

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// GetGroup resolves the group of item, or nil.
func (e *Engine) GetGroup(ctx context.Context, item Reconcilable) (*Group, error) {
	return e.resolve(ctx, e.groups.Store, item.Member())
}

func (e *Engine) resolve(ctx context.Context, s Store, m Member) (*Group, error) {
	if g, ok := e.index.Lookup(m); ok {
		return g, nil
	}

	g := e.index.Scan(m)
	if g == nil {
		found, err := s.FindByMember(ctx, m)
		if err != nil {
			return nil, persistenceError("find group by member", err)
		}
		if found != nil {
			g = e.index.Remember(found)
		}
	}

	e.index.Set(m, g)
	return g, nil
}

// NewGroup creates a group dated date with item as its first member.
// item must not already resolve to a group; violating this panics.
func (e *Engine) NewGroup(ctx context.Context, item Reconcilable, date Date) (*Group, error) {
	return e.newGroup(ctx, e.groups, item, date)
}

func (e *Engine) newGroup(ctx context.Context, gs *Groups, item Reconcilable, date Date) (*Group, error) {
	m := item.Member()
	existing, err := e.resolve(ctx, gs.Store, m)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		panic(fmt.Sprintf("concil: new group for %s which already belongs to group %d", m, existing.ID))
	}

	g, err := NewGroup(date, m)
	if err != nil {
		return nil, err
	}
	if err := gs.Persist(ctx, g); err != nil {
		return nil, err
	}
	e.index.Set(m, g)

	e.log.WithFields(logrus.Fields{
		"group":  g.ID,
		"member": m.String(),
		"date":   g.EffectiveDate.String(),
	}).Debug("group created")
	return g, nil
}

// AttachToGroup adds item to an existing group.
func (e *Engine) AttachToGroup(ctx context.Context, item Reconcilable, g *Group) error {
	return e.attach(ctx, e.groups, item, g)
}

func (e *Engine) attach(ctx context.Context, gs *Groups, item Reconcilable, g *Group) error {
	m := item.Member()
	existing, err := e.resolve(ctx, gs.Store, m)
	if err != nil {
		return err
	}
	if existing != nil {
		return &AlreadyGroupedError{Member: m, GroupID: existing.ID}
	}
	if err := gs.AddMember(ctx, g, m); err != nil {
		return err
	}
	e.index.Set(m, g)
	return nil
}

// DetachFromGroup clears the cached group of item. When g is not nil the
// group is dissolved in storage; the caller detaches the other members
// with a nil group.
func (e *Engine) DetachFromGroup(ctx context.Context, item Reconcilable, g *Group) error {
	return e.detach(ctx, e.groups, item.Member(), g)
}

func (e *Engine) detach(ctx context.Context, gs *Groups, m Member, g *Group) error {
	if g != nil {
		id := g.ID
		// A failed dissolve leaves the store intact; the dropped entries
		// are resolved again from it.
		e.index.Drop(id)
		if err := gs.Dissolve(ctx, g); err != nil {
			return err
		}
		e.log.WithFields(logrus.Fields{"group": id}).Debug("group dissolved")
	}
	e.index.Set(m, nil)
	return nil
}

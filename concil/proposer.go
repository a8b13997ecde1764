/*
proposer.go - Advisory pairing of entries and statement lines

PURPOSE:
  Suggests, for each displayed item, a parent item to show it under.
  Proposals are advisory: nothing is written to storage and no group
  membership changes until the user confirms (lifecycle.go).

ALGORITHM (per item, when it is inserted into the working set):
  1. Shared group: if the item resolves to a group, its parent is the
     first displayed item of the same group (or that item's own parent).
  2. Amount: otherwise, the first displayed, ungrouped, unpaired item of
     the opposite kind whose signed amount is exactly the negation of the
     item's signed amount.
  3. Standalone: no parent.

  Deleted entries never take part in matching. Ties in step 2 are
  resolved by display order only.

INCREMENTAL USE:
  Insert runs the algorithm for one item against what is already
  displayed, so the same item may get a different proposal depending on
  load order. Propose rebuilds a fresh working set and is idempotent for
  an unchanged input.

SEE ALSO:
  - lifecycle.go: Decline detaches a proposed child
  - reconcilable.go: Group resolution used by step 1
*/
package concil

import (
	"context"
	"fmt"
)

// MatchReason tells why a proposal has a parent.
type MatchReason string

const (
	MatchNone   MatchReason = "none"
	MatchGroup  MatchReason = "group"
	MatchAmount MatchReason = "amount"
)

// Proposal is the suggested display position of one item.
type Proposal struct {
	Item    Reconcilable
	Parent  Reconcilable // nil when standalone
	Reason  MatchReason
	GroupID GroupID // group of Item, zero if none
}

// =============================================================================
// WORKING SET - Items currently displayed
// =============================================================================

// WorkingSet holds the displayed items in display order with their
// current parent/child proposals.
type WorkingSet struct {
	rows     []*row
	byMember map[Member]*row
	declined map[[2]Member]bool
}

type row struct {
	item     Reconcilable
	parent   *row
	children []*row
	reason   MatchReason
}

// NewWorkingSet returns an empty working set.
func NewWorkingSet() *WorkingSet {
	return &WorkingSet{
		byMember: make(map[Member]*row),
		declined: make(map[[2]Member]bool),
	}
}

// Len returns the number of displayed items.
func (ws *WorkingSet) Len() int { return len(ws.rows) }

// Items returns the displayed items in display order.
func (ws *WorkingSet) Items() []Reconcilable {
	items := make([]Reconcilable, len(ws.rows))
	for i, r := range ws.rows {
		items[i] = r.item
	}
	return items
}

// Get returns the displayed item for m.
func (ws *WorkingSet) Get(m Member) (Reconcilable, bool) {
	r, ok := ws.byMember[m]
	if !ok {
		return nil, false
	}
	return r.item, true
}

// Parent returns the proposed parent of m, or nil.
func (ws *WorkingSet) Parent(m Member) Reconcilable {
	r, ok := ws.byMember[m]
	if !ok || r.parent == nil {
		return nil
	}
	return r.parent.item
}

// Remove takes m out of the working set. Its children become standalone.
func (ws *WorkingSet) Remove(m Member) bool {
	r, ok := ws.byMember[m]
	if !ok {
		return false
	}
	ws.unlink(r)
	for _, child := range r.children {
		child.parent = nil
		child.reason = MatchNone
	}
	r.children = nil

	delete(ws.byMember, m)
	for i, existing := range ws.rows {
		if existing == r {
			ws.rows = append(ws.rows[:i], ws.rows[i+1:]...)
			break
		}
	}
	return true
}

func (ws *WorkingSet) unlink(r *row) {
	if r.parent == nil {
		return
	}
	siblings := r.parent.children
	for i, c := range siblings {
		if c == r {
			r.parent.children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	r.parent = nil
	r.reason = MatchNone
}

func (r *row) paired() bool {
	return r.parent != nil || len(r.children) > 0
}

func (r *row) root() *row {
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// Put stores item without computing its proposal. An item already displayed
// keeps its position. Call Refresh afterwards.
func (ws *WorkingSet) Put(item Reconcilable) {
	m := item.Member()
	if r, ok := ws.byMember[m]; ok {
		r.item = item
		return
	}
	r := &row{item: item, reason: MatchNone}
	ws.rows = append(ws.rows, r)
	ws.byMember[m] = r
}

// =============================================================================
// PROPOSER
// =============================================================================

// Insert displays item and computes its proposal against the items
// already displayed. An item already displayed is replaced and re-proposed.
func (e *Engine) Insert(ctx context.Context, ws *WorkingSet, item Reconcilable) (Proposal, error) {
	m := item.Member()
	if !m.Kind.Valid() {
		return Proposal{}, fmt.Errorf("%w: unknown kind for %s", ErrInvalidSelection, m)
	}
	g, err := e.GetGroup(ctx, item)
	if err != nil {
		return Proposal{}, err
	}

	ws.Remove(m)
	r := &row{item: item, reason: MatchNone}
	if !isDeleted(item) {
		var parent *row
		if g != nil {
			parent, err = e.findGroupParent(ctx, ws, g.ID)
			if parent != nil {
				r.reason = MatchGroup
			}
		} else {
			parent, err = e.findAmountParent(ctx, ws, item)
			if parent != nil {
				r.reason = MatchAmount
			}
		}
		if parent != nil {
			r.parent = parent
			parent.children = append(parent.children, r)
		}
	}

	// The row stays displayed, standalone, when a parent lookup failed.
	ws.rows = append(ws.rows, r)
	ws.byMember[m] = r
	if err != nil {
		return Proposal{}, err
	}
	return proposalOf(r, g), nil
}

func (e *Engine) findGroupParent(ctx context.Context, ws *WorkingSet, id GroupID) (*row, error) {
	for _, candidate := range ws.rows {
		if isDeleted(candidate.item) {
			continue
		}
		g, err := e.GetGroup(ctx, candidate.item)
		if err != nil {
			return nil, err
		}
		if g != nil && g.ID == id {
			return candidate.root(), nil
		}
	}
	return nil, nil
}

func (e *Engine) findAmountParent(ctx context.Context, ws *WorkingSet, item Reconcilable) (*row, error) {
	m := item.Member()
	want := item.SignedAmount().Neg()
	for _, candidate := range ws.rows {
		cm := candidate.item.Member()
		if cm.Kind != m.Kind.Opposite() || isDeleted(candidate.item) || candidate.paired() {
			continue
		}
		if ws.declined[pairKey(m, cm)] {
			continue
		}
		if !candidate.item.SignedAmount().Equal(want) {
			continue
		}
		g, err := e.GetGroup(ctx, candidate.item)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return candidate, nil
		}
	}
	return nil, nil
}

// Propose computes proposals for items displayed in order, from scratch.
func (e *Engine) Propose(ctx context.Context, items []Reconcilable) ([]Proposal, error) {
	ws := NewWorkingSet()
	for _, item := range items {
		if _, err := e.Insert(ctx, ws, item); err != nil {
			return nil, err
		}
	}
	return e.Proposals(ctx, ws)
}

// Refresh recomputes every proposal of ws in display order, keeping the
// declined pairs. Call it after a transition changed group membership.
func (e *Engine) Refresh(ctx context.Context, ws *WorkingSet) error {
	items := ws.Items()
	declined := ws.declined
	*ws = *NewWorkingSet()
	ws.declined = declined
	for _, item := range items {
		if _, err := e.Insert(ctx, ws, item); err != nil {
			return err
		}
	}
	return nil
}

// Proposals returns the current proposals of ws in display order.
func (e *Engine) Proposals(ctx context.Context, ws *WorkingSet) ([]Proposal, error) {
	proposals := make([]Proposal, 0, len(ws.rows))
	for _, r := range ws.rows {
		g, err := e.GetGroup(ctx, r.item)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, proposalOf(r, g))
	}
	return proposals, nil
}

func proposalOf(r *row, g *Group) Proposal {
	p := Proposal{Item: r.item, Reason: r.reason}
	if r.parent != nil {
		p.Parent = r.parent.item
	}
	if g != nil {
		p.GroupID = g.ID
	}
	return p
}

func pairKey(a, b Member) [2]Member {
	if a.Kind > b.Kind || (a.Kind == b.Kind && a.ExternalID > b.ExternalID) {
		a, b = b, a
	}
	return [2]Member{a, b}
}

/*
lifecycle.go - Confirm, Decline and Unconfirm transitions

PURPOSE:
  Applies the user's decisions on a selection of entries and statement
  lines. Each transition validates the whole selection before issuing any
  write, then runs its writes in one store transaction: a rejected or
  failed transition leaves storage and the session cache as they were.

STATES (per selection):
  UNGROUPED  no selected item has a group
  PROPOSED   an advisory pairing exists, nothing persisted
  GROUPED    every selected item belongs to the same persisted group
  DISSOLVED  the group was deleted; its members are UNGROUPED again

TRANSITIONS:
  Confirm    UNGROUPED|PROPOSED -> GROUPED
  Decline    PROPOSED -> UNGROUPED (one proposed child only)
  Unconfirm  GROUPED -> DISSOLVED -> UNGROUPED (whole group)

EFFECTIVE DATE (Confirm, new group only):
  Value date of the first statement line in the selection, else the
  manual date. An existing group keeps its date.

IMBALANCE:
  Confirm on a selection whose debit and credit differ returns an
  ImbalancedSelectionError and writes nothing, unless AllowImbalance is set.

SEE ALSO:
  - reconcilable.go: Attach/detach primitives
  - errors.go: Outcomes
*/
package concil

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a selection.
type State string

const (
	StateUngrouped State = "ungrouped"
	StateProposed  State = "proposed"
	StateGrouped   State = "grouped"
	StateDissolved State = "dissolved"

	// StateMixed: one group plus ungrouped items; Confirm extends the group.
	StateMixed State = "mixed"
	// StateConflicting: several groups; only Unconfirm of each group applies.
	StateConflicting State = "conflicting"
)

// ConfirmOptions carries the user input of a Confirm.
type ConfirmOptions struct {
	// ManualDate is used when the selection has no statement line.
	ManualDate Date
	// AllowImbalance records the user's explicit override of the imbalance warning.
	AllowImbalance bool
}

// selectionGroups resolves a selection to its distinct groups, in order of
// first appearance, and its ungrouped items.
type selectionGroups struct {
	groups    []*Group
	ungrouped []Reconcilable
}

func (e *Engine) classify(ctx context.Context, selection []Reconcilable) (selectionGroups, error) {
	var sg selectionGroups
	seen := make(map[GroupID]bool)
	for _, item := range selection {
		g, err := e.GetGroup(ctx, item)
		if err != nil {
			return sg, err
		}
		if g == nil {
			sg.ungrouped = append(sg.ungrouped, item)
			continue
		}
		if !seen[g.ID] {
			seen[g.ID] = true
			sg.groups = append(sg.groups, g)
		}
	}
	return sg, nil
}

func (sg selectionGroups) conflict() error {
	if len(sg.groups) <= 1 {
		return nil
	}
	ids := make([]GroupID, len(sg.groups))
	for i, g := range sg.groups {
		ids[i] = g.ID
	}
	return &ConflictingGroupsError{GroupIDs: ids}
}

// StateOf reports the lifecycle state of a selection displayed in ws.
func (e *Engine) StateOf(ctx context.Context, ws *WorkingSet, selection []Reconcilable) (State, error) {
	sg, err := e.classify(ctx, selection)
	if err != nil {
		return "", err
	}
	switch {
	case len(sg.groups) > 1:
		return StateConflicting, nil
	case len(sg.groups) == 1 && len(sg.ungrouped) == 0:
		return StateGrouped, nil
	case len(sg.groups) == 1:
		return StateMixed, nil
	}
	if ws != nil {
		for _, item := range selection {
			if r, ok := ws.byMember[item.Member()]; ok && r.paired() {
				return StateProposed, nil
			}
		}
	}
	return StateUngrouped, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm groups the selection. It returns the resulting group.
func (e *Engine) Confirm(ctx context.Context, selection []Reconcilable, opts ConfirmOptions) (*Group, error) {
	if len(selection) == 0 {
		return nil, fmt.Errorf("%w: nothing selected", ErrInvalidSelection)
	}
	if err := checkDistinct(selection); err != nil {
		return nil, err
	}

	// Validation: nothing below this block may fail before the writes.
	sg, err := e.classify(ctx, selection)
	if err != nil {
		return nil, err
	}
	if err := sg.conflict(); err != nil {
		return nil, err
	}

	var existing *Group
	if len(sg.groups) == 1 {
		existing = sg.groups[0]
		if len(sg.ungrouped) == 0 {
			return existing, nil
		}
	}
	date := Date{}
	if existing == nil {
		date = effectiveDate(selection, opts.ManualDate)
		if !date.IsValid() {
			return nil, ErrNoValidDate
		}
	}
	totals := TotalsOf(selection)
	if !totals.Balanced() && !opts.AllowImbalance {
		return nil, &ImbalancedSelectionError{Totals: totals}
	}

	// Writes.
	var (
		g        = existing
		original []Member
		touched  []Member
	)
	if existing != nil {
		original = append([]Member(nil), existing.Members...)
	}
	err = withTx(ctx, e.groups.Store, func(s Store) error {
		gs := e.groups.on(s)
		pending := sg.ungrouped
		if g == nil {
			created, err := e.newGroup(ctx, gs, pending[0], date)
			if err != nil {
				return err
			}
			g = created
			touched = append(touched, pending[0].Member())
			pending = pending[1:]
		}
		for _, item := range pending {
			if err := e.attach(ctx, gs, item, g); err != nil {
				return err
			}
			touched = append(touched, item.Member())
		}
		return nil
	})
	if err != nil {
		e.rollbackConfirm(existing, g, original, touched)
		e.log.WithFields(logrus.Fields{"error": err.Error()}).Error("confirm failed")
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"group":     g.ID,
		"members":   g.Len(),
		"date":      g.EffectiveDate.String(),
		"balanced":  totals.Balanced(),
		"extending": existing != nil,
	}).Info("selection confirmed")
	return g, nil
}

// rollbackConfirm restores the session cache after a failed Confirm whose
// store writes were rolled back.
func (e *Engine) rollbackConfirm(existing, g *Group, original, touched []Member) {
	for _, m := range touched {
		e.index.Forget(m)
	}
	if existing != nil {
		existing.Members = original
		return
	}
	if g != nil && g.Persisted() {
		e.index.Drop(g.ID)
		g.ID = 0
	}
}

func effectiveDate(selection []Reconcilable, manual Date) Date {
	for _, item := range selection {
		switch v := item.(type) {
		case StatementLine:
			if v.ValueDate.IsValid() {
				return v.ValueDate
			}
		case *StatementLine:
			if v.ValueDate.IsValid() {
				return v.ValueDate
			}
		}
	}
	return manual
}

func checkDistinct(selection []Reconcilable) error {
	seen := make(map[Member]bool, len(selection))
	for _, item := range selection {
		m := item.Member()
		if !m.Kind.Valid() {
			return fmt.Errorf("%w: unknown kind for %s", ErrInvalidSelection, m)
		}
		if seen[m] {
			return fmt.Errorf("%w: %s selected twice", ErrInvalidSelection, m)
		}
		if isDeleted(item) {
			return fmt.Errorf("%w: %s is deleted", ErrInvalidSelection, m)
		}
		seen[m] = true
	}
	return nil
}

// =============================================================================
// DECLINE
// =============================================================================

// Decline detaches a single proposed child from its parent in ws.
// Nothing is persisted, so nothing is deleted.
func (e *Engine) Decline(ctx context.Context, ws *WorkingSet, selection []Reconcilable) error {
	if len(selection) != 1 {
		return fmt.Errorf("%w: decline needs exactly one item, got %d", ErrInvalidSelection, len(selection))
	}
	item := selection[0]
	m := item.Member()
	r, ok := ws.byMember[m]
	if !ok || r.parent == nil {
		return fmt.Errorf("%w: %s is not a proposed child", ErrInvalidSelection, m)
	}
	g, err := e.GetGroup(ctx, item)
	if err != nil {
		return err
	}
	if g != nil {
		return fmt.Errorf("%w: %s already belongs to group %d", ErrInvalidSelection, m, g.ID)
	}

	parent := r.parent.item.Member()
	ws.unlink(r)
	ws.declined[pairKey(m, parent)] = true
	if err := e.DetachFromGroup(ctx, item, nil); err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"member": m.String(),
		"parent": parent.String(),
	}).Info("proposal declined")
	return nil
}

// =============================================================================
// UNCONFIRM
// =============================================================================

// Unconfirm dissolves the group of the selection. Every member of the
// group is detached, including members that are not selected or not
// displayed. It returns the id of the dissolved group.
func (e *Engine) Unconfirm(ctx context.Context, selection []Reconcilable) (GroupID, error) {
	if len(selection) == 0 {
		return 0, fmt.Errorf("%w: nothing selected", ErrInvalidSelection)
	}
	sg, err := e.classify(ctx, selection)
	if err != nil {
		return 0, err
	}
	if err := sg.conflict(); err != nil {
		return 0, err
	}
	if len(sg.ungrouped) > 0 || len(sg.groups) == 0 {
		return 0, ErrIncompleteSelection
	}

	g := sg.groups[0]
	id := g.ID
	members := append([]Member(nil), g.Members...)
	err = withTx(ctx, e.groups.Store, func(s Store) error {
		gs := e.groups.on(s)
		for i, m := range members {
			dissolve := (*Group)(nil)
			if i == 0 {
				dissolve = g
			}
			if err := e.detach(ctx, gs, m, dissolve); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for _, m := range members {
			e.index.Forget(m)
		}
		e.log.WithFields(logrus.Fields{"group": id, "error": err.Error()}).Error("unconfirm failed")
		return 0, err
	}

	e.log.WithFields(logrus.Fields{
		"group":   id,
		"members": len(members),
		"state":   StateDissolved,
	}).Info("group dissolved")
	return id, nil
}

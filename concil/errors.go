/*
errors.go - Centralized error types for the reconciliation engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every rejected operation returns one of these; none escapes as a panic
  except precondition violations (see PRECONDITIONS below).

ERROR CATEGORIES:
  1. Entity errors - invalid dates, persistence failures, duplicates
  2. Selection errors - conflicting groups, incomplete selections
  3. Warnings - imbalanced selection (debit != credit)

PRECONDITIONS (panic, not errors):
  - Groups.Delete on a group that still has members
  - Engine.NewGroup on an item that already resolves to a group

USAGE:
  _, err := engine.Confirm(ctx, selection, concil.ConfirmOptions{})
  var imbalance *concil.ImbalancedSelectionError
  if errors.As(err, &imbalance) {
      // ask the user, then retry with AllowImbalance
  }

SEE ALSO:
  - lifecycle.go: Produces selection errors and warnings
  - groups.go: Produces entity errors
*/
package concil

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned when a group is created without a valid date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrPersistence is returned when the store fails to read or write.
	ErrPersistence = errors.New("persistence error")

	// ErrDuplicateMembership is returned when a member already belongs to a group.
	// It indicates a caller bug: membership must be checked before attaching.
	ErrDuplicateMembership = errors.New("duplicate group membership")

	// ErrAlreadyGrouped is returned when attaching an item that already has a group.
	ErrAlreadyGrouped = errors.New("item already belongs to a group")

	// ErrConflictingGroups is returned when a selection spans several groups.
	ErrConflictingGroups = errors.New("selection spans conflicting groups")

	// ErrIncompleteSelection is returned when unconfirming a selection that
	// also contains items without a group.
	ErrIncompleteSelection = errors.New("selection contains ungrouped items")

	// ErrNoValidDate is returned when confirm cannot derive an effective date.
	ErrNoValidDate = errors.New("no valid effective date")

	// ErrImbalancedSelection is the warning raised when debit != credit.
	ErrImbalancedSelection = errors.New("imbalanced selection")

	// ErrInvalidSelection is returned when a selection does not fit the operation.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrGroupNotFound is returned when a group id is unknown to the store.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGroupNotPersisted is returned when adding members to a group with no id.
	ErrGroupNotPersisted = errors.New("group not persisted")

	// ErrEmptyGroup is returned when persisting a group with no staged member.
	ErrEmptyGroup = errors.New("group has no member")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PersistenceError wraps a storage failure with the operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// AlreadyGroupedError names the item and the group it already belongs to.
type AlreadyGroupedError struct {
	Member  Member
	GroupID GroupID
}

func (e *AlreadyGroupedError) Error() string {
	return fmt.Sprintf("%s already belongs to group %d", e.Member, e.GroupID)
}

func (e *AlreadyGroupedError) Unwrap() error {
	return ErrAlreadyGrouped
}

// ConflictingGroupsError lists the distinct groups found in a selection.
type ConflictingGroupsError struct {
	GroupIDs []GroupID
}

func (e *ConflictingGroupsError) Error() string {
	ids := make([]string, len(e.GroupIDs))
	for i, id := range e.GroupIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("selection spans %d groups (%s)", len(e.GroupIDs), strings.Join(ids, ", "))
}

func (e *ConflictingGroupsError) Unwrap() error {
	return ErrConflictingGroups
}

// ImbalancedSelectionError is an advisory outcome of Confirm: nothing was
// written, and the caller may retry with ConfirmOptions.AllowImbalance.
type ImbalancedSelectionError struct {
	Totals Totals
}

func (e *ImbalancedSelectionError) Error() string {
	return fmt.Sprintf("imbalanced selection: debit %s, credit %s",
		e.Totals.Debit.StringFixed(2), e.Totals.Credit.StringFixed(2))
}

func (e *ImbalancedSelectionError) Unwrap() error {
	return ErrImbalancedSelection
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's selection or input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrNoValidDate) ||
		errors.Is(err, ErrConflictingGroups) ||
		errors.Is(err, ErrIncompleteSelection) ||
		errors.Is(err, ErrInvalidSelection) ||
		errors.Is(err, ErrAlreadyGrouped)
}

// IsWarning returns true for advisory outcomes that may be overridden.
func IsWarning(err error) bool {
	return errors.Is(err, ErrImbalancedSelection)
}

func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateMembership) || errors.Is(err, ErrGroupNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

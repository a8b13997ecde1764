/*
store.go - Persistence interface for reconciliation groups

PURPOSE:
  Defines the contract between the engine and the database. The store owns
  group ids and enforces the membership uniqueness invariant at the storage
  level, so a bug in the caller cannot put one member in two groups.

KEY INTERFACES:
  Store:   CRUD on groups plus lookup by member
  TxStore: Store with atomic multi-write support

ATOMICITY:
  Insert writes the group row and its first members together: a group
  with zero members is never visible in storage. Lifecycle transitions
  that touch several members run inside WithTx.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - concil/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - groups.go: Entity operations built on Store
*/
package concil

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store persists groups. Returned groups are copies owned by the caller.
type Store interface {
	// Insert assigns a new id and writes g with its members.
	// g.Members must not be empty.
	Insert(ctx context.Context, g *Group) (GroupID, error)

	// AddMember appends m to group id.
	// Returns ErrDuplicateMembership if m belongs to any group.
	AddMember(ctx context.Context, id GroupID, m Member) error

	// RemoveMember drops m from group id. Removing a non-member is a no-op.
	RemoveMember(ctx context.Context, id GroupID, m Member) error

	// Delete removes the group record. Returns ErrGroupNotFound if unknown.
	Delete(ctx context.Context, id GroupID) error

	// Get loads one group. Returns ErrGroupNotFound if unknown.
	Get(ctx context.Context, id GroupID) (*Group, error)

	// FindByMember returns the group containing m, or nil.
	FindByMember(ctx context.Context, m Member) (*Group, error)

	// List returns every group ordered by id.
	List(ctx context.Context) ([]*Group, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// withTx runs fn atomically when the store supports it.
func withTx(ctx context.Context, s Store, fn func(Store) error) error {
	if ts, ok := s.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(s)
}

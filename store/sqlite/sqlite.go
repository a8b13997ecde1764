/*
Package sqlite provides a SQLite-backed implementation of the group store.

PURPOSE:
  Implements concil.Store and concil.TxStore using SQLite. Only
  reconciliation groups are stored here; entries and statement lines
  live in the accounting database and are referenced by id.

KEY TABLES:
  concils:        One row per reconciliation group (id, date, audit)
  concil_members: (kind, external_id) pairs, one row per member

INVARIANTS ENFORCED BY THE SCHEMA:
  - idx_concil_members_unique: a member belongs to at most one group
  - ON DELETE CASCADE: deleting a group never leaves orphan members

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, like the rest of the stores.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/concil.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := concil.NewEngine(store)

SEE ALSO:
  - concil/store.go: Interface definitions
  - concil/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/concil-engine/concil"
)

// Store implements concil.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reconciliation groups
	CREATE TABLE IF NOT EXISTS concils (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		effective_date TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Group members (entries "E" and statement lines "B")
	CREATE TABLE IF NOT EXISTS concil_members (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		concil_id INTEGER NOT NULL REFERENCES concils(id) ON DELETE CASCADE,
		kind TEXT NOT NULL CHECK (kind IN ('E', 'B')),
		external_id INTEGER NOT NULL
	);

	-- CRITICAL: a member belongs to at most one group system-wide
	CREATE UNIQUE INDEX IF NOT EXISTS idx_concil_members_unique
		ON concil_members(kind, external_id);

	CREATE INDEX IF NOT EXISTS idx_concil_members_concil
		ON concil_members(concil_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// GROUP STORE (concil.Store interface)
// =============================================================================

// Insert writes the group row and its members in one transaction.
func (s *Store) Insert(ctx context.Context, g *concil.Group) (concil.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	id, err := insertGroup(ctx, sqlTx, g)
	if err != nil {
		return 0, err
	}
	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit group: %w", err)
	}
	return id, nil
}

func insertGroup(ctx context.Context, db execer, g *concil.Group) (concil.GroupID, error) {
	if g.Len() == 0 {
		return 0, concil.ErrEmptyGroup
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO concils (effective_date, created_by, created_at) VALUES (?, ?, ?)`,
		g.EffectiveDate.String(),
		g.CreatedBy,
		g.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert group: %w", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read group id: %w", err)
	}

	id := concil.GroupID(lastID)
	for _, m := range g.Members {
		if err := insertMember(ctx, db, id, m); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func insertMember(ctx context.Context, db execer, id concil.GroupID, m concil.Member) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO concil_members (concil_id, kind, external_id) VALUES (?, ?, ?)`,
		id, string(m.Kind), m.ExternalID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return concil.ErrDuplicateMembership
		}
		if isForeignKeyError(err) {
			return concil.ErrGroupNotFound
		}
		return fmt.Errorf("failed to insert member %s: %w", m, err)
	}
	return nil
}

// AddMember appends a member to an existing group.
func (s *Store) AddMember(ctx context.Context, id concil.GroupID, m concil.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertMember(ctx, s.db, id, m)
}

// RemoveMember drops a member from a group.
func (s *Store) RemoveMember(ctx context.Context, id concil.GroupID, m concil.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeMember(ctx, s.db, id, m)
}

func removeMember(ctx context.Context, db execer, id concil.GroupID, m concil.Member) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM concil_members WHERE concil_id = ? AND kind = ? AND external_id = ?`,
		id, string(m.Kind), m.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove member %s: %w", m, err)
	}
	return nil
}

// Delete removes a group. Remaining members are removed by cascade.
func (s *Store) Delete(ctx context.Context, id concil.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteGroup(ctx, s.db, id)
}

func deleteGroup(ctx context.Context, db execer, id concil.GroupID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM concils WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return concil.ErrGroupNotFound
	}
	return nil
}

// Get loads a group with its members.
func (s *Store) Get(ctx context.Context, id concil.GroupID) (*concil.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getGroup(ctx, s.db, id)
}

func getGroup(ctx context.Context, db execer, id concil.GroupID) (*concil.Group, error) {
	var (
		g                       concil.Group
		effectiveDate, createdAt string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, effective_date, created_by, created_at FROM concils WHERE id = ?`, id,
	).Scan(&g.ID, &effectiveDate, &g.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, concil.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}

	g.EffectiveDate, _ = concil.ParseDate(effectiveDate)
	g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	members, err := loadMembers(ctx, db, g.ID)
	if err != nil {
		return nil, err
	}
	g.Members = members
	return &g, nil
}

func loadMembers(ctx context.Context, db execer, id concil.GroupID) ([]concil.Member, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT kind, external_id FROM concil_members WHERE concil_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []concil.Member
	for rows.Next() {
		var (
			m    concil.Member
			kind string
		)
		if err := rows.Scan(&kind, &m.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Kind = concil.Kind(kind)
		members = append(members, m)
	}
	return members, rows.Err()
}

// FindByMember returns the group containing m, or nil.
func (s *Store) FindByMember(ctx context.Context, m concil.Member) (*concil.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByMember(ctx, s.db, m)
}

func findByMember(ctx context.Context, db execer, m concil.Member) (*concil.Group, error) {
	var id concil.GroupID
	err := db.QueryRowContext(ctx,
		`SELECT concil_id FROM concil_members WHERE kind = ? AND external_id = ?`,
		string(m.Kind), m.ExternalID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find group of %s: %w", m, err)
	}
	return getGroup(ctx, db, id)
}

// List returns every group ordered by id.
func (s *Store) List(ctx context.Context) ([]*concil.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroups(ctx, s.db)
}

func listGroups(ctx context.Context, db execer) ([]*concil.Group, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM concils ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	var ids []concil.GroupID
	for rows.Next() {
		var id concil.GroupID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]*concil.Group, 0, len(ids))
	for _, id := range ids {
		g, err := getGroup(ctx, db, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// =============================================================================
// TRANSACTIONAL STORE (concil.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store concil.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Insert(ctx context.Context, g *concil.Group) (concil.GroupID, error) {
	return insertGroup(ctx, ts.tx, g)
}

func (ts *txStore) AddMember(ctx context.Context, id concil.GroupID, m concil.Member) error {
	return insertMember(ctx, ts.tx, id, m)
}

func (ts *txStore) RemoveMember(ctx context.Context, id concil.GroupID, m concil.Member) error {
	return removeMember(ctx, ts.tx, id, m)
}

func (ts *txStore) Delete(ctx context.Context, id concil.GroupID) error {
	return deleteGroup(ctx, ts.tx, id)
}

func (ts *txStore) Get(ctx context.Context, id concil.GroupID) (*concil.Group, error) {
	return getGroup(ctx, ts.tx, id)
}

func (ts *txStore) FindByMember(ctx context.Context, m concil.Member) (*concil.Group, error) {
	return findByMember(ctx, ts.tx, m)
}

func (ts *txStore) List(ctx context.Context) ([]*concil.Group, error) {
	return listGroups(ctx, ts.tx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all groups (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"concil_members", "concils"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

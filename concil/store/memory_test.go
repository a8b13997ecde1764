package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/concil-engine/concil"
)

var (
	e1  = concil.Member{Kind: concil.KindEntry, ExternalID: 1}
	e2  = concil.Member{Kind: concil.KindEntry, ExternalID: 2}
	b10 = concil.Member{Kind: concil.KindStatementLine, ExternalID: 10}
)

func seedGroup(t *testing.T, members ...concil.Member) *concil.Group {
	t.Helper()
	g, err := concil.NewGroup(concil.NewDate(2025, 3, 1), members...)
	require.NoError(t, err)
	return g
}

func TestMemory_InsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.Insert(ctx, seedGroup(t, e1))
	require.NoError(t, err)
	assert.Equal(t, concil.GroupID(1), id)

	_, err = m.Insert(ctx, seedGroup(t, b10, e1))
	assert.ErrorIs(t, err, concil.ErrDuplicateMembership)

	found, err := m.FindByMember(ctx, b10)
	require.NoError(t, err)
	assert.Nil(t, found)

	_, err = m.Insert(ctx, &concil.Group{EffectiveDate: concil.NewDate(2025, 3, 1)})
	assert.ErrorIs(t, err, concil.ErrEmptyGroup)
}

func TestMemory_MembershipOperations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.Insert(ctx, seedGroup(t, e1))
	require.NoError(t, err)

	require.NoError(t, m.AddMember(ctx, id, b10))
	assert.ErrorIs(t, m.AddMember(ctx, id, b10), concil.ErrDuplicateMembership)
	assert.ErrorIs(t, m.AddMember(ctx, 99, e2), concil.ErrGroupNotFound)

	g, err := m.FindByMember(ctx, b10)
	require.NoError(t, err)
	assert.Equal(t, []concil.Member{e1, b10}, g.Members)

	// Stored groups are copies.
	g.Members = nil
	again, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, again.Members, 2)

	require.NoError(t, m.RemoveMember(ctx, id, e1))
	found, err := m.FindByMember(ctx, e1)
	require.NoError(t, err)
	assert.Nil(t, found)

	require.NoError(t, m.Delete(ctx, id))
	_, err = m.Get(ctx, id)
	assert.ErrorIs(t, err, concil.ErrGroupNotFound)
	assert.ErrorIs(t, m.Delete(ctx, id), concil.ErrGroupNotFound)
	found, err = m.FindByMember(ctx, b10)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemory_ListOrderedByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, member := range []concil.Member{e1, e2, b10} {
		_, err := m.Insert(ctx, seedGroup(t, member))
		require.NoError(t, err)
	}

	groups, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	for i, g := range groups {
		assert.Equal(t, concil.GroupID(i+1), g.ID)
	}
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A stored group
	// WHEN: A transaction adds a member and deletes the group, then fails
	// THEN: The store is exactly as before, ids included

	ctx := context.Background()
	tm := NewTxMemory()
	id, err := tm.Insert(ctx, seedGroup(t, e1))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = tm.WithTx(ctx, func(s concil.Store) error {
		if err := s.AddMember(ctx, id, b10); err != nil {
			return err
		}
		if _, err := s.Insert(ctx, seedGroup(t, e2)); err != nil {
			return err
		}
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	g, err := tm.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []concil.Member{e1}, g.Members)
	found, err := tm.FindByMember(ctx, e2)
	require.NoError(t, err)
	assert.Nil(t, found)

	next, err := tm.Insert(ctx, seedGroup(t, e2))
	require.NoError(t, err)
	assert.Equal(t, id+1, next)
}

func TestTxMemory_CommitOnSuccess(t *testing.T) {
	ctx := context.Background()
	tm := NewTxMemory()

	var id concil.GroupID
	err := tm.WithTx(ctx, func(s concil.Store) error {
		var err error
		id, err = s.Insert(ctx, seedGroup(t, e1))
		if err != nil {
			return err
		}
		return s.AddMember(ctx, id, b10)
	})
	require.NoError(t, err)

	g, err := tm.FindByMember(ctx, b10)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, id, g.ID)
}

// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/concil-engine/concil"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	groups  map[concil.GroupID]*concil.Group
	members map[concil.Member]concil.GroupID
	nextID  concil.GroupID
}

func NewMemory() *Memory {
	return &Memory{
		groups:  make(map[concil.GroupID]*concil.Group),
		members: make(map[concil.Member]concil.GroupID),
		nextID:  1,
	}
}

// Insert assigns the next id and stores g with its members.
func (m *Memory) Insert(_ context.Context, g *concil.Group) (concil.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(g)
}

func (m *Memory) insertLocked(g *concil.Group) (concil.GroupID, error) {
	if g.Len() == 0 {
		return 0, concil.ErrEmptyGroup
	}
	// Check every member first (atomic check)
	for _, member := range g.Members {
		if _, taken := m.members[member]; taken {
			return 0, concil.ErrDuplicateMembership
		}
	}

	id := m.nextID
	m.nextID++
	stored := g.Clone()
	stored.ID = id
	m.groups[id] = stored
	for _, member := range stored.Members {
		m.members[member] = id
	}
	return id, nil
}

func (m *Memory) AddMember(_ context.Context, id concil.GroupID, member concil.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addMemberLocked(id, member)
}

func (m *Memory) addMemberLocked(id concil.GroupID, member concil.Member) error {
	g, ok := m.groups[id]
	if !ok {
		return concil.ErrGroupNotFound
	}
	if _, taken := m.members[member]; taken {
		return concil.ErrDuplicateMembership
	}
	g.Members = append(g.Members, member)
	m.members[member] = id
	return nil
}

func (m *Memory) RemoveMember(_ context.Context, id concil.GroupID, member concil.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeMemberLocked(id, member)
}

func (m *Memory) removeMemberLocked(id concil.GroupID, member concil.Member) error {
	g, ok := m.groups[id]
	if !ok {
		return concil.ErrGroupNotFound
	}
	if m.members[member] != id {
		return nil
	}
	delete(m.members, member)
	kept := g.Members[:0]
	for _, existing := range g.Members {
		if existing != member {
			kept = append(kept, existing)
		}
	}
	g.Members = kept
	return nil
}

func (m *Memory) Delete(_ context.Context, id concil.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id concil.GroupID) error {
	g, ok := m.groups[id]
	if !ok {
		return concil.ErrGroupNotFound
	}
	for _, member := range g.Members {
		delete(m.members, member)
	}
	delete(m.groups, id)
	return nil
}

func (m *Memory) Get(_ context.Context, id concil.GroupID) (*concil.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id concil.GroupID) (*concil.Group, error) {
	g, ok := m.groups[id]
	if !ok {
		return nil, concil.ErrGroupNotFound
	}
	return g.Clone(), nil
}

func (m *Memory) FindByMember(_ context.Context, member concil.Member) (*concil.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(member), nil
}

func (m *Memory) findLocked(member concil.Member) *concil.Group {
	id, ok := m.members[member]
	if !ok {
		return nil
	}
	return m.groups[id].Clone()
}

func (m *Memory) List(_ context.Context) ([]*concil.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(), nil
}

func (m *Memory) listLocked() []*concil.Group {
	result := make([]*concil.Group, 0, len(m.groups))
	for _, g := range m.groups {
		result = append(result, g.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(concil.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	groups := make(map[concil.GroupID]*concil.Group, len(tm.groups))
	for id, g := range tm.groups {
		groups[id] = g.Clone()
	}
	members := make(map[concil.Member]concil.GroupID, len(tm.members))
	for k, v := range tm.members {
		members[k] = v
	}
	return memorySnapshot{groups: groups, members: members, nextID: tm.nextID}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.groups = s.groups
	tm.members = s.members
	tm.nextID = s.nextID
}

type memorySnapshot struct {
	groups  map[concil.GroupID]*concil.Group
	members map[concil.Member]concil.GroupID
	nextID  concil.GroupID
}

// txMemoryView writes through the parent while its lock is held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) Insert(_ context.Context, g *concil.Group) (concil.GroupID, error) {
	return tv.parent.insertLocked(g)
}

func (tv *txMemoryView) AddMember(_ context.Context, id concil.GroupID, member concil.Member) error {
	return tv.parent.addMemberLocked(id, member)
}

func (tv *txMemoryView) RemoveMember(_ context.Context, id concil.GroupID, member concil.Member) error {
	return tv.parent.removeMemberLocked(id, member)
}

func (tv *txMemoryView) Delete(_ context.Context, id concil.GroupID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txMemoryView) Get(_ context.Context, id concil.GroupID) (*concil.Group, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) FindByMember(_ context.Context, member concil.Member) (*concil.Group, error) {
	return tv.parent.findLocked(member), nil
}

func (tv *txMemoryView) List(_ context.Context) ([]*concil.Group, error) {
	return tv.parent.listLocked(), nil
}

package concil_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/concil-engine/concil"
	"github.com/warp/concil-engine/concil/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, time.March, 20, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*concil.Engine, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	return newTestEngineOn(s), s
}

func newTestEngineOn(s concil.Store) *concil.Engine {
	return concil.NewEngine(s,
		concil.WithActor("alice"),
		concil.WithClock(func() time.Time { return fixedNow }),
	)
}

func march(day int) concil.Date {
	return concil.NewDate(2025, time.March, day)
}

func debit(id int64, amount string, date concil.Date) concil.Entry {
	return concil.Entry{ID: id, Account: "512", Debit: concil.MustParseDecimal(amount), Credit: concil.MustParseDecimal("0"), EffectDate: date}
}

func credit(id int64, amount string, date concil.Date) concil.Entry {
	return concil.Entry{ID: id, Account: "512", Debit: concil.MustParseDecimal("0"), Credit: concil.MustParseDecimal(amount), EffectDate: date}
}

func line(id int64, amount string, date concil.Date) concil.StatementLine {
	return concil.StatementLine{ID: id, BatID: 1, Amount: concil.MustParseDecimal(amount), ValueDate: date}
}

func items(xs ...concil.Reconcilable) []concil.Reconcilable { return xs }

// confirmed groups xs through the engine and fails the test on error.
func confirmed(t *testing.T, e *concil.Engine, xs ...concil.Reconcilable) *concil.Group {
	t.Helper()
	g, err := e.Confirm(context.Background(), xs, concil.ConfirmOptions{ManualDate: march(1), AllowImbalance: true})
	require.NoError(t, err)
	return g
}

func groupIDOf(t *testing.T, e *concil.Engine, item concil.Reconcilable) concil.GroupID {
	t.Helper()
	g, err := e.GetGroup(context.Background(), item)
	require.NoError(t, err)
	if g == nil {
		return 0
	}
	return g.ID
}

// failingStore wraps a transactional store and fails chosen writes made
// inside transactions.
type failingStore struct {
	concil.TxStore
	failAddMember bool
	failDelete    bool
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) WithTx(ctx context.Context, fn func(concil.Store) error) error {
	return f.TxStore.WithTx(ctx, func(s concil.Store) error {
		return fn(&failingView{Store: s, parent: f})
	})
}

type failingView struct {
	concil.Store
	parent *failingStore
}

func (v *failingView) AddMember(ctx context.Context, id concil.GroupID, m concil.Member) error {
	if v.parent.failAddMember {
		return errDiskFull
	}
	return v.Store.AddMember(ctx, id, m)
}

func (v *failingView) Delete(ctx context.Context, id concil.GroupID) error {
	if v.parent.failDelete {
		return errDiskFull
	}
	return v.Store.Delete(ctx, id)
}

// flakyReads fails FindByMember while fail is set.
type flakyReads struct {
	concil.TxStore
	fail bool
}

func (f *flakyReads) FindByMember(ctx context.Context, m concil.Member) (*concil.Group, error) {
	if f.fail {
		return nil, errDiskFull
	}
	return f.TxStore.FindByMember(ctx, m)
}

package concil

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// ENGINE - One reconciliation session
// =============================================================================

// Engine runs the reconciliation operations of one session: it resolves
// groups through its Index, proposes pairings, applies lifecycle
// transitions through Groups, and computes the reconciled balance.
//
// An Engine is driven from a single thread of control.
type Engine struct {
	groups *Groups
	index  *Index
	log    logrus.FieldLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithIndex injects a lookup cache shared with the caller.
func WithIndex(ix *Index) Option {
	return func(e *Engine) { e.index = ix }
}

// WithLogger sets the logger used for transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithActor sets the CreatedBy stamp of new groups.
func WithActor(actor string) Option {
	return func(e *Engine) { e.groups.Actor = actor }
}

// WithClock overrides the CreatedAt clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.groups.Now = now }
}

// NewEngine returns an engine writing groups to store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		groups: NewGroups(store, "system"),
		index:  NewIndex(),
		log:    discardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Index returns the session cache.
func (e *Engine) Index() *Index { return e.index }

// Groups returns the entity operations.
func (e *Engine) Groups() *Groups { return e.groups }

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

package concil

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// DATASET EVENTS - Synchronous change notifications
// =============================================================================

// EventType is the kind of dataset change.
type EventType string

const (
	EventCreated      EventType = "created"
	EventUpdated      EventType = "updated"
	EventDeleted      EventType = "deleted"
	EventGroupChanged EventType = "group_changed"
	EventReloaded     EventType = "reloaded"
)

// ParseEventType validates s.
func ParseEventType(s string) (EventType, error) {
	switch t := EventType(s); t {
	case EventCreated, EventUpdated, EventDeleted, EventGroupChanged, EventReloaded:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event describes one change. Member is set for item events, GroupID for
// EventGroupChanged; EventReloaded carries neither.
type Event struct {
	Type    EventType
	Member  Member
	GroupID GroupID
}

// Observer is notified of dataset changes before the display is refreshed.
type Observer interface {
	Notify(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

func (f ObserverFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Dispatcher delivers events to its observers in subscription order, on
// the caller's goroutine. Delivery stops at the first error.
type Dispatcher struct {
	observers []Observer
}

// Subscribe appends o to the delivery list.
func (d *Dispatcher) Subscribe(o Observer) {
	d.observers = append(d.observers, o)
}

// Publish delivers ev to every observer.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	for _, o := range d.observers {
		if err := o.Notify(ctx, ev); err != nil {
			return fmt.Errorf("deliver %s event: %w", ev.Type, err)
		}
	}
	return nil
}

// Notify invalidates the session cache for ev. A deleted entry keeps its
// historical group membership in storage; only the cache entry is dropped.
func (e *Engine) Notify(_ context.Context, ev Event) error {
	switch ev.Type {
	case EventCreated, EventUpdated, EventDeleted:
		e.index.Forget(ev.Member)
	case EventGroupChanged:
		// Members may have joined the group while cached as ungrouped.
		e.index.Drop(ev.GroupID)
		e.index.forgetUngrouped()
	case EventReloaded:
		e.index.Reset()
		e.log.WithFields(logrus.Fields{"event": ev.Type}).Info("dataset reloaded, cache reset")
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

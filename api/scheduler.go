/*
scheduler.go - Idle session reaper

PURPOSE:
  Sessions hold an engine, a membership cache and a working set in memory.
  Clients that never call DELETE /api/sessions/{id} would leak them, so a
  background goroutine periodically closes sessions idle longer than a TTL.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A session is used whenever a request resolves it (see Handler.session)
  - Closing a session only drops memory; persisted groups are untouched

CONFIGURATION:
  - CheckInterval: How often to check (CONCIL_REAP_INTERVAL, default 5m)
  - TTL: Idle time before a session is closed (CONCIL_SESSION_TTL, default 1h)
  - A zero TTL disables the reaper

USAGE:
  reaper := NewSessionReaper(handler, ttl)
  reaper.Start()
  // ... later
  reaper.Stop()

SEE ALSO:
  - session.go: Session lifecycle
  - cmd/server/main.go: Wiring
*/
package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionReaper closes idle sessions.
type SessionReaper struct {
	Handler       *Handler
	TTL           time.Duration
	CheckInterval time.Duration

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionReaper creates a reaper for h's sessions.
func NewSessionReaper(h *Handler, ttl time.Duration) *SessionReaper {
	return &SessionReaper{
		Handler:       h,
		TTL:           ttl,
		CheckInterval: 5 * time.Minute,
		now:           time.Now,
	}
}

// Start begins the reaper.
func (sr *SessionReaper) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	log := sr.Handler.Log.WithField("module", "reaper")
	if sr.TTL <= 0 {
		log.Info("session reaper disabled")
		return
	}
	if sr.ticker != nil {
		return
	}

	sr.stop = make(chan struct{})
	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.wg.Add(1)
	go sr.run(sr.ticker, sr.stop)

	log.WithFields(logrus.Fields{
		"interval": sr.CheckInterval.String(),
		"ttl":      sr.TTL.String(),
	}).Info("session reaper started")
}

// Stop stops the reaper and waits for a running sweep.
func (sr *SessionReaper) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		sr.ticker = nil
		sr.Handler.Log.WithField("module", "reaper").Info("session reaper stopped")
	}
}

func (sr *SessionReaper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer sr.wg.Done()

	for {
		select {
		case <-ticker.C:
			sr.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow closes every session idle for longer than the TTL and returns
// how many were closed.
func (sr *SessionReaper) RunNow() int {
	cutoff := sr.now().Add(-sr.TTL)
	h := sr.Handler

	h.mu.Lock()
	var closed []string
	for id, s := range h.sessions {
		if s.idleSince().Before(cutoff) {
			delete(h.sessions, id)
			closed = append(closed, id)
		}
	}
	remaining := len(h.sessions)
	h.mu.Unlock()

	if len(closed) > 0 {
		h.Log.WithFields(logrus.Fields{
			"module":    "reaper",
			"closed":    len(closed),
			"remaining": remaining,
		}).Info("idle sessions closed")
	}
	return len(closed)
}

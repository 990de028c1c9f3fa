package conductor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timerEntry tracks a running timer
type timerEntry struct {
	timer    *time.Timer
	duration time.Duration
	action   func() error
}

// timers runs one named timer per node. When a timer fires its action is
// called; a failing action restarts the timer for a retry.
type timers struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*timerEntry
	logger  *slog.Logger
	closed  bool
}

func newTimers(logger *slog.Logger) *timers {
	return &timers{
		entries: make(map[uuid.UUID]*timerEntry),
		logger:  logger,
	}
}

// start starts the timer for id, replacing any running one. Nothing is
// started once stopAll has run.
func (t *timers) start(id uuid.UUID, duration time.Duration, action func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	if existing, ok := t.entries[id]; ok {
		existing.timer.Stop()
		delete(t.entries, id)
	}

	var entry *timerEntry
	entry = &timerEntry{
		duration: duration,
		action:   action,
		timer: time.AfterFunc(duration, func() {
			t.mu.Lock()
			// The timer may have been stopped or replaced meanwhile
			if t.entries[id] != entry {
				t.mu.Unlock()
				return
			}
			delete(t.entries, id)
			t.mu.Unlock()

			t.logger.Debug("timer fired", "node", id)
			if err := action(); err != nil {
				t.logger.Debug("timer action failed, restarting timer", "node", id, "error", err)
				t.start(id, duration, action)
			}
		}),
	}
	t.entries[id] = entry

	t.logger.Debug("timer started", "node", id, "duration", duration)
}

// stop stops the timer for id. No-op if none is running.
func (t *timers) stop(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[id]; ok {
		entry.timer.Stop()
		delete(t.entries, id)
		t.logger.Debug("timer stopped", "node", id)
	}
}

// stopAll stops all running timers for good
func (t *timers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true

	for id, entry := range t.entries {
		entry.timer.Stop()
		t.logger.Debug("timer stopped (cleanup)", "node", id)
	}
	t.entries = make(map[uuid.UUID]*timerEntry)
}

// active checks if a timer is running for id
func (t *timers) active(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

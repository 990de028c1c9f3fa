package conductor

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// locks hands out exclusive, non-blocking per-node locks. Contention is an
// error for the caller rather than a wait.
type locks struct {
	mu   sync.Mutex
	held map[uuid.UUID]string
}

func newLocks() *locks {
	return &locks{held: make(map[uuid.UUID]string)}
}

// acquire takes the lock for id on behalf of purpose. The returned function
// releases it.
func (l *locks) acquire(id uuid.UUID, purpose string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, ok := l.held[id]; ok {
		return nil, fmt.Errorf("%w: %s (held for %s)", ErrNodeLocked, id, holder)
	}
	l.held[id] = purpose
	return func() {
		l.mu.Lock()
		delete(l.held, id)
		l.mu.Unlock()
	}, nil
}

func (l *locks) isLocked(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

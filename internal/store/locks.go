package store

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a path lock cannot be acquired within the
// configured bound. Callers log and skip the cycle; the next trigger retries.
var ErrLockTimeout = errors.New("lock timeout")

// LockManager provides in-process advisory locking keyed by file path,
// guarding the read-modify-write cycle of the record store. A lock held
// longer than maxHold is treated as abandoned and force-reassigned: liveness
// over strict mutual exclusion.
type LockManager struct {
	mu      sync.Mutex
	held    map[string]lockHold
	next    uint64
	timeout time.Duration
	maxHold time.Duration
}

// lockHold identifies one acquisition: the token handed to the caller and
// when the hold began.
type lockHold struct {
	token uint64
	at    time.Time
}

// NewLockManager creates a lock manager with the given acquisition timeout
// and stale-hold threshold.
func NewLockManager(timeout, maxHold time.Duration) *LockManager {
	return &LockManager{
		held:    make(map[string]lockHold),
		timeout: timeout,
		maxHold: maxHold,
	}
}

// Acquire busy-waits with small randomized backoff until the path is free or
// the timeout elapses. A stale holder is force-released and the lock
// reassigned to the caller. The returned token identifies this acquisition
// and must be passed back to Release.
func (m *LockManager) Acquire(path string) (uint64, error) {
	deadline := time.Now().Add(m.timeout)
	for {
		m.mu.Lock()
		h, taken := m.held[path]
		if !taken || time.Since(h.at) > m.maxHold {
			m.next++
			token := m.next
			m.held[path] = lockHold{token: token, at: time.Now()}
			m.mu.Unlock()
			return token, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("acquiring lock for %s: %w", path, ErrLockTimeout)
		}

		// Randomized so competing waiters don't wake in lockstep
		time.Sleep(10*time.Millisecond + time.Duration(rand.Intn(30))*time.Millisecond)
	}
}

// Release frees the path lock when token still identifies the current
// holder. A holder whose lock was reassigned after exceeding maxHold carries
// a dead token; releasing it must not evict the new holder, so a mismatched
// or unheld release is a no-op.
func (m *LockManager) Release(path string, token uint64) {
	m.mu.Lock()
	if h, ok := m.held[path]; ok && h.token == token {
		delete(m.held, path)
	}
	m.mu.Unlock()
}

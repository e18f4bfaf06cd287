package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process limiter with the same window and lockout rules as
// PG. Counters are lost on restart and not shared between replicas.
type Memory struct {
	mu       sync.Mutex
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
	entries  map[string]*memEntry
	swept    time.Time
}

type memEntry struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
		entries:  make(map[string]*memEntry),
	}
}

func memKey(subject string, ipHash []byte) string { return subject + "\x00" + string(ipHash) }

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[memKey(subject, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success implements Limiter.
func (m *Memory) Success(_ context.Context, subject string, ipHash []byte) error {
	m.mu.Lock()
	delete(m.entries, memKey(subject, ipHash))
	m.mu.Unlock()
	return nil
}

// idle reports whether an entry carries neither a live window nor a block.
func (m *Memory) idle(e *memEntry, now time.Time) bool {
	return now.Sub(e.updatedAt) > m.window && !e.blockedUntil.After(now)
}

// sweep drops idle entries at most once per window. Callers hold mu.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.swept) < m.window {
		return
	}
	m.swept = now
	for k, e := range m.entries {
		if m.idle(e, now) {
			delete(m.entries, k)
		}
	}
}

// Failure implements Limiter. A stale window restarts the count but keeps
// any block still in force.
func (m *Memory) Failure(_ context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	k := memKey(subject, ipHash)
	e, ok := m.entries[k]
	if !ok {
		e = &memEntry{}
		m.entries[k] = e
	} else if now.Sub(e.updatedAt) > m.window {
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= m.maxFails {
		e.blockedUntil = now.Add(m.blockFor)
	}
	if e.blockedUntil.After(now) {
		return true, e.blockedUntil.Sub(now), nil
	}
	return false, 0, nil
}

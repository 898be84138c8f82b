// Package latch provides the in-process synchronization used by the buffer
// log: per-page shared/exclusive latches and the two index-scoped locks that
// serialize appends and flushes.
package latch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/vecbuf/model"
)

// Table hands out one RWMutex per page address.
type Table struct {
	mu      sync.Mutex
	latches map[model.PageAddr]*sync.RWMutex
}

// NewTable creates an empty latch table.
func NewTable() *Table {
	return &Table{latches: make(map[model.PageAddr]*sync.RWMutex)}
}

func (t *Table) get(addr model.PageAddr) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.latches[addr]
	if !ok {
		l = &sync.RWMutex{}
		t.latches[addr] = l
	}
	return l
}

// Share takes a shared latch on addr and returns its release function.
func (t *Table) Share(addr model.PageAddr) (release func()) {
	l := t.get(addr)
	l.RLock()
	return l.RUnlock
}

// Exclusive takes an exclusive latch on addr and returns its release function.
func (t *Table) Exclusive(addr model.PageAddr) (release func()) {
	l := t.get(addr)
	l.Lock()
	return l.Unlock
}

// Locks holds the append and flush locks of one index instance.
type Locks struct {
	appendMu sync.Mutex
	flushSem *semaphore.Weighted
}

// NewLocks creates the lock pair.
func NewLocks() *Locks {
	return &Locks{flushSem: semaphore.NewWeighted(1)}
}

// LockAppend blocks until the append lock is held.
func (l *Locks) LockAppend() { l.appendMu.Lock() }

// UnlockAppend releases the append lock.
func (l *Locks) UnlockAppend() { l.appendMu.Unlock() }

// TryLockFlush takes the flush lock if it is free and reports whether it did.
func (l *Locks) TryLockFlush() bool { return l.flushSem.TryAcquire(1) }

// LockFlush blocks until the flush lock is held or ctx is done.
func (l *Locks) LockFlush(ctx context.Context) error { return l.flushSem.Acquire(ctx, 1) }

// UnlockFlush releases the flush lock.
func (l *Locks) UnlockFlush() { l.flushSem.Release(1) }

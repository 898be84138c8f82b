package pagestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
)

// MemoryStore keeps pages in a growable slice. Commits are atomic because
// they are applied under one lock after validation; InjectCommitFailure
// simulates a crash before the commit becomes durable.
type MemoryStore struct {
	mu       sync.RWMutex
	pageSize int
	pages    [][]byte
	commits  int
	failures []error
	closed   bool
}

// NewMemoryStore creates an empty store. A zero pageSize selects
// page.DefaultPageSize.
func NewMemoryStore(pageSize int) *MemoryStore {
	if pageSize == 0 {
		pageSize = page.DefaultPageSize
	}
	return &MemoryStore{pageSize: pageSize}
}

// InjectCommitFailure makes the next Commit fail with err without applying
// any write. Repeated calls queue further failures.
func (m *MemoryStore) InjectCommitFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// Commits returns the number of successful commits.
func (m *MemoryStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

func (m *MemoryStore) PageSize() int { return m.pageSize }

func (m *MemoryStore) NumPages(_ context.Context) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint32(len(m.pages)), nil
}

func (m *MemoryStore) ReadPage(_ context.Context, addr model.PageAddr) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !addr.IsValid() || int(addr) >= len(m.pages) {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, addr)
	}
	img := make([]byte, m.pageSize)
	copy(img, m.pages[addr])
	return img, nil
}

func (m *MemoryStore) Commit(_ context.Context, writes []PageWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}

	n, err := validateWrites(uint32(len(m.pages)), m.pageSize, writes)
	if err != nil {
		return err
	}
	for uint32(len(m.pages)) < n {
		m.pages = append(m.pages, nil)
	}
	for _, w := range writes {
		img := make([]byte, m.pageSize)
		copy(img, w.Image)
		m.pages[w.Addr] = img
	}
	m.commits++
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)

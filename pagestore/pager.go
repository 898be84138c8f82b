package pagestore

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/vecbuf/internal/latch"
	"github.com/hupe1980/vecbuf/model"
)

// Pager adds per-page latching and transactions to a Store.
type Pager struct {
	store   Store
	latches *latch.Table
}

// NewPager wraps store.
func NewPager(store Store) *Pager {
	return &Pager{store: store, latches: latch.NewTable()}
}

// Store returns the underlying store.
func (p *Pager) Store() Store { return p.store }

// PageSize returns the page size of the underlying store.
func (p *Pager) PageSize() int { return p.store.PageSize() }

// Share takes a shared latch on addr.
func (p *Pager) Share(addr model.PageAddr) (release func()) { return p.latches.Share(addr) }

// Exclusive takes an exclusive latch on addr.
func (p *Pager) Exclusive(addr model.PageAddr) (release func()) { return p.latches.Exclusive(addr) }

// Read returns the committed image at addr. Callers hold a latch on addr.
func (p *Pager) Read(ctx context.Context, addr model.PageAddr) ([]byte, error) {
	return p.store.ReadPage(ctx, addr)
}

// Begin starts a transaction.
func (p *Pager) Begin() *Txn {
	return &Txn{pager: p, writes: make(map[model.PageAddr][]byte)}
}

// Txn stages page images and commits them as one unit. A Txn is not safe
// for concurrent use; callers serialize page extension (the buffer log does
// so under its append lock).
type Txn struct {
	pager    *Pager
	writes   map[model.PageAddr][]byte
	base     uint32
	extended uint32
	sized    bool
	done     bool
}

// Put stages img for addr, replacing any earlier staged image.
func (t *Txn) Put(addr model.PageAddr, img []byte) {
	t.writes[addr] = img
}

// Extend reserves the next free page address. The caller must Put an image
// for it before Commit.
func (t *Txn) Extend(ctx context.Context) (model.PageAddr, error) {
	if !t.sized {
		n, err := t.pager.store.NumPages(ctx)
		if err != nil {
			return model.InvalidPageAddr, err
		}
		t.base, t.sized = n, true
	}
	addr := model.PageAddr(t.base + t.extended)
	t.extended++
	return addr, nil
}

// Len returns the number of staged pages.
func (t *Txn) Len() int { return len(t.writes) }

// Commit applies every staged write atomically. A Txn can be committed once.
func (t *Txn) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("pagestore: transaction already committed")
	}
	t.done = true
	if len(t.writes) == 0 {
		return nil
	}

	for i := uint32(0); i < t.extended; i++ {
		addr := model.PageAddr(t.base + i)
		if _, ok := t.writes[addr]; !ok {
			return fmt.Errorf("%w: extended page %s has no image", ErrNotContiguous, addr)
		}
	}

	writes := make([]PageWrite, 0, len(t.writes))
	for addr, img := range t.writes {
		writes = append(writes, PageWrite{Addr: addr, Image: img})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Addr < writes[j].Addr })
	return t.pager.store.Commit(ctx, writes)
}

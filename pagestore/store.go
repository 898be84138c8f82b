package pagestore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/vecbuf/model"
)

var (
	// ErrPageNotFound is returned when reading beyond the last page.
	ErrPageNotFound = errors.New("pagestore: page not found")
	// ErrNotContiguous is returned when a commit extends the store at an
	// address other than the next free slot.
	ErrNotContiguous = errors.New("pagestore: extension does not match next free page")
	// ErrPageSize is returned for images whose length differs from the page size.
	ErrPageSize = errors.New("pagestore: image size does not match page size")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pagestore: closed")
)

// PageWrite is one staged page image.
type PageWrite struct {
	Addr  model.PageAddr
	Image []byte
}

// Store is a durable array of fixed-size pages.
type Store interface {
	// PageSize returns the size in bytes of every page.
	PageSize() int
	// NumPages returns the number of committed pages.
	NumPages(ctx context.Context) (uint32, error)
	// ReadPage returns a private copy of the committed image at addr.
	ReadPage(ctx context.Context, addr model.PageAddr) ([]byte, error)
	// Commit applies all writes atomically.
	Commit(ctx context.Context, writes []PageWrite) error
	// Close releases resources.
	Close() error
}

// validateWrites checks image sizes and that extensions are contiguous.
// It returns the page count after the commit.
func validateWrites(numPages uint32, pageSize int, writes []PageWrite) (uint32, error) {
	sorted := slices.Clone(writes)
	slices.SortFunc(sorted, func(a, b PageWrite) int { return cmp.Compare(a.Addr, b.Addr) })

	next := numPages
	for _, w := range sorted {
		if len(w.Image) != pageSize {
			return 0, fmt.Errorf("%w: page %s has %d bytes, want %d", ErrPageSize, w.Addr, len(w.Image), pageSize)
		}
		switch {
		case uint32(w.Addr) < next:
		case uint32(w.Addr) == next:
			next++
		default:
			return 0, fmt.Errorf("%w: got page %s, next free is %d", ErrNotContiguous, w.Addr, next)
		}
	}
	return next, nil
}

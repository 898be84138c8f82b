package buffer

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
)

// WalkFunc is called for every page visited by Walk. Returning false stops
// the walk.
type WalkFunc func(addr model.PageAddr, p page.BufferPage) (bool, error)

// Walk visits the pages of the log starting at from and following Next.
// Each page is read under its own shared latch, so a concurrent Append may
// extend the chain while it is being walked.
func (l *Log) Walk(ctx context.Context, from model.PageAddr, fn WalkFunc) error {
	for addr := from; addr.IsValid(); {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := l.Page(ctx, addr)
		if err != nil {
			return err
		}
		more, err := fn(addr, p)
		if err != nil || !more {
			return err
		}
		if p.Next.IsValid() && p.Next <= addr {
			return fmt.Errorf("%w: page %s links back to %s", ErrCorrupt, addr, p.Next)
		}
		addr = p.Next
	}
	return nil
}

// CheckpointsBetween returns the checkpoints strictly between m.Ready and
// m.Flush in ascending sequence order. At most limit are returned, keeping
// the newest; truncated reports whether any were left out.
func (l *Log) CheckpointsBetween(ctx context.Context, m page.BufferMeta, limit int) ([]model.Checkpoint, bool, error) {
	n := m.Flush.Seq - m.Ready.Seq - 1
	if n <= 0 {
		return nil, false, nil
	}
	truncated := false
	if n > int64(limit) {
		n, truncated = int64(max(limit, 0)), true
	}

	out := make([]model.Checkpoint, 0, n)
	addr := m.Flush.Position
	for int64(len(out)) < n {
		p, err := l.Page(ctx, addr)
		if err != nil {
			return nil, false, err
		}
		prev := p.PrevCheckpoint
		if !prev.IsValid() || prev >= addr {
			return nil, false, fmt.Errorf("%w: page %s has checkpoint back-link %s", ErrCorrupt, addr, prev)
		}
		pp, err := l.Page(ctx, prev)
		if err != nil {
			return nil, false, err
		}
		cp := pp.Checkpoint
		if !cp.Valid || cp.Position != prev {
			return nil, false, fmt.Errorf("%w: page %s holds no checkpoint", ErrCorrupt, prev)
		}
		if cp.Seq <= m.Ready.Seq {
			return nil, false, fmt.Errorf("%w: checkpoint chain reached %s before ready %s", ErrCorrupt, cp, m.Ready)
		}
		out = append(out, cp)
		addr = prev
	}
	slices.Reverse(out)
	return out, truncated, nil
}

// Dump writes a human-readable listing of the metadata and every buffer page.
func (l *Log) Dump(ctx context.Context, w io.Writer) error {
	s := l.static
	fmt.Fprintf(w, "static: dims=%d metric=%s provider=%s host=%q collection=%q\n",
		s.Dimensions, s.Metric, s.Provider, s.Host, s.Collection)

	m, err := l.Meta(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "meta: insert=%s since=%d unflushed=%d unconfirmed=%d\n",
		m.InsertPage, m.TuplesSinceCheckpoint, m.Unflushed(), m.Unconfirmed())
	fmt.Fprintf(w, "  ready:  %s\n  flush:  %s\n  latest: %s\n", m.Ready, m.Flush, m.Latest)

	return l.Walk(ctx, page.BufferHeadAddr, func(addr model.PageAddr, p page.BufferPage) (bool, error) {
		_, err := fmt.Fprintf(w, "page %s: next=%s prev_checkpoint=%s entries=%d",
			addr, p.Next, p.PrevCheckpoint, len(p.Entries))
		if err != nil {
			return false, err
		}
		if p.Checkpoint.Valid {
			fmt.Fprintf(w, " checkpoint=%s", p.Checkpoint)
		}
		for i, id := range p.Entries {
			if i%8 == 0 {
				fmt.Fprint(w, "\n   ")
			}
			fmt.Fprintf(w, " %s", id)
		}
		_, err = fmt.Fprintln(w)
		return err == nil, err
	})
}

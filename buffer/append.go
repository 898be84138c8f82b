package buffer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
	"github.com/hupe1980/vecbuf/pagestore"
)

// Append adds id to the log and reports whether it closed a checkpoint.
//
// The incoming tuple counts towards the pending batch, which starts after
// the latest checkpoint's representative. When the pending count reaches
// the batch size, or the insert page is full, a new page is linked after
// the insert page and id becomes its first entry. In the first case the new
// page also carries a new checkpoint whose representative is id, so the
// k-th checkpoint closes on append k*BatchSize and every checkpoint page
// run holds exactly BatchSize tuples. All page and metadata writes of one
// call commit as a single unit.
func (l *Log) Append(ctx context.Context, id model.TupleID) (bool, error) {
	l.locks.LockAppend()
	defer l.locks.UnlockAppend()

	meta, err := l.Meta(ctx)
	if err != nil {
		return false, err
	}
	insert := meta.InsertPage

	releasePage := l.pager.Exclusive(insert)
	defer releasePage()

	img, err := l.pager.Read(ctx, insert)
	if err != nil {
		return false, err
	}
	cur, err := page.DecodeBufferPage(img)
	if err != nil {
		return false, corrupt(insert, err)
	}
	if cur.Next.IsValid() {
		return false, fmt.Errorf("%w: insert page %s already links to %s", ErrCorrupt, insert, cur.Next)
	}

	size := l.pager.PageSize()
	pending := meta.TuplesSinceCheckpoint + int64(len(cur.Entries)) + 1
	if meta.Latest.Seq > 0 {
		// The representative closed the previous batch.
		pending--
	}
	txn := l.pager.Begin()

	if cur.HasRoom(size) && pending < l.batchSize {
		cur.Entries = append(cur.Entries, id)
		img, err := page.EncodeBufferPage(size, cur)
		if err != nil {
			return false, err
		}
		txn.Put(insert, img)
		return false, l.commit(ctx, txn)
	}

	next, err := txn.Extend(ctx)
	if err != nil {
		return false, err
	}
	if next != insert+1 {
		return false, fmt.Errorf("%w: allocated page %s, expected %s", ErrCorrupt, next, insert+1)
	}

	fresh := page.NewBufferPage()
	if !fresh.HasRoom(size) {
		return false, fmt.Errorf("%w: new page %s has no room", ErrCorrupt, next)
	}
	fresh.Entries = append(fresh.Entries, id)

	latest := meta.Latest
	fresh.PrevCheckpoint = latest.Position
	since := meta.TuplesSinceCheckpoint + int64(len(cur.Entries))

	created := pending >= l.batchSize
	if created {
		latest = model.Checkpoint{
			Seq:             latest.Seq + 1,
			Position:        next,
			Representative:  id,
			PrecedingTuples: latest.PrecedingTuples + since,
			Valid:           true,
		}
		fresh.Checkpoint = latest
		since = 0
	}
	cur.Next = next

	curImg, err := page.EncodeBufferPage(size, cur)
	if err != nil {
		return false, err
	}
	freshImg, err := page.EncodeBufferPage(size, fresh)
	if err != nil {
		return false, err
	}
	txn.Put(insert, curImg)
	txn.Put(next, freshImg)

	releaseMeta := l.pager.Exclusive(page.BufferMetaAddr)
	defer releaseMeta()

	// Ready and Flush may have advanced since the snapshot; only the
	// append-owned fields are replaced.
	m, err := l.metaLocked(ctx)
	if err != nil {
		return false, err
	}
	m.InsertPage = next
	m.Latest = latest
	m.TuplesSinceCheckpoint = since
	txn.Put(page.BufferMetaAddr, page.EncodeBufferMeta(size, m))

	if err := l.commit(ctx, txn); err != nil {
		return false, err
	}
	if created {
		l.logger.Debug("checkpoint closed",
			"seq", latest.Seq, "page", next, "preceding", latest.PrecedingTuples)
	}
	return created, nil
}

// metaLocked reads the metadata page. The caller holds its exclusive latch.
func (l *Log) metaLocked(ctx context.Context) (page.BufferMeta, error) {
	img, err := l.pager.Read(ctx, page.BufferMetaAddr)
	if err != nil {
		return page.BufferMeta{}, err
	}
	m, err := page.DecodeBufferMeta(img)
	if err != nil {
		return page.BufferMeta{}, corrupt(page.BufferMetaAddr, err)
	}
	return m, nil
}

func (l *Log) commit(ctx context.Context, txn *pagestore.Txn) error {
	err := txn.Commit(ctx)
	if errors.Is(err, pagestore.ErrNotContiguous) || errors.Is(err, pagestore.ErrPageSize) {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return err
}

// AdvanceFlush moves Flush forward to cp. It reports false without writing
// when cp is not newer than the stored Flush.
func (l *Log) AdvanceFlush(ctx context.Context, cp model.Checkpoint) (bool, error) {
	return l.advance(ctx, cp, func(m *page.BufferMeta) (bool, error) {
		if cp.Seq <= m.Flush.Seq {
			return false, nil
		}
		if cp.Seq > m.Latest.Seq {
			return false, fmt.Errorf("%w: flush %s beyond latest %s", ErrCorrupt, cp, m.Latest)
		}
		m.Flush = cp
		return true, nil
	})
}

// AdvanceReady moves Ready forward to cp. It reports false without writing
// when cp is not newer than the stored Ready.
func (l *Log) AdvanceReady(ctx context.Context, cp model.Checkpoint) (bool, error) {
	return l.advance(ctx, cp, func(m *page.BufferMeta) (bool, error) {
		if cp.Seq <= m.Ready.Seq {
			return false, nil
		}
		if cp.Seq > m.Flush.Seq {
			return false, fmt.Errorf("%w: ready %s beyond flush %s", ErrCorrupt, cp, m.Flush)
		}
		m.Ready = cp
		return true, nil
	})
}

func (l *Log) advance(ctx context.Context, cp model.Checkpoint, apply func(*page.BufferMeta) (bool, error)) (bool, error) {
	if !cp.Valid {
		return false, nil
	}

	release := l.pager.Exclusive(page.BufferMetaAddr)
	defer release()

	m, err := l.metaLocked(ctx)
	if err != nil {
		return false, err
	}
	changed, err := apply(&m)
	if err != nil || !changed {
		return false, err
	}

	txn := l.pager.Begin()
	txn.Put(page.BufferMetaAddr, page.EncodeBufferMeta(l.pager.PageSize(), m))
	if err := l.commit(ctx, txn); err != nil {
		return false, err
	}
	return true, nil
}

package basestore

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/vecbuf/model"
)

// tuplesPerBlock mirrors a heap page holding a bounded number of line
// pointers; ids are assigned block by block.
const tuplesPerBlock = 64

// Memory is an in-process Store. Deleted tuples stay known as dead until
// Vacuum, while Forget drops a tuple without a trace to simulate drift.
type Memory struct {
	mu      sync.RWMutex
	records map[model.TupleID]model.Record
	dead    *roaring64.Bitmap
	next    uint64
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[model.TupleID]model.Record),
		dead:    roaring64.New(),
	}
}

// Insert stores a copy of the record under the next free tuple id.
func (m *Memory) Insert(_ context.Context, vector []float32, metadata map[string]any) (model.TupleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := model.NewTupleID(uint32(m.next/tuplesPerBlock), uint16(m.next%tuplesPerBlock+1))
	m.next++
	m.records[id] = model.Record{ID: id, Vector: slices.Clone(vector), Metadata: metadata}
	return id, nil
}

// Put stores rec under rec.ID, replacing any previous version.
func (m *Memory) Put(rec model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Vector = slices.Clone(rec.Vector)
	m.records[rec.ID] = rec
	m.dead.Remove(uint64(rec.ID))
}

// Delete marks the tuple dead.
func (m *Memory) Delete(id model.TupleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; ok {
		delete(m.records, id)
		m.dead.Add(uint64(id))
	}
}

// Forget removes the tuple without leaving a dead marker.
func (m *Memory) Forget(id model.TupleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	m.dead.Remove(uint64(id))
}

// Vacuum drops all dead markers.
func (m *Memory) Vacuum() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead.Clear()
}

// Len returns the number of live records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Fetch(ctx context.Context, id model.TupleID) (model.Record, Status, error) {
	if err := ctx.Err(); err != nil {
		return model.Record{}, StatusNotFound, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[id]; ok {
		rec.Vector = slices.Clone(rec.Vector)
		return rec, StatusFound, nil
	}
	if m.dead.Contains(uint64(id)) {
		return model.Record{}, StatusDead, nil
	}
	return model.Record{}, StatusNotFound, nil
}

func (m *Memory) Scan(ctx context.Context, fn ScanFunc) error {
	m.mu.RLock()
	ids := make([]model.TupleID, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		rec, status, err := m.Fetch(ctx, id)
		if err != nil {
			return err
		}
		if status != StatusFound {
			continue
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStopScan) {
				return nil
			}
			return err
		}
	}
	return nil
}

var (
	_ Store    = (*Memory)(nil)
	_ Inserter = (*Memory)(nil)
)

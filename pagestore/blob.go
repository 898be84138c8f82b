package pagestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/vecbuf/blobstore"
	"github.com/hupe1980/vecbuf/internal/flock"
	"github.com/hupe1980/vecbuf/internal/hash"
	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
)

const (
	currentBlob     = "CURRENT"
	commitPrefix    = "commits/"
	snapshotPrefix  = "snapshots/"
	lockFileName    = "LOCK"
	deltaMagic      = "VBD1"
	deltaHeaderSize = len(deltaMagic) + 1

	// DefaultCompactEvery is the number of commits between snapshots.
	DefaultCompactEvery = 256
)

// ErrCorruptDelta is returned when a commit or snapshot blob fails
// verification during recovery.
var ErrCorruptDelta = errors.New("pagestore: corrupt delta blob")

func commitName(v uint64) string   { return fmt.Sprintf("%s%020d", commitPrefix, v) }
func snapshotName(v uint64) string { return fmt.Sprintf("%s%020d", snapshotPrefix, v) }

func parseVersion(name, prefix string) (uint64, bool) {
	v, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
	return v, err == nil && strings.HasPrefix(name, prefix)
}

// BlobOption configures a BlobStore.
type BlobOption func(*blobOptions)

type blobOptions struct {
	pageSize     int
	compression  Compression
	compactEvery uint64
	logger       *slog.Logger
}

// WithPageSize sets the page size of a new store.
func WithPageSize(n int) BlobOption {
	return func(o *blobOptions) { o.pageSize = n }
}

// WithCompression sets the compression of commit and snapshot blobs.
func WithCompression(c Compression) BlobOption {
	return func(o *blobOptions) { o.compression = c }
}

// WithCompactEvery sets how many commits are written between snapshots.
func WithCompactEvery(n int) BlobOption {
	return func(o *blobOptions) {
		if n > 0 {
			o.compactEvery = uint64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BlobOption {
	return func(o *blobOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// BlobStore persists pages on a blobstore.BlobStore as a chain of commit
// deltas plus periodic snapshots. The committed image set is held in memory;
// a commit is durable once the version pointer names it. The pointer lives in
// the Committer of the underlying store when it has one, and in a CURRENT
// blob otherwise.
type BlobStore struct {
	mu      sync.RWMutex
	blobs   blobstore.BlobStore
	opts    blobOptions
	pages   [][]byte
	version uint64
	closed  bool
	lock    *flock.Lock
}

// OpenBlob recovers the page set from blobs, or starts an empty one.
func OpenBlob(ctx context.Context, blobs blobstore.BlobStore, optFns ...BlobOption) (*BlobStore, error) {
	opts := blobOptions{
		pageSize:     page.DefaultPageSize,
		compactEvery: DefaultCompactEvery,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := page.ValidatePageSize(opts.pageSize); err != nil {
		return nil, err
	}

	s := &BlobStore{blobs: blobs, opts: opts}
	if err := s.recover(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenLocal opens a BlobStore over a local directory. The directory is
// locked against other processes until Close.
func OpenLocal(ctx context.Context, dir string, optFns ...BlobOption) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lk, err := flock.Acquire(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, fmt.Errorf("pagestore: lock %s: %w", dir, err)
	}
	s, err := OpenBlob(ctx, blobstore.NewLocalStore(dir), optFns...)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}
	s.lock = lk
	return s, nil
}

func (s *BlobStore) currentVersion(ctx context.Context) (uint64, error) {
	if c, ok := s.blobs.(blobstore.Committer); ok {
		v, _, err := c.LatestVersion(ctx)
		return v, err
	}
	data, err := blobstore.ReadAll(ctx, s.blobs, currentBlob)
	if errors.Is(err, blobstore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, ok := parseVersion(strings.TrimSpace(string(data)), commitPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: CURRENT holds %q", ErrCorruptDelta, data)
	}
	return v, nil
}

func (s *BlobStore) publish(ctx context.Context, v uint64) error {
	if c, ok := s.blobs.(blobstore.Committer); ok {
		return c.CommitVersion(ctx, v, commitName(v))
	}
	return s.blobs.Put(ctx, currentBlob, []byte(commitName(v)))
}

func (s *BlobStore) recover(ctx context.Context) error {
	current, err := s.currentVersion(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return nil
	}

	snaps, err := s.blobs.List(ctx, snapshotPrefix)
	if err != nil {
		return err
	}
	var base uint64
	for _, name := range snaps {
		if v, ok := parseVersion(name, snapshotPrefix); ok && v <= current && v > base {
			base = v
		}
	}
	if base > 0 {
		if err := s.applyBlob(ctx, snapshotName(base)); err != nil {
			return err
		}
	}

	commits, err := s.blobs.List(ctx, commitPrefix)
	if err != nil {
		return err
	}
	for _, name := range commits {
		v, ok := parseVersion(name, commitPrefix)
		if !ok || v <= base {
			continue
		}
		if v > current {
			s.opts.logger.Warn("ignoring unpublished commit", "blob", name, "current", current)
			continue
		}
		if err := s.applyBlob(ctx, name); err != nil {
			return err
		}
	}
	s.version = current
	s.opts.logger.Debug("page store recovered", "version", current, "snapshot", base, "pages", len(s.pages))
	return nil
}

func (s *BlobStore) applyBlob(ctx context.Context, name string) error {
	data, err := blobstore.ReadAll(ctx, s.blobs, name)
	if err != nil {
		return fmt.Errorf("pagestore: read %s: %w", name, err)
	}
	pageSize, writes, err := decodeDelta(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptDelta, name, err)
	}
	if len(s.pages) == 0 && s.version == 0 {
		s.opts.pageSize = pageSize
	} else if pageSize != s.opts.pageSize {
		return fmt.Errorf("%w: %s has page size %d, want %d", ErrCorruptDelta, name, pageSize, s.opts.pageSize)
	}
	s.apply(writes)
	return nil
}

func (s *BlobStore) apply(writes []PageWrite) {
	for _, w := range writes {
		for int(w.Addr) >= len(s.pages) {
			s.pages = append(s.pages, nil)
		}
		s.pages[w.Addr] = append([]byte(nil), w.Image...)
	}
}

func (s *BlobStore) PageSize() int { return s.opts.pageSize }

// Version returns the last published commit version.
func (s *BlobStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *BlobStore) NumPages(_ context.Context) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return uint32(len(s.pages)), nil
}

func (s *BlobStore) ReadPage(_ context.Context, addr model.PageAddr) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !addr.IsValid() || int(addr) >= len(s.pages) {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, addr)
	}
	return append([]byte(nil), s.pages[addr]...), nil
}

func (s *BlobStore) Commit(ctx context.Context, writes []PageWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := validateWrites(uint32(len(s.pages)), s.opts.pageSize, writes); err != nil {
		return err
	}

	data, err := encodeDelta(s.opts.pageSize, writes, s.opts.compression)
	if err != nil {
		return err
	}
	v := s.version + 1
	name := commitName(v)
	if err := s.blobs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("pagestore: write %s: %w", name, err)
	}
	if err := s.publish(ctx, v); err != nil {
		if derr := s.blobs.Delete(ctx, name); derr != nil {
			s.opts.logger.Warn("failed to remove unpublished commit", "blob", name, "error", derr)
		}
		return fmt.Errorf("pagestore: publish version %d: %w", v, err)
	}

	s.apply(writes)
	s.version = v

	if v%s.opts.compactEvery == 0 {
		s.compact(ctx)
	}
	return nil
}

// compact writes a snapshot at the current version and drops the commits it
// covers. Failures leave the delta chain intact and are only logged.
func (s *BlobStore) compact(ctx context.Context) {
	all := make([]PageWrite, len(s.pages))
	for i, img := range s.pages {
		all[i] = PageWrite{Addr: model.PageAddr(i), Image: img}
	}
	data, err := encodeDelta(s.opts.pageSize, all, s.opts.compression)
	if err == nil {
		err = s.blobs.Put(ctx, snapshotName(s.version), data)
	}
	if err != nil {
		s.opts.logger.Warn("snapshot failed", "version", s.version, "error", err)
		return
	}

	for _, prefix := range []string{commitPrefix, snapshotPrefix} {
		names, err := s.blobs.List(ctx, prefix)
		if err != nil {
			s.opts.logger.Warn("list for compaction failed", "prefix", prefix, "error", err)
			continue
		}
		for _, name := range names {
			v, ok := parseVersion(name, prefix)
			if !ok || v > s.version || (prefix == snapshotPrefix && v == s.version) {
				continue
			}
			if err := s.blobs.Delete(ctx, name); err != nil {
				s.opts.logger.Warn("compaction delete failed", "blob", name, "error", err)
			}
		}
	}
	s.opts.logger.Debug("page store compacted", "version", s.version, "pages", len(s.pages))
}

func (s *BlobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pages = nil
	if s.lock != nil {
		return s.lock.Release()
	}
	return nil
}

// Delta layout:
//
//	magic "VBD1" | compression u8 | block(payload) | crc32c u32
//
// payload: pageSize u32 | count u32 | count × (addr u32 | image)
func encodeDelta(pageSize int, writes []PageWrite, c Compression) ([]byte, error) {
	payload := make([]byte, 8, 8+len(writes)*(4+pageSize))
	binary.LittleEndian.PutUint32(payload[0:], uint32(pageSize))
	binary.LittleEndian.PutUint32(payload[4:], uint32(len(writes)))
	for _, w := range writes {
		payload = binary.LittleEndian.AppendUint32(payload, uint32(w.Addr))
		payload = append(payload, w.Image...)
	}

	block, err := compressBlock(payload, c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, deltaHeaderSize+len(block)+4)
	out = append(out, deltaMagic...)
	out = append(out, byte(c))
	out = append(out, block...)
	return hash.Seal(out), nil
}

func decodeDelta(data []byte) (int, []PageWrite, error) {
	if len(data) < deltaHeaderSize+blockHeaderSize+4 {
		return 0, nil, errShortBlock
	}
	if string(data[:len(deltaMagic)]) != deltaMagic {
		return 0, nil, page.ErrBadMagic
	}
	body, ok := hash.Unseal(data)
	if !ok {
		return 0, nil, page.ErrChecksum
	}

	payload, err := decompressBlock(body[deltaHeaderSize:], Compression(body[len(deltaMagic)]))
	if err != nil {
		return 0, nil, err
	}
	if len(payload) < 8 {
		return 0, nil, errShortBlock
	}
	pageSize := int(binary.LittleEndian.Uint32(payload[0:]))
	count := int(binary.LittleEndian.Uint32(payload[4:]))
	if len(payload) != 8+count*(4+pageSize) {
		return 0, nil, fmt.Errorf("payload of %d bytes does not hold %d pages of %d", len(payload), count, pageSize)
	}

	writes := make([]PageWrite, count)
	off := 8
	for i := range writes {
		writes[i].Addr = model.PageAddr(binary.LittleEndian.Uint32(payload[off:]))
		writes[i].Image = payload[off+4 : off+4+pageSize]
		off += 4 + pageSize
	}
	return pageSize, writes, nil
}

var _ Store = (*BlobStore)(nil)

package page

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/internal/hash"
	"github.com/hupe1980/vecbuf/model"
)

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize = 8192
	// MinPageSize leaves room for the static metadata strings.
	MinPageSize = 256
	// MaxPageSize keeps the entry count addressable by a uint16.
	MaxPageSize = 1 << 16

	// FormatVersion is bumped on incompatible layout changes.
	FormatVersion = 1

	headerSize     = 16
	checkpointSize = 29
	bufferHeader   = headerSize + 4 + 4 + checkpointSize + 2
	entriesOffset  = (bufferHeader + 7) &^ 7
	entrySize      = 8

	// MaxHostLen bounds the remote host identifier.
	MaxHostLen = 100
	// MaxCollectionLen bounds the remote collection name.
	MaxCollectionLen = 45
	// MaxProviderLen bounds the provider name.
	MaxProviderLen = 32
)

// Fixed page addresses.
const (
	StaticMetaAddr model.PageAddr = 0
	BufferMetaAddr model.PageAddr = 1
	BufferHeadAddr model.PageAddr = 2
)

var magic = [2]byte{'V', 'B'}

// Kind identifies the content of a page.
type Kind uint8

const (
	KindStaticMeta Kind = iota + 1
	KindBufferMeta
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindStaticMeta:
		return "static-meta"
	case KindBufferMeta:
		return "buffer-meta"
	case KindBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

var (
	// ErrChecksum is returned when a page image fails CRC verification.
	ErrChecksum = errors.New("page checksum mismatch")
	// ErrBadMagic is returned for images that are not vecbuf pages.
	ErrBadMagic = errors.New("bad page magic")
	// ErrKind is returned when a page has an unexpected kind.
	ErrKind = errors.New("unexpected page kind")
	// ErrVersion is returned for pages written by an unknown format version.
	ErrVersion = errors.New("unsupported page format version")
)

// ValidatePageSize checks that size can hold the page layouts.
func ValidatePageSize(size int) error {
	if size < MinPageSize || size > MaxPageSize || size%entrySize != 0 {
		return fmt.Errorf("invalid page size %d: must be a multiple of %d in [%d, %d]",
			size, entrySize, MinPageSize, MaxPageSize)
	}
	return nil
}

// Capacity returns the number of tuple ids a buffer page of the given size holds.
func Capacity(pageSize int) int {
	return (pageSize - entriesOffset) / entrySize
}

// StaticMeta is written once at index creation.
type StaticMeta struct {
	Dimensions int
	Metric     distance.Metric
	Provider   string
	Host       string
	Collection string
}

// BufferMeta is the directory of live checkpoints and the insert cursor.
type BufferMeta struct {
	Ready                 model.Checkpoint
	Flush                 model.Checkpoint
	Latest                model.Checkpoint
	InsertPage            model.PageAddr
	TuplesSinceCheckpoint int64
}

// Unflushed returns the number of tuples appended after the flush checkpoint.
func (m BufferMeta) Unflushed() int64 {
	return m.Latest.PrecedingTuples + m.TuplesSinceCheckpoint - m.Flush.PrecedingTuples
}

// Unconfirmed returns the number of tuples not yet behind the ready checkpoint.
func (m BufferMeta) Unconfirmed() int64 {
	return m.Latest.PrecedingTuples + m.TuplesSinceCheckpoint - m.Ready.PrecedingTuples
}

// BufferPage is a node of the buffer log.
type BufferPage struct {
	Next           model.PageAddr
	PrevCheckpoint model.PageAddr
	Checkpoint     model.Checkpoint
	Entries        []model.TupleID
}

// NewBufferPage returns an empty, unlinked page.
func NewBufferPage() BufferPage {
	return BufferPage{
		Next:           model.InvalidPageAddr,
		PrevCheckpoint: model.InvalidPageAddr,
		Checkpoint:     model.InvalidCheckpoint,
	}
}

// HasRoom reports whether one more entry fits on a page of the given size.
func (p *BufferPage) HasRoom(pageSize int) bool {
	return len(p.Entries) < Capacity(pageSize)
}

// PeekKind verifies the header and checksum of img and returns its kind.
func PeekKind(img []byte) (Kind, error) {
	if len(img) < headerSize {
		return 0, fmt.Errorf("page image too short (%d bytes): %w", len(img), ErrBadMagic)
	}
	if img[0] != magic[0] || img[1] != magic[1] {
		return 0, ErrBadMagic
	}
	if img[3] != FormatVersion {
		return 0, fmt.Errorf("%w: %d", ErrVersion, img[3])
	}
	if binary.LittleEndian.Uint32(img[4:8]) != hash.CRC32C(img[8:]) {
		return 0, ErrChecksum
	}
	return Kind(img[2]), nil
}

func newImage(pageSize int, kind Kind) []byte {
	img := make([]byte, pageSize)
	img[0], img[1] = magic[0], magic[1]
	img[2] = byte(kind)
	img[3] = FormatVersion
	return img
}

func seal(img []byte) []byte {
	binary.LittleEndian.PutUint32(img[4:8], hash.CRC32C(img[8:]))
	return img
}

func open(img []byte, want Kind) error {
	kind, err := PeekKind(img)
	if err != nil {
		return err
	}
	if kind != want {
		return fmt.Errorf("%w: got %s, want %s", ErrKind, kind, want)
	}
	return nil
}

func putCheckpoint(b []byte, c model.Checkpoint) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(c.Seq))
	binary.LittleEndian.PutUint32(b[8:12], uint32(c.Position))
	binary.LittleEndian.PutUint64(b[12:20], uint64(c.Representative))
	binary.LittleEndian.PutUint64(b[20:28], uint64(c.PrecedingTuples))
	if c.Valid {
		b[28] = 1
	} else {
		b[28] = 0
	}
}

func getCheckpoint(b []byte) model.Checkpoint {
	return model.Checkpoint{
		Seq:             int64(binary.LittleEndian.Uint64(b[0:8])),
		Position:        model.PageAddr(binary.LittleEndian.Uint32(b[8:12])),
		Representative:  model.TupleID(binary.LittleEndian.Uint64(b[12:20])),
		PrecedingTuples: int64(binary.LittleEndian.Uint64(b[20:28])),
		Valid:           b[28] == 1,
	}
}

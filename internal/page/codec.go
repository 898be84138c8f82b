package page

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
)

// EncodeStaticMeta renders m into a sealed page image.
func EncodeStaticMeta(pageSize int, m StaticMeta) ([]byte, error) {
	if m.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions %d", m.Dimensions)
	}
	if len(m.Provider) > MaxProviderLen {
		return nil, fmt.Errorf("provider name longer than %d bytes", MaxProviderLen)
	}
	if len(m.Host) > MaxHostLen {
		return nil, fmt.Errorf("host longer than %d bytes", MaxHostLen)
	}
	if len(m.Collection) > MaxCollectionLen {
		return nil, fmt.Errorf("collection name longer than %d bytes", MaxCollectionLen)
	}

	img := newImage(pageSize, KindStaticMeta)
	off := headerSize
	binary.LittleEndian.PutUint32(img[off:], uint32(m.Dimensions))
	off += 4
	img[off] = byte(m.Metric)
	off++
	for _, s := range []string{m.Provider, m.Host, m.Collection} {
		img[off] = byte(len(s))
		off++
		off += copy(img[off:], s)
	}
	return seal(img), nil
}

// DecodeStaticMeta parses a static metadata page.
func DecodeStaticMeta(img []byte) (StaticMeta, error) {
	if err := open(img, KindStaticMeta); err != nil {
		return StaticMeta{}, err
	}
	off := headerSize
	m := StaticMeta{
		Dimensions: int(binary.LittleEndian.Uint32(img[off:])),
		Metric:     distance.Metric(img[off+4]),
	}
	off += 5
	var strs [3]string
	for i := range strs {
		n := int(img[off])
		off++
		if off+n > len(img) {
			return StaticMeta{}, fmt.Errorf("static meta string %d overflows page", i)
		}
		strs[i] = string(img[off : off+n])
		off += n
	}
	m.Provider, m.Host, m.Collection = strs[0], strs[1], strs[2]
	return m, nil
}

// EncodeBufferMeta renders m into a sealed page image.
func EncodeBufferMeta(pageSize int, m BufferMeta) []byte {
	img := newImage(pageSize, KindBufferMeta)
	off := headerSize
	for _, c := range []model.Checkpoint{m.Ready, m.Flush, m.Latest} {
		putCheckpoint(img[off:], c)
		off += checkpointSize
	}
	binary.LittleEndian.PutUint32(img[off:], uint32(m.InsertPage))
	binary.LittleEndian.PutUint64(img[off+4:], uint64(m.TuplesSinceCheckpoint))
	return seal(img)
}

// DecodeBufferMeta parses a buffer metadata page.
func DecodeBufferMeta(img []byte) (BufferMeta, error) {
	if err := open(img, KindBufferMeta); err != nil {
		return BufferMeta{}, err
	}
	off := headerSize
	var m BufferMeta
	m.Ready = getCheckpoint(img[off:])
	m.Flush = getCheckpoint(img[off+checkpointSize:])
	m.Latest = getCheckpoint(img[off+2*checkpointSize:])
	off += 3 * checkpointSize
	m.InsertPage = model.PageAddr(binary.LittleEndian.Uint32(img[off:]))
	m.TuplesSinceCheckpoint = int64(binary.LittleEndian.Uint64(img[off+4:]))
	return m, nil
}

// EncodeBufferPage renders p into a sealed page image. It fails if p holds
// more entries than the page can store.
func EncodeBufferPage(pageSize int, p BufferPage) ([]byte, error) {
	if len(p.Entries) > Capacity(pageSize) {
		return nil, fmt.Errorf("buffer page holds %d entries, capacity is %d", len(p.Entries), Capacity(pageSize))
	}
	img := newImage(pageSize, KindBuffer)
	off := headerSize
	binary.LittleEndian.PutUint32(img[off:], uint32(p.Next))
	binary.LittleEndian.PutUint32(img[off+4:], uint32(p.PrevCheckpoint))
	off += 8
	putCheckpoint(img[off:], p.Checkpoint)
	off += checkpointSize
	binary.LittleEndian.PutUint16(img[off:], uint16(len(p.Entries)))

	off = entriesOffset
	for _, id := range p.Entries {
		binary.LittleEndian.PutUint64(img[off:], uint64(id))
		off += entrySize
	}
	return seal(img), nil
}

// DecodeBufferPage parses a buffer page.
func DecodeBufferPage(img []byte) (BufferPage, error) {
	if err := open(img, KindBuffer); err != nil {
		return BufferPage{}, err
	}
	off := headerSize
	p := BufferPage{
		Next:           model.PageAddr(binary.LittleEndian.Uint32(img[off:])),
		PrevCheckpoint: model.PageAddr(binary.LittleEndian.Uint32(img[off+4:])),
	}
	off += 8
	p.Checkpoint = getCheckpoint(img[off:])
	off += checkpointSize
	n := int(binary.LittleEndian.Uint16(img[off:]))
	if n > Capacity(len(img)) {
		return BufferPage{}, fmt.Errorf("buffer page entry count %d exceeds capacity %d", n, Capacity(len(img)))
	}

	p.Entries = make([]model.TupleID, n)
	off = entriesOffset
	for i := range p.Entries {
		p.Entries[i] = model.TupleID(binary.LittleEndian.Uint64(img[off:]))
		off += entrySize
	}
	return p, nil
}

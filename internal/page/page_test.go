package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecbuf/distance"
	"github.com/hupe1980/vecbuf/model"
)

func TestValidatePageSize(t *testing.T) {
	require.NoError(t, ValidatePageSize(DefaultPageSize))
	require.NoError(t, ValidatePageSize(MinPageSize))
	require.Error(t, ValidatePageSize(MinPageSize-8))
	require.Error(t, ValidatePageSize(1001))
	require.Error(t, ValidatePageSize(MaxPageSize+8))
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, (8192-56)/8, Capacity(8192))
	assert.Equal(t, (256-56)/8, Capacity(256))
}

func TestStaticMeta(t *testing.T) {
	in := StaticMeta{
		Dimensions: 768,
		Metric:     distance.MetricCosine,
		Provider:   "pinecone",
		Host:       "idx-abc.svc.pinecone.io",
		Collection: "vecbuf-items-a1b2",
	}
	img, err := EncodeStaticMeta(DefaultPageSize, in)
	require.NoError(t, err)
	require.Len(t, img, DefaultPageSize)

	out, err := DecodeStaticMeta(img)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	t.Run("limits", func(t *testing.T) {
		long := in
		long.Host = string(make([]byte, MaxHostLen+1))
		_, err := EncodeStaticMeta(DefaultPageSize, long)
		require.Error(t, err)

		zero := in
		zero.Dimensions = 0
		_, err = EncodeStaticMeta(DefaultPageSize, zero)
		require.Error(t, err)
	})
}

func TestBufferMeta(t *testing.T) {
	in := BufferMeta{
		Ready:                 model.Checkpoint{Seq: 1, Position: 3, Representative: model.NewTupleID(7, 2), PrecedingTuples: 10, Valid: true},
		Flush:                 model.Checkpoint{Seq: 2, Position: 5, Representative: model.NewTupleID(9, 1), PrecedingTuples: 20, Valid: true},
		Latest:                model.Checkpoint{Seq: 4, Position: 9, Representative: model.NewTupleID(11, 4), PrecedingTuples: 40, Valid: true},
		InsertPage:            10,
		TuplesSinceCheckpoint: 3,
	}
	out, err := DecodeBufferMeta(EncodeBufferMeta(MinPageSize, in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, int64(23), out.Unflushed())
	assert.Equal(t, int64(33), out.Unconfirmed())
}

func TestBufferPage(t *testing.T) {
	in := NewBufferPage()
	in.Next = 4
	in.Checkpoint = model.Checkpoint{Seq: 1, Position: 3, Valid: true}
	for i := 0; i < Capacity(MinPageSize); i++ {
		in.Entries = append(in.Entries, model.NewTupleID(uint32(i), uint16(i)))
	}
	assert.False(t, in.HasRoom(MinPageSize))

	img, err := EncodeBufferPage(MinPageSize, in)
	require.NoError(t, err)

	out, err := DecodeBufferPage(img)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	in.Entries = append(in.Entries, 1)
	_, err = EncodeBufferPage(MinPageSize, in)
	require.Error(t, err)
}

func TestEmptyBufferPage(t *testing.T) {
	img, err := EncodeBufferPage(MinPageSize, NewBufferPage())
	require.NoError(t, err)

	out, err := DecodeBufferPage(img)
	require.NoError(t, err)
	assert.False(t, out.Next.IsValid())
	assert.False(t, out.PrevCheckpoint.IsValid())
	assert.False(t, out.Checkpoint.Valid)
	assert.Empty(t, out.Entries)
	assert.True(t, out.HasRoom(MinPageSize))
}

func TestCorruption(t *testing.T) {
	img := EncodeBufferMeta(MinPageSize, BufferMeta{})

	t.Run("checksum", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		bad[100] ^= 0xff
		_, err := DecodeBufferMeta(bad)
		require.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("magic", func(t *testing.T) {
		_, err := DecodeBufferMeta(make([]byte, MinPageSize))
		require.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("kind", func(t *testing.T) {
		_, err := DecodeBufferPage(img)
		require.ErrorIs(t, err, ErrKind)
	})

	t.Run("short", func(t *testing.T) {
		_, err := PeekKind([]byte{'V'})
		require.ErrorIs(t, err, ErrBadMagic)
	})
}

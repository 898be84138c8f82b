package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Check value from RFC 3720, 32 bytes of zeros.
	assert.Equal(t, uint32(0x8a9136aa), CRC32C(make([]byte, 32)))
}

func TestSealUnseal(t *testing.T) {
	blob := Seal([]byte("page"))
	assert.Len(t, blob, 8)

	body, ok := Unseal(blob)
	assert.True(t, ok)
	assert.Equal(t, []byte("page"), body)

	blob[0] ^= 0xff
	_, ok = Unseal(blob)
	assert.False(t, ok)

	_, ok = Unseal([]byte{1, 2})
	assert.False(t, ok)
}

func TestBase64CRC32C(t *testing.T) {
	assert.Equal(t, "ipE2qg==", Base64CRC32C(make([]byte, 32)))
}

package hash

import (
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Seal appends the little-endian CRC32C of b to b.
func Seal(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, CRC32C(b))
}

// Unseal strips the trailing checksum written by Seal. ok is false when b is
// too short or the checksum does not match.
func Unseal(b []byte) (body []byte, ok bool) {
	if len(b) < 4 {
		return nil, false
	}
	body = b[:len(b)-4]
	return body, binary.LittleEndian.Uint32(b[len(b)-4:]) == CRC32C(body)
}

// Base64CRC32C returns the checksum in the big-endian base64 form that S3
// expects in x-amz-checksum-crc32c.
func Base64CRC32C(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], CRC32C(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

package util

import (
	"encoding/binary"
	"hash/crc32"
)

// Checksums guard the fixed-size log file headers. Records themselves follow
// the plain wire format and rely on torn-tail detection instead.

var (
	// crc32Table is precomputed for better performance
	crc32Table = crc32.MakeTable(crc32.Castagnoli)
)

// ChecksumSize is the number of bytes AppendChecksum adds
const ChecksumSize = 4

// ComputeChecksum computes a CRC32-C checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// AppendChecksum appends a big-endian checksum of data to data
// Format: [data][checksum (4 bytes)]
func AppendChecksum(data []byte) []byte {
	result := make([]byte, len(data)+ChecksumSize)
	copy(result, data)
	binary.BigEndian.PutUint32(result[len(data):], ComputeChecksum(data))
	return result
}

// ValidateAndStripChecksum validates the trailing checksum and returns the data
// without it. valid is false when the input is too short or the checksum differs.
func ValidateAndStripChecksum(dataWithChecksum []byte) (data []byte, valid bool) {
	if len(dataWithChecksum) < ChecksumSize {
		return nil, false
	}
	dataLen := len(dataWithChecksum) - ChecksumSize
	data = dataWithChecksum[:dataLen]
	expected := binary.BigEndian.Uint32(dataWithChecksum[dataLen:])
	return data, ValidateChecksum(data, expected)
}

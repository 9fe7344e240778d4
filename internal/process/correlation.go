package process

import (
	"encoding/base32"
	"encoding/binary"
	"fmt"
)

var correlationEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CorrelationID derives the workflow correlation id of a release: the
// unpadded base32 form of the id as 8 big-endian bytes.
func CorrelationID(releaseID int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(releaseID))
	return correlationEncoding.EncodeToString(buf[:])
}

// ParseCorrelationID reverses CorrelationID.
func ParseCorrelationID(id string) (int64, error) {
	buf, err := correlationEncoding.DecodeString(id)
	if err != nil {
		return 0, fmt.Errorf("decoding correlation id %q: %w", id, err)
	}
	if len(buf) != 8 {
		return 0, fmt.Errorf("decoding correlation id %q: want 8 bytes, got %d", id, len(buf))
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

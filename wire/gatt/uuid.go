package gatt

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Attribute types of the GATT profile, 16-bit little-endian.
var (
	TypePrimaryService   = UUID16(0x2800)
	TypeSecondaryService = UUID16(0x2801)
	TypeCharacteristic   = UUID16(0x2803)
	TypeCCCD             = UUID16(0x2902)
)

// UUID16 returns the little-endian form of a 16-bit UUID.
func UUID16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

// UUIDBytes returns the little-endian form of a 128-bit UUID, as carried in
// declarations.
func UUIDBytes(u uuid.UUID) []byte {
	b := make([]byte, len(u))
	for i := range u {
		b[len(u)-1-i] = u[i]
	}
	return b
}

// UUIDFromBytes reverses UUIDBytes.
func UUIDFromBytes(b []byte) (uuid.UUID, error) {
	var u uuid.UUID
	if len(b) != len(u) {
		return u, errors.Errorf("gatt: a 128-bit UUID has 16 bytes, got %d", len(b))
	}
	for i := range b {
		u[len(u)-1-i] = b[i]
	}
	return u, nil
}

package advertising

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// AD types the peripheral emits or a scanner of it needs to read
const (
	TypeFlags            = 0x01
	TypeSome16           = 0x02 // incomplete list of 16-bit service UUIDs
	TypeAll16            = 0x03
	TypeSome128          = 0x06 // incomplete list of 128-bit service UUIDs
	TypeAll128           = 0x07
	TypeShortLocalName   = 0x08
	TypeLocalName        = 0x09
	TypeTxPower          = 0x0A
	TypeManufacturerData = 0xFF
)

// Flag bits of the Flags field
const (
	FlagGeneralDiscoverable = 0x02
	FlagNoBREDR             = 0x04
)

// MaxPacketLen bounds legacy advertising data and scan responses alike.
const MaxPacketLen = 31

// Field is one length-type-value element of an advertising packet.
type Field struct {
	Type byte
	Data []byte
}

// size is the number of bytes the field takes in a packet
func (f Field) size() int { return 2 + len(f.Data) }

// Marshal lays fields out back to back.
func Marshal(fields []Field) ([]byte, error) {
	n := 0
	for _, f := range fields {
		n += f.size()
	}
	if n > MaxPacketLen {
		return nil, errors.Errorf("advertising: packet is %d bytes, max %d", n, MaxPacketLen)
	}
	out := make([]byte, 0, n)
	for _, f := range fields {
		out = append(out, byte(1+len(f.Data)), f.Type)
		out = append(out, f.Data...)
	}
	return out, nil
}

// Unmarshal splits a packet into its fields. A zero length byte starts the
// padding and ends the packet.
func Unmarshal(packet []byte) ([]Field, error) {
	var fields []Field
	for rest := packet; len(rest) > 0 && rest[0] != 0; {
		n := int(rest[0])
		if n >= len(rest) {
			return nil, errors.Errorf("advertising: field of %d bytes overruns packet (%d left)", n, len(rest)-1)
		}
		fields = append(fields, Field{Type: rest[1], Data: append([]byte(nil), rest[2:n+1]...)})
		rest = rest[n+1:]
	}
	return fields, nil
}

// Flags returns the Flags field
func Flags(flags byte) Field {
	return Field{Type: TypeFlags, Data: []byte{flags}}
}

// Name returns a complete or shortened local name field
func Name(name string, complete bool) Field {
	if complete {
		return Field{Type: TypeLocalName, Data: []byte(name)}
	}
	return Field{Type: TypeShortLocalName, Data: []byte(name)}
}

// Services16 returns a list of 16-bit service UUIDs
func Services16(ids []uint16, complete bool) Field {
	f := Field{Type: TypeSome16, Data: make([]byte, 0, 2*len(ids))}
	if complete {
		f.Type = TypeAll16
	}
	for _, id := range ids {
		f.Data = binary.LittleEndian.AppendUint16(f.Data, id)
	}
	return f
}

// Services128 returns a list of 128-bit service UUIDs
func Services128(ids []uuid.UUID, complete bool) Field {
	f := Field{Type: TypeSome128, Data: make([]byte, 0, 16*len(ids))}
	if complete {
		f.Type = TypeAll128
	}
	for _, id := range ids {
		for i := len(id) - 1; i >= 0; i-- {
			f.Data = append(f.Data, id[i])
		}
	}
	return f
}

// Services decodes the service UUIDs of a 16 or 128-bit list field.
func (f Field) Services() []uuid.UUID {
	var out []uuid.UUID
	switch f.Type {
	case TypeSome16, TypeAll16:
		for i := 0; i+2 <= len(f.Data); i += 2 {
			out = append(out, Long16(binary.LittleEndian.Uint16(f.Data[i:])))
		}
	case TypeSome128, TypeAll128:
		for i := 0; i+16 <= len(f.Data); i += 16 {
			var u uuid.UUID
			for j := range u {
				u[j] = f.Data[i+15-j]
			}
			out = append(out, u)
		}
	}
	return out
}

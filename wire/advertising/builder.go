package advertising

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is 00000000-0000-1000-8000-00805F9B34FB. UUIDs that only
// differ from it in bytes 2-3 have a 16-bit short form.
var bluetoothBaseUUID = uuid.UUID{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB,
}

// DefaultFlags marks the peripheral as LE-only and generally discoverable.
const DefaultFlags = FlagGeneralDiscoverable | FlagNoBREDR

// Payload is an assembled legacy advertisement: the advertising data, the
// scan response carrying what did not fit, and anything that fit nowhere.
type Payload struct {
	AdvData      []byte
	ScanResponse []byte
	Overflowed   bool     // something was moved to the scan response
	Dropped      []string // items that fit in neither packet
}

// Short16 reports the 16-bit short form of u, if it has one.
func Short16(u uuid.UUID) (uint16, bool) {
	base := bluetoothBaseUUID
	copy(base[2:4], u[2:4])
	if base != u {
		return 0, false
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// Long16 expands a 16-bit UUID onto the Bluetooth base UUID.
func Long16(s uint16) uuid.UUID {
	u := bluetoothBaseUUID
	binary.BigEndian.PutUint16(u[2:4], s)
	return u
}

// Build lays out a local name and service UUID list the way a peripheral
// stack does: flags and as many service UUIDs as fit go into the advertising
// data, then the complete name if there is room. UUIDs and the name that do
// not fit overflow into the scan response, where an over-long name is sent
// shortened.
func Build(localName string, serviceUUIDs []uuid.UUID) (*Payload, error) {
	var short []uint16
	var long []uuid.UUID
	for _, u := range serviceUUIDs {
		if s, ok := Short16(u); ok {
			short = append(short, s)
		} else {
			long = append(long, u)
		}
	}

	p := &Payload{}
	adv := newBudget()
	adv.add(Flags(DefaultFlags))
	rsp := newBudget()

	shortIn, shortOut := split(len(short), 2, adv.remaining())
	if shortIn > 0 {
		adv.add(Services16(short[:shortIn], shortOut == 0))
	}
	longIn, longOut := split(len(long), 16, adv.remaining())
	if longIn > 0 {
		adv.add(Services128(long[:longIn], longOut == 0))
	}

	if shortOut > 0 {
		p.Overflowed = true
		n, _ := split(shortOut, 2, rsp.remaining())
		if n > 0 {
			rsp.add(Services16(short[shortIn:shortIn+n], false))
		}
		for _, s := range short[shortIn+n:] {
			p.Dropped = append(p.Dropped, fmt.Sprintf("%04X", s))
		}
	}
	if longOut > 0 {
		p.Overflowed = true
		n, _ := split(longOut, 16, rsp.remaining())
		if n > 0 {
			rsp.add(Services128(long[longIn:longIn+n], false))
		}
		for _, u := range long[longIn+n:] {
			p.Dropped = append(p.Dropped, u.String())
		}
	}

	if localName != "" {
		name := Name(localName, true)
		switch {
		case name.size() <= adv.remaining():
			adv.add(name)
		case name.size() <= rsp.remaining():
			p.Overflowed = true
			rsp.add(name)
		case rsp.remaining() > 2:
			p.Overflowed = true
			rsp.add(Name(truncateName(localName, rsp.remaining()-2), false))
		default:
			p.Dropped = append(p.Dropped, localName)
		}
	}

	var err error
	if p.AdvData, err = Marshal(adv.fields); err != nil {
		return nil, err
	}
	if len(rsp.fields) > 0 {
		if p.ScanResponse, err = Marshal(rsp.fields); err != nil {
			return nil, err
		}
	}
	return p, nil
}

type budget struct {
	fields []Field
	used   int
}

func newBudget() *budget { return &budget{} }

func (b *budget) remaining() int { return MaxPacketLen - b.used }

func (b *budget) add(f Field) {
	b.fields = append(b.fields, f)
	b.used += f.size()
}

// split returns how many of count items of size bytes fit in room as one AD
// structure, and how many are left over.
func split(count, size, room int) (in, out int) {
	if count == 0 {
		return 0, 0
	}
	fit := (room - 2) / size
	if fit < 0 {
		fit = 0
	}
	if fit > count {
		fit = count
	}
	return fit, count - fit
}

// truncateName cuts name to at most max bytes without splitting a rune.
func truncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// ServiceUUIDs decodes every advertised service UUID from the given packets.
func ServiceUUIDs(packets ...[]byte) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, p := range packets {
		fields, err := Unmarshal(p)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			out = append(out, f.Services()...)
		}
	}
	return out, nil
}

// LocalName decodes the advertised local name from the given packets,
// preferring a complete name over a shortened one.
func LocalName(packets ...[]byte) (string, error) {
	var short string
	for _, p := range packets {
		fields, err := Unmarshal(p)
		if err != nil {
			return "", err
		}
		for _, f := range fields {
			switch {
			case f.Type == TypeLocalName:
				return string(f.Data), nil
			case f.Type == TypeShortLocalName && short == "":
				short = string(f.Data)
			}
		}
	}
	return short, nil
}

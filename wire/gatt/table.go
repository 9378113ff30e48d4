package gatt

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Characteristic property bits of a characteristic declaration
const (
	PropBroadcast            = 0x01
	PropRead                 = 0x02
	PropWriteWithoutResponse = 0x04
	PropWrite                = 0x08
	PropNotify               = 0x10
	PropIndicate             = 0x20
)

// Attribute permissions. Server side only; never sent to the central.
const (
	PermReadable = 0x01
	PermWritable = 0x02
)

// ErrInvalidHandle is returned for handles outside the table.
var ErrInvalidHandle = errors.New("gatt: invalid handle")

// Attribute is one row of the table.
type Attribute struct {
	Handle      uint16
	Type        []byte
	Value       []byte
	Permissions uint8
}

func (a Attribute) clone() Attribute {
	a.Type = append([]byte(nil), a.Type...)
	a.Value = append([]byte(nil), a.Value...)
	return a
}

// Service is a service to append to the table.
type Service struct {
	ID              uuid.UUID
	Primary         bool
	Characteristics []Characteristic
}

// Characteristic is a characteristic to append to the table. Zero
// Permissions derives them from Properties.
type Characteristic struct {
	ID          uuid.UUID
	Properties  uint8
	Permissions uint8
	Value       []byte
}

// CharHandles locates a characteristic's attributes. CCCD is zero unless the
// characteristic notifies or indicates.
type CharHandles struct {
	Declaration uint16
	Value       uint16
	CCCD        uint16
}

// ServiceHandles is the handle range of a service and its characteristics
// in declaration order.
type ServiceHandles struct {
	Start, End      uint16
	Characteristics []CharHandles
}

// Table is the attribute table a central discovers. Services are only
// appended, so handles never move.
type Table struct {
	mu    sync.RWMutex
	attrs []Attribute // attrs[i].Handle == i+1
}

// NewTable returns an empty table
func NewTable() *Table {
	return &Table{}
}

func (t *Table) appendLocked(typ, value []byte, perms uint8) uint16 {
	h := uint16(len(t.attrs) + 1)
	t.attrs = append(t.attrs, Attribute{
		Handle:      h,
		Type:        append([]byte(nil), typ...),
		Value:       append([]byte(nil), value...),
		Permissions: perms,
	})
	return h
}

// AddService appends a service declaration followed by each
// characteristic's declaration, value and CCCD.
func (t *Table) AddService(s Service) ServiceHandles {
	t.mu.Lock()
	defer t.mu.Unlock()

	typ := TypeSecondaryService
	if s.Primary {
		typ = TypePrimaryService
	}
	sh := ServiceHandles{Start: t.appendLocked(typ, UUIDBytes(s.ID), PermReadable)}

	for _, c := range s.Characteristics {
		id := UUIDBytes(c.ID)
		next := uint16(len(t.attrs) + 1)

		decl := make([]byte, 3, 3+len(id))
		decl[0] = c.Properties
		binary.LittleEndian.PutUint16(decl[1:], next+1)
		decl = append(decl, id...)

		ch := CharHandles{Declaration: t.appendLocked(TypeCharacteristic, decl, PermReadable)}
		perms := c.Permissions
		if perms == 0 {
			perms = permissionsFor(c.Properties)
		}
		ch.Value = t.appendLocked(id, c.Value, perms)
		if c.Properties&(PropNotify|PropIndicate) != 0 {
			ch.CCCD = t.appendLocked(TypeCCCD, CCCDValue(false, false), PermReadable|PermWritable)
		}
		sh.Characteristics = append(sh.Characteristics, ch)
	}

	sh.End = uint16(len(t.attrs))
	return sh
}

func permissionsFor(props uint8) uint8 {
	var perms uint8
	if props&PropRead != 0 {
		perms |= PermReadable
	}
	if props&(PropWrite|PropWriteWithoutResponse) != 0 {
		perms |= PermWritable
	}
	return perms
}

// Attribute returns a copy of the attribute at h
func (t *Table) Attribute(h uint16) (Attribute, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if h == 0 || int(h) > len(t.attrs) {
		return Attribute{}, errors.Wrapf(ErrInvalidHandle, "0x%04X", h)
	}
	return t.attrs[h-1].clone(), nil
}

// SetValue replaces the value stored at h
func (t *Table) SetValue(h uint16, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == 0 || int(h) > len(t.attrs) {
		return errors.Wrapf(ErrInvalidHandle, "0x%04X", h)
	}
	t.attrs[h-1].Value = append([]byte(nil), value...)
	return nil
}

// OfType returns the handles of every attribute of type typ
func (t *Table) OfType(typ []byte) []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var hs []uint16
	for _, a := range t.attrs {
		if bytes.Equal(a.Type, typ) {
			hs = append(hs, a.Handle)
		}
	}
	return hs
}

// Len returns the number of attributes
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.attrs)
}

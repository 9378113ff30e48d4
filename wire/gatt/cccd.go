package gatt

import (
	"encoding/binary"
	"sync"

	"github.com/user/ble-advertiser/wire/att"
)

// Client Characteristic Configuration bits
const (
	CCCDNotify   = 0x0001
	CCCDIndicate = 0x0002
)

// CCCDValue encodes a client characteristic configuration
func CCCDValue(notify, indicate bool) []byte {
	var v uint16
	if notify {
		v |= CCCDNotify
	}
	if indicate {
		v |= CCCDIndicate
	}
	return binary.LittleEndian.AppendUint16(nil, v)
}

// ParseCCCD decodes a client characteristic configuration. Anything but two
// bytes is rejected the way a server answers such a write.
func ParseCCCD(b []byte) (notify, indicate bool, err error) {
	if len(b) != 2 {
		return false, false, att.NewError(att.ErrInvalidAttributeValueLength, att.OpWriteRequest, 0)
	}
	v := binary.LittleEndian.Uint16(b)
	return v&CCCDNotify != 0, v&CCCDIndicate != 0, nil
}

// Subscriptions holds one connection's CCCD values, keyed by the value
// handle of the characteristic. They live as long as the connection.
type Subscriptions struct {
	mu  sync.RWMutex
	cfg map[uint16]uint16
}

// NewSubscriptions returns an empty set
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{cfg: make(map[uint16]uint16)}
}

// Configure applies a CCCD write and reports whether the characteristic is
// subscribed afterwards.
func (s *Subscriptions) Configure(handle uint16, value []byte) (bool, error) {
	notify, indicate, err := ParseCCCD(value)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !notify && !indicate {
		delete(s.cfg, handle)
		return false, nil
	}
	s.cfg[handle] = binary.LittleEndian.Uint16(value)
	return true, nil
}

// Subscribed reports whether notifications or indications are on for handle
func (s *Subscriptions) Subscribed(handle uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cfg[handle]
	return ok
}

// Notifying reports whether notifications, not indications, are on for handle
func (s *Subscriptions) Notifying(handle uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg[handle]&CCCDNotify != 0
}

// Handles returns the subscribed value handles
func (s *Subscriptions) Handles() []uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hs := make([]uint16, 0, len(s.cfg))
	for h := range s.cfg {
		hs = append(hs, h)
	}
	return hs
}

// Reset drops every subscription
func (s *Subscriptions) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = make(map[uint16]uint16)
}

// Len returns the number of subscribed characteristics
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cfg)
}

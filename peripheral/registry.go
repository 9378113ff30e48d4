package peripheral

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
)

// ServiceRegistry owns the live characteristic handles, the read values
// returned to centrals and the list of advertised service identifiers.
// All keys are canonical identifier strings.
type ServiceRegistry struct {
	mu          sync.RWMutex
	handles     map[string]*radio.MutableCharacteristic
	readValues  map[string][]byte
	serviceIDs  []uuid.UUID
	subscribers map[string]map[string]radio.Central
}

// NewServiceRegistry creates an empty registry
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		handles:     make(map[string]*radio.MutableCharacteristic),
		readValues:  make(map[string][]byte),
		subscribers: make(map[string]map[string]radio.Central),
	}
}

// AddService builds a primary service from descs and registers a live handle
// for every characteristic. A characteristic registered again replaces the
// earlier handle.
func (r *ServiceRegistry) AddService(serviceID uuid.UUID, descs []CharacteristicDescriptor) *radio.MutableService {
	svc, _ := r.addService(serviceID, descs)
	return svc
}

// addService is AddService returning an undo that puts back the handles
// and service identifier the call replaced or added.
func (r *ServiceRegistry) addService(serviceID uuid.UUID, descs []CharacteristicDescriptor) (*radio.MutableService, func()) {
	chars := make([]*radio.MutableCharacteristic, 0, len(descs))
	for _, d := range descs {
		chars = append(chars, d.Characteristic())
	}
	svc := radio.NewMutableService(serviceID, true, chars)

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := make(map[string]*radio.MutableCharacteristic, len(chars))
	for _, c := range chars {
		key := c.Key()
		prev, exists := r.handles[key]
		if exists {
			logger.Warn("registry", "characteristic %s registered again, replacing earlier handle", key)
		}
		if _, seen := replaced[key]; !seen {
			replaced[key] = prev
		}
		r.handles[key] = c
	}

	known := false
	for _, id := range r.serviceIDs {
		if id == serviceID {
			known = true
			break
		}
	}
	if !known {
		r.serviceIDs = append(r.serviceIDs, serviceID)
	}

	undo := func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		for _, c := range chars {
			key := c.Key()
			if r.handles[key] != c {
				continue
			}
			if prev := replaced[key]; prev != nil {
				r.handles[key] = prev
			} else {
				delete(r.handles, key)
			}
		}
		if !known {
			for i, id := range r.serviceIDs {
				if id == serviceID {
					r.serviceIDs = append(r.serviceIDs[:i], r.serviceIDs[i+1:]...)
					break
				}
			}
		}
	}
	return svc, undo
}

// SetReadValue stores the payload returned for reads of id
func (r *ServiceRegistry) SetReadValue(id string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readValues[canonicalKey(id)] = append([]byte{}, payload...)
}

// ReadValue returns a copy of the read value for id
func (r *ServiceRegistry) ReadValue(id string) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.readValues[canonicalKey(id)]
	if !ok {
		return nil, false
	}
	return append([]byte{}, v...), true
}

// LookupHandle returns the live handle registered for id
func (r *ServiceRegistry) LookupHandle(id string) (*radio.MutableCharacteristic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.handles[canonicalKey(id)]
	return c, ok
}

// Has reports whether a characteristic is registered under id
func (r *ServiceRegistry) Has(id string) bool {
	_, ok := r.LookupHandle(id)
	return ok
}

// ServiceIDs returns the advertised service identifiers in registration order
func (r *ServiceRegistry) ServiceIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uuid.UUID(nil), r.serviceIDs...)
}

// Subscribed records that central subscribed to id
func (r *ServiceRegistry) Subscribed(id string, central radio.Central) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := canonicalKey(id)
	set, ok := r.subscribers[key]
	if !ok {
		set = make(map[string]radio.Central)
		r.subscribers[key] = set
	}
	set[central.ID] = central
}

// Unsubscribed removes central from the subscribers of id
func (r *ServiceRegistry) Unsubscribed(id string, central radio.Central) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := canonicalKey(id)
	delete(r.subscribers[key], central.ID)
	if len(r.subscribers[key]) == 0 {
		delete(r.subscribers, key)
	}
}

// Subscribers returns the centrals subscribed to id, ordered by central ID
func (r *ServiceRegistry) Subscribers(id string) []radio.Central {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subscribers[canonicalKey(id)]
	out := make([]radio.Central, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

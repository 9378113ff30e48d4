// Package sim is an in-process peripheral manager. It plays the part of the
// platform Bluetooth stack: it owns the attribute database, enforces
// permissions, answers static reads and delivers every delegate callback on
// one dispatch goroutine.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/wire/advertising"
	"github.com/user/ble-advertiser/wire/att"
	"github.com/user/ble-advertiser/wire/gatt"
)

var (
	// ErrNotPoweredOn is reported for operations attempted while the radio is off.
	ErrNotPoweredOn = errors.New("peripheral manager is not powered on")
	// ErrAlreadyAdvertising is returned by StartAdvertising while advertising.
	ErrAlreadyAdvertising = errors.New("already advertising")
	// ErrClosed is returned by centrals of a closed manager.
	ErrClosed = errors.New("peripheral manager closed")
	// ErrDisconnected completes requests of a central that disconnected.
	ErrDisconnected = errors.New("central disconnected")
)

// Config controls the simulated stack
type Config struct {
	InitialState radio.ManagerState
	// PowerOnDelay powers the radio on after the delay when non-zero,
	// mimicking stack initialization.
	PowerOnDelay time.Duration
	// QueueDepth is the per-central notification transmit queue length.
	QueueDepth int
	// MTU is the ATT MTU of every simulated connection.
	MTU int
	// ResponseTimeout bounds how long a central waits for the delegate to respond.
	ResponseTimeout time.Duration
}

// DefaultConfig returns a stack that starts in the unknown state and powers
// on shortly after creation.
func DefaultConfig() Config {
	return Config{
		InitialState:    radio.StateUnknown,
		PowerOnDelay:    100 * time.Millisecond,
		QueueDepth:      16,
		MTU:             185,
		ResponseTimeout: att.DefaultTransactionTimeout,
	}
}

// transaction is a group of requests delivered to the delegate together and
// completed once every request has been responded to.
type transaction struct {
	central   *Central
	opcode    byte
	remaining int
	result    radio.ATTError
	value     []byte
}

// Manager is a simulated radio.PeripheralManager
type Manager struct {
	cfg Config

	mu          sync.Mutex
	delegate    radio.PeripheralManagerDelegate
	state       radio.ManagerState
	advertising bool
	advData     radio.AdvertisementData
	payload     *advertising.Payload

	services     []*radio.MutableService
	table        *gatt.Table
	handleByKey  map[string]uint16
	charByHandle map[uint16]*radio.MutableCharacteristic
	handleOf     map[*radio.MutableCharacteristic]uint16

	centrals  map[string]*Central
	pending   map[*radio.ATTRequest]*transaction
	wantReady bool

	transcript *transcript

	queue   chan func()
	done    chan struct{}
	stopped chan struct{}
	closeMu sync.Once
	powerOn *time.Timer
}

var _ radio.PeripheralManager = (*Manager)(nil)

// New creates a simulated peripheral manager and starts its dispatch goroutine
func New(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	if cfg.MTU < 23 {
		cfg.MTU = def.MTU
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}

	m := &Manager{
		cfg:          cfg,
		state:        cfg.InitialState,
		table:        gatt.NewTable(),
		handleByKey:  make(map[string]uint16),
		charByHandle: make(map[uint16]*radio.MutableCharacteristic),
		handleOf:     make(map[*radio.MutableCharacteristic]uint16),
		centrals:     make(map[string]*Central),
		pending:      make(map[*radio.ATTRequest]*transaction),
		transcript:   newTranscript(),
		queue:        make(chan func(), 256),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go m.run()

	if cfg.PowerOnDelay > 0 && cfg.InitialState != radio.StatePoweredOn {
		m.powerOn = time.AfterFunc(cfg.PowerOnDelay, m.PowerOn)
	}
	return m
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.queue:
			fn()
		case <-m.done:
			return
		}
	}
}

// enqueue schedules fn on the dispatch goroutine. Never call it with m.mu held.
func (m *Manager) enqueue(fn func()) {
	select {
	case m.queue <- fn:
	case <-m.done:
	}
}

// dispatch delivers a delegate callback on the dispatch goroutine
func (m *Manager) dispatch(fn func(d radio.PeripheralManagerDelegate)) {
	m.enqueue(func() {
		m.mu.Lock()
		d := m.delegate
		m.mu.Unlock()
		if d != nil {
			fn(d)
		}
	})
}

// Flush waits until every callback queued so far has been delivered.
// It must not be called from a delegate callback.
func (m *Manager) Flush() {
	flushed := make(chan struct{})
	m.enqueue(func() { close(flushed) })
	select {
	case <-flushed:
	case <-m.done:
	}
}

// Close stops the dispatch goroutine and disconnects every central
func (m *Manager) Close() {
	m.closeMu.Do(func() {
		if m.powerOn != nil {
			m.powerOn.Stop()
		}
		close(m.done)
		<-m.stopped

		m.mu.Lock()
		centrals := make([]*Central, 0, len(m.centrals))
		for _, c := range m.centrals {
			centrals = append(centrals, c)
		}
		m.mu.Unlock()
		for _, c := range centrals {
			c.bearer.Abort(ErrClosed)
		}
	})
}

// SetDelegate installs the delegate that receives callbacks
func (m *Manager) SetDelegate(d radio.PeripheralManagerDelegate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delegate = d
}

// State returns the current radio state
func (m *Manager) State() radio.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PowerOn moves the radio to the powered-on state
func (m *Manager) PowerOn() { m.SetState(radio.StatePoweredOn) }

// SetState changes the radio state. Leaving the powered-on state stops
// advertising and drops every connection's subscriptions.
func (m *Manager) SetState(s radio.ManagerState) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	if s != radio.StatePoweredOn {
		m.advertising = false
		m.payload = nil
		for _, c := range m.centrals {
			c.subs.Reset()
		}
	}
	m.mu.Unlock()

	logger.Debug("sim", "state %s -> %s", prev, s)
	m.transcript.record("state", map[string]interface{}{"state": s.String()})
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidUpdateState(m) })
}

// StartAdvertising assembles the advertising packets and starts advertising
func (m *Manager) StartAdvertising(data radio.AdvertisementData) error {
	m.mu.Lock()
	if m.state != radio.StatePoweredOn {
		m.mu.Unlock()
		m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidStartAdvertising(m, ErrNotPoweredOn) })
		return nil
	}
	if m.advertising {
		m.mu.Unlock()
		return ErrAlreadyAdvertising
	}

	payload, err := advertising.Build(data.LocalName, data.ServiceUUIDs)
	if err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "build advertisement")
	}
	m.advertising = true
	m.advData = radio.AdvertisementData{
		LocalName:    data.LocalName,
		ServiceUUIDs: append([]uuid.UUID(nil), data.ServiceUUIDs...),
	}
	m.payload = payload
	m.mu.Unlock()

	if len(payload.Dropped) > 0 {
		logger.Warn("sim", "advertisement too large, not advertised: %v", payload.Dropped)
	}
	m.transcript.record("startAdvertising", map[string]interface{}{
		"localName":    data.LocalName,
		"services":     len(data.ServiceUUIDs),
		"advData":      fmt.Sprintf("%X", payload.AdvData),
		"scanResponse": fmt.Sprintf("%X", payload.ScanResponse),
	})
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidStartAdvertising(m, nil) })
	return nil
}

// StopAdvertising stops advertising
func (m *Manager) StopAdvertising() {
	m.mu.Lock()
	was := m.advertising
	m.advertising = false
	m.payload = nil
	m.mu.Unlock()

	if was {
		m.transcript.record("stopAdvertising", nil)
	}
}

// IsAdvertising reports whether the simulated radio is advertising
func (m *Manager) IsAdvertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertising
}

// Advertisement returns what a scanning central would see: the assembled
// packets, the local name and the advertised service UUIDs.
func (m *Manager) Advertisement() (payload *advertising.Payload, name string, services []uuid.UUID, ok bool) {
	m.mu.Lock()
	payload = m.payload
	m.mu.Unlock()
	if payload == nil {
		return nil, "", nil, false
	}

	name, err := advertising.LocalName(payload.AdvData, payload.ScanResponse)
	if err != nil {
		return payload, "", nil, false
	}
	services, err = advertising.ServiceUUIDs(payload.AdvData, payload.ScanResponse)
	if err != nil {
		return payload, name, nil, false
	}
	return payload, name, services, true
}

// AddService adds a service to the attribute database
func (m *Manager) AddService(service *radio.MutableService) error {
	for _, c := range service.Characteristics {
		if c.Value != nil && c.Properties&^(radio.PropertyRead|radio.PropertyBroadcast) != 0 {
			return errors.Errorf("characteristic %s has a static value but is not read-only (%s)", c.Key(), c.Properties)
		}
	}

	m.mu.Lock()
	if m.state != radio.StatePoweredOn {
		m.mu.Unlock()
		m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidAddService(m, service, ErrNotPoweredOn) })
		return nil
	}

	desc := gatt.Service{ID: service.UUID, Primary: service.IsPrimary}
	for _, c := range service.Characteristics {
		c.Service = service
		desc.Characteristics = append(desc.Characteristics, gatt.Characteristic{
			ID:          c.UUID,
			Properties:  uint8(c.Properties & 0xFF),
			Permissions: uint8(c.Permissions & (radio.PermissionReadable | radio.PermissionWriteable)),
			Value:       c.Value,
		})
	}
	m.services = append(m.services, service)
	handles := m.table.AddService(desc)
	for i, c := range service.Characteristics {
		h := handles.Characteristics[i].Value
		m.handleByKey[c.Key()] = h
		m.charByHandle[h] = c
		m.handleOf[c] = h
	}
	count := m.table.Len()
	m.mu.Unlock()

	logger.Info("sim", "added service %s (%d attributes in database)", radio.CanonicalID(service.UUID), count)
	m.transcript.record("addService", map[string]interface{}{
		"service":         radio.CanonicalID(service.UUID),
		"characteristics": len(service.Characteristics),
	})
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidAddService(m, service, nil) })
	return nil
}

// Handle returns the attribute handle of a characteristic's value
func (m *Manager) Handle(charID uuid.UUID) (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handleByKey[radio.CanonicalID(charID)]
	return h, ok
}

// RespondToRequest completes a request the delegate received
func (m *Manager) RespondToRequest(request *radio.ATTRequest, result radio.ATTError) {
	m.mu.Lock()
	txn, ok := m.pending[request]
	if !ok {
		m.mu.Unlock()
		logger.Warn("sim", "response (%d) to a request that is not pending", result)
		m.transcript.record("respondUnknown", map[string]interface{}{"result": int(result)})
		return
	}
	delete(m.pending, request)
	txn.remaining--
	if result != radio.ATTErrorSuccess && txn.result == radio.ATTErrorSuccess {
		txn.result = result
	}
	if txn.opcode == att.OpReadRequest || txn.opcode == att.OpReadBlobRequest {
		txn.value = append([]byte{}, request.Value...)
	}
	finished := txn.remaining == 0
	m.mu.Unlock()

	key := ""
	if request.Characteristic != nil {
		key = request.Characteristic.Key()
	}
	m.transcript.record("respond", map[string]interface{}{
		"central":        request.Central.ID,
		"characteristic": key,
		"result":         att.ErrorName(uint8(result)),
		"value":          printable(request.Value),
	})

	if finished {
		txn.central.finish(txn)
	}
}

// UpdateValue queues a notification to every subscribed central, or to the
// given ones. Nothing is queued and false is returned when any target's
// transmit queue is full.
func (m *Manager) UpdateValue(value []byte, characteristic *radio.MutableCharacteristic, centrals []radio.Central) bool {
	m.mu.Lock()
	handle, ok := m.handleOf[characteristic]
	if !ok {
		m.mu.Unlock()
		logger.Warn("sim", "updateValue for a characteristic that was never added")
		return false
	}

	var only map[string]bool
	if len(centrals) > 0 {
		only = make(map[string]bool, len(centrals))
		for _, c := range centrals {
			only[c.ID] = true
		}
	}

	var targets []*Central
	for id, c := range m.centrals {
		if only != nil && !only[id] {
			continue
		}
		if c.subs.Subscribed(handle) {
			targets = append(targets, c)
		}
	}
	for _, c := range targets {
		if len(c.notifications) == cap(c.notifications) {
			m.wantReady = true
			m.mu.Unlock()
			logger.Debug("sim", "transmit queue full for central %s", c.id)
			return false
		}
	}

	limit := m.cfg.MTU - 3
	if len(value) > limit {
		logger.Debug("sim", "notification truncated from %d to %d bytes", len(value), limit)
		value = value[:limit]
	}
	for _, c := range targets {
		c.notifications <- Notification{Characteristic: characteristic.UUID, Value: append([]byte{}, value...)}
	}
	m.mu.Unlock()

	m.transcript.record("updateValue", map[string]interface{}{
		"characteristic": characteristic.Key(),
		"value":          printable(value),
		"centrals":       len(targets),
	})
	return true
}

// drained is called when a central takes a notification off its queue
func (m *Manager) drained() {
	m.mu.Lock()
	ready := m.wantReady
	m.wantReady = false
	m.mu.Unlock()

	if ready {
		m.dispatch(func(d radio.PeripheralManagerDelegate) { d.IsReadyToUpdateSubscribers(m) })
	}
}

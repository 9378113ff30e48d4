// Package goble drives a real controller through github.com/go-ble/ble.
// The stack owns the HCI socket and the attribute database; this package
// translates its handler callbacks into radio delegate events and blocks
// each handler until the delegate responds.
package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/wire/advertising"
	"github.com/user/ble-advertiser/wire/att"
)

var (
	// ErrNotPoweredOn is reported for operations attempted without a usable controller.
	ErrNotPoweredOn = errors.New("bluetooth controller is not powered on")
	// ErrAlreadyAdvertising is returned by StartAdvertising while advertising.
	ErrAlreadyAdvertising = errors.New("already advertising")
	// ErrUnsupportedPlatform is returned by Open where go-ble has no backend.
	ErrUnsupportedPlatform = errors.New("no go-ble backend for this platform")
)

// advertiseGrace is how long StartAdvertising waits for the controller to
// reject the advertisement before reporting success.
const advertiseGrace = 250 * time.Millisecond

// Device is the part of ble.Device the manager uses
type Device interface {
	AddService(svc *ble.Service) error
	RemoveAllServices() error
	AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error
	Stop() error
}

// Config controls the manager
type Config struct {
	// ResponseTimeout bounds how long a handler waits for the delegate.
	ResponseTimeout time.Duration
	// QueueDepth is the per-subscriber notification queue length.
	QueueDepth int
}

// DefaultConfig returns the settings used by Open
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: att.DefaultTransactionTimeout,
		QueueDepth:      16,
	}
}

type response struct {
	result radio.ATTError
	value  []byte
}

// Manager is a radio.PeripheralManager backed by a go-ble device
type Manager struct {
	dev Device
	cfg Config

	mu          sync.Mutex
	delegate    radio.PeripheralManagerDelegate
	state       radio.ManagerState
	advertising bool
	advCancel   context.CancelFunc
	advSeq      uint64

	chars       map[string]*radio.MutableCharacteristic
	subscribers map[string]map[string]*subscriber // characteristic key -> central ID
	pending     map[*radio.ATTRequest]chan response
	wantReady   bool

	queue   chan func()
	done    chan struct{}
	stopped chan struct{}
	closeMu sync.Once
}

var _ radio.PeripheralManager = (*Manager)(nil)

// Open creates the platform default device and wraps it
func Open(cfg Config) (*Manager, error) {
	dev, err := newDevice()
	if err != nil {
		return nil, errors.Wrap(err, "open bluetooth device")
	}
	return New(dev, cfg), nil
}

// New wraps an opened device. The controller is usable once opened, so the
// manager starts powered on.
func New(dev Device, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}

	m := &Manager{
		dev:         dev,
		cfg:         cfg,
		state:       radio.StatePoweredOn,
		chars:       make(map[string]*radio.MutableCharacteristic),
		subscribers: make(map[string]map[string]*subscriber),
		pending:     make(map[*radio.ATTRequest]chan response),
		queue:       make(chan func(), 256),
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go m.run()
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

// Flush waits until every callback queued so far has been delivered
func (m *Manager) Flush() {
	flushed := make(chan struct{})
	m.enqueue(func() { close(flushed) })
	select {
	case <-flushed:
	case <-m.done:
	}
}

// Close stops advertising, releases the device and fails outstanding requests
func (m *Manager) Close() error {
	var err error
	m.closeMu.Do(func() {
		m.StopAdvertising()

		m.mu.Lock()
		m.state = radio.StatePoweredOff
		for req, ch := range m.pending {
			ch <- response{result: radio.ATTErrorUnlikelyError}
			delete(m.pending, req)
		}
		m.mu.Unlock()

		err = m.dev.Stop()
		close(m.done)
		<-m.stopped
	})
	return errors.Wrap(err, "stop bluetooth device")
}

// SetDelegate installs the delegate and reports the current state to it
func (m *Manager) SetDelegate(d radio.PeripheralManagerDelegate) {
	m.mu.Lock()
	m.delegate = d
	m.mu.Unlock()
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidUpdateState(m) })
}

// State returns the controller state
func (m *Manager) State() radio.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartAdvertising advertises the local name and service UUIDs until
// StopAdvertising. go-ble lays out the packets itself.
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

	uuids := make([]ble.UUID, 0, len(data.ServiceUUIDs))
	for _, id := range data.ServiceUUIDs {
		u, err := bleUUID(id)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		uuids = append(uuids, u)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.advertising = true
	m.advCancel = cancel
	m.advSeq++
	seq := m.advSeq
	m.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.dev.AdvertiseNameAndServices(ctx, data.LocalName, uuids...)
	}()
	go m.watchAdvertising(ctx, seq, errCh)
	return nil
}

// watchAdvertising reports the outcome of an advertisement: an error from
// the controller within the grace period fails it, silence means success.
func (m *Manager) watchAdvertising(ctx context.Context, seq uint64, errCh <-chan error) {
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return
		}
		m.advertisingEnded(seq)
		m.dispatch(func(d radio.PeripheralManagerDelegate) {
			d.DidStartAdvertising(m, errors.Wrap(advertiseError(err), "advertise"))
		})
		return
	case <-ctx.Done():
		return
	case <-time.After(advertiseGrace):
	}
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidStartAdvertising(m, nil) })

	if err := <-errCh; err != nil && ctx.Err() == nil {
		logger.Error("goble", "advertising stopped: %v", err)
		m.advertisingEnded(seq)
	}
}

func (m *Manager) advertisingEnded(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advSeq == seq {
		m.advertising = false
		m.advCancel = nil
	}
}

// advertiseError turns a nil return from a device that stopped on its own into an error
func advertiseError(err error) error {
	if err == nil {
		return errors.New("advertising ended unexpectedly")
	}
	return err
}

// StopAdvertising cancels the running advertisement
func (m *Manager) StopAdvertising() {
	m.mu.Lock()
	cancel := m.advCancel
	m.advertising = false
	m.advCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		logger.Debug("goble", "advertising stopped")
	}
}

// IsAdvertising reports whether an advertisement is running
func (m *Manager) IsAdvertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advertising
}

// AddService registers the service with the controller's GATT server
func (m *Manager) AddService(service *radio.MutableService) error {
	svc, err := m.buildService(service)
	if err != nil {
		return err
	}

	if m.State() != radio.StatePoweredOn {
		m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidAddService(m, service, ErrNotPoweredOn) })
		return nil
	}

	err = m.dev.AddService(svc)
	if err == nil {
		m.mu.Lock()
		for _, c := range service.Characteristics {
			m.chars[c.Key()] = c
		}
		m.mu.Unlock()
		logger.Info("goble", "added service %s with %d characteristics", radio.CanonicalID(service.UUID), len(service.Characteristics))
	} else {
		err = errors.Wrapf(err, "add service %s", radio.CanonicalID(service.UUID))
	}
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidAddService(m, service, err) })
	return nil
}

// buildService translates a mutable service into go-ble's representation,
// wiring a handler for every dynamic property.
func (m *Manager) buildService(service *radio.MutableService) (*ble.Service, error) {
	id, err := bleUUID(service.UUID)
	if err != nil {
		return nil, err
	}
	svc := ble.NewService(id)

	for _, c := range service.Characteristics {
		cid, err := bleUUID(c.UUID)
		if err != nil {
			return nil, err
		}
		bc := svc.NewCharacteristic(cid)

		if c.Value != nil {
			if c.Properties&^(radio.PropertyRead|radio.PropertyBroadcast) != 0 {
				return nil, errors.Errorf("characteristic %s has a static value but is not read-only (%s)", c.Key(), c.Properties)
			}
			bc.SetValue(append([]byte(nil), c.Value...))
			bc.Property |= ble.CharRead
			continue
		}

		char := c
		if c.Properties.Has(radio.PropertyRead) {
			bc.HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				value, result := m.serveRead(char, centralOf(req.Conn()), req.Offset())
				if result != radio.ATTErrorSuccess {
					rsp.SetStatus(ble.ATTError(result))
					return
				}
				if limit := rsp.Cap(); len(value) > limit {
					value = value[:limit]
				}
				if _, err := rsp.Write(value); err != nil {
					logger.Warn("goble", "read response for %s: %v", char.Key(), err)
				}
			}))
		}
		if c.Properties.Has(radio.PropertyWrite) || c.Properties.Has(radio.PropertyWriteWithoutResponse) {
			bc.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
				result := m.serveWrite(char, centralOf(req.Conn()), req.Offset(), req.Data())
				if result != radio.ATTErrorSuccess {
					rsp.SetStatus(ble.ATTError(result))
				}
			}))
			if c.Properties.Has(radio.PropertyWriteWithoutResponse) {
				bc.Property |= ble.CharWriteNR
			}
		}
		if c.Properties.Has(radio.PropertyNotify) || c.Properties.Has(radio.PropertyIndicate) {
			h := ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				m.serveSubscription(n.Context(), char, centralOf(req.Conn()), n.Cap(), n.Write)
			})
			if c.Properties.Has(radio.PropertyNotify) {
				bc.HandleNotify(h)
			}
			if c.Properties.Has(radio.PropertyIndicate) {
				bc.HandleIndicate(h)
			}
		}
	}
	return svc, nil
}

// RespondToRequest completes a request blocked in a handler
func (m *Manager) RespondToRequest(request *radio.ATTRequest, result radio.ATTError) {
	m.mu.Lock()
	ch, ok := m.pending[request]
	delete(m.pending, request)
	m.mu.Unlock()

	if !ok {
		logger.Warn("goble", "response %d to unknown or already answered request", result)
		return
	}
	ch <- response{result: result, value: append([]byte(nil), request.Value...)}
}

// UpdateValue queues value for every subscriber of characteristic, or only
// for the listed centrals. Nothing is queued unless every target has room.
func (m *Manager) UpdateValue(value []byte, characteristic *radio.MutableCharacteristic, centrals []radio.Central) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subscribers[characteristic.Key()]
	targets := make([]*subscriber, 0, len(subs))
	if len(centrals) == 0 {
		for _, s := range subs {
			targets = append(targets, s)
		}
	} else {
		for _, c := range centrals {
			if s, ok := subs[c.ID]; ok {
				targets = append(targets, s)
			}
		}
	}

	for _, s := range targets {
		if len(s.queue) == cap(s.queue) {
			m.wantReady = true
			return false
		}
	}
	for _, s := range targets {
		s.queue <- append([]byte(nil), value...)
	}
	return true
}

// bleUUID converts to go-ble's byte order, using the short form for
// UUIDs on the Bluetooth base.
func bleUUID(id uuid.UUID) (ble.UUID, error) {
	if short, ok := advertising.Short16(id); ok {
		return ble.UUID16(short), nil
	}
	u, err := ble.Parse(id.String())
	if err != nil {
		return nil, errors.Wrapf(err, "convert uuid %s", id)
	}
	return u, nil
}

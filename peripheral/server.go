// Package peripheral maps declarative service configuration onto a radio
// peripheral manager and answers the requests it delivers.
package peripheral

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
)

// ReadMissPolicy decides how a read of a characteristic with no read value is answered.
type ReadMissPolicy int

const (
	// ReadMissReject answers with ATTErrorUnlikelyError.
	ReadMissReject ReadMissPolicy = iota
	// ReadMissEmpty answers with success and an empty value.
	ReadMissEmpty
)

// DecodePolicy decides what happens to write payloads that are not valid UTF-8.
type DecodePolicy int

const (
	// DecodeStrict drops the payload and reports a *DecodeError.
	DecodeStrict DecodePolicy = iota
	// DecodeReplace forwards the payload with invalid bytes replaced by U+FFFD.
	DecodeReplace
)

// Option configures a Server
type Option func(*Server)

// WithReadMissPolicy sets how reads without a read value are answered
func WithReadMissPolicy(p ReadMissPolicy) Option {
	return func(s *Server) { s.readMiss = p }
}

// WithDecodePolicy sets how undecodable write payloads are handled
func WithDecodePolicy(p DecodePolicy) Option {
	return func(s *Server) { s.decode = p }
}

// WithExtendedProperties makes AddService parse property tokens with
// ParseExtendedProperties.
func WithExtendedProperties() Option {
	return func(s *Server) { s.extended = true }
}

// WithErrorHandler installs a hook for errors raised while handling radio
// events, which have no caller to return to.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Server) { s.onError = fn }
}

// Server is the GATT server core. It is the delegate of exactly one
// peripheral manager.
type Server struct {
	pm       radio.PeripheralManager
	registry *ServiceRegistry
	bridge   *EventBridge
	adv      *AdvertisingController

	readMiss ReadMissPolicy
	decode   DecodePolicy
	extended bool
	onError  func(error)

	pendingMu sync.Mutex
	pending   map[*radio.MutableService]func() // undo until the radio confirms

	stateMu sync.Mutex
	state   radio.ManagerState
	stateCh chan struct{} // closed on every state change
}

// NewServer creates a server and installs it as pm's delegate
func NewServer(pm radio.PeripheralManager, opts ...Option) *Server {
	s := &Server{
		pm:       pm,
		registry: NewServiceRegistry(),
		bridge:   &EventBridge{},
		pending:  make(map[*radio.MutableService]func()),
		stateCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.adv = newAdvertisingController(pm, s.registry, s.report)
	s.state = pm.State()
	pm.SetDelegate(s)
	return s
}

// Registry exposes the server's service registry
func (s *Server) Registry() *ServiceRegistry { return s.registry }

// Advertising exposes the server's advertising controller
func (s *Server) Advertising() *AdvertisingController { return s.adv }

// State returns the last radio state the server observed
func (s *Server) State() radio.ManagerState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// AwaitPoweredOn blocks until the radio is powered on, the radio reports it
// can never power on, or ctx is done.
func (s *Server) AwaitPoweredOn(ctx context.Context) error {
	for {
		s.stateMu.Lock()
		state, ch := s.state, s.stateCh
		s.stateMu.Unlock()

		switch state {
		case radio.StatePoweredOn:
			return nil
		case radio.StateUnsupported, radio.StateUnauthorized:
			return errors.Wrapf(ErrRadioUnavailable, "radio is %s", state)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

var _ radio.PeripheralManagerDelegate = (*Server)(nil)

// SetListener replaces the callback that receives decoded write payloads
func (s *Server) SetListener(fn func(string)) {
	s.bridge.SetListener(fn)
}

// StartAdvertising advertises deviceName and every registered service
func (s *Server) StartAdvertising(deviceName string) {
	s.adv.StartAdvertising(deviceName)
}

// StopAdvertising stops advertising
func (s *Server) StopAdvertising() {
	s.adv.StopAdvertising()
}

// AddService validates every characteristic, registers them and publishes
// the service. Nothing is registered if validation fails, and the
// registration is undone if the radio rejects the service.
func (s *Server) AddService(serviceID string, chars []CharacteristicConfig) error {
	id, err := ParseID(serviceID)
	if err != nil {
		return err
	}

	descs := make([]CharacteristicDescriptor, 0, len(chars))
	for _, c := range chars {
		d, err := s.descriptor(c)
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}

	svc, undo := s.registry.addService(id, descs)
	logger.Info("gatt", "adding service %s with %d characteristic(s)", radio.CanonicalID(id), len(descs))

	s.pendingMu.Lock()
	s.pending[svc] = undo
	s.pendingMu.Unlock()

	if err := s.pm.AddService(svc); err != nil {
		s.confirmed(svc, true)
		err = errors.Wrapf(err, "add service %s", radio.CanonicalID(id))
		logger.Error("gatt", "%v", err)
		return err
	}
	return nil
}

func (s *Server) descriptor(c CharacteristicConfig) (CharacteristicDescriptor, error) {
	parse := FromConfig
	if s.extended {
		parse = FromConfigExtended
	}
	d, err := parse(c)
	if err != nil {
		return d, err
	}
	return d, d.validate()
}

// confirmed drops the undo for svc, or runs it when failed is set
func (s *Server) confirmed(svc *radio.MutableService, failed bool) {
	s.pendingMu.Lock()
	undo, ok := s.pending[svc]
	delete(s.pending, svc)
	s.pendingMu.Unlock()

	if ok && failed {
		undo()
	}
}

// SendNotifyValue notifies subscribers of id with payload
func (s *Server) SendNotifyValue(id, payload string) error {
	c, ok := s.registry.LookupHandle(id)
	if !ok {
		return &MissingCharacteristicError{ID: id}
	}
	if !s.pm.UpdateValue([]byte(payload), c, nil) {
		return errors.Wrapf(ErrNotifyQueueFull, "notify %s", c.Key())
	}
	logger.Trace("gatt", "notified %s (%d bytes)", c.Key(), len(payload))
	return nil
}

// SetReadValueForCharacteristic sets the payload answered to reads of id
func (s *Server) SetReadValueForCharacteristic(id, payload string) {
	s.registry.SetReadValue(id, []byte(payload))
}

func (s *Server) report(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// DidUpdateState records and logs the new radio state
func (s *Server) DidUpdateState(pm radio.PeripheralManager) {
	state := pm.State()

	s.stateMu.Lock()
	s.state = state
	close(s.stateCh)
	s.stateCh = make(chan struct{})
	s.stateMu.Unlock()

	logger.Info("gatt", "Bluetooth device is %s", strings.ToUpper(state.String()))
}

// DidStartAdvertising logs or reports the outcome of StartAdvertising
func (s *Server) DidStartAdvertising(pm radio.PeripheralManager, err error) {
	s.adv.didStart(err)
}

// DidAddService logs or reports the outcome of publishing a service
func (s *Server) DidAddService(pm radio.PeripheralManager, service *radio.MutableService, err error) {
	s.confirmed(service, err != nil)
	if err != nil {
		err = errors.Wrapf(err, "radio rejected service %s", radio.CanonicalID(service.UUID))
		logger.Error("gatt", "%v", err)
		s.report(err)
		return
	}
	logger.Debug("gatt", "service %s published", radio.CanonicalID(service.UUID))
}

// DidReceiveWriteRequests forwards each payload in order, then answers
// every request in the batch with success.
func (s *Server) DidReceiveWriteRequests(pm radio.PeripheralManager, requests []*radio.ATTRequest) {
	for _, req := range requests {
		if req.Value == nil {
			continue
		}
		key := ""
		if req.Characteristic != nil {
			key = req.Characteristic.Key()
		}

		text, err := s.decodePayload(key, req.Value)
		if err != nil {
			logger.Warn("gatt", "%v", err)
			s.report(err)
			continue
		}
		if !s.bridge.Emit(text) {
			logger.Debug("gatt", "no listener, dropped write to %s", key)
		}
	}

	for _, req := range requests {
		pm.RespondToRequest(req, radio.ATTErrorSuccess)
	}
}

func (s *Server) decodePayload(key string, value []byte) (string, error) {
	if utf8.Valid(value) {
		return string(value), nil
	}
	if s.decode == DecodeReplace {
		return strings.ToValidUTF8(string(value), string(utf8.RuneError)), nil
	}
	return "", &DecodeError{ID: key, Payload: append([]byte{}, value...), Offset: firstInvalid(value)}
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}

// DidReceiveReadRequest answers a read from the read values. Every read is
// answered exactly once.
func (s *Server) DidReceiveReadRequest(pm radio.PeripheralManager, request *radio.ATTRequest) {
	if request.Characteristic == nil {
		pm.RespondToRequest(request, radio.ATTErrorInvalidHandle)
		return
	}
	key := request.Characteristic.Key()

	value, ok := s.registry.ReadValue(key)
	if !ok {
		miss := &ReadMissError{ID: key}
		logger.Debug("gatt", "%v", miss)
		s.report(miss)
		if s.readMiss == ReadMissEmpty {
			request.Value = []byte{}
			pm.RespondToRequest(request, radio.ATTErrorSuccess)
			return
		}
		pm.RespondToRequest(request, radio.ATTErrorUnlikelyError)
		return
	}

	if request.Offset < 0 || request.Offset > len(value) {
		pm.RespondToRequest(request, radio.ATTErrorInvalidOffset)
		return
	}
	request.Value = value[request.Offset:]
	pm.RespondToRequest(request, radio.ATTErrorSuccess)
}

// CentralDidSubscribe records a new subscriber
func (s *Server) CentralDidSubscribe(pm radio.PeripheralManager, central radio.Central, characteristic *radio.MutableCharacteristic) {
	s.registry.Subscribed(characteristic.Key(), central)
	logger.Info("gatt", "central %s subscribed to %s", central.ID, characteristic.Key())
}

// CentralDidUnsubscribe removes a subscriber
func (s *Server) CentralDidUnsubscribe(pm radio.PeripheralManager, central radio.Central, characteristic *radio.MutableCharacteristic) {
	s.registry.Unsubscribed(characteristic.Key(), central)
	logger.Info("gatt", "central %s unsubscribed from %s", central.ID, characteristic.Key())
}

// IsReadyToUpdateSubscribers is called when the transmit queue has room again
func (s *Server) IsReadyToUpdateSubscribers(pm radio.PeripheralManager) {
	logger.Debug("gatt", "transmit queue ready")
}

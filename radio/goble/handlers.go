package goble

import (
	"context"
	"time"

	"github.com/go-ble/ble"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
)

// subscriber is one central's subscription to one characteristic
type subscriber struct {
	central radio.Central
	queue   chan []byte
}

// centralOf identifies the central behind a connection
func centralOf(conn ble.Conn) radio.Central {
	if conn == nil {
		return radio.Central{ID: "unknown", MaximumUpdateValueLength: 20}
	}
	return radio.Central{
		ID:                       conn.RemoteAddr().String(),
		MaximumUpdateValueLength: conn.TxMTU() - 3,
	}
}

// await hands req to the delegate and blocks until it is answered, the
// response timeout passes or the manager closes.
func (m *Manager) await(req *radio.ATTRequest, deliver func(d radio.PeripheralManagerDelegate)) response {
	ch := make(chan response, 1)

	m.mu.Lock()
	if m.state != radio.StatePoweredOn {
		m.mu.Unlock()
		return response{result: radio.ATTErrorUnlikelyError}
	}
	m.pending[req] = ch
	m.mu.Unlock()

	m.dispatch(deliver)

	timer := time.NewTimer(m.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r
	case <-timer.C:
	case <-m.done:
	}

	m.mu.Lock()
	_, stillPending := m.pending[req]
	delete(m.pending, req)
	m.mu.Unlock()
	if !stillPending {
		// answered while we gave up
		return <-ch
	}
	logger.Warn("goble", "no response for %s from %s", req.Characteristic.Key(), req.Central.ID)
	return response{result: radio.ATTErrorUnlikelyError}
}

// serveRead forwards a read of a dynamic characteristic to the delegate
func (m *Manager) serveRead(char *radio.MutableCharacteristic, central radio.Central, offset int) ([]byte, radio.ATTError) {
	if !char.Permissions.Has(radio.PermissionReadable) {
		return nil, radio.ATTErrorReadNotPermitted
	}

	req := &radio.ATTRequest{Central: central, Characteristic: char, Offset: offset}
	r := m.await(req, func(d radio.PeripheralManagerDelegate) { d.DidReceiveReadRequest(m, req) })
	if r.result != radio.ATTErrorSuccess {
		return nil, r.result
	}
	return r.value, radio.ATTErrorSuccess
}

// serveWrite forwards a write to the delegate. go-ble hands write
// requests and write commands to the same handler, so whether a response
// goes on the air follows the characteristic's properties.
func (m *Manager) serveWrite(char *radio.MutableCharacteristic, central radio.Central, offset int, data []byte) radio.ATTError {
	if !char.Permissions.Has(radio.PermissionWriteable) {
		return radio.ATTErrorWriteNotPermitted
	}

	req := &radio.ATTRequest{
		Central:        central,
		Characteristic: char,
		Offset:         offset,
		Value:          append([]byte(nil), data...),
		WithResponse:   char.Properties.Has(radio.PropertyWrite),
	}
	r := m.await(req, func(d radio.PeripheralManagerDelegate) {
		d.DidReceiveWriteRequests(m, []*radio.ATTRequest{req})
	})
	return r.result
}

// serveSubscription runs for as long as central stays subscribed to char,
// draining the subscriber's queue into write.
func (m *Manager) serveSubscription(ctx context.Context, char *radio.MutableCharacteristic, central radio.Central, capacity int, write func([]byte) (int, error)) {
	s := &subscriber{central: central, queue: make(chan []byte, m.cfg.QueueDepth)}
	key := char.Key()

	m.mu.Lock()
	if m.subscribers[key] == nil {
		m.subscribers[key] = make(map[string]*subscriber)
	}
	m.subscribers[key][central.ID] = s
	m.mu.Unlock()

	logger.Info("goble", "central %s subscribed to %s", central.ID, key)
	m.dispatch(func(d radio.PeripheralManagerDelegate) { d.CentralDidSubscribe(m, central, char) })

	for {
		select {
		case <-ctx.Done():
			m.unsubscribe(key, s)
			logger.Info("goble", "central %s unsubscribed from %s", central.ID, key)
			m.dispatch(func(d radio.PeripheralManagerDelegate) { d.CentralDidUnsubscribe(m, central, char) })
			return
		case <-m.done:
			return
		case value := <-s.queue:
			if capacity > 0 && len(value) > capacity {
				value = value[:capacity]
			}
			if _, err := write(value); err != nil {
				logger.Warn("goble", "notify %s to %s: %v", key, central.ID, err)
			}
			m.drained(s)
		}
	}
}

func (m *Manager) unsubscribe(key string, s *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers[key][s.central.ID] == s {
		delete(m.subscribers[key], s.central.ID)
	}
}

// drained tells the delegate it may retry once a full queue empties
func (m *Manager) drained(s *subscriber) {
	m.mu.Lock()
	ready := m.wantReady && len(s.queue) == 0
	if ready {
		m.wantReady = false
	}
	m.mu.Unlock()

	if ready {
		m.dispatch(func(d radio.PeripheralManagerDelegate) { d.IsReadyToUpdateSubscribers(m) })
	}
}

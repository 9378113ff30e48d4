package sim

import (
	"context"

	"github.com/google/uuid"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
	"github.com/user/ble-advertiser/wire/att"
	"github.com/user/ble-advertiser/wire/gatt"
)

// Notification is a value pushed to a subscribed central
type Notification struct {
	Characteristic uuid.UUID
	Value          []byte
}

// Central is a simulated remote central connected to the manager. It issues
// one ATT request at a time, like a real ATT bearer.
type Central struct {
	m             *Manager
	id            string
	bearer        *att.Bearer
	subs          *gatt.Subscriptions
	notifications chan Notification
}

// Connect attaches a new central. An empty id gets a random one.
func (m *Manager) Connect(id string) *Central {
	if id == "" {
		id = uuid.NewString()
	}
	c := &Central{
		m:             m,
		id:            id,
		bearer:        att.NewBearer(m.cfg.ResponseTimeout),
		subs:          gatt.NewSubscriptions(),
		notifications: make(chan Notification, m.cfg.QueueDepth),
	}

	m.mu.Lock()
	m.centrals[id] = c
	m.mu.Unlock()

	logger.Debug("sim", "central %s connected", id)
	m.transcript.record("connect", map[string]interface{}{"central": id})
	return c
}

// ID returns the central's identifier
func (c *Central) ID() string { return c.id }

func (c *Central) info() radio.Central {
	return radio.Central{ID: c.id, MaximumUpdateValueLength: c.m.cfg.MTU - 3}
}

// Disconnect drops the connection. Subscriptions end with an unsubscribe
// callback, as the platform stack does.
func (c *Central) Disconnect() {
	m := c.m
	m.mu.Lock()
	if m.centrals[c.id] != c {
		m.mu.Unlock()
		return
	}
	delete(m.centrals, c.id)
	var dropped []*radio.MutableCharacteristic
	for _, h := range c.subs.Handles() {
		if ch, ok := m.charByHandle[h]; ok {
			dropped = append(dropped, ch)
		}
	}
	m.mu.Unlock()

	c.subs.Reset()
	c.bearer.Abort(ErrDisconnected)
	for _, ch := range dropped {
		ch := ch
		m.dispatch(func(d radio.PeripheralManagerDelegate) { d.CentralDidUnsubscribe(m, c.info(), ch) })
	}
	m.transcript.record("disconnect", map[string]interface{}{"central": c.id})
}

// lookup resolves a characteristic and its value handle
func (c *Central) lookup(charID uuid.UUID, opcode byte) (*radio.MutableCharacteristic, uint16, error) {
	m := c.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.centrals[c.id] != c {
		return nil, 0, ErrClosed
	}
	if m.state != radio.StatePoweredOn {
		return nil, 0, ErrNotPoweredOn
	}
	h, ok := m.handleByKey[radio.CanonicalID(charID)]
	if !ok {
		return nil, 0, att.NewError(att.ErrAttributeNotFound, opcode, 0)
	}
	return m.charByHandle[h], h, nil
}

// Read reads a characteristic value
func (c *Central) Read(ctx context.Context, charID uuid.UUID) ([]byte, error) {
	return c.ReadAt(ctx, charID, 0)
}

// ReadAt reads a characteristic value starting at offset (Read Blob)
func (c *Central) ReadAt(ctx context.Context, charID uuid.UUID, offset int) ([]byte, error) {
	opcode := byte(att.OpReadRequest)
	if offset > 0 {
		opcode = att.OpReadBlobRequest
	}
	ch, handle, err := c.lookup(charID, opcode)
	if err != nil {
		return nil, err
	}
	if !ch.Properties.Has(radio.PropertyRead) || !ch.Permissions.Has(radio.PermissionReadable) {
		return nil, att.NewError(att.ErrReadNotPermitted, opcode, handle)
	}

	// Static values are answered by the stack without asking the delegate
	if ch.Value != nil {
		attr, err := c.m.attribute(handle)
		if err != nil {
			return nil, err
		}
		if offset < 0 || offset > len(attr.Value) {
			return nil, att.NewError(att.ErrInvalidOffset, opcode, handle)
		}
		c.m.transcript.record("staticRead", map[string]interface{}{"central": c.id, "characteristic": ch.Key()})
		return c.clip(attr.Value[offset:]), nil
	}

	req := &radio.ATTRequest{Central: c.info(), Characteristic: ch, Offset: offset}
	resp, err := c.transact(ctx, opcode, handle, []*radio.ATTRequest{req}, func(d radio.PeripheralManagerDelegate) {
		d.DidReceiveReadRequest(c.m, req)
	})
	if err != nil {
		return nil, err
	}
	return c.clip(resp.Value), nil
}

// clip limits a read response to what fits in one ATT Read Response
func (c *Central) clip(v []byte) []byte {
	if limit := c.m.cfg.MTU - 1; len(v) > limit {
		v = v[:limit]
	}
	return append([]byte{}, v...)
}

// Write sends a Write Request and waits for the response
func (c *Central) Write(ctx context.Context, charID uuid.UUID, value []byte) error {
	return c.WriteBatch(ctx, charID, value)
}

// WriteBatch delivers several writes to the delegate as one batch, the way
// a queued (prepared) write reaches the application. The batch succeeds only
// if every request is answered with success.
func (c *Central) WriteBatch(ctx context.Context, charID uuid.UUID, values ...[]byte) error {
	ch, handle, err := c.lookup(charID, att.OpWriteRequest)
	if err != nil {
		return err
	}
	if !ch.Properties.Has(radio.PropertyWrite) || !ch.Permissions.Has(radio.PermissionWriteable) {
		return att.NewError(att.ErrWriteNotPermitted, att.OpWriteRequest, handle)
	}

	reqs := make([]*radio.ATTRequest, 0, len(values))
	for _, v := range values {
		reqs = append(reqs, &radio.ATTRequest{
			Central:        c.info(),
			Characteristic: ch,
			Value:          append([]byte{}, v...),
			WithResponse:   true,
		})
	}
	_, err = c.transact(ctx, att.OpWriteRequest, handle, reqs, func(d radio.PeripheralManagerDelegate) {
		d.DidReceiveWriteRequests(c.m, reqs)
	})
	return err
}

// WriteCommand sends a Write Command. No response is sent on the air.
func (c *Central) WriteCommand(charID uuid.UUID, value []byte) error {
	ch, handle, err := c.lookup(charID, att.OpWriteCommand)
	if err != nil {
		return err
	}
	if !ch.Properties.Has(radio.PropertyWriteWithoutResponse) || !ch.Permissions.Has(radio.PermissionWriteable) {
		return att.NewError(att.ErrWriteNotPermitted, att.OpWriteCommand, handle)
	}

	req := &radio.ATTRequest{Central: c.info(), Characteristic: ch, Value: append([]byte{}, value...)}
	c.m.mu.Lock()
	c.m.pending[req] = &transaction{central: c, opcode: att.OpWriteCommand, remaining: 1}
	c.m.mu.Unlock()

	c.m.transcript.record("writeCommand", map[string]interface{}{"central": c.id, "characteristic": ch.Key()})
	c.m.dispatch(func(d radio.PeripheralManagerDelegate) { d.DidReceiveWriteRequests(c.m, []*radio.ATTRequest{req}) })
	return nil
}

// transact delivers requests to the delegate and waits until all of them are answered
func (c *Central) transact(ctx context.Context, opcode byte, handle uint16, reqs []*radio.ATTRequest, deliver func(radio.PeripheralManagerDelegate)) (att.Result, error) {
	bt, err := c.bearer.Begin(opcode, handle)
	if err != nil {
		return att.Result{}, err
	}

	txn := &transaction{central: c, opcode: opcode, remaining: len(reqs)}
	c.m.mu.Lock()
	for _, r := range reqs {
		c.m.pending[r] = txn
	}
	c.m.mu.Unlock()

	c.m.transcript.record("request", map[string]interface{}{
		"central": c.id,
		"opcode":  att.OpcodeName(opcode),
		"handle":  int(handle),
		"count":   len(reqs),
	})
	c.m.dispatch(deliver)

	select {
	case res := <-bt.Done():
		if res.Err != nil {
			c.forget(reqs)
			return res, res.Err
		}
		return res, nil
	case <-ctx.Done():
		c.bearer.Abort(ctx.Err())
		c.forget(reqs)
		return att.Result{}, ctx.Err()
	}
}

// forget drops requests that will never complete normally
func (c *Central) forget(reqs []*radio.ATTRequest) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	for _, r := range reqs {
		delete(c.m.pending, r)
	}
}

// finish completes a transaction on the ATT bearer
func (c *Central) finish(txn *transaction) {
	if txn.opcode == att.OpWriteCommand {
		return
	}

	var err error
	if txn.result != radio.ATTErrorSuccess {
		err = c.bearer.Fail(uint8(txn.result))
	} else {
		err = c.bearer.Respond(txn.value)
	}
	if err != nil {
		logger.Warn("sim", "central %s: %v", c.id, err)
	}
}

// Subscribe writes the characteristic's CCCD to enable notifications
func (c *Central) Subscribe(ctx context.Context, charID uuid.UUID) error {
	return c.writeCCCD(ctx, charID, true)
}

// Unsubscribe writes the characteristic's CCCD to disable notifications
func (c *Central) Unsubscribe(ctx context.Context, charID uuid.UUID) error {
	return c.writeCCCD(ctx, charID, false)
}

func (c *Central) writeCCCD(ctx context.Context, charID uuid.UUID, enable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, handle, err := c.lookup(charID, att.OpWriteRequest)
	if err != nil {
		return err
	}
	notify := ch.Properties.Has(radio.PropertyNotify)
	indicate := ch.Properties.Has(radio.PropertyIndicate)
	if !notify && !indicate {
		return att.NewError(att.ErrRequestNotSupported, att.OpWriteRequest, handle)
	}

	was := c.subs.Subscribed(handle)
	now, err := c.subs.Configure(handle, gatt.CCCDValue(enable && notify, enable && !notify && indicate))
	if err != nil {
		return err
	}

	c.m.transcript.record("cccd", map[string]interface{}{"central": c.id, "characteristic": ch.Key(), "enabled": now})
	switch {
	case now && !was:
		c.m.dispatch(func(d radio.PeripheralManagerDelegate) { d.CentralDidSubscribe(c.m, c.info(), ch) })
	case !now && was:
		c.m.dispatch(func(d radio.PeripheralManagerDelegate) { d.CentralDidUnsubscribe(c.m, c.info(), ch) })
	}
	return nil
}

// Next returns the next notification, waiting until one arrives or ctx is done
func (c *Central) Next(ctx context.Context) (Notification, error) {
	select {
	case n := <-c.notifications:
		c.m.drained()
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

// Pending returns the number of queued notifications
func (c *Central) Pending() int {
	return len(c.notifications)
}

package goble

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ble-advertiser/peripheral"
	"github.com/user/ble-advertiser/radio"
)

var (
	colourService = uuid.MustParse("96E4D99A-066F-444C-B67C-112345E3B1A2")
	notifyChar    = uuid.MustParse("7C0209C0-93F0-437A-828A-A58379B230C4")
	readChar      = uuid.MustParse("3D84E60B-90D0-40D4-993A-1B83424CB868")
	writeChar     = uuid.MustParse("1B3DCC2D-CC56-4B47-B6C2-13745858C7DF")
)

type fakeDevice struct {
	mu        sync.Mutex
	services  []*ble.Service
	addErr    error
	advErr    error
	advName   string
	advUUIDs  []ble.UUID
	advCtx    context.Context
	stopped   bool
	advertise chan struct{}
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{advertise: make(chan struct{}, 1)}
}

func (f *fakeDevice) AddService(svc *ble.Service) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.services = append(f.services, svc)
	return nil
}

func (f *fakeDevice) RemoveAllServices() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = nil
	return nil
}

func (f *fakeDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	f.mu.Lock()
	f.advName = name
	f.advUUIDs = uuids
	f.advCtx = ctx
	err := f.advErr
	f.mu.Unlock()
	f.advertise <- struct{}{}

	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func colourConfigs() []peripheral.CharacteristicConfig {
	return []peripheral.CharacteristicConfig{
		{UUID: notifyChar.String(), Properties: []string{"NOTIFY"}, Permissions: []string{"READABLE", "WRITABLE"}},
		{UUID: readChar.String(), Properties: []string{"READ"}, Permissions: []string{"READABLE"}},
		{UUID: writeChar.String(), Properties: []string{"WRITE"}, Permissions: []string{"WRITABLE"}},
	}
}

func newColourServer(t *testing.T, cfg Config, opts ...peripheral.Option) (*Manager, *peripheral.Server, *fakeDevice) {
	t.Helper()
	dev := newFakeDevice()
	m := New(dev, cfg)
	t.Cleanup(func() { _ = m.Close() })

	s := peripheral.NewServer(m, opts...)
	require.NoError(t, s.AddService(colourService.String(), colourConfigs()))
	m.Flush()
	return m, s, dev
}

func characteristic(t *testing.T, m *Manager, id uuid.UUID) *radio.MutableCharacteristic {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chars[radio.CanonicalID(id)]
	require.True(t, ok, "characteristic %s not registered", id)
	return c
}

var phone = radio.Central{ID: "AA:BB:CC:DD:EE:FF", MaximumUpdateValueLength: 182}

func TestAddServiceBuildsGoBleService(t *testing.T) {
	m, s, dev := newColourServer(t, Config{})
	assert.Equal(t, radio.StatePoweredOn, s.State())
	assert.Equal(t, radio.StatePoweredOn, m.State())

	require.Len(t, dev.services, 1)
	svc := dev.services[0]
	assert.True(t, svc.UUID.Equal(ble.MustParse(colourService.String())))
	require.Len(t, svc.Characteristics, 3)

	props := map[string]ble.Property{}
	for _, c := range svc.Characteristics {
		props[c.UUID.String()] = c.Property
	}
	assert.NotZero(t, props[ble.MustParse(notifyChar.String()).String()]&ble.CharNotify)
	assert.NotZero(t, props[ble.MustParse(readChar.String()).String()]&ble.CharRead)
	assert.NotZero(t, props[ble.MustParse(writeChar.String()).String()]&ble.CharWrite)
}

func TestShortUUIDsUseSixteenBitForm(t *testing.T) {
	u, err := bleUUID(uuid.MustParse("0000180F-0000-1000-8000-00805F9B34FB"))
	require.NoError(t, err)
	assert.True(t, u.Equal(ble.UUID16(0x180F)))

	u, err = bleUUID(colourService)
	require.NoError(t, err)
	assert.Len(t, u, 16)
}

func TestStaticValueMustBeReadOnly(t *testing.T) {
	m := New(newFakeDevice(), Config{})
	defer m.Close()

	char := &radio.MutableCharacteristic{
		UUID:        readChar,
		Properties:  radio.PropertyRead | radio.PropertyWrite,
		Permissions: radio.PermissionReadable,
		Value:       []byte("fixed"),
	}
	err := m.AddService(radio.NewMutableService(colourService, true, []*radio.MutableCharacteristic{char}))
	assert.Error(t, err)

	char.Properties = radio.PropertyRead
	dev := newFakeDevice()
	m2 := New(dev, Config{})
	defer m2.Close()
	require.NoError(t, m2.AddService(radio.NewMutableService(colourService, true, []*radio.MutableCharacteristic{char})))
	m2.Flush()
	require.Len(t, dev.services, 1)
	assert.Equal(t, []byte("fixed"), dev.services[0].Characteristics[0].Value)
}

func TestAddServiceFailureIsReported(t *testing.T) {
	dev := newFakeDevice()
	dev.addErr = errors.New("hci: command disallowed")
	m := New(dev, Config{})
	defer m.Close()

	reported := make(chan error, 1)
	s := peripheral.NewServer(m, peripheral.WithErrorHandler(func(err error) { reported <- err }))
	require.NoError(t, s.AddService(colourService.String(), colourConfigs()))

	select {
	case err := <-reported:
		assert.Contains(t, err.Error(), "command disallowed")
	case <-time.After(time.Second):
		t.Fatal("add service failure was never reported")
	}
	assert.False(t, s.Registry().Has(notifyChar.String()))
	assert.Empty(t, s.Registry().ServiceIDs())
}

func TestReadRoundTrip(t *testing.T) {
	m, s, _ := newColourServer(t, Config{})
	char := characteristic(t, m, readChar)

	_, result := m.serveRead(char, phone, 0)
	assert.Equal(t, radio.ATTErrorUnlikelyError, result)

	s.SetReadValueForCharacteristic(readChar.String(), "#00FF00")
	value, result := m.serveRead(char, phone, 0)
	require.Equal(t, radio.ATTErrorSuccess, result)
	assert.Equal(t, "#00FF00", string(value))

	value, result = m.serveRead(char, phone, 3)
	require.Equal(t, radio.ATTErrorSuccess, result)
	assert.Equal(t, "FF00", string(value))

	_, result = m.serveRead(char, phone, 8)
	assert.Equal(t, radio.ATTErrorInvalidOffset, result)
}

func TestPermissionsCheckedBeforeDelegate(t *testing.T) {
	m, _, _ := newColourServer(t, Config{})

	_, result := m.serveRead(characteristic(t, m, writeChar), phone, 0)
	assert.Equal(t, radio.ATTErrorReadNotPermitted, result)

	result = m.serveWrite(characteristic(t, m, readChar), phone, 0, []byte("x"))
	assert.Equal(t, radio.ATTErrorWriteNotPermitted, result)
}

func TestWriteReachesListener(t *testing.T) {
	m, s, _ := newColourServer(t, Config{})
	got := make(chan string, 1)
	s.SetListener(func(text string) { got <- text })

	result := m.serveWrite(characteristic(t, m, writeChar), phone, 0, []byte("#FF0000"))
	require.Equal(t, radio.ATTErrorSuccess, result)
	assert.Equal(t, "#FF0000", <-got)
}

func TestUnansweredRequestTimesOut(t *testing.T) {
	dev := newFakeDevice()
	m := New(dev, Config{ResponseTimeout: 20 * time.Millisecond})
	defer m.Close()
	m.SetDelegate(silentDelegate{})

	char := &radio.MutableCharacteristic{UUID: readChar, Properties: radio.PropertyRead, Permissions: radio.PermissionReadable}
	_, result := m.serveRead(char, phone, 0)
	assert.Equal(t, radio.ATTErrorUnlikelyError, result)

	m.mu.Lock()
	assert.Empty(t, m.pending)
	m.mu.Unlock()
}

func TestNotifyReachesSubscriber(t *testing.T) {
	m, s, _ := newColourServer(t, Config{})
	char := characteristic(t, m, notifyChar)

	ctx, cancel := context.WithCancel(context.Background())
	sent := make(chan []byte, 4)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		m.serveSubscription(ctx, char, phone, 5, func(b []byte) (int, error) {
			sent <- b
			return len(b), nil
		})
	}()

	require.Eventually(t, func() bool {
		return len(s.Registry().Subscribers(notifyChar.String())) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.SendNotifyValue(notifyChar.String(), "#0000FF"))
	select {
	case b := <-sent:
		assert.Equal(t, "#0000", string(b), "notifications are clipped to the notifier capacity")
	case <-time.After(time.Second):
		t.Fatal("notification never written")
	}

	cancel()
	<-finished
	m.Flush()
	assert.Empty(t, s.Registry().Subscribers(notifyChar.String()))
}

func TestUpdateValueQueueFull(t *testing.T) {
	m, _, _ := newColourServer(t, Config{QueueDepth: 1})
	char := characteristic(t, m, notifyChar)

	full := &subscriber{central: phone, queue: make(chan []byte, 1)}
	full.queue <- []byte("queued")
	m.mu.Lock()
	m.subscribers[char.Key()] = map[string]*subscriber{phone.ID: full}
	m.mu.Unlock()

	assert.False(t, m.UpdateValue([]byte("next"), char, nil))
	m.mu.Lock()
	assert.True(t, m.wantReady)
	m.mu.Unlock()

	<-full.queue
	assert.True(t, m.UpdateValue([]byte("next"), char, []radio.Central{phone}))
	assert.True(t, m.UpdateValue([]byte("ignored"), char, []radio.Central{{ID: "someone else"}}))
}

func TestAdvertising(t *testing.T) {
	m, s, dev := newColourServer(t, Config{})

	s.StartAdvertising("iPhone")
	<-dev.advertise
	require.Eventually(t, s.Advertising().IsAdvertising, time.Second, 5*time.Millisecond)
	assert.True(t, m.IsAdvertising())

	dev.mu.Lock()
	assert.Equal(t, "iPhone", dev.advName)
	require.Len(t, dev.advUUIDs, 1)
	assert.True(t, dev.advUUIDs[0].Equal(ble.MustParse(colourService.String())))
	ctx := dev.advCtx
	dev.mu.Unlock()

	s.StopAdvertising()
	assert.False(t, m.IsAdvertising())
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("advertising context never cancelled")
	}
}

func TestAdvertisingFailureIsReported(t *testing.T) {
	dev := newFakeDevice()
	dev.advErr = errors.New("hci: advertising not allowed")
	m := New(dev, Config{})
	defer m.Close()

	reported := make(chan error, 1)
	s := peripheral.NewServer(m, peripheral.WithErrorHandler(func(err error) { reported <- err }))
	s.StartAdvertising("iPhone")

	select {
	case err := <-reported:
		assert.Contains(t, err.Error(), "advertising not allowed")
	case <-time.After(time.Second):
		t.Fatal("advertising failure was never reported")
	}
	assert.False(t, m.IsAdvertising())
}

func TestCloseStopsDevice(t *testing.T) {
	dev := newFakeDevice()
	m := New(dev, Config{})
	require.NoError(t, m.Close())
	assert.True(t, dev.stopped)
	assert.Equal(t, radio.StatePoweredOff, m.State())
	require.NoError(t, m.Close())
}

type silentDelegate struct{}

func (silentDelegate) DidUpdateState(radio.PeripheralManager) {}
func (silentDelegate) DidStartAdvertising(radio.PeripheralManager, error) {}
func (silentDelegate) DidAddService(radio.PeripheralManager, *radio.MutableService, error) {}
func (silentDelegate) DidReceiveReadRequest(radio.PeripheralManager, *radio.ATTRequest) {}
func (silentDelegate) DidReceiveWriteRequests(radio.PeripheralManager, []*radio.ATTRequest) {}
func (silentDelegate) CentralDidSubscribe(radio.PeripheralManager, radio.Central, *radio.MutableCharacteristic) {}
func (silentDelegate) CentralDidUnsubscribe(radio.PeripheralManager, radio.Central, *radio.MutableCharacteristic) {}
func (silentDelegate) IsReadyToUpdateSubscribers(radio.PeripheralManager) {}

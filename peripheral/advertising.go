package peripheral

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/logger"
	"github.com/user/ble-advertiser/radio"
)

// AdvertisingController advertises the device name together with every
// service identifier registered so far.
type AdvertisingController struct {
	pm       radio.PeripheralManager
	registry *ServiceRegistry
	report   func(error)

	mu   sync.Mutex
	name string
}

func newAdvertisingController(pm radio.PeripheralManager, registry *ServiceRegistry, report func(error)) *AdvertisingController {
	return &AdvertisingController{pm: pm, registry: registry, report: report}
}

// StartAdvertising starts (or restarts) advertising under deviceName.
// Failures are logged and reported, never returned.
func (a *AdvertisingController) StartAdvertising(deviceName string) {
	data := radio.AdvertisementData{
		LocalName:    deviceName,
		ServiceUUIDs: a.registry.ServiceIDs(),
	}

	a.mu.Lock()
	a.name = deviceName
	a.mu.Unlock()

	if a.pm.IsAdvertising() {
		a.pm.StopAdvertising()
	}

	logger.Info("adv", "advertising %q with %d service(s)", deviceName, len(data.ServiceUUIDs))
	if err := a.pm.StartAdvertising(data); err != nil {
		a.fail(errors.Wrapf(err, "start advertising %q", deviceName))
	}
}

// StopAdvertising stops advertising if it is running
func (a *AdvertisingController) StopAdvertising() {
	if !a.pm.IsAdvertising() {
		return
	}
	a.pm.StopAdvertising()
	logger.Info("adv", "stopped advertising")
}

// IsAdvertising reports whether the radio is advertising
func (a *AdvertisingController) IsAdvertising() bool {
	return a.pm.IsAdvertising()
}

// DeviceName returns the name most recently passed to StartAdvertising
func (a *AdvertisingController) DeviceName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

func (a *AdvertisingController) didStart(err error) {
	if err != nil {
		a.fail(errors.Wrap(err, "advertising failed"))
		return
	}
	logger.Info("adv", "advertising started as %q", a.DeviceName())
}

func (a *AdvertisingController) fail(err error) {
	logger.Error("adv", "%v", err)
	if a.report != nil {
		a.report(err)
	}
}

// Package radio is the boundary between the GATT server core and the radio
// stack that actually talks to centrals.
package radio

// PeripheralManager is the outbound side of the radio stack: the calls the
// server core makes. Implementations deliver events to the delegate installed
// with SetDelegate.
type PeripheralManager interface {
	SetDelegate(d PeripheralManagerDelegate)
	State() ManagerState

	StartAdvertising(data AdvertisementData) error
	StopAdvertising()
	IsAdvertising() bool

	// AddService publishes a service. Completion is reported through
	// DidAddService; the returned error covers synchronous rejection only.
	AddService(service *MutableService) error

	// RespondToRequest answers a read or write request exactly once.
	RespondToRequest(request *ATTRequest, result ATTError)

	// UpdateValue sends a notification to subscribed centrals, or to the
	// given ones. It returns false if the transmit queue is full; the
	// delegate gets IsReadyToUpdateSubscribers when space frees up.
	UpdateValue(value []byte, characteristic *MutableCharacteristic, centrals []Central) bool
}

// PeripheralManagerDelegate receives the radio stack's events
type PeripheralManagerDelegate interface {
	DidUpdateState(pm PeripheralManager)
	DidStartAdvertising(pm PeripheralManager, err error)
	DidAddService(pm PeripheralManager, service *MutableService, err error)
	DidReceiveReadRequest(pm PeripheralManager, request *ATTRequest)
	DidReceiveWriteRequests(pm PeripheralManager, requests []*ATTRequest)
	CentralDidSubscribe(pm PeripheralManager, central Central, characteristic *MutableCharacteristic)
	CentralDidUnsubscribe(pm PeripheralManager, central Central, characteristic *MutableCharacteristic)
	IsReadyToUpdateSubscribers(pm PeripheralManager)
}

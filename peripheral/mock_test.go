package peripheral

import (
	"github.com/stretchr/testify/mock"

	"github.com/user/ble-advertiser/radio"
)

type mockManager struct {
	mock.Mock
	delegate radio.PeripheralManagerDelegate
	state    radio.ManagerState
}

func newMockManager() *mockManager {
	m := &mockManager{state: radio.StatePoweredOn}
	m.On("SetDelegate", mock.Anything).Return()
	return m
}

func (m *mockManager) SetDelegate(d radio.PeripheralManagerDelegate) {
	m.delegate = d
	m.Called(d)
}

func (m *mockManager) State() radio.ManagerState { return m.state }

func (m *mockManager) StartAdvertising(data radio.AdvertisementData) error {
	return m.Called(data).Error(0)
}

func (m *mockManager) StopAdvertising() { m.Called() }

func (m *mockManager) IsAdvertising() bool { return m.Called().Bool(0) }

func (m *mockManager) AddService(service *radio.MutableService) error {
	return m.Called(service).Error(0)
}

func (m *mockManager) RespondToRequest(request *radio.ATTRequest, result radio.ATTError) {
	m.Called(request, result)
}

func (m *mockManager) UpdateValue(value []byte, characteristic *radio.MutableCharacteristic, centrals []radio.Central) bool {
	return m.Called(value, characteristic, centrals).Bool(0)
}

// setState changes the reported state and notifies the delegate
func (m *mockManager) setState(s radio.ManagerState) {
	m.state = s
	m.delegate.DidUpdateState(m)
}

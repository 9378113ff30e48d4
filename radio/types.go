package radio

import (
	"strings"

	"github.com/google/uuid"
)

// ManagerState is the power/availability state of the local radio.
// Values match CoreBluetooth's CBManagerState.
type ManagerState int

const (
	StateUnknown      ManagerState = 0 // State is unknown, an update is imminent
	StateResetting    ManagerState = 1 // Connection to the system service was momentarily lost
	StateUnsupported  ManagerState = 2 // Platform doesn't support the peripheral role
	StateUnauthorized ManagerState = 3 // Not authorized to use Bluetooth Low Energy
	StatePoweredOff   ManagerState = 4
	StatePoweredOn    ManagerState = 5
)

// String returns the string representation of the ManagerState
func (s ManagerState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateResetting:
		return "resetting"
	case StateUnsupported:
		return "unsupported"
	case StateUnauthorized:
		return "unauthorized"
	case StatePoweredOff:
		return "poweredOff"
	case StatePoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// CharacteristicProperties is the characteristic properties bitmask. The low
// eight bits are the GATT declaration bits.
type CharacteristicProperties int

const (
	PropertyBroadcast                 CharacteristicProperties = 1 << 0
	PropertyRead                      CharacteristicProperties = 1 << 1
	PropertyWriteWithoutResponse      CharacteristicProperties = 1 << 2
	PropertyWrite                     CharacteristicProperties = 1 << 3
	PropertyNotify                    CharacteristicProperties = 1 << 4
	PropertyIndicate                  CharacteristicProperties = 1 << 5
	PropertyAuthenticatedSignedWrites CharacteristicProperties = 1 << 6
	PropertyExtendedProperties        CharacteristicProperties = 1 << 7
)

var propertyNames = []struct {
	bit  CharacteristicProperties
	name string
}{
	{PropertyBroadcast, "broadcast"},
	{PropertyRead, "read"},
	{PropertyWriteWithoutResponse, "writeWithoutResponse"},
	{PropertyWrite, "write"},
	{PropertyNotify, "notify"},
	{PropertyIndicate, "indicate"},
	{PropertyAuthenticatedSignedWrites, "authenticatedSignedWrites"},
	{PropertyExtendedProperties, "extendedProperties"},
}

// Has reports whether every bit of p is set.
func (c CharacteristicProperties) Has(p CharacteristicProperties) bool {
	return c&p == p
}

func (c CharacteristicProperties) String() string {
	var names []string
	for _, pn := range propertyNames {
		if c&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// AttributePermissions is the server-side attribute permissions bitmask
type AttributePermissions int

const (
	PermissionReadable                AttributePermissions = 1 << 0
	PermissionWriteable               AttributePermissions = 1 << 1
	PermissionReadEncryptionRequired  AttributePermissions = 1 << 2
	PermissionWriteEncryptionRequired AttributePermissions = 1 << 3
)

// Has reports whether every bit of p is set.
func (a AttributePermissions) Has(p AttributePermissions) bool {
	return a&p == p
}

func (a AttributePermissions) String() string {
	var names []string
	if a&PermissionReadable != 0 {
		names = append(names, "readable")
	}
	if a&PermissionWriteable != 0 {
		names = append(names, "writeable")
	}
	if a&PermissionReadEncryptionRequired != 0 {
		names = append(names, "readEncryptionRequired")
	}
	if a&PermissionWriteEncryptionRequired != 0 {
		names = append(names, "writeEncryptionRequired")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ATTError is the result code used to answer a request. The values are the
// ATT protocol error codes.
type ATTError int

const (
	ATTErrorSuccess                       ATTError = 0x00
	ATTErrorInvalidHandle                 ATTError = 0x01
	ATTErrorReadNotPermitted              ATTError = 0x02
	ATTErrorWriteNotPermitted             ATTError = 0x03
	ATTErrorInvalidPDU                    ATTError = 0x04
	ATTErrorInsufficientAuthentication    ATTError = 0x05
	ATTErrorRequestNotSupported           ATTError = 0x06
	ATTErrorInvalidOffset                 ATTError = 0x07
	ATTErrorInsufficientAuthorization     ATTError = 0x08
	ATTErrorPrepareQueueFull              ATTError = 0x09
	ATTErrorAttributeNotFound             ATTError = 0x0A
	ATTErrorAttributeNotLong              ATTError = 0x0B
	ATTErrorInsufficientEncryptionKeySize ATTError = 0x0C
	ATTErrorInvalidAttributeValueLength   ATTError = 0x0D
	ATTErrorUnlikelyError                 ATTError = 0x0E
	ATTErrorInsufficientEncryption        ATTError = 0x0F
	ATTErrorUnsupportedGroupType          ATTError = 0x10
	ATTErrorInsufficientResources         ATTError = 0x11
)

// Central is a remote central connected to the peripheral
type Central struct {
	ID                       string
	MaximumUpdateValueLength int
}

// MutableCharacteristic is the peripheral-side representation of a characteristic.
// A non-nil Value makes the characteristic static: the radio stack answers
// reads itself and never forwards them.
type MutableCharacteristic struct {
	UUID        uuid.UUID
	Properties  CharacteristicProperties
	Permissions AttributePermissions
	Value       []byte
	Service     *MutableService // Parent service, set by AddService
}

// Key returns the canonical identifier string (upper-case, as CoreBluetooth's uuidString)
func (c *MutableCharacteristic) Key() string {
	return CanonicalID(c.UUID)
}

// MutableService is the peripheral-side representation of a service
type MutableService struct {
	UUID            uuid.UUID
	IsPrimary       bool
	Characteristics []*MutableCharacteristic
}

// NewMutableService creates a service and links its characteristics back to it
func NewMutableService(id uuid.UUID, primary bool, chars []*MutableCharacteristic) *MutableService {
	svc := &MutableService{UUID: id, IsPrimary: primary, Characteristics: chars}
	for _, c := range chars {
		c.Service = svc
	}
	return svc
}

// ATTRequest is a read or write request from a central. For reads the
// delegate sets Value before responding; for writes Value holds the data.
type ATTRequest struct {
	Central        Central
	Characteristic *MutableCharacteristic
	Offset         int
	Value          []byte
	WithResponse   bool // false for write commands, which are never answered on the air
}

// AdvertisementData is what the peripheral advertises
type AdvertisementData struct {
	LocalName    string
	ServiceUUIDs []uuid.UUID
}

// CanonicalID renders a UUID the way the rest of the module keys it.
func CanonicalID(id uuid.UUID) string {
	return strings.ToUpper(id.String())
}

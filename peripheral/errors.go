package peripheral

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/user/ble-advertiser/radio"
)

var (
	// ErrInvalidIdentifier matches any identifier that is not a well-formed UUID.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrMissingCharacteristic matches operations on a characteristic that was never registered.
	ErrMissingCharacteristic = errors.New("missing characteristic")
	// ErrDecodeFailure matches write payloads that are not valid UTF-8.
	ErrDecodeFailure = errors.New("payload is not valid UTF-8")
	// ErrUnreadableRequest matches read requests with no read value set.
	ErrUnreadableRequest = errors.New("no read value for characteristic")
	// ErrNotifyQueueFull is returned when the radio refuses a notification.
	ErrNotifyQueueFull = errors.New("notification transmit queue is full")
	// ErrStaticValue matches a static value on a characteristic that is not read-only.
	ErrStaticValue = errors.New("static value on writable characteristic")
	// ErrRadioUnavailable is returned while waiting for a radio that cannot power on.
	ErrRadioUnavailable = errors.New("radio unavailable")
)

// InvalidIdentifierError reports a service or characteristic identifier that
// failed to parse.
type InvalidIdentifierError struct {
	Raw string
	Err error
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %v", e.Raw, e.Err)
}

func (e *InvalidIdentifierError) Is(target error) bool { return target == ErrInvalidIdentifier }

func (e *InvalidIdentifierError) Unwrap() error { return e.Err }

// MissingCharacteristicError reports a notify for an identifier with no live handle.
type MissingCharacteristicError struct {
	ID string
}

func (e *MissingCharacteristicError) Error() string {
	return fmt.Sprintf("no characteristic registered for %s", e.ID)
}

func (e *MissingCharacteristicError) Is(target error) bool { return target == ErrMissingCharacteristic }

// DecodeError reports a write payload that is not valid UTF-8. Offset is the
// index of the first invalid byte.
type DecodeError struct {
	ID      string
	Payload []byte
	Offset  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("write to %s: invalid UTF-8 at byte %d of %d", e.ID, e.Offset, len(e.Payload))
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecodeFailure }

// ReadMissError reports a read for a characteristic with no read value.
type ReadMissError struct {
	ID string
}

func (e *ReadMissError) Error() string {
	return fmt.Sprintf("read of %s: no value set", e.ID)
}

func (e *ReadMissError) Is(target error) bool { return target == ErrUnreadableRequest }

// StaticValueError reports an initial value on a characteristic whose
// properties allow more than reads.
type StaticValueError struct {
	ID         string
	Properties radio.CharacteristicProperties
}

func (e *StaticValueError) Error() string {
	return fmt.Sprintf("characteristic %s has a static value but is not read-only (%s)", e.ID, e.Properties)
}

func (e *StaticValueError) Is(target error) bool { return target == ErrStaticValue }

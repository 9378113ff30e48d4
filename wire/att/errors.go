package att

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error codes carried in an Error Response. Only the codes the peripheral
// can produce are named.
const (
	ErrSuccess                     = 0x00
	ErrInvalidHandle               = 0x01
	ErrReadNotPermitted            = 0x02
	ErrWriteNotPermitted           = 0x03
	ErrInvalidPDU                  = 0x04
	ErrRequestNotSupported         = 0x06
	ErrInvalidOffset               = 0x07
	ErrAttributeNotFound           = 0x0A
	ErrAttributeNotLong            = 0x0B
	ErrInvalidAttributeValueLength = 0x0D
	ErrUnlikelyError               = 0x0E
	ErrInsufficientResources       = 0x11
)

var codeNames = [...]string{
	ErrSuccess:                     "Success",
	ErrInvalidHandle:               "Invalid Handle",
	ErrReadNotPermitted:            "Read Not Permitted",
	ErrWriteNotPermitted:           "Write Not Permitted",
	ErrInvalidPDU:                  "Invalid PDU",
	ErrRequestNotSupported:         "Request Not Supported",
	ErrInvalidOffset:               "Invalid Offset",
	ErrAttributeNotFound:           "Attribute Not Found",
	ErrAttributeNotLong:            "Attribute Not Long",
	ErrInvalidAttributeValueLength: "Invalid Attribute Value Length",
	ErrUnlikelyError:               "Unlikely Error",
	ErrInsufficientResources:       "Insufficient Resources",
}

// ErrorName returns the name of an error code as centrals display it.
func ErrorName(code uint8) string {
	if int(code) < len(codeNames) && codeNames[code] != "" {
		return codeNames[code]
	}
	if code >= 0x80 && code <= 0x9F {
		return fmt.Sprintf("Application Error (%s)", hexByte(code))
	}
	return fmt.Sprintf("Error %s", hexByte(code))
}

// Error is the Error Response a central receives for a failed request.
type Error struct {
	Code   uint8
	Opcode uint8
	Handle uint16
}

func (e *Error) Error() string {
	return fmt.Sprintf("att: %s on handle 0x%04X (%s)", ErrorName(e.Code), e.Handle, OpcodeName(e.Opcode))
}

// NewError returns the Error Response to a request
func NewError(code, opcode uint8, handle uint16) *Error {
	return &Error{Code: code, Opcode: opcode, Handle: handle}
}

// IsATTError reports whether err carries an Error Response with code.
func IsATTError(err error, code uint8) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// GetErrorCode returns the code of the Error Response in err, or zero.
func GetErrorCode(err error) uint8 {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

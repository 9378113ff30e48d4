package att

// PDU opcodes the peripheral answers or emits. Discovery and MTU exchange
// happen below the radio boundary and have no entries here.
const (
	OpErrorResponse           = 0x01
	OpReadRequest             = 0x0A
	OpReadResponse            = 0x0B
	OpReadBlobRequest         = 0x0C
	OpReadBlobResponse        = 0x0D
	OpWriteRequest            = 0x12
	OpWriteResponse           = 0x13
	OpHandleValueNotification = 0x1B
	OpHandleValueIndication   = 0x1D
	OpHandleValueConfirmation = 0x1E
	OpWriteCommand            = 0x52
)

type pdu struct {
	name string
	// reply completes a transaction opened by this PDU; zero for
	// commands, notifications and responses.
	reply uint8
}

var pdus = map[uint8]pdu{
	OpErrorResponse:           {name: "ErrorResponse"},
	OpReadRequest:             {name: "ReadRequest", reply: OpReadResponse},
	OpReadResponse:            {name: "ReadResponse"},
	OpReadBlobRequest:         {name: "ReadBlobRequest", reply: OpReadBlobResponse},
	OpReadBlobResponse:        {name: "ReadBlobResponse"},
	OpWriteRequest:            {name: "WriteRequest", reply: OpWriteResponse},
	OpWriteResponse:           {name: "WriteResponse"},
	OpHandleValueNotification: {name: "HandleValueNotification"},
	OpHandleValueIndication:   {name: "HandleValueIndication", reply: OpHandleValueConfirmation},
	OpHandleValueConfirmation: {name: "HandleValueConfirmation"},
	OpWriteCommand:            {name: "WriteCommand"},
}

// OpcodeName returns the PDU name of op, or its hex value when unknown.
func OpcodeName(op uint8) string {
	if p, ok := pdus[op]; ok {
		return p.name
	}
	return hexByte(op)
}

// ReplyOpcode returns the opcode that completes a transaction opened by op.
// The second result is false when op opens no transaction.
func ReplyOpcode(op uint8) (uint8, bool) {
	p := pdus[op]
	return p.reply, p.reply != 0
}

func hexByte(b uint8) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{'0', 'x', digits[b>>4], digits[b&0x0F]})
}

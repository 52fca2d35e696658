package att

import "fmt"

// Opcode identifies an ATT PDU.
type Opcode uint8

const (
	OpErrorResponse           Opcode = 0x01
	OpExchangeMTURequest      Opcode = 0x02
	OpExchangeMTUResponse     Opcode = 0x03
	OpFindInformationRequest  Opcode = 0x04
	OpFindInformationResponse Opcode = 0x05
	OpFindByTypeValueRequest  Opcode = 0x06
	OpFindByTypeValueResponse Opcode = 0x07
	OpReadByTypeRequest       Opcode = 0x08
	OpReadByTypeResponse      Opcode = 0x09
	OpReadRequest             Opcode = 0x0A
	OpReadResponse            Opcode = 0x0B
	OpReadBlobRequest         Opcode = 0x0C
	OpReadBlobResponse        Opcode = 0x0D
	OpReadMultipleRequest     Opcode = 0x0E
	OpReadMultipleResponse    Opcode = 0x0F
	OpReadByGroupTypeRequest  Opcode = 0x10
	OpReadByGroupTypeResponse Opcode = 0x11
	OpWriteRequest            Opcode = 0x12
	OpWriteResponse           Opcode = 0x13
	OpPrepareWriteRequest     Opcode = 0x16
	OpPrepareWriteResponse    Opcode = 0x17
	OpExecuteWriteRequest     Opcode = 0x18
	OpExecuteWriteResponse    Opcode = 0x19
	OpHandleValueNotification Opcode = 0x1B
	OpHandleValueIndication   Opcode = 0x1D
	OpHandleValueConfirmation Opcode = 0x1E
	OpWriteCommand            Opcode = 0x52
	OpSignedWriteCommand      Opcode = 0xD2
)

const (
	// DefaultMTU is the ATT_MTU every LE connection starts with.
	DefaultMTU = 23

	// MaxMTU is the largest ATT_MTU a server advertises: a 512 octet value plus the largest header.
	MaxMTU = 517

	// MaxValueLength is the longest attribute value the protocol can carry.
	MaxValueLength = 512
)

var opcodeNames = map[Opcode]string{
	OpErrorResponse:           "ErrorResponse",
	OpExchangeMTURequest:      "ExchangeMTURequest",
	OpExchangeMTUResponse:     "ExchangeMTUResponse",
	OpFindInformationRequest:  "FindInformationRequest",
	OpFindInformationResponse: "FindInformationResponse",
	OpFindByTypeValueRequest:  "FindByTypeValueRequest",
	OpFindByTypeValueResponse: "FindByTypeValueResponse",
	OpReadByTypeRequest:       "ReadByTypeRequest",
	OpReadByTypeResponse:      "ReadByTypeResponse",
	OpReadRequest:             "ReadRequest",
	OpReadResponse:            "ReadResponse",
	OpReadBlobRequest:         "ReadBlobRequest",
	OpReadBlobResponse:        "ReadBlobResponse",
	OpReadMultipleRequest:     "ReadMultipleRequest",
	OpReadMultipleResponse:    "ReadMultipleResponse",
	OpReadByGroupTypeRequest:  "ReadByGroupTypeRequest",
	OpReadByGroupTypeResponse: "ReadByGroupTypeResponse",
	OpWriteRequest:            "WriteRequest",
	OpWriteResponse:           "WriteResponse",
	OpPrepareWriteRequest:     "PrepareWriteRequest",
	OpPrepareWriteResponse:    "PrepareWriteResponse",
	OpExecuteWriteRequest:     "ExecuteWriteRequest",
	OpExecuteWriteResponse:    "ExecuteWriteResponse",
	OpHandleValueNotification: "HandleValueNotification",
	OpHandleValueIndication:   "HandleValueIndication",
	OpHandleValueConfirmation: "HandleValueConfirmation",
	OpWriteCommand:            "WriteCommand",
	OpSignedWriteCommand:      "SignedWriteCommand",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
}

// Known reports whether the opcode belongs to the supported PDU set.
func (o Opcode) Known() bool {
	_, ok := opcodeNames[o]
	return ok
}

// IsCommand reports whether the command flag (bit 6) is set. Commands never get a response,
// not even an Error Response.
func (o Opcode) IsCommand() bool {
	return o&0x40 != 0
}

// IsRequest reports whether a server must answer the PDU with a response or an Error Response.
// Unknown opcodes without the command flag count as requests.
func (o Opcode) IsRequest() bool {
	switch o {
	case OpExchangeMTURequest, OpFindInformationRequest, OpFindByTypeValueRequest,
		OpReadByTypeRequest, OpReadRequest, OpReadBlobRequest, OpReadMultipleRequest,
		OpReadByGroupTypeRequest, OpWriteRequest, OpPrepareWriteRequest, OpExecuteWriteRequest:
		return true
	}
	return !o.Known() && !o.IsCommand()
}
